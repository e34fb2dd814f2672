package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/playbookd/internal/engine"
	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/store"
)

// ResumeOptions holds flags for the resume command.
type ResumeOptions struct {
	*RootOptions
	Instance string // instance id of the resumed run
	Bundle   string // serialized bundle; overrides Objects
	Objects  string // JSON array of objects wrapped into a new bundle
	BundleID string // id for the bundle built from Objects
	Callback string // resume a pending callback instead of a named step
}

// ResumeResult is the JSON payload of a successful resumption.
type ResumeResult struct {
	PlaybookID string `json:"playbook_id,omitempty"`
	StepID     string `json:"step_id,omitempty"`
	CallbackID string `json:"callback_id,omitempty"`
	Resumed    bool   `json:"resumed"`
}

// NewResumeCommand creates the resume command.
func NewResumeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResumeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resume [<playbook> <step> <previous-step>]",
		Short: "Resume a suspended branch of a playbook",
		Long: `Continue a playbook run at a named step, outside the change stream.

Either name the playbook, the step to run and the step it continues from,
or pass --callback with the id of a pending callback. The bundle is given
raw with --bundle or built from --objects. A callback resumption without
either reuses the bundle stored with the callback.

Exit codes:
  0 - Step handed to the executor
  1 - Resumption rejected (unknown playbook, step, component or bad bundle)
  2 - Command error

Examples:
  playbookd resume approval approved wait --instance o1 --objects '[{"id":"o1"}]'
  playbookd resume --callback 0192f1c4-...`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Callback != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(3)(cmd, args)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Callback != "" {
				return runResumeCallback(opts, cmd)
			}
			return runResume(opts, args[0], args[1], args[2], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Instance, "instance", "", "instance id of the resumed run")
	cmd.Flags().StringVar(&opts.Bundle, "bundle", "", "serialized bundle JSON")
	cmd.Flags().StringVar(&opts.Objects, "objects", "", "JSON array of bundle objects")
	cmd.Flags().StringVar(&opts.BundleID, "bundle-id", "", "bundle id used with --objects (default: generated)")
	cmd.Flags().StringVar(&opts.Callback, "callback", "", "resume the pending callback with this id")

	return cmd
}

// serializedBundle returns the bundle to resume with. An empty result means
// none was given.
func (o *ResumeOptions) serializedBundle() (string, error) {
	if o.Bundle != "" {
		return o.Bundle, nil
	}
	if o.Objects == "" {
		return "", nil
	}

	var objects []map[string]any
	if err := json.Unmarshal([]byte(o.Objects), &objects); err != nil {
		return "", fmt.Errorf("--objects must be a JSON array of objects: %w", err)
	}
	id := o.BundleID
	if id == "" {
		id = engine.UUIDv7Generator{}.Generate()
	}
	return playbook.NewBundle(id, objects...).String(), nil
}

func runResume(opts *ResumeOptions, playbookID, stepID, previousID string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	bundle, err := opts.serializedBundle()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid bundle", err)
	}
	if bundle == "" {
		return f.Fail(ExitCommandError, ErrCodeInput, "one of --bundle or --objects is required", nil)
	}

	return withApp(opts.RootOptions, cmd, func(a *app, f *OutputFormatter) error {
		if !a.resumer.Resume(cmd.Context(), playbookID, stepID, previousID, opts.Instance, bundle) {
			return f.Fail(ExitFailure, ErrCodeResume,
				fmt.Sprintf("resume of %s/%s rejected (run with --verbose for details)", playbookID, stepID), nil)
		}

		return f.Render(ResumeResult{PlaybookID: playbookID, StepID: stepID, Resumed: true}, func(w io.Writer) {
			fmt.Fprintf(w, "Resumed %s at step %s\n", playbookID, stepID)
		})
	})
}

func runResumeCallback(opts *ResumeOptions, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	bundle, err := opts.serializedBundle()
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid bundle", err)
	}

	return withApp(opts.RootOptions, cmd, func(a *app, f *OutputFormatter) error {
		err := a.resumer.ResumeCallback(cmd.Context(), opts.Callback, bundle)
		switch {
		case errors.Is(err, store.ErrNotFound):
			return notFound(f, "callback", opts.Callback)
		case err != nil:
			return f.Fail(ExitFailure, ErrCodeResume, "resume callback failed", err)
		}

		return f.Render(ResumeResult{CallbackID: opts.Callback, Resumed: true}, func(w io.Writer) {
			fmt.Fprintf(w, "Resumed callback %s\n", opts.Callback)
		})
	})
}
