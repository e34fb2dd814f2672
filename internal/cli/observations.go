package cli

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/store"
)

// ObservationsOptions holds flags for the observations command.
type ObservationsOptions struct {
	*RootOptions
	History bool // every attempt instead of the latest per step
}

// NewObservationsCommand creates the observations command.
func NewObservationsCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ObservationsOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "observations <playbook>",
		Short: "Show recorded step observations of a playbook",
		Long: `Show the latest observation of each step of a playbook, or with --history
every recorded attempt in the order it was recorded.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, f *OutputFormatter) error {
				return showObservations(opts, a, f, cmd, args[0])
			})
		},
	}

	cmd.Flags().BoolVar(&opts.History, "history", false, "show every attempt in recording order")

	return cmd
}

func showObservations(opts *ObservationsOptions, a *app, f *OutputFormatter, cmd *cobra.Command, playbookID string) error {
	ctx := cmd.Context()
	if _, err := a.store.FindPlaybook(ctx, playbookID); errors.Is(err, store.ErrNotFound) {
		return notFound(f, "playbook", playbookID)
	} else if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to load playbook", err)
	}

	var observations []playbook.Observation
	if opts.History {
		history, err := a.store.ObservationHistory(ctx, playbookID)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to load observations", err)
		}
		observations = history
	} else {
		last, err := a.store.LastExecutions(ctx, playbookID)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to load observations", err)
		}
		observations = make([]playbook.Observation, 0, len(last))
		for _, o := range last {
			observations = append(observations, o)
		}
		sort.Slice(observations, func(i, j int) bool {
			return observations[i].Seq < observations[j].Seq
		})
	}

	return f.Render(observations, func(w io.Writer) {
		if len(observations) == 0 {
			fmt.Fprintln(w, "No observations.")
			return
		}
		for _, o := range observations {
			fmt.Fprintf(w, "[%d] %s %-20s %s", o.Seq, o.OutTimestamp.Format(time.RFC3339), o.StepID, describeObservation(o))
			if o.InstanceID != "" {
				fmt.Fprintf(w, " instance=%s", o.InstanceID)
			}
			if o.Bundle != nil {
				fmt.Fprintf(w, " bundle=%s", o.Bundle.ID)
			}
			fmt.Fprintln(w)
		}
	})
}

// NewCallbacksCommand creates the callbacks command.
func NewCallbacksCommand(rootOpts *RootOptions) *cobra.Command {
	var playbookID string

	cmd := &cobra.Command{
		Use:   "callbacks",
		Short: "List pending callbacks",
		Long: `List suspended branches waiting for an external resumption, oldest first.
Resume one with: playbookd resume --callback <id>`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, f *OutputFormatter) error {
				callbacks, err := a.store.ListPendingCallbacks(cmd.Context(), playbookID)
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to list callbacks", err)
				}
				return f.Render(callbacks, func(w io.Writer) {
					if len(callbacks) == 0 {
						fmt.Fprintln(w, "No pending callbacks.")
						return
					}
					for _, cb := range callbacks {
						fmt.Fprintf(w, "%s  %s/%s (from %s) instance=%s bundle=%s\n",
							cb.ID, cb.PlaybookID, cb.StepID, cb.PreviousStepID, cb.InstanceID, cb.Bundle.ID)
					}
				})
			})
		},
	}

	cmd.Flags().StringVar(&playbookID, "playbook", "", "only callbacks of this playbook")

	return cmd
}
