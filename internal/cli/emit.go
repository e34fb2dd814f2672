package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/playbookd/internal/playbook"
)

// EmitOptions holds flags for the emit command.
type EmitOptions struct {
	*RootOptions
	Data string // JSON object describing the entity
}

// EmitResult is the JSON payload of a successful emit.
type EmitResult struct {
	Seq  int64              `json:"seq"`
	Type playbook.EventType `json:"type"`
}

// NewEmitCommand creates the emit command.
func NewEmitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &EmitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "emit <create|update|delete>",
		Short: "Append a change event to the stream",
		Long: `Append an entity change event to the change stream.

The running consumer picks the event up and starts a run of every running
playbook whose trigger accepts the event type. The entity's "id" field
becomes the instance id of those runs.

Examples:
  playbookd emit create --data '{"id":"u1","role":"admin"}'
  playbookd emit delete --data '{"id":"u1"}' --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEmit(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Data, "data", "{}", "entity data as a JSON object")

	return cmd
}

func runEmit(opts *EmitOptions, typeArg string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	typ, err := playbook.ParseEventType(typeArg)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid event type", err)
	}

	var data map[string]any
	if err := json.Unmarshal([]byte(opts.Data), &data); err != nil {
		return f.Fail(ExitCommandError, ErrCodeInput, "invalid --data: must be a JSON object", err)
	}
	if data == nil {
		data = map[string]any{}
	}

	return withApp(opts.RootOptions, cmd, func(a *app, f *OutputFormatter) error {
		seq, err := a.store.AppendEvent(cmd.Context(), typ, data)
		if err != nil {
			return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to append event", err)
		}
		f.VerboseLog("Appended %s event at seq %d", typ, seq)

		return f.Render(EmitResult{Seq: seq, Type: typ}, func(w io.Writer) {
			fmt.Fprintf(w, "Appended %s event (seq %d)\n", typ, seq)
		})
	})
}
