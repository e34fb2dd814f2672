package cli

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/playbookd/internal/playbook"
	"github.com/roach88/playbookd/internal/store"
)

// PlaybookSummary is the listing form of a stored playbook.
type PlaybookSummary struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Start     string    `json:"start"`
	Running   bool      `json:"running"`
	UpdatedAt time.Time `json:"updated_at"`
}

// PlaybookDetail is a stored playbook with its parsed graph and the latest
// observation of each step.
type PlaybookDetail struct {
	PlaybookSummary
	Nodes          []playbook.Node                 `json:"nodes"`
	Links          []playbook.Link                 `json:"links"`
	LastExecutions map[string]playbook.Observation `json:"last_executions"`
}

func summarize(p playbook.Playbook) PlaybookSummary {
	return PlaybookSummary{
		ID:        p.ID,
		Name:      p.Name,
		Start:     p.Start,
		Running:   p.Running,
		UpdatedAt: p.UpdatedAt,
	}
}

// NewPlaybookCommand creates the playbook command group.
func NewPlaybookCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "playbook",
		Short: "Manage stored playbooks",
	}

	cmd.AddCommand(newPlaybookImportCommand(rootOpts))
	cmd.AddCommand(newPlaybookListCommand(rootOpts))
	cmd.AddCommand(newPlaybookShowCommand(rootOpts))
	cmd.AddCommand(newPlaybookToggleCommand(rootOpts, "start", true))
	cmd.AddCommand(newPlaybookToggleCommand(rootOpts, "stop", false))

	return cmd
}

func newPlaybookImportCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "import <path>",
		Short: "Compile, validate and store playbooks",
		Long: `Compile CUE playbook declarations from a .cue file or directory, validate
them against the built-in components and store them. Existing playbooks with
the same id are replaced. Nothing is stored if any playbook is invalid.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlaybookImport(rootOpts, args[0], cmd)
		},
	}
}

func runPlaybookImport(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	pbs, err := compilePath(path)
	if err != nil {
		return outputCompileError(f, err)
	}

	return withApp(opts, cmd, func(a *app, f *OutputFormatter) error {
		if issues := validatePlaybooks(a.registry, pbs); len(issues) > 0 {
			return outputValidationErrors(f, issues)
		}

		for _, pb := range pbs {
			if err := a.store.SavePlaybook(cmd.Context(), *pb); err != nil {
				return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to save playbook", err)
			}
			f.VerboseLog("Imported playbook %s (running=%t)", pb.ID, pb.Running)
		}

		ids := playbookIDs(pbs)
		return f.Render(map[string]any{"imported": ids}, func(w io.Writer) {
			for _, id := range ids {
				fmt.Fprintf(w, "Imported %s\n", id)
			}
		})
	})
}

func newPlaybookListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "list",
		Short:         "List stored playbooks",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, f *OutputFormatter) error {
				pbs, err := a.store.ListPlaybooks(cmd.Context())
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to list playbooks", err)
				}

				summaries := make([]PlaybookSummary, 0, len(pbs))
				for _, p := range pbs {
					summaries = append(summaries, summarize(p))
				}
				return f.Render(summaries, func(w io.Writer) {
					if len(summaries) == 0 {
						fmt.Fprintln(w, "No playbooks.")
						return
					}
					for _, s := range summaries {
						state := "stopped"
						if s.Running {
							state = "running"
						}
						fmt.Fprintf(w, "%-24s %-8s %s\n", s.ID, state, s.Name)
					}
				})
			})
		},
	}
}

func newPlaybookShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show <id>",
		Short:         "Show a playbook's graph and latest step observations",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(rootOpts, cmd, func(a *app, f *OutputFormatter) error {
				return showPlaybook(a, f, cmd, args[0])
			})
		},
	}
}

func showPlaybook(a *app, f *OutputFormatter, cmd *cobra.Command, id string) error {
	ctx := cmd.Context()
	p, err := a.store.FindPlaybook(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return notFound(f, "playbook", id)
	}
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to load playbook", err)
	}

	def, err := playbook.ParseDefinition([]byte(p.Definition))
	if err != nil {
		return f.Fail(ExitFailure, ErrCodeInvalid, "stored definition is unreadable", err)
	}
	last, err := a.store.LastExecutions(ctx, id)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to load observations", err)
	}

	detail := PlaybookDetail{
		PlaybookSummary: summarize(p),
		Nodes:           def.Nodes,
		Links:           def.Links,
		LastExecutions:  last,
	}
	return f.Render(detail, func(w io.Writer) {
		fmt.Fprintf(w, "%s (%s) start=%s running=%t\n", p.ID, p.Name, p.Start, p.Running)
		fmt.Fprintln(w, "Nodes:")
		for _, n := range def.Nodes {
			line := fmt.Sprintf("  %-20s %s", n.ID, n.ComponentID)
			if o, ok := last[playbook.StepKey(n.ID)]; ok {
				line += "  " + describeObservation(o)
			}
			fmt.Fprintln(w, line)
		}
		fmt.Fprintln(w, "Links:")
		for _, l := range def.Links {
			fmt.Fprintf(w, "  %s -> %s\n", linkSource(l), l.To.ID)
		}
	})
}

func newPlaybookToggleCommand(rootOpts *RootOptions, verb string, running bool) *cobra.Command {
	short := "Start a playbook: new change events trigger runs"
	if !running {
		short = "Stop a playbook: change events no longer trigger runs"
	}

	return &cobra.Command{
		Use:           verb + " <id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withApp(rootOpts, cmd, func(a *app, f *OutputFormatter) error {
				err := a.store.SetRunning(cmd.Context(), id, running)
				if errors.Is(err, store.ErrNotFound) {
					return notFound(f, "playbook", id)
				}
				if err != nil {
					return f.Fail(ExitCommandError, ErrCodeDatabase, "failed to update playbook", err)
				}
				return f.Render(map[string]any{"id": id, "running": running}, func(w io.Writer) {
					fmt.Fprintf(w, "Playbook %s running=%t\n", id, running)
				})
			})
		},
	}
}

// linkSource renders "node.port", or just the node for the unnamed port.
func linkSource(l playbook.Link) string {
	if l.From.Port == "" {
		return l.From.ID
	}
	return l.From.ID + "." + l.From.Port
}

// describeObservation renders an observation's outcome on one line.
func describeObservation(o playbook.Observation) string {
	if o.Failed() {
		return fmt.Sprintf("failed: %s", o.Error)
	}
	if o.OutputPort == "" {
		return "ok"
	}
	return "-> " + o.OutputPort
}
