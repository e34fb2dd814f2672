package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/playbookd/internal/component"
)

// ComponentInfo describes a registered component.
type ComponentInfo struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Internal    bool           `json:"internal"`
	Kind        string         `json:"kind"` // "internal" or "callback"
	Schema      map[string]any `json:"schema,omitempty"`
}

// NewComponentsCommand creates the components command.
func NewComponentsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "components",
		Short:         "List the components playbook nodes can use",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := rootOpts.formatter(cmd)
			registry, err := component.NewRegistry(component.Builtins(component.Deps{})...)
			if err != nil {
				return f.Fail(ExitCommandError, ErrCodeConfig, "failed to build component registry", err)
			}

			infos := describeComponents(registry)
			return f.Render(infos, func(w io.Writer) {
				for _, c := range infos {
					fmt.Fprintf(w, "%-24s %-8s %s\n", c.ID, c.Kind, c.Description)
				}
			})
		},
	}
}

func describeComponents(registry *component.Registry) []ComponentInfo {
	comps := registry.Components()
	infos := make([]ComponentInfo, 0, len(comps))
	for _, c := range comps {
		kind := "internal"
		if !c.Internal {
			kind = "callback"
		}
		infos = append(infos, ComponentInfo{
			ID:          c.ID,
			Name:        c.Name,
			Description: c.Description,
			Internal:    c.Internal,
			Kind:        kind,
			Schema:      c.Schema,
		})
	}
	return infos
}
