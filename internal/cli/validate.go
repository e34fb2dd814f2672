package cli

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/playbookd/internal/compiler"
	"github.com/roach88/playbookd/internal/component"
	"github.com/roach88/playbookd/internal/playbook"
)

// ValidationIssue is one problem found in a playbook.
type ValidationIssue struct {
	Playbook string `json:"playbook,omitempty"`
	Field    string `json:"field,omitempty"`
	Line     int    `json:"line,omitempty"`
	Message  string `json:"message"`
}

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Playbooks []string          `json:"playbooks,omitempty"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <path>",
		Short: "Validate playbook files without importing them",
		Long: `Compile CUE playbook declarations and check them against the built-in
components: every node's component must exist, its configuration must
decode, and every link must reference existing nodes.

<path> is a .cue file or a directory of them. No database is opened.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(rootOpts, args[0], cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	f := opts.formatter(cmd)

	pbs, err := compilePath(path)
	if err != nil {
		return outputCompileError(f, err)
	}
	f.VerboseLog("Compiled %d playbook(s) from %s", len(pbs), path)

	registry, err := component.NewRegistry(component.Builtins(component.Deps{})...)
	if err != nil {
		return f.Fail(ExitCommandError, ErrCodeConfig, "failed to build component registry", err)
	}

	if issues := validatePlaybooks(registry, pbs); len(issues) > 0 {
		return outputValidationErrors(f, issues)
	}

	ids := playbookIDs(pbs)
	return f.Render(ValidationResult{Valid: true, Playbooks: ids}, func(w io.Writer) {
		fmt.Fprintf(w, "✓ %d playbook(s) valid\n", len(ids))
	})
}

// compilePath compiles a single .cue file or every .cue file in a directory.
func compilePath(path string) ([]*playbook.Playbook, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return compiler.LoadDir(path)
	}
	return compiler.CompileFile(path)
}

// validatePlaybooks checks each playbook's graph against registry.
func validatePlaybooks(registry *component.Registry, pbs []*playbook.Playbook) []ValidationIssue {
	var issues []ValidationIssue
	for _, pb := range pbs {
		def, err := playbook.ParseDefinition([]byte(pb.Definition))
		if err == nil {
			err = registry.Validate(def, pb.Start)
		}
		if err == nil {
			continue
		}
		for _, e := range unjoin(err) {
			issues = append(issues, ValidationIssue{Playbook: pb.ID, Message: e.Error()})
		}
	}
	return issues
}

// unjoin splits an errors.Join result into its parts.
func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

func playbookIDs(pbs []*playbook.Playbook) []string {
	ids := make([]string, len(pbs))
	for i, pb := range pbs {
		ids[i] = pb.ID
	}
	return ids
}

// outputCompileError reports a load or compile failure. A missing path is a
// command error; a bad declaration is a validation failure.
func outputCompileError(f *OutputFormatter, err error) error {
	if errors.Is(err, os.ErrNotExist) {
		return f.Fail(ExitCommandError, ErrCodeNotFound, "path not found", err)
	}

	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		issue := ValidationIssue{Field: ce.Field, Message: ce.Message}
		if ce.Pos.IsValid() {
			issue.Line = ce.Pos.Line()
		}
		_ = f.Error(ErrCodeCompile, err.Error(), issue)
		return WrapExitError(ExitFailure, "compilation failed", err)
	}
	return f.Fail(ExitFailure, ErrCodeCompile, "compilation failed", err)
}

// outputValidationErrors outputs multiple validation errors.
func outputValidationErrors(f *OutputFormatter, issues []ValidationIssue) error {
	exitErr := NewExitError(ExitFailure, fmt.Sprintf("validation failed with %d error(s)", len(issues)))

	if f.Format == "json" {
		if err := f.Error(ErrCodeInvalid, issues[0].Message, ValidationResult{Errors: issues}); err != nil {
			return err
		}
		return exitErr
	}

	fmt.Fprintln(f.Writer, "✗ Validation failed")
	fmt.Fprintln(f.Writer)
	for _, issue := range issues {
		fmt.Fprintf(f.Writer, "  %s: %s\n", issue.Playbook, issue.Message)
	}
	return exitErr
}
