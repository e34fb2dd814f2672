package compiler

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/load"

	"github.com/roach88/playbookd/internal/playbook"
)

// LoadDir loads every CUE file in dir as one instance and compiles all
// playbooks declared under the top-level `playbook` struct.
//
// Playbooks are returned in declaration order. The first compile error
// stops loading.
func LoadDir(dir string) ([]*playbook.Playbook, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("accessing playbook directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("not a directory: %s", dir)
	}

	files, err := filepath.Glob(filepath.Join(dir, "*.cue"))
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", dir, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no CUE files found in %s", dir)
	}

	ctx := cuecontext.New()
	instances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(instances) == 0 {
		return nil, fmt.Errorf("no CUE instances loaded from %s", dir)
	}
	inst := instances[0]
	if inst.Err != nil {
		return nil, formatCUEError(inst.Err)
	}

	value := ctx.BuildInstance(inst)
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	return compileAll(value)
}

// CompileSource compiles playbooks from a single CUE source. filename is
// used for error positions only.
func CompileSource(filename string, src []byte) ([]*playbook.Playbook, error) {
	ctx := cuecontext.New()
	value := ctx.CompileBytes(src, cue.Filename(filename))
	if err := value.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	return compileAll(value)
}

// CompileFile reads and compiles a single CUE file.
func CompileFile(path string) ([]*playbook.Playbook, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return CompileSource(path, src)
}

func compileAll(value cue.Value) ([]*playbook.Playbook, error) {
	pbVal := value.LookupPath(cue.ParsePath("playbook"))
	if !pbVal.Exists() {
		return nil, &CompileError{Field: "playbook", Message: "no playbooks declared", Pos: value.Pos()}
	}

	iter, err := pbVal.Fields()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var out []*playbook.Playbook
	seen := make(map[string]bool)
	for iter.Next() {
		pb, err := CompilePlaybook(iter.Value())
		if err != nil {
			return nil, fmt.Errorf("playbook.%s: %w", iter.Selector().Unquoted(), err)
		}
		if seen[pb.ID] {
			return nil, &CompileError{
				Field:   "playbook." + iter.Selector().Unquoted(),
				Message: fmt.Sprintf("duplicate playbook id %q", pb.ID),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[pb.ID] = true
		out = append(out, pb)
	}

	if len(out) == 0 {
		return nil, &CompileError{Field: "playbook", Message: "no playbooks declared", Pos: pbVal.Pos()}
	}
	return out, nil
}
