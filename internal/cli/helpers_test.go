package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

const approvalCUE = `
playbook: approval: {
	name:    "Manual order approval"
	start:   "trigger"
	running: true
	nodes: {
		trigger: {component_id: "trigger.entity", configuration: {create: true}}
		wait: {component_id: "callback.external"}
		approved: {component_id: "transform.set", configuration: {values: {status: "approved"}}}
		log: {component_id: "sink.log"}
	}
	links: [
		{from: {id: "trigger", port: "out"}, to: {id: "wait"}},
		{from: {id: "wait", port: "out"}, to: {id: "approved"}},
		{from: {id: "approved", port: "out"}, to: {id: "log"}},
	]
}
`

const danglingCUE = `
playbook: broken: {
	start: "trigger"
	nodes: trigger: {component_id: "trigger.entity"}
	links: [{from: {id: "trigger", port: "out"}, to: {id: "ghost"}}]
}
`

// writeFile writes content to dir/name and returns the path.
func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// testEnv is a temporary database plus the root options pointing at it.
type testEnv struct {
	dir  string
	opts *RootOptions
}

func newTestEnv(t *testing.T, format string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	return &testEnv{
		dir:  dir,
		opts: &RootOptions{Format: format, Database: filepath.Join(dir, "playbookd.db")},
	}
}

// run executes cmd with args and returns stdout.
func (e *testEnv) run(t *testing.T, newCmd func(*RootOptions) *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := newCmd(e.opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// mustRun is run that fails the test on error.
func (e *testEnv) mustRun(t *testing.T, newCmd func(*RootOptions) *cobra.Command, args ...string) string {
	t.Helper()
	out, err := e.run(t, newCmd, args...)
	require.NoError(t, err, out)
	return out
}

// importApproval stores the approval playbook.
func (e *testEnv) importApproval(t *testing.T) {
	t.Helper()
	path := writeFile(t, e.dir, "approval.cue", approvalCUE)
	e.mustRun(t, NewPlaybookCommand, "import", path)
}

// decodeData unmarshals the data field of a JSON CLIResponse into v.
func decodeData(t *testing.T, out string, v any) CLIResponse {
	t.Helper()
	var resp struct {
		CLIResponse
		Data json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	if v != nil {
		require.NoError(t, json.Unmarshal(resp.Data, v), out)
	}
	return resp.CLIResponse
}
