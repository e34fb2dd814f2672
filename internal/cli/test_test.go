package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")
	harnessGolden    = filepath.Join("..", "harness", "testdata", "golden")
)

func runTestCommand(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeFailingScenario writes a scenario whose assertion cannot hold.
func writeFailingScenario(t *testing.T, dir string) {
	t.Helper()
	writeFile(t, dir, "p.cue", `playbook: p: {start: "t", running: true, nodes: t: {component_id: "trigger.entity", configuration: {create: true}}}`)
	writeFile(t, dir, "failing.yaml", `
name: failing
description: "Expects a step that never runs"
playbooks: [p.cue]
steps:
  - emit: {type: create, data: {id: a}}
assertions:
  - {type: step_executed, playbook: p, step: ghost}
`)
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := runTestCommand(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := runTestCommand(t, "text", "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyDir(t *testing.T) {
	out, err := runTestCommand(t, "text", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	out, err := runTestCommand(t, "text", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ welcome_flow")
	assert.Contains(t, out, "✓ approval_flow")
	assert.Contains(t, out, "✓ runaway_loop")
	assert.Contains(t, out, "✓ fanout_isolation")
	assert.Contains(t, out, "Test Summary: 4 passed, 0 failed, 4 total")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandJSON(t *testing.T) {
	out, err := runTestCommand(t, "json", harnessScenarios, "--golden", harnessGolden, "--filter", "approval*")
	require.NoError(t, err, out)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 1, resp.Data.Total)
	require.Len(t, resp.Data.Scenarios, 1)
	assert.Equal(t, "approval_flow", resp.Data.Scenarios[0].Name)
	assert.Equal(t, "matched", resp.Data.Scenarios[0].Golden)
}

func TestTestCommandInvalidFilter(t *testing.T) {
	_, err := runTestCommand(t, "text", harnessScenarios, "--filter", "[")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandUpdateAndCompare(t *testing.T) {
	golden := t.TempDir()

	out, err := runTestCommand(t, "text", harnessScenarios, "--golden", golden, "--filter", "welcome*", "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ welcome_flow (golden updated)")

	written, err := os.ReadFile(filepath.Join(golden, "welcome_flow.golden"))
	require.NoError(t, err)
	expected, err := os.ReadFile(filepath.Join(harnessGolden, "welcome_flow.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(expected), string(written))

	require.NoError(t, os.WriteFile(filepath.Join(golden, "welcome_flow.golden"), []byte("{}\n"), 0644))
	out, err = runTestCommand(t, "text", harnessScenarios, "--golden", golden, "--filter", "welcome*")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ welcome_flow")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeFailingScenario(t, dir)

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "assertions[0]")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")

	out, err = runTestCommand(t, "json", dir)
	require.Error(t, err)
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.yaml", "name: broken\n")

	out, err := runTestCommand(t, "text", dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ broken.yaml")
	assert.Contains(t, out, "failed to load scenario")
}

func TestFindScenarioFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "")
	writeFile(t, dir, "nested/b.yml", "")
	writeFile(t, dir, "c.json", "")
	writeFile(t, dir, "golden/a.golden", "")

	files, err := findScenarioFiles(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.yaml"), filepath.Join(dir, "nested", "b.yml")}, files)

	files, err = findScenarioFiles(dir, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "nested", "b.yml")}, files)
}
