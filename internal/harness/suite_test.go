package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindCases(t *testing.T) {
	paths, err := FindCases(filepath.Join("testdata", "cases"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "cases", "broadcast.case.yaml"),
		filepath.Join("testdata", "cases", "delivery.case.yaml"),
	}, paths)

	single, err := FindCases(filepath.Join("testdata", "scenarios", "delivery.yaml"))
	require.NoError(t, err)
	assert.Len(t, single, 1)

	_, err = FindCases(filepath.Join("testdata", "nope"))
	assert.Error(t, err)
}

func TestRunSuite(t *testing.T) {
	dir := t.TempDir()
	scenarioPath, err := filepath.Abs(filepath.Join("testdata", "scenarios", "delivery.yaml"))
	require.NoError(t, err)

	write := func(name, body string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}
	passing := write("pass.case.yaml", `
name: pass
scenario: `+scenarioPath+`
assertions:
  - {type: outcome, outcome: completed}
`)
	failing := write("fail.case.yaml", `
name: fail
scenario: `+scenarioPath+`
assertions:
  - {type: activity_count, action: consume, count: 1}
`)
	broken := write("broken.case.yaml", "name: broken\n")
	missing := write("missing.case.yaml", `
name: missing
scenario: nowhere.yaml
assertions:
  - {type: outcome, outcome: completed}
`)

	result, err := RunSuite(t.Context(), []string{passing, failing, broken, missing})
	require.NoError(t, err)
	assert.Equal(t, 4, result.Total)
	assert.Equal(t, 1, result.Passed)
	assert.Equal(t, 3, result.Failed)
	require.Len(t, result.Failures, 3)
	assert.Equal(t, "fail", result.Failures[0].Case)
	assert.Contains(t, result.Failures[0].Error, "case assertions failed")
	assert.Contains(t, result.Failures[1].Error, "failed to load case")
	assert.Equal(t, "missing", result.Failures[2].Case)
	assert.Contains(t, result.Failures[2].Error, "case execution failed")
}
