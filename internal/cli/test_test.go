package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestCommandReportsFailures(t *testing.T) {
	out, _, err := execute(t, "test", "testdata/cases")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "\u2713 testdata/cases/delivered.case.yaml")
	assert.Contains(t, out, "\u2717 testdata/cases/undelivered.case.yaml")
	assert.Contains(t, out, "1 passed, 1 failed, 2 total")
}

func TestTestCommandFilter(t *testing.T) {
	out, _, err := execute(t, "test", "testdata/cases", "--filter", "deliv*")
	require.NoError(t, err)
	assert.Contains(t, out, "1 passed, 0 failed, 1 total")
	assert.NotContains(t, out, "undelivered")
}

func TestTestCommandJSON(t *testing.T) {
	var result TestResult
	out, _, err := execute(t, "test", "testdata/cases/undelivered.case.yaml", "--format", "json")
	require.Error(t, err)
	decodeData(t, out, &result)
	require.NotNil(t, result.SuiteResult)
	assert.Equal(t, 1, result.Total)
	assert.Equal(t, 1, result.Failed)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, "undelivered", result.Failures[0].Case)
	assert.Contains(t, result.Failures[0].Error, "case assertions failed")
}

func TestTestCommandErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"missing path", []string{"test", "testdata/no-such-dir"}},
		{"bad filter", []string{"test", "testdata/cases", "--filter", "[x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, out, "[E001]")
		})
	}
}

func TestTestCommandNoCases(t *testing.T) {
	out, _, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No cases found.")
}
