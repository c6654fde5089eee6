package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/flowsim/internal/scenario"
)

func TestOutputFormatterEmit(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}
		require.NoError(t, f.Emit(map[string]int{"steps": 3}, func(w io.Writer) { fmt.Fprint(w, "ignored") }))

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, map[string]any{"steps": float64(3)}, resp.Data)
	})

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, f.Emit(nil, func(w io.Writer) { fmt.Fprint(w, "rendered") }))
		assert.Equal(t, "rendered", buf.String())
	})

	t.Run("text without renderer", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf}
		require.NoError(t, f.Emit("plain", nil))
		assert.Equal(t, "plain\n", buf.String())
	})
}

func TestOutputFormatterFail(t *testing.T) {
	t.Run("json carries validation problems", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "json", Writer: buf}
		verr := &scenario.ValidationError{File: "x.yaml", Problems: []scenario.Problem{
			{Code: scenario.CodeDanglingPort, Path: "nodes[0]", Message: "no such node"},
		}}

		err := f.Fail(ExitFailure, ErrCodeInvalid, "invalid scenario", verr)
		assert.Equal(t, ExitFailure, GetExitCode(err))
		assert.True(t, Reported(err))
		assert.ErrorIs(t, err, verr)

		var resp CLIResponse
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
		assert.Equal(t, "error", resp.Status)
		require.NotNil(t, resp.Error)
		assert.Equal(t, ErrCodeInvalid, resp.Error.Code)
		details, ok := resp.Error.Details.([]any)
		require.True(t, ok)
		assert.Len(t, details, 1)
	})

	t.Run("text", func(t *testing.T) {
		buf := &bytes.Buffer{}
		f := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}
		err := f.Fail(ExitCommandError, ErrCodeStore, "database not found", errors.New("stat x.db: no such file"))
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, buf.String(), "Error [E003]: database not found")
		assert.Contains(t, buf.String(), "Details: stat x.db")
	})
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(NewExitError(ExitFailure, "failed")))
	assert.Equal(t, ExitCommandError, GetExitCode(errors.New("unknown flag")))
	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "inner", errors.New("cause")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
	assert.False(t, Reported(wrapped))
	assert.Equal(t, "inner: cause", WrapExitError(ExitFailure, "inner", errors.New("cause")).Error())
}

func TestVerboseLogGoesToErrWriter(t *testing.T) {
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
	f := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
	f.VerboseLog("loaded %d nodes", 3)
	assert.Empty(t, out.String())
	assert.Equal(t, "loaded 3 nodes\n", errOut.String())

	quiet := &OutputFormatter{Writer: out, ErrWriter: errOut}
	quiet.VerboseLog("hidden")
	assert.Equal(t, "loaded 3 nodes\n", errOut.String())
}
