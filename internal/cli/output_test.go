package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"result": "success"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	details := map[string]string{"file": "app.cue"}
	require.NoError(t, formatter.Error(ErrCodeDefinition, "failed to load definition", details))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E003", resp.Error.Code)
	assert.Equal(t, "failed to load definition", resp.Error.Message)
	assert.Equal(t, map[string]any{"file": "app.cue"}, resp.Error.Details)
}

func TestOutputFormatter_Text(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("done"))
	require.NoError(t, formatter.Error(ErrCodeStore, "failed to open store", "locked"))

	assert.Equal(t, "done\nError [E006]: failed to open store\n", buf.String())
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error(ErrCodeStore, "failed to open store", "locked"))
	assert.Contains(t, buf.String(), "Details: locked")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	t.Run("silent without verbose", func(t *testing.T) {
		buf := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: buf}
		formatter.VerboseLog("hidden %d", 1)
		assert.Empty(t, buf.String())
	})

	t.Run("goes to ErrWriter", func(t *testing.T) {
		out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: errOut, Verbose: true}
		formatter.VerboseLog("loaded %s", "counter")
		assert.Empty(t, out.String())
		assert.Equal(t, "loaded counter\n", errOut.String())
		assert.Equal(t, errOut, formatter.GetErrWriter())
	})

	t.Run("falls back to Writer", func(t *testing.T) {
		out := &bytes.Buffer{}
		formatter := &OutputFormatter{Format: "text", Writer: out, Verbose: true}
		formatter.VerboseLog("loaded")
		assert.Equal(t, "loaded\n", out.String())
		assert.Equal(t, out, formatter.GetErrWriter())
	})
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}
	cause := errors.New("no such file")

	err := formatter.Fail(ExitCommandError, ErrCodeNotFound, "failed to open state file", cause)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "[E004] failed to open state file: no such file", err.Error())

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E004", resp.Error.Code)
	assert.Equal(t, "no such file", resp.Error.Details)
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad path")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitFailure, "mismatch", errors.New("inner")))
	assert.Equal(t, ExitFailure, GetExitCode(wrapped))
}

func TestExitError(t *testing.T) {
	assert.Equal(t, "bad path", NewExitError(ExitCommandError, "bad path").Error())

	inner := errors.New("inner")
	err := WrapExitError(ExitFailure, "outer", inner)
	assert.Equal(t, "outer: inner", err.Error())
	assert.Equal(t, inner, err.Unwrap())
}
