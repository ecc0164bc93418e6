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

	require.NoError(t, formatter.Success("site-a", map[string]int{"released": 3}, "ignored in json"))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "site-a", resp.SiteID)
	assert.Equal(t, map[string]any{"released": float64(3)}, resp.Data)
	assert.NotContains(t, buf.String(), "ignored in json")
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("site-a", "TRANSPORT", "peer unreachable", map[string]string{"url": "http://central"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "TRANSPORT", resp.Error.Code)
	assert.Equal(t, "peer unreachable", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("site-a", nil, "Released 2 quarantined record(s).\n"))
	assert.Equal(t, "Released 2 quarantined record(s).\n", buf.String())
}

func TestOutputFormatter_TextSuccessFallsBackToData(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Success("site-a", "plain value", ""))
	assert.Equal(t, "plain value\n", buf.String())
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("site-a", "SESSION", "sync failed", map[string]string{"x": "y"}))
	assert.Contains(t, buf.String(), "Error [SESSION]: sync failed")
	assert.NotContains(t, buf.String(), "Details:")
}

func TestOutputFormatter_TextErrorVerbose(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("site-a", "SESSION", "sync failed", map[string]string{"x": "y"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			diag := &bytes.Buffer{}
			formatter := &OutputFormatter{Format: "json", Writer: out, ErrWriter: diag, Verbose: tt.verbose}

			formatter.VerboseLog("pulled %d records", 12)

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, diag.String(), "pulled 12 records")
			} else {
				assert.Empty(t, diag.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitSuccess, GetExitCode(nil))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("boom")))
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "bad flags")))

	wrapped := fmt.Errorf("outer: %w", WrapExitError(ExitCommandError, "open", errors.New("denied")))
	assert.Equal(t, ExitCommandError, GetExitCode(wrapped))
}

func TestExitErrorMessage(t *testing.T) {
	cause := errors.New("denied")
	err := WrapExitError(ExitCommandError, "failed to open database", cause)
	assert.Equal(t, "failed to open database: denied", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad", NewExitError(ExitFailure, "bad").Error())
}
