package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Command succeeded
	ExitFailure      = 1 // Session failed or records remain failed
	ExitCommandError = 2 // Bad config, unreadable database, bad flags
)

// ExitError carries the process exit code for a command failure.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string // Error message
	Err     error  // Underlying error (optional)
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Diagnostic output; defaults to Writer
	Verbose   bool
}

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// CLIResponse is the JSON envelope of every command's output.
type CLIResponse struct {
	Status string    `json:"status"`           // "ok" or "error"
	SiteID string    `json:"site_id,omitempty"` // site the command ran against
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`    // syncerr kind, or "COMMAND"
	Message string `json:"message"` // human-readable message
	Details any    `json:"details,omitempty"`
}

// JSON reports whether output is machine-readable.
func (f *OutputFormatter) JSON() bool {
	return f.Format == "json"
}

// Success writes data. Text output prints text, or data itself when text
// is empty.
func (f *OutputFormatter) Success(siteID string, data any, text string) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			SiteID: siteID,
			Data:   data,
		})
	}
	if text == "" {
		fmt.Fprintln(f.Writer, data)
		return nil
	}
	fmt.Fprint(f.Writer, text)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(siteID, code, message string, details any) error {
	if f.JSON() {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
			SiteID: siteID,
			Error: &CLIError{
				Code:    code,
				Message: message,
				Details: details,
			},
		})
	}

	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// VerboseLog writes a diagnostic line when verbose mode is enabled. It
// goes to ErrWriter so JSON output on Writer stays parseable.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
