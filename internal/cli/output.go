package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/roach88/xconform/internal/engine"
	"github.com/roach88/xconform/internal/store"
)

// Exit codes. Test outcomes never affect the exit code of a completed run.
const (
	ExitSuccess      = 0 // run completed
	ExitFailure      = 1 // validate found malformed catalog entries
	ExitCommandError = 2 // infrastructure failure, bad flag, interrupted run
)

// Error codes carried in CLIError.Code.
const (
	ErrCodeConfig       = "E001" // configuration or flag problem
	ErrCodeCatalog      = "E002" // root catalog unreadable or undecodable
	ErrCodeEngine       = "E003" // unknown or unbuildable engine
	ErrCodeStore        = "E004" // run history unavailable
	ErrCodeCatalogEntry = "E010" // malformed catalog entry
)

// ExitError carries the process exit code, and optionally the CLIError
// code, of a failed command.
type ExitError struct {
	Code    int
	ErrCode string // empty: derived from the cause, see errorCode
	Message string
	Err     error
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

// WithErrCode sets the code reported in JSON error output.
func (e *ExitError) WithErrCode(code string) *ExitError {
	e.ErrCode = code
	return e
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error. Errors that are not
// ExitErrors come from flag parsing and setup, so they map to
// ExitCommandError.
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitCommandError
}

// errorCode picks the CLIError code for err.
func errorCode(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.ErrCode != "" {
		return exitErr.ErrCode
	}
	switch {
	case errors.Is(err, engine.ErrUnknownEngine):
		return ErrCodeEngine
	case errors.Is(err, store.ErrRunNotFound):
		return ErrCodeStore
	case GetExitCode(err) == ExitFailure:
		return ErrCodeCatalogEntry
	}
	return ErrCodeConfig
}

// reportError writes the error that ended the process to w (stderr).
func reportError(w io.Writer, format string, err error) {
	if format == "json" {
		f := &OutputFormatter{Format: format, Writer: w}
		_ = f.Error(errorCode(err), err.Error(), nil)
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // verbose diagnostics; keeps JSON on Writer clean
	Verbose   bool
}

// CLIResponse is the JSON envelope of every non-report command.
type CLIResponse struct {
	Status string    `json:"status"` // "ok" or "error"
	Data   any       `json:"data,omitempty"`
	Error  *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "error",
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

// VerboseLog writes a diagnostic line in verbose mode only.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	w := f.ErrWriter
	if w == nil {
		w = f.Writer
	}
	fmt.Fprintf(w, format+"\n", args...)
}

// encodeIndented writes v as two-space indented JSON.
func encodeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
