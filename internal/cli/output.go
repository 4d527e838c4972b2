package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/PengC8899/didi-bot/internal/order"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation refused (invalid transition, conflict) or scenario failed
	ExitCommandError = 2 // Bad flags or input, unreadable config or database
	ExitNotFound     = 3 // Order or application does not exist
	ExitDenied       = 4 // Unauthorized or rate limited
	ExitSyncFailure  = 5 // Channel post could not be brought up to date
)

// ErrCodeGeneric is reported for errors that carry no domain code.
const ErrCodeGeneric = "ERROR"

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code
	Message string // Error message
	Err     error  // Underlying error (optional)

	// Reported is set when the command already wrote its output, so the
	// error must not be printed again.
	Reported bool
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
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// ExitCodeFor maps a domain error code to a process exit code.
func ExitCodeFor(code order.Code) int {
	switch code {
	case order.CodeNotFound:
		return ExitNotFound
	case order.CodeUnauthorized, order.CodeRateLimited:
		return ExitDenied
	case order.CodeInvalidInput:
		return ExitCommandError
	case order.CodeTransientSyncFailure, order.CodeFatalSyncFailure:
		return ExitSyncFailure
	default:
		return ExitFailure
	}
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // Separate writer for verbose/diagnostic output (defaults to Writer)
	Verbose   bool
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status string    `json:"status"`          // "ok" or "error"
	Data   any       `json:"data,omitempty"`  // success payload
	Error  *CLIError `json:"error,omitempty"` // error details
	Flow   string    `json:"flow,omitempty"`  // flow token of the request
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"`              // domain code ("NOT_FOUND") or ERROR
	Message string `json:"message"`           // human-readable message
	Details any    `json:"details,omitempty"` // additional context
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(CLIResponse{
			Status: "ok",
			Data:   data,
		})
	}

	// Human-readable text output
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Result outputs data as JSON, or calls text to write the human-readable
// form.
func (f *OutputFormatter) Result(data any, text func(w io.Writer)) error {
	if f.Format == "json" {
		return f.Success(data)
	}
	text(f.Writer)
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

	// Human-readable error
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Fail reports err in the configured format and returns it as an
// ExitError whose code follows the domain error code.
func (f *OutputFormatter) Fail(err error) error {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		if !exitErr.Reported {
			_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		}
		return err
	}

	code := order.CodeOf(err)
	if code == "" {
		_ = f.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitFailure, "command failed", err)
	}

	var details map[string]int64
	var domainErr *order.Error
	if errors.As(err, &domainErr) && (domainErr.OrderID != 0 || domainErr.ApplicationID != 0) {
		details = map[string]int64{}
		if domainErr.OrderID != 0 {
			details["order_id"] = domainErr.OrderID
		}
		if domainErr.ApplicationID != 0 {
			details["application_id"] = domainErr.ApplicationID
		}
	}
	if details == nil {
		_ = f.Error(string(code), err.Error(), nil)
	} else {
		_ = f.Error(string(code), err.Error(), details)
	}
	return WrapExitError(ExitCodeFor(code), string(code), err)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
// When format is JSON, verbose logs go to ErrWriter to avoid corrupting JSON output.
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

// GetErrWriter returns the appropriate writer for diagnostic output.
// Returns ErrWriter if set, otherwise Writer.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
