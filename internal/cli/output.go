package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mgadaphy/CNI-Digital-Queue-Management-System/internal/domain"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Operation failed (conflict, illegal transition, invalid config file)
	ExitCommandError = 2 // Command error (unreadable config, store cannot be opened, etc.)
)

// ExitError represents an error with a specific exit code.
// Use this to return errors with meaningful exit codes from CLI commands.
type ExitError struct {
	Code    int    // Exit code (use ExitFailure or ExitCommandError)
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
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// TextWriter is implemented by results that render themselves for the
// text format.
type TextWriter interface {
	WriteText(w io.Writer) error
}

// OutputFormatter handles JSON vs text output for CLI commands.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Response is the JSON envelope of every command.
type Response struct {
	Status string         `json:"status"`          // "ok" or "error"
	Data   any            `json:"data,omitempty"`  // success payload
	Error  *ResponseError `json:"error,omitempty"` // error details
}

// ResponseError carries the error code of the queue core taxonomy, or
// "COMMAND" for usage and environment errors.
type ResponseError struct {
	Code     string            `json:"code"`
	Message  string            `json:"message"`
	EntityID string            `json:"entity_id,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// Success outputs a successful result in the configured format.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{
			Status: "ok",
			Data:   data,
		})
	}

	if tw, ok := data.(TextWriter); ok {
		return tw.WriteText(f.Writer)
	}
	_, err := fmt.Fprintln(f.Writer, data)
	return err
}

// Error outputs err in the configured format.
func (f *OutputFormatter) Error(err error) error {
	re := &ResponseError{Code: "COMMAND", Message: err.Error()}
	var de *domain.Error
	if errors.As(err, &de) {
		re = &ResponseError{
			Code:     string(de.Code),
			Message:  de.Message,
			EntityID: de.EntityID,
			Details:  de.Details,
		}
	}

	if f.Format == "json" {
		return json.NewEncoder(f.Writer).Encode(Response{Status: "error", Error: re})
	}
	_, werr := fmt.Fprintf(f.Writer, "Error: %v\n", err)
	return werr
}

// fail reports err through f and returns it as an ExitError. Errors from
// the queue core are operation failures; anything else is a command error.
func fail(f *OutputFormatter, message string, err error) error {
	_ = f.Error(err)
	code := ExitCommandError
	var de *domain.Error
	if errors.As(err, &de) {
		code = ExitFailure
	}
	return WrapExitError(code, message, err)
}
