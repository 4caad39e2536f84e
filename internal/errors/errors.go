// Package errors defines the structured error taxonomy of the voice
// pipeline. Every failure surfaced to a caller carries a stable code and an
// HTTP status so handlers can map errors without string matching.
package errors

import "fmt"

// ErrorCode classifies a pipeline error.
type ErrorCode string

const (
	ErrInvalidRequest   ErrorCode = "INVALID_REQUEST"   // 400
	ErrUnauthorized     ErrorCode = "UNAUTHORIZED"      // 401
	ErrForbidden        ErrorCode = "FORBIDDEN"         // 403
	ErrNotFound         ErrorCode = "NOT_FOUND"         // 404
	ErrAlreadyProcessed ErrorCode = "ALREADY_PROCESSED" // 409
	ErrConflict         ErrorCode = "CONFLICT"          // 409
	ErrExpired          ErrorCode = "EXPIRED"           // 410
	ErrFileTooLarge     ErrorCode = "FILE_TOO_LARGE"    // 413
	ErrNoSpeech         ErrorCode = "NO_SPEECH"         // 422
	ErrAmbiguousTarget  ErrorCode = "AMBIGUOUS_TARGET"  // 422
	ErrUnprocessable    ErrorCode = "UNPROCESSABLE"     // 422
	ErrProvider         ErrorCode = "PROVIDER_ERROR"    // 502
	ErrInternal         ErrorCode = "INTERNAL"          // 500
)

// PipelineError is a structured error with code, HTTP status, and optional
// details for the response body.
type PipelineError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for bad input.
func NewInvalidRequest(msg string) *PipelineError {
	return &PipelineError{Code: ErrInvalidRequest, Status: 400, Message: msg}
}

// NewUnauthorized creates a 401 error for requests without an identity.
func NewUnauthorized() *PipelineError {
	return &PipelineError{Code: ErrUnauthorized, Status: 401, Message: "unauthorized"}
}

// NewForbidden creates a 403 error. The message is deliberately generic so
// nothing about the actual owner leaks to the caller.
func NewForbidden() *PipelineError {
	return &PipelineError{Code: ErrForbidden, Status: 403, Message: "forbidden"}
}

// NewNotFound creates a 404 error for a missing session, command, or block.
func NewNotFound(what string) *PipelineError {
	return &PipelineError{Code: ErrNotFound, Status: 404, Message: what + " not found"}
}

// NewAlreadyProcessed creates a 409 error for re-execution of a command that
// already reached a terminal status. The current status is included so the
// caller can tell executed from failed.
func NewAlreadyProcessed(currentStatus string) *PipelineError {
	return &PipelineError{
		Code:    ErrAlreadyProcessed,
		Status:  409,
		Message: fmt.Sprintf("command already processed (status %s)", currentStatus),
		Details: map[string]any{"status": currentStatus},
	}
}

// NewConflict creates a 409 error for concurrent state transitions.
func NewConflict(msg string) *PipelineError {
	return &PipelineError{Code: ErrConflict, Status: 409, Message: msg}
}

// NewExpired creates a 410 error for a capture session past its deadline.
// Distinct from conflict so callers can tell "try again" from "too late".
func NewExpired() *PipelineError {
	return &PipelineError{Code: ErrExpired, Status: 410, Message: "capture session expired"}
}

// NewFileTooLarge creates a 413 error for oversized audio.
func NewFileTooLarge(maxBytes int64) *PipelineError {
	return &PipelineError{
		Code:    ErrFileTooLarge,
		Status:  413,
		Message: fmt.Sprintf("audio exceeds maximum size of %d bytes", maxBytes),
		Details: map[string]any{"max_bytes": maxBytes},
	}
}

// NewNoSpeech creates a 422 error for audio with no recognizable speech.
func NewNoSpeech() *PipelineError {
	return &PipelineError{Code: ErrNoSpeech, Status: 422, Message: "no speech detected in audio"}
}

// NewAmbiguousTarget creates a 422 error when a selector matches more than
// one block. Never silently pick one.
func NewAmbiguousTarget(count int) *PipelineError {
	return &PipelineError{
		Code:    ErrAmbiguousTarget,
		Status:  422,
		Message: fmt.Sprintf("%d blocks match that date and time; be more specific", count),
		Details: map[string]any{"matches": count},
	}
}

// NewUnprocessable creates a 422 error for well-formed input the pipeline
// cannot act on (unknown intent, malformed model output).
func NewUnprocessable(msg string) *PipelineError {
	return &PipelineError{Code: ErrUnprocessable, Status: 422, Message: msg}
}

// NewProvider creates a 502 error for an upstream transcription or LLM
// failure.
func NewProvider(msg string) *PipelineError {
	return &PipelineError{Code: ErrProvider, Status: 502, Message: msg}
}

// NewInternal creates a 500 error for unexpected failures.
func NewInternal(err error) *PipelineError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &PipelineError{Code: ErrInternal, Status: 500, Message: msg}
}

// Is checks if an error is a PipelineError with the given code.
func Is(err error, code ErrorCode) bool {
	if pErr, ok := err.(*PipelineError); ok {
		return pErr.Code == code
	}
	return false
}

// From converts any error to a PipelineError, wrapping unknown errors as
// internal.
func From(err error) *PipelineError {
	if pErr, ok := err.(*PipelineError); ok {
		return pErr
	}
	return NewInternal(err)
}
