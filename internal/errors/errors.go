// Package errors provides centralized error definitions and error handling utilities
// for sketchround. It defines the classification-attempt taxonomy, round lifecycle
// errors, semantic error types, and error classification helpers.
//
// # Error Types
//
// Attempt errors describe why a single classification attempt failed:
//   - TransportError: the remote service could not be reached
//   - ProtocolError: the service answered with a bad status or an unparseable body
//   - ErrEmptyResult: the service answered successfully with zero candidates
//   - ErrStaleResponse: the answer belongs to a round that is no longer live
//
// Domain errors:
//   - SessionError: errors related to round/session management
//
// Semantic errors represent common error conditions:
//   - AlreadyExistsError: resource already exists (e.g. a second controller)
//   - ValidationError: invalid input or state
//   - TimeoutError: operation timed out
//
// # Usage
//
//	err := errors.NewTransportError("http://localhost:8000/predict/base64", cause)
//
//	if errors.Is(err, errors.ErrEmptyResult) { ... }
//
//	var protoErr *errors.ProtocolError
//	if errors.As(err, &protoErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that require immediate attention.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Classification attempt sentinel errors
var (
	// ErrEmptyResult indicates a well-formed response that carried no candidates.
	ErrEmptyResult = New("classification returned no candidates")
	// ErrStaleResponse indicates a result that belongs to a round that has since been reset.
	ErrStaleResponse = New("stale classification response")
	// ErrCaptureFailed indicates the capture source could not produce a snapshot.
	ErrCaptureFailed = New("capture failed")
)

// Round lifecycle sentinel errors
var (
	// ErrRoundInProgress indicates Start was called while a round is already live.
	ErrRoundInProgress = New("round already in progress")
	// ErrNoRound indicates an operation that needs a live round was called in Idle.
	ErrNoRound = New("no active round")
	// ErrInvalidTransition indicates a state change the round lifecycle does not allow.
	ErrInvalidTransition = New("invalid state transition")
	// ErrControllerExists indicates a second controller was constructed for a shared resource.
	ErrControllerExists = New("controller already exists for resource")
	// ErrSessionLocked indicates that the shared resources are locked by another process.
	ErrSessionLocked = New("session is locked")
)

// ErrTimeout indicates that an operation timed out.
var ErrTimeout = New("operation timed out")

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// RoundError is the base interface for all sketchround errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type RoundError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Attempt Errors
// -----------------------------------------------------------------------------

// TransportError represents a failure to reach the classification service,
// including abandoned attempts and capture failures.
//
// Example:
//
//	err := errors.NewTransportError("http://localhost:8000/predict/base64", cause)
//	fmt.Println(err) // "transport error [endpoint=http://...]: dial tcp: connection refused"
type TransportError struct {
	baseError
	Endpoint string
}

// NewTransportError creates a new TransportError. Transport failures are
// retryable: the next cadence tick retries naturally.
func NewTransportError(endpoint string, cause error) *TransportError {
	return &TransportError{
		baseError: baseError{
			message:    "request failed",
			cause:      cause,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
		Endpoint: endpoint,
	}
}

// Error returns the formatted error message.
func (e *TransportError) Error() string {
	prefix := "transport error"
	if e.Endpoint != "" {
		prefix = fmt.Sprintf("transport error [endpoint=%s]", e.Endpoint)
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", prefix, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *TransportError) Is(target error) bool {
	if _, ok := target.(*TransportError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ProtocolError represents a response the client could not accept: a
// non-success status code, success=false, or a malformed body.
type ProtocolError struct {
	baseError
	StatusCode int
	Body       string
}

// NewProtocolError creates a new ProtocolError.
func NewProtocolError(message string, statusCode int) *ProtocolError {
	return &ProtocolError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  true,
			userFacing: false,
		},
		StatusCode: statusCode,
	}
}

// WithBody records a (truncated) response body for diagnostics.
func (e *ProtocolError) WithBody(body string) *ProtocolError {
	const maxBody = 256
	if len(body) > maxBody {
		body = body[:maxBody] + "..."
	}
	e.Body = body
	return e
}

// WithCause adds a cause to the error.
func (e *ProtocolError) WithCause(cause error) *ProtocolError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ProtocolError) Error() string {
	var parts []string
	if e.StatusCode != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.StatusCode))
	}
	if e.Body != "" {
		parts = append(parts, fmt.Sprintf("body=%q", e.Body))
	}

	prefix := "protocol error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("protocol error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ProtocolError) Is(target error) bool {
	if _, ok := target.(*ProtocolError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// SessionError represents errors related to round and session management.
//
// Example:
//
//	err := errors.NewSessionError("cannot start round", errors.ErrRoundInProgress).WithState("predicting")
//	fmt.Println(err) // "session error [state=predicting]: cannot start round: round already in progress"
type SessionError struct {
	baseError
	State string
}

// NewSessionError creates a new SessionError.
func NewSessionError(message string, cause error) *SessionError {
	return &SessionError{
		baseError: baseError{
			message:    message,
			cause:      cause,
			severity:   SeverityError,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithState adds the round state observed when the error occurred.
func (e *SessionError) WithState(state string) *SessionError {
	e.State = state
	return e
}

// Error returns the formatted error message.
func (e *SessionError) Error() string {
	prefix := "session error"
	if e.State != "" {
		prefix = fmt.Sprintf("session error [state=%s]", e.State)
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *SessionError) Is(target error) bool {
	if _, ok := target.(*SessionError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Semantic Errors
// -----------------------------------------------------------------------------

// AlreadyExistsError represents a resource that already exists.
//
// Example:
//
//	err := errors.NewAlreadyExistsError("controller", "camera:0")
//	fmt.Println(err) // "controller 'camera:0' already exists"
type AlreadyExistsError struct {
	baseError
	ResourceType string
	ResourceID   string
}

// NewAlreadyExistsError creates a new AlreadyExistsError.
func NewAlreadyExistsError(resourceType, resourceID string) *AlreadyExistsError {
	return &AlreadyExistsError{
		baseError: baseError{
			message:    fmt.Sprintf("%s '%s' already exists", resourceType, resourceID),
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
		ResourceType: resourceType,
		ResourceID:   resourceID,
	}
}

// WithCause adds a cause to the error.
func (e *AlreadyExistsError) WithCause(cause error) *AlreadyExistsError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *AlreadyExistsError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s '%s' already exists: %v", e.ResourceType, e.ResourceID, e.cause)
	}
	return fmt.Sprintf("%s '%s' already exists", e.ResourceType, e.ResourceID)
}

// Is checks if this error matches the target.
func (e *AlreadyExistsError) Is(target error) bool {
	if _, ok := target.(*AlreadyExistsError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents invalid input or state.
//
// Example:
//
//	err := errors.NewValidationError("target label cannot be empty")
//	err = err.WithField("target").WithValue("")
type ValidationError struct {
	baseError
	Field string
	Value any
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{
		baseError: baseError{
			message:    message,
			severity:   SeverityWarning,
			retryable:  false,
			userFacing: true,
		},
	}
}

// WithField adds a field name to the error context.
func (e *ValidationError) WithField(field string) *ValidationError {
	e.Field = field
	return e
}

// WithValue adds the invalid value to the error context.
func (e *ValidationError) WithValue(value any) *ValidationError {
	e.Value = value
	return e
}

// Error returns the formatted error message.
func (e *ValidationError) Error() string {
	var parts []string
	if e.Field != "" {
		parts = append(parts, fmt.Sprintf("field=%s", e.Field))
	}
	if e.Value != nil {
		parts = append(parts, fmt.Sprintf("value=%v", e.Value))
	}

	prefix := "validation error"
	if len(parts) > 0 {
		prefix = fmt.Sprintf("validation error [%s]", strings.Join(parts, ", "))
	}

	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TimeoutError represents an operation that timed out.
//
// Example:
//
//	err := errors.NewTimeoutError("classify", 10*time.Second)
//	fmt.Println(err) // "timeout error: classify (timeout: 10s)"
type TimeoutError struct {
	baseError
	Operation string
	Duration  time.Duration
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(operation string, duration time.Duration) *TimeoutError {
	return &TimeoutError{
		baseError: baseError{
			message:    operation,
			severity:   SeverityWarning,
			retryable:  true, // Timeouts are generally retryable
			userFacing: true,
		},
		Operation: operation,
		Duration:  duration,
	}
}

// Error returns the formatted error message.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout error: %s (timeout: %s)", e.Operation, e.Duration)
}

// Is checks if this error matches the target.
func (e *TimeoutError) Is(target error) bool {
	if _, ok := target.(*TimeoutError); ok {
		return true
	}
	if errors.Is(target, ErrTimeout) {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if the error represents a transient condition
// that may succeed on retry. Empty results are retryable because the next
// snapshot may contain more of the drawing.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var roundErr RoundError
	if As(err, &roundErr) {
		return roundErr.IsRetryable()
	}

	if Is(err, ErrTimeout) || Is(err, ErrEmptyResult) {
		return true
	}

	return false
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var roundErr RoundError
	if As(err, &roundErr) {
		return roundErr.IsUserFacing()
	}

	return false
}

// UserMessage returns err's text when it is safe to show users, and fallback
// otherwise.
func UserMessage(err error, fallback string) string {
	if IsUserFacing(err) {
		return err.Error()
	}
	return fallback
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement RoundError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var roundErr RoundError
	if As(err, &roundErr) {
		return roundErr.Severity()
	}

	if Is(err, ErrStaleResponse) {
		return SeverityDebug
	}
	if Is(err, ErrEmptyResult) {
		return SeverityInfo
	}

	return SeverityError
}

// Kind returns a short, stable name for an attempt error, suitable for logs
// and persisted history. Unknown errors map to "error".
func Kind(err error) string {
	var transport *TransportError
	var protocol *ProtocolError
	switch {
	case err == nil:
		return ""
	case Is(err, ErrStaleResponse):
		return "stale"
	case Is(err, ErrEmptyResult):
		return "empty"
	case As(err, &protocol):
		return "protocol"
	case As(err, &transport):
		if Is(err, ErrTimeout) {
			return "timeout"
		}
		return "transport"
	default:
		return "error"
	}
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this preserves the RoundError interface.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to classify snapshot")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
