// Package errors provides standardized error codes for the console client.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (transport, request, feedback, ...)
//   - error: The specific error type within that domain
//
// These codes are stable and can be rendered in the transcript or matched
// programmatically by UI collaborators. Human-readable messages are provided
// alongside codes.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
// These are stable identifiers that transcript consumers can rely on.
const (
	// Transport domain - primary channel and fallback transport errors.
	// Transport errors are absorbed by the resilience manager and converted
	// to connection-state transitions; they are never surfaced to users.
	CodeTransportFailure  = "transport.failure"   // Connection could not be established or maintained
	CodeTransportClosed   = "transport.closed"    // Channel was closed while a send was in flight
	CodeTransportNotOpen  = "transport.not_open"  // Send attempted with no usable transport
	CodeTransportBadReply = "transport.bad_reply" // Fallback transport returned an unparseable response

	// Request domain - remote command lifecycle errors.
	// These surface as Error-origin transcript entries.
	CodeRequestTimeout      = "request.timeout"      // No response within the request budget
	CodeRequestDisconnected = "request.disconnected" // Pending request invalidated by connection loss
	CodeRequestRejected     = "request.rejected"     // Agent returned a failure payload
	CodeRequestQueueFull    = "request.queue_full"   // Offline queue is at capacity

	// Feedback domain - cue rendering errors.
	// Always recovered via tier fallback; never surfaced to callers.
	CodeFeedbackUnavailable = "feedback.unavailable" // A feedback tier failed or is missing

	// Section domain - control surface navigation errors.
	CodeSectionUnknown = "section.unknown" // Navigation target is not in the section set

	// Config domain - configuration file errors.
	CodeConfigReadFailed = "config.read_failed" // Config file could not be read
	CodeConfigInvalid    = "config.invalid"     // Config file parsed but holds invalid values

	// Storage domain - preference persistence errors.
	CodeStorageOpenFailed  = "storage.open_failed"  // Database open failed
	CodeStorageQueryFailed = "storage.query_failed" // Database query failed

	// Discovery domain - agent endpoint discovery errors.
	CodeDiscoveryNotFound = "discovery.not_found" // No agent advertised on the local network

	// General domain - catch-all errors.
	CodeUnknown = "error.unknown" // Unknown error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "request.timeout")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// If the error is a CodedError, returns its code.
// Falls back to CodeUnknown for unrecognized errors.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// Common error constructors for frequently used error types.

// TransportFailure creates a "transport.failure" error.
// The resilience manager converts these into state transitions; they must
// never escape to the transcript.
func TransportFailure(operation string, cause error) *CodedError {
	return Wrap(CodeTransportFailure, fmt.Sprintf("transport %s failed", operation), cause)
}

// TransportNotOpen creates a "transport.not_open" error.
func TransportNotOpen(state string) *CodedError {
	return New(CodeTransportNotOpen, fmt.Sprintf("no transport available in state %q", state))
}

// RequestTimeout creates a "request.timeout" error.
// This surfaces as an Error-origin transcript entry for the command.
func RequestTimeout(commandID string) *CodedError {
	return New(CodeRequestTimeout, fmt.Sprintf("command %s received no response in time", commandID))
}

// Disconnected creates a "request.disconnected" error.
// This is applied to every pending request when the connection is lost,
// so no command is ever left dangling waiting on a dead channel.
func Disconnected(commandID string) *CodedError {
	return New(CodeRequestDisconnected, fmt.Sprintf("command %s abandoned: connection to agent lost", commandID))
}

// QueueFull creates a "request.queue_full" error.
// Returned when the offline submission queue is at capacity; the router
// resolves the command immediately instead of letting it wait unbounded.
func QueueFull(commandID string) *CodedError {
	return New(CodeRequestQueueFull, fmt.Sprintf("command %s dropped: too many commands queued while reconnecting", commandID))
}

// Rejected creates a "request.rejected" error from an agent failure payload.
func Rejected(commandID, agentCode, resultText string) *CodedError {
	msg := resultText
	if msg == "" {
		msg = "agent rejected the command"
	}
	if agentCode != "" {
		msg = fmt.Sprintf("%s (%s)", msg, agentCode)
	}
	return New(CodeRequestRejected, msg)
}

// FeedbackUnavailable creates a "feedback.unavailable" error.
// This is internal to the feedback resolver and never propagates to callers.
func FeedbackUnavailable(tierName string, cause error) *CodedError {
	return Wrap(CodeFeedbackUnavailable, fmt.Sprintf("feedback tier %s unavailable", tierName), cause)
}

// SectionUnknown creates a "section.unknown" error.
func SectionUnknown(name string) *CodedError {
	return New(CodeSectionUnknown, fmt.Sprintf("unknown section %q", name))
}

// DiscoveryNotFound creates a "discovery.not_found" error.
func DiscoveryNotFound(service string) *CodedError {
	return New(CodeDiscoveryNotFound, fmt.Sprintf("no %s service found on the local network", service))
}
