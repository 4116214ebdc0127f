package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// ErrorCode represents a wsdump error code.
type ErrorCode string

const (
	ErrInvalidRequest     ErrorCode = "INVALID_REQUEST"      // bad CLI or API input
	ErrInvalidFormat      ErrorCode = "INVALID_FORMAT"       // unparsable header, line or timestamp
	ErrUnknownFileVersion ErrorCode = "UNKNOWN_FILE_VERSION" // header names a file format we cannot read
	ErrUnknownProtocol    ErrorCode = "UNKNOWN_PROTOCOL"     // no decoder for (name, version)
	ErrUnknownExchange    ErrorCode = "UNKNOWN_EXCHANGE"     // host or revision has no decoder
	ErrMalformedPayload   ErrorCode = "MALFORMED_PAYLOAD"    // bad JSON, missing key, wrong type
	ErrUnmatchedID        ErrorCode = "UNMATCHED_ID"         // response correlates to no request
	ErrSubscribeDenied    ErrorCode = "SUBSCRIBE_DENIED"     // exchange refused a subscription
	ErrIncompleteStream   ErrorCode = "INCOMPLETE_STREAM"    // subscriptions never confirmed
	ErrUnexpectedEOF      ErrorCode = "UNEXPECTED_EOF"       // file ends before a header
	ErrAlreadyRegistered  ErrorCode = "ALREADY_REGISTERED"   // duplicate registry entry
	ErrFileNotFound       ErrorCode = "FILE_NOT_FOUND"
	ErrCancelled          ErrorCode = "CANCELLED"
	ErrInternal           ErrorCode = "INTERNAL"
)

// DumpError represents a structured error with code and details.
type DumpError struct {
	Code    ErrorCode
	Message string
	Details map[string]any
	Err     error
}

// Error implements the error interface.
func (e *DumpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause, if any.
func (e *DumpError) Unwrap() error {
	return e.Err
}

// WithDetail sets a detail key and returns the error for chaining.
func (e *DumpError) WithDetail(key string, value any) *DumpError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// NewInvalidRequest creates an error for invalid request parameters.
func NewInvalidRequest(msg string) *DumpError {
	return &DumpError{
		Code:    ErrInvalidRequest,
		Message: msg,
	}
}

// NewInvalidFormat creates an error for a log line that does not follow the file grammar.
func NewInvalidFormat(msg string, err error) *DumpError {
	if err != nil {
		msg = fmt.Sprintf("%s: %v", msg, err)
	}
	return &DumpError{
		Code:    ErrInvalidFormat,
		Message: msg,
		Err:     err,
	}
}

// NewUnknownFileVersion creates an error for an unsupported file format version.
func NewUnknownFileVersion(version int) *DumpError {
	return &DumpError{
		Code:    ErrUnknownFileVersion,
		Message: fmt.Sprintf("unknown file format version: %d", version),
		Details: map[string]any{"file_version": version},
	}
}

// NewUnknownProtocol creates an error for a protocol with no registered decoder.
func NewUnknownProtocol(name string, version int) *DumpError {
	return &DumpError{
		Code:    ErrUnknownProtocol,
		Message: fmt.Sprintf("unknown protocol: %s version %d", name, version),
		Details: map[string]any{"protocol": name, "protocol_version": version},
	}
}

// NewUnknownExchange creates an error for a host or exchange revision with no decoder.
func NewUnknownExchange(msg string) *DumpError {
	return &DumpError{
		Code:    ErrUnknownExchange,
		Message: msg,
	}
}

// NewMalformedPayload creates an error for a record payload that violates the exchange protocol.
func NewMalformedPayload(msg string) *DumpError {
	return &DumpError{
		Code:    ErrMalformedPayload,
		Message: msg,
	}
}

// NewUnmatchedID creates an error for a response whose correlation id was never requested.
func NewUnmatchedID(id any) *DumpError {
	return &DumpError{
		Code:    ErrUnmatchedID,
		Message: fmt.Sprintf("response for unknown request id: %v", id),
		Details: map[string]any{"id": id},
	}
}

// NewSubscribeDenied creates an error for a subscription the exchange refused.
func NewSubscribeDenied(channel, reason string) *DumpError {
	return &DumpError{
		Code:    ErrSubscribeDenied,
		Message: fmt.Sprintf("subscription to %q denied: %s", channel, reason),
		Details: map[string]any{"channel": channel},
	}
}

// NewIncompleteStream creates an error listing channels that were requested but never confirmed.
func NewIncompleteStream(missing []string) *DumpError {
	sorted := append([]string(nil), missing...)
	sort.Strings(sorted)
	return &DumpError{
		Code:    ErrIncompleteStream,
		Message: fmt.Sprintf("subscriptions never confirmed: {%s}", strings.Join(sorted, ", ")),
		Details: map[string]any{"missing_channels": sorted},
	}
}

// NewUnexpectedEOF creates an error for a file that ends where more data is required.
func NewUnexpectedEOF(msg string) *DumpError {
	return &DumpError{
		Code:    ErrUnexpectedEOF,
		Message: msg,
	}
}

// NewAlreadyRegistered creates an error for a duplicate registry entry.
func NewAlreadyRegistered(what string) *DumpError {
	return &DumpError{
		Code:    ErrAlreadyRegistered,
		Message: fmt.Sprintf("already registered: %s", what),
	}
}

// NewFileNotFound creates an error for a missing input file.
func NewFileNotFound(path string) *DumpError {
	return &DumpError{
		Code:    ErrFileNotFound,
		Message: fmt.Sprintf("file not found: %s", path),
		Details: map[string]any{"path": path},
	}
}

// NewCancelled creates an error for an operation stopped by its context.
func NewCancelled(op string) *DumpError {
	return &DumpError{
		Code:    ErrCancelled,
		Message: fmt.Sprintf("%s cancelled", op),
	}
}

// NewInternal creates an error for unexpected internal errors.
func NewInternal(err error) *DumpError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &DumpError{
		Code:    ErrInternal,
		Message: msg,
		Err:     err,
	}
}

// Is checks if an error is, or wraps, a DumpError with the given code.
func Is(err error, code ErrorCode) bool {
	var dErr *DumpError
	if stderrors.As(err, &dErr) {
		return dErr.Code == code
	}
	return false
}

// CodeOf returns the code of the first DumpError in err's chain, or ErrInternal.
func CodeOf(err error) ErrorCode {
	var dErr *DumpError
	if stderrors.As(err, &dErr) {
		return dErr.Code
	}
	return ErrInternal
}
