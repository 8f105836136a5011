package apperror

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure by how the gateway must react to it.
type Kind int

const (
	KindInternal Kind = iota
	KindAuthentication
	KindAuthorization
	KindRateLimited
	KindValidation
	KindNotFound
	KindConflict
)

func (k Kind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindRateLimited:
		return "rate_limited"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// Machine-readable codes sent to clients in error frames.
const (
	CodeUnauthorized         = "UNAUTHORIZED"
	CodeForbidden            = "FORBIDDEN"
	CodeRateLimited          = "RATE_LIMITED"
	CodeMessageRateLimited   = "MESSAGE_RATE_LIMITED"
	CodeInvalidPayload       = "INVALID_PAYLOAD"
	CodeContentEmpty         = "CONTENT_EMPTY"
	CodeContentTooLong       = "CONTENT_TOO_LONG"
	CodeChannelArchived      = "CHANNEL_ARCHIVED"
	CodeGuestLocked          = "GUEST_LOCKED"
	CodeGuestNoChannelAccess = "GUEST_NO_CHANNEL_ACCESS"
	CodeNotFound             = "NOT_FOUND"
	CodeNestedThread         = "NESTED_THREAD"
	CodeBatchTooLarge        = "BATCH_TOO_LARGE"
	CodeUnknownEvent         = "UNKNOWN_EVENT"
	CodeSequenceConflict     = "SEQUENCE_CONFLICT"
	CodeInternal             = "INTERNAL"
)

// ErrSequenceConflict is returned by a repository when a concurrent writer
// took the sequence number the insert computed. It is retryable.
var ErrSequenceConflict = errors.New("sequence already allocated")

// Error carries a kind, a client-facing code and message, and optionally
// the underlying cause. RetryAfter is set for KindRateLimited.
type Error struct {
	Kind       Kind
	Code       string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

func Unauthenticated(message string) *Error {
	return New(KindAuthentication, CodeUnauthorized, message)
}

func Forbidden(message string) *Error {
	return New(KindAuthorization, CodeForbidden, message)
}

func NotFound(message string) *Error {
	return New(KindNotFound, CodeNotFound, message)
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

func RateLimited(code string, retryAfter time.Duration) *Error {
	return &Error{
		Kind:       KindRateLimited,
		Code:       code,
		Message:    "rate limit exceeded",
		RetryAfter: retryAfter,
	}
}

// Internal wraps an unexpected failure. The cause is kept for logging but
// the message shown to clients stays generic.
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// As extracts an *Error from err. Anything that isn't one is reported as
// an internal error.
func As(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", err)
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var appErr *Error
	return errors.As(err, &appErr) && appErr.Kind == kind
}
