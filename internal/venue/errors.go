package venue

import "errors"

// ErrorKind classifies connector failures into the short codes adapters must
// map their native errors onto.
type ErrorKind string

const (
	KindAuthError           ErrorKind = "AUTH_ERROR"
	KindRateLimited         ErrorKind = "RATE_LIMITED"
	KindInsufficientBalance ErrorKind = "INSUFFICIENT_BALANCE"
	KindInvalidOrder        ErrorKind = "INVALID_ORDER"
	KindOrderNotFound       ErrorKind = "ORDER_NOT_FOUND"
)

// Error is a classified connector failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

// NewError builds a classified connector error.
func NewError(kind ErrorKind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// KindOf extracts the ErrorKind from an error chain, or "" when the error is
// not a classified venue error.
func KindOf(err error) ErrorKind {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return ""
}
