package cart

import (
	"errors"
	"fmt"
)

var (
	ErrCartFetchFailed    = errors.New("cart fetch failed")
	ErrCartMutationFailed = errors.New("cart update failed")
	ErrInvalidQuantity    = errors.New("invalid quantity")
	ErrItemNotFound       = errors.New("cart item not found")
)

// Error is a cart failure. Kind is one of the package sentinels, Message is
// safe to show to the shopper and Err is the underlying cause, if any.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func newError(kind error, message string, err error) *Error {
	if message == "" {
		message = kind.Error()
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Is matches the error kind
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}
