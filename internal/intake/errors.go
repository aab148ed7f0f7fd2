package intake

import "errors"

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrInvalidState = errors.New("invalid state")
	ErrNoSession    = errors.New("no active session")
	ErrWriteFailed  = errors.New("all write strategies failed")
)
