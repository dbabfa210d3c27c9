package router

import "errors"

var (
	ErrMissingSender    = errors.New("from is required")
	ErrMissingRecipient = errors.New("to is required")
	ErrMissingMessage   = errors.New("message is required")
	ErrNotConnected     = errors.New("recipient is not connected")
)
