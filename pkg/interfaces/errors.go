package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrUnknownMember = errors.New("identity not registered")
	ErrStoreClosed   = errors.New("store is closed")
)
