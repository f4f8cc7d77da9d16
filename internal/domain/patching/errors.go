package patching

import "errors"

var (
	// ErrOperationNotFound indicates the referenced patch operation does not exist.
	ErrOperationNotFound = errors.New("patch operation not found")
)
