package storage

import (
	"context"
	"errors"
	"fmt"
)

var (
	// Lookup errors. ErrNotFound is the one callers map to a 404.
	ErrNotFound   = errors.New("object not found")
	ErrInvalidKey = errors.New("invalid object key") // Empty keys and keys escaping the base path

	// Provider and credential errors
	ErrInvalidConfig = errors.New("invalid storage configuration") // Fatal at construction
	ErrUnauthorized  = errors.New("storage authentication failed")
	ErrAccessDenied  = errors.New("access denied")

	// Transport errors, already retried where the provider retries
	ErrTransient       = errors.New("storage temporarily unavailable")
	ErrOperationFailed = errors.New("storage operation failed")

	ErrInvalidOperation = errors.New("unsupported presign operation")

	// Validation errors for the calling layer
	ErrFileTooLarge          = errors.New("file size exceeds maximum allowed size")
	ErrContentTypeNotAllowed = errors.New("content type is not allowed")

	// Context and cancellation errors
	ErrOperationTimeout  = errors.New("operation timed out")
	ErrOperationCanceled = errors.New("operation canceled")
)

// contextError converts a finished context into the package's timeout or cancel error.
func contextError(err error, operation string) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s operation", ErrOperationTimeout, operation)
	}
	return fmt.Errorf("%w: %s operation", ErrOperationCanceled, operation)
}
