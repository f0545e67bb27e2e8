package messaging

import (
	"errors"
	"fmt"
)

var (
	ErrNotConnected  = errors.New("messaging: connection is not connected")
	ErrBatchTooLarge = errors.New("messaging: bulk batch exceeds the contact cap")
	ErrEmptyContent  = errors.New("messaging: message text is empty")
	ErrNoRecipients  = errors.New("messaging: bulk batch has no recipients")
	ErrNotFound      = errors.New("messaging: message not found")

	// errMissingProtocolID is the cause recorded when the transport accepted a send
	// without returning an id.
	errMissingProtocolID = errors.New("transport returned no message id")
)

// SendError reports that the transport refused or could not track a send. The
// Pending record has already been moved to Failed when it is returned.
type SendError struct {
	Cause error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("messaging: send failed: %v", e.Cause)
}

func (e *SendError) Unwrap() error { return e.Cause }
