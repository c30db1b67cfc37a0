package update

import (
	"errors"
	"fmt"
)

// ErrLengthRequired is returned when the request declares no body length;
// streaming never starts without one.
var ErrLengthRequired = errors.New("firmware upload requires a declared length")

// UnsupportedMediaTypeError reports a request whose content type is not the
// raw octet-stream the updater expects.
type UnsupportedMediaTypeError struct {
	ContentType string
}

func (e *UnsupportedMediaTypeError) Error() string {
	return fmt.Sprintf("unsupported media type %q, want %q", e.ContentType, ContentType)
}

// PayloadTooLargeError reports a declared size that cannot fit the update slot.
type PayloadTooLargeError struct {
	Declared int64
	Capacity int64
}

func (e *PayloadTooLargeError) Error() string {
	return fmt.Sprintf("declared firmware size %d exceeds slot capacity %d", e.Declared, e.Capacity)
}

// TransferError reports a failure while streaming the image into the update
// slot. The transaction has been aborted; the running slot is untouched.
type TransferError struct {
	Received int64
	Declared int64
	Err      error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("firmware transfer failed after %d/%d bytes: %v", e.Received, e.Declared, e.Err)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// CommitError reports a failed finalization. The transaction is already
// closed by the storage layer; no abort is needed and no restart is armed.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("firmware commit failed: %v", e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
