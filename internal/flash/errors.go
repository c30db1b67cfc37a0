package flash

import (
	"errors"
	"fmt"
)

// ErrStorageUnavailable is returned when the slot bookkeeping cannot be read;
// without it no slot identity can be trusted.
var ErrStorageUnavailable = errors.New("flash storage unavailable")

// ErrSlotBusy is returned by Begin while another write transaction is open.
var ErrSlotBusy = errors.New("a write transaction is already open")

// InvalidSlotError reports an attempt to open a write transaction against a
// slot that is not a legal write target, typically the running slot.
type InvalidSlotError struct {
	Slot   SlotID
	Reason string
}

func (e *InvalidSlotError) Error() string {
	return fmt.Sprintf("slot %s is not a valid write target: %s", e.Slot, e.Reason)
}

// WriteError reports a failed append inside an open transaction. Offset is
// the number of bytes accepted before the failure.
type WriteError struct {
	Slot   SlotID
	Offset int64
	Err    error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write to slot %s failed at offset %d: %v", e.Slot, e.Offset, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// CommitError reports a failed finalization. The transaction is closed either
// way; the previously running slot remains bootable.
type CommitError struct {
	Slot   SlotID
	Reason string
	Err    error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit of slot %s failed: %s", e.Slot, e.Reason)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}
