package flash

import (
	"errors"
	"fmt"
	"testing"
)

func TestSlotIDOther(t *testing.T) {
	if got := SlotA.Other(); got != SlotB {
		t.Errorf("SlotA.Other() = %s, want %s", got, SlotB)
	}

	if got := SlotB.Other(); got != SlotA {
		t.Errorf("SlotB.Other() = %s, want %s", got, SlotA)
	}
}

func TestInvalidSlotError_Error(t *testing.T) {
	err := &InvalidSlotError{Slot: SlotA, Reason: "slot is currently running"}

	expected := "slot ota_0 is not a valid write target: slot is currently running"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestWriteError_Unwrap(t *testing.T) {
	cause := errors.New("device write rejected")
	err := &WriteError{Slot: SlotB, Offset: 4096, Err: cause}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	wrapped := fmt.Errorf("streaming update: %w", err)
	if !errors.Is(wrapped, cause) {
		t.Error("errors.Is() should find cause in wrapped chain")
	}

	var target *WriteError
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract WriteError from wrapped chain")
	}

	if target.Offset != 4096 {
		t.Errorf("Offset = %d, want 4096", target.Offset)
	}
}

func TestCommitError_Unwrap(t *testing.T) {
	cause := errors.New("rename failed")
	err := &CommitError{Slot: SlotB, Reason: "could not install image", Err: cause}

	if unwrapped := errors.Unwrap(err); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}

	var target *CommitError
	wrapped := fmt.Errorf("finalizing update: %w", err)
	if !errors.As(wrapped, &target) {
		t.Fatal("errors.As() should extract CommitError from wrapped chain")
	}

	if target.Slot != SlotB {
		t.Errorf("Slot = %s, want %s", target.Slot, SlotB)
	}
}
