// Package flash abstracts the panel's dual-slot firmware storage scheme.
// Exactly one slot is running at any time; the other slot is the only legal
// write target for an update.
package flash

import "context"

// SlotID names one of the two fixed firmware storage regions.
type SlotID string

const (
	SlotA SlotID = "ota_0"
	SlotB SlotID = "ota_1"
)

// Other returns the opposite slot of the pair.
func (s SlotID) Other() SlotID {
	if s == SlotA {
		return SlotB
	}

	return SlotA
}

// SlotInfo describes a slot and the firmware version it holds.
type SlotInfo struct {
	ID      SlotID
	Version string
}

// Store is the dual-slot firmware store consumed by the update pipeline.
// At most one write transaction may be open store-wide; Begin acquires the
// exclusive guard and Commit/Abort release it.
type Store interface {
	RunningSlot(ctx context.Context) (SlotInfo, error)
	UpdateSlot(ctx context.Context) (SlotID, error)
	Begin(ctx context.Context, slot SlotID) (Transaction, error)
}

// Transaction is a single sequential write against a slot between Begin and
// Commit/Abort. Write appends in call order. Abort is idempotent and safe to
// call after Commit.
type Transaction interface {
	Write(p []byte) (int, error)
	Commit(ctx context.Context) error
	Abort() error
}

// BootState is the persisted bookkeeping for the slot pair. BootTarget is
// empty unless a committed update is waiting for the next restart.
type BootState struct {
	RunningSlot    SlotID
	RunningVersion string
	BootTarget     SlotID
	TargetVersion  string
}

// UpdateRecord is one committed firmware update.
type UpdateRecord struct {
	Slot        SlotID
	Version     string
	SizeBytes   int64
	Checksum    string
	CommittedAt string
}

// BootRecordRepository persists the boot state across restarts. The slot
// promotion that the bootloader performs on a real device is modelled by
// Promote, called once at store open when a boot target is pending.
type BootRecordRepository interface {
	State(ctx context.Context) (BootState, error)
	SetBootTarget(ctx context.Context, slot SlotID, version string, sizeBytes int64, checksum string) error
	Promote(ctx context.Context) (BootState, error)
	LastUpdate(ctx context.Context) (*UpdateRecord, error)
}
