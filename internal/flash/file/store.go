// Package file implements the dual-slot firmware store on top of a plain
// directory: one fixed-capacity image file per slot, with slot bookkeeping
// persisted through a flash.BootRecordRepository. A write transaction streams
// into <slot>.partial and is renamed over the slot image on commit, so a
// crashed or aborted transfer never touches an installed image.
package file

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"os"
	"path/filepath"
	"sync"

	"github.com/efm-project/paneld/internal/flash"
	"github.com/efm-project/paneld/internal/logctx"
)

const (
	dirPerm = 0755

	imageSuffix   = ".img"
	partialSuffix = ".partial"

	versionLength = 12 // leading hex chars of the image digest
)

type Store struct {
	dir      string
	capacity int64
	repo     flash.BootRecordRepository

	mu   sync.Mutex
	busy bool
}

// Open prepares the store directory and applies a pending boot target, the
// stand-in for the bootloader switching slots across a restart.
func Open(ctx context.Context, dir string, capacity int64, repo flash.BootRecordRepository) (*Store, error) {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	state, err := repo.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flash.ErrStorageUnavailable, err)
	}

	if state.BootTarget != "" {
		promoted, err := repo.Promote(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", flash.ErrStorageUnavailable, err)
		}

		logger.Info("promoted boot target to running slot",
			"slot", promoted.RunningSlot,
			"version", promoted.RunningVersion,
		)
	}

	return &Store{dir: dir, capacity: capacity, repo: repo}, nil
}

func (s *Store) RunningSlot(ctx context.Context) (flash.SlotInfo, error) {
	state, err := s.repo.State(ctx)
	if err != nil {
		return flash.SlotInfo{}, fmt.Errorf("%w: %v", flash.ErrStorageUnavailable, err)
	}

	return flash.SlotInfo{ID: state.RunningSlot, Version: state.RunningVersion}, nil
}

func (s *Store) UpdateSlot(ctx context.Context) (flash.SlotID, error) {
	state, err := s.repo.State(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: %v", flash.ErrStorageUnavailable, err)
	}

	return state.RunningSlot.Other(), nil
}

func (s *Store) Begin(ctx context.Context, slot flash.SlotID) (flash.Transaction, error) {
	if slot != flash.SlotA && slot != flash.SlotB {
		return nil, &flash.InvalidSlotError{Slot: slot, Reason: "unknown slot"}
	}

	state, err := s.repo.State(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", flash.ErrStorageUnavailable, err)
	}

	if slot == state.RunningSlot {
		return nil, &flash.InvalidSlotError{Slot: slot, Reason: "slot is currently running"}
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()

		return nil, flash.ErrSlotBusy
	}

	s.busy = true
	s.mu.Unlock()

	f, err := os.OpenFile(s.partialPath(slot), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		s.release()

		return nil, &flash.WriteError{Slot: slot, Offset: 0, Err: err}
	}

	return &transaction{store: s, slot: slot, f: f, hash: sha256.New()}, nil
}

func (s *Store) release() {
	s.mu.Lock()
	s.busy = false
	s.mu.Unlock()
}

func (s *Store) partialPath(slot flash.SlotID) string {
	return filepath.Join(s.dir, string(slot)+partialSuffix)
}

func (s *Store) imagePath(slot flash.SlotID) string {
	return filepath.Join(s.dir, string(slot)+imageSuffix)
}

type transaction struct {
	store   *Store
	slot    flash.SlotID
	f       *os.File
	hash    hash.Hash
	written int64
	done    bool
}

func (t *transaction) Write(p []byte) (int, error) {
	if t.done {
		return 0, &flash.WriteError{Slot: t.slot, Offset: t.written, Err: errors.New("transaction is closed")}
	}

	if t.written+int64(len(p)) > t.store.capacity {
		return 0, &flash.WriteError{Slot: t.slot, Offset: t.written, Err: errors.New("image exceeds slot capacity")}
	}

	n, err := t.f.Write(p)
	t.hash.Write(p[:n])
	t.written += int64(n)

	if err != nil {
		return n, &flash.WriteError{Slot: t.slot, Offset: t.written, Err: err}
	}

	return n, nil
}

func (t *transaction) Commit(ctx context.Context) error {
	if t.done {
		return &flash.CommitError{Slot: t.slot, Reason: "transaction already closed"}
	}

	t.done = true
	defer t.store.release()

	if t.written == 0 {
		t.discard()

		return &flash.CommitError{Slot: t.slot, Reason: "refusing to install an empty image"}
	}

	if err := t.f.Sync(); err != nil {
		t.discard()

		return &flash.CommitError{Slot: t.slot, Reason: "failed to sync image", Err: err}
	}

	if err := t.f.Close(); err != nil {
		t.discard()

		return &flash.CommitError{Slot: t.slot, Reason: "failed to close image", Err: err}
	}

	digest := hex.EncodeToString(t.hash.Sum(nil))
	version := digest[:versionLength]

	if err := os.Rename(t.store.partialPath(t.slot), t.store.imagePath(t.slot)); err != nil {
		t.discard()

		return &flash.CommitError{Slot: t.slot, Reason: "failed to install image", Err: err}
	}

	if err := t.store.repo.SetBootTarget(ctx, t.slot, version, t.written, digest); err != nil {
		return &flash.CommitError{Slot: t.slot, Reason: "failed to record boot target", Err: err}
	}

	return nil
}

func (t *transaction) Abort() error {
	if t.done {
		return nil
	}

	t.done = true
	t.discard()
	t.store.release()

	return nil
}

// discard drops the partial file; errors are ignored because the running
// slot is unaffected either way.
func (t *transaction) discard() {
	_ = t.f.Close()
	_ = os.Remove(t.store.partialPath(t.slot))
}
