package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/efm-project/paneld/internal/flash"
)

type BootRecordRepository struct {
	db *sql.DB
}

func NewBootRecordRepository(dbConn *sql.DB) *BootRecordRepository {
	return &BootRecordRepository{db: dbConn}
}

func (r *BootRecordRepository) State(ctx context.Context) (flash.BootState, error) {
	var state flash.BootState

	var target, targetVersion sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT running_slot, running_version, boot_target, target_version FROM boot_record WHERE id = 1`,
	).Scan(&state.RunningSlot, &state.RunningVersion, &target, &targetVersion)
	if err != nil {
		return flash.BootState{}, fmt.Errorf("failed to read boot record: %w", err)
	}

	if target.Valid {
		state.BootTarget = flash.SlotID(target.String)
	}

	if targetVersion.Valid {
		state.TargetVersion = targetVersion.String
	}

	return state, nil
}

// SetBootTarget marks a slot as the boot candidate for the next restart and
// appends the committed update to the history.
func (r *BootRecordRepository) SetBootTarget(ctx context.Context, slot flash.SlotID, version string, sizeBytes int64, checksum string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin boot record update: %w", err)
	}

	defer tx.Rollback() //nolint:errcheck // no-op after commit

	_, err = tx.ExecContext(ctx,
		`UPDATE boot_record SET boot_target = ?, target_version = ? WHERE id = 1`,
		string(slot), version,
	)
	if err != nil {
		return fmt.Errorf("failed to set boot target: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO update_history (slot, version, size_bytes, checksum, committed_at) VALUES (?, ?, ?, ?, ?)`,
		string(slot), version, sizeBytes, checksum, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("failed to record update: %w", err)
	}

	return tx.Commit()
}

// Promote applies a pending boot target, making it the running slot. It is a
// no-op when nothing is pending and returns the resulting state either way.
func (r *BootRecordRepository) Promote(ctx context.Context) (flash.BootState, error) {
	_, err := r.db.ExecContext(ctx, `UPDATE boot_record SET
		running_slot = boot_target,
		running_version = target_version,
		boot_target = NULL,
		target_version = NULL
		WHERE id = 1 AND boot_target IS NOT NULL`)
	if err != nil {
		return flash.BootState{}, fmt.Errorf("failed to promote boot target: %w", err)
	}

	return r.State(ctx)
}

// LastUpdate returns the most recently committed update, or nil when no
// update has ever been committed.
func (r *BootRecordRepository) LastUpdate(ctx context.Context) (*flash.UpdateRecord, error) {
	var record flash.UpdateRecord

	err := r.db.QueryRowContext(ctx,
		`SELECT slot, version, size_bytes, checksum, committed_at FROM update_history ORDER BY id DESC LIMIT 1`,
	).Scan(&record.Slot, &record.Version, &record.SizeBytes, &record.Checksum, &record.CommittedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to read update history: %w", err)
	}

	return &record, nil
}
