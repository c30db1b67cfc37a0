package sqlite

import (
	"context"
	"database/sql"

	"github.com/efm-project/paneld/internal/flash"
	"github.com/efm-project/paneld/internal/telemetry"
)

// InstrumentedBootRecordRepository wraps BootRecordRepository with telemetry.
type InstrumentedBootRecordRepository struct {
	repo      *BootRecordRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedBootRecordRepository creates a new instrumented boot record repository.
func NewInstrumentedBootRecordRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedBootRecordRepository {
	return &InstrumentedBootRecordRepository{
		repo:      NewBootRecordRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedBootRecordRepository) State(ctx context.Context) (flash.BootState, error) {
	state, err := r.repo.State(ctx)
	r.telemetry.RecordDBOperation(ctx, "state", operationStatus(err))

	return state, err
}

func (r *InstrumentedBootRecordRepository) SetBootTarget(ctx context.Context, slot flash.SlotID, version string, sizeBytes int64, checksum string) error {
	err := r.repo.SetBootTarget(ctx, slot, version, sizeBytes, checksum)
	r.telemetry.RecordDBOperation(ctx, "set_boot_target", operationStatus(err))

	return err
}

func (r *InstrumentedBootRecordRepository) Promote(ctx context.Context) (flash.BootState, error) {
	state, err := r.repo.Promote(ctx)
	r.telemetry.RecordDBOperation(ctx, "promote", operationStatus(err))

	return state, err
}

func (r *InstrumentedBootRecordRepository) LastUpdate(ctx context.Context) (*flash.UpdateRecord, error) {
	record, err := r.repo.LastUpdate(ctx)
	r.telemetry.RecordDBOperation(ctx, "last_update", operationStatus(err))

	return record, err
}

func operationStatus(err error) string {
	if err != nil {
		return "error"
	}

	return "success"
}
