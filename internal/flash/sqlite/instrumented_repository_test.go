package sqlite

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/efm-project/paneld/internal/flash"
	"github.com/efm-project/paneld/internal/telemetry"
	"github.com/stretchr/testify/require"
)

func TestInstrumentedRepositoryRecordsOperations(t *testing.T) {
	ctx := context.Background()

	db, err := InitDB(filepath.Join(t.TempDir(), "boot.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	tel, err := telemetry.New(ctx, telemetry.Config{Enabled: true, ServiceName: "paneld-test"})
	require.NoError(t, err)

	repo := NewInstrumentedBootRecordRepository(db, tel)

	state, err := repo.State(ctx)
	require.NoError(t, err)
	require.Equal(t, flash.SlotA, state.RunningSlot)

	require.NoError(t, repo.SetBootTarget(ctx, flash.SlotB, "v1", 100, "aaa"))

	state, err = repo.Promote(ctx)
	require.NoError(t, err)
	require.Equal(t, flash.SlotB, state.RunningSlot)

	record, err := repo.LastUpdate(ctx)
	require.NoError(t, err)
	require.NotNil(t, record)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body := rec.Body.String()
	require.Contains(t, body, "db_operations_total")
	require.Contains(t, body, `operation="state"`)
	require.Contains(t, body, `operation="set_boot_target"`)
	require.Contains(t, body, `operation="promote"`)
	require.Contains(t, body, `operation="last_update"`)
	require.Contains(t, body, `status="success"`)
}

func TestInstrumentedRepositoryWithDisabledTelemetry(t *testing.T) {
	ctx := context.Background()

	db, err := InitDB(filepath.Join(t.TempDir(), "boot.db"))
	require.NoError(t, err)

	t.Cleanup(func() { db.Close() })

	// The zero telemetry instance turns every record call into a no-op;
	// repository behavior must be unchanged.
	repo := NewInstrumentedBootRecordRepository(db, &telemetry.Telemetry{})

	state, err := repo.State(ctx)
	require.NoError(t, err)
	require.Equal(t, flash.SlotA, state.RunningSlot)
	require.Equal(t, "factory", state.RunningVersion)
}
