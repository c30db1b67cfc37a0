// Package update drives the over-the-air firmware update pipeline: it
// validates the incoming request, streams the image into the inactive slot
// in bounded chunks, commits or aborts the write transaction, and arms the
// deferred device restart on success.
package update

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/efm-project/paneld/internal/flash"
	"github.com/efm-project/paneld/internal/logctx"
	"github.com/efm-project/paneld/internal/telemetry"
)

// Fixed by the hardware layout and the panel's boot scheme; deliberately not
// runtime-configurable.
const (
	PartitionCapacity = 0x1f0000
	ChunkSize         = 8 * 1024
	RestartDelay      = 5 * time.Second
	ContentType       = "application/octet-stream"
)

// RestartScheduler arms the one-shot deferred restart.
type RestartScheduler interface {
	Arm(delay time.Duration)
}

// Updater orchestrates one firmware update per request.
type Updater struct {
	store     flash.Store
	scheduler RestartScheduler
	telemetry *telemetry.Telemetry
}

func NewUpdater(store flash.Store, scheduler RestartScheduler, tel *telemetry.Telemetry) *Updater {
	return &Updater{store: store, scheduler: scheduler, telemetry: tel}
}

// Apply runs the whole update flow for a single request. declaredSize < 0
// means the request declared no length. On success the restart has already
// been armed; arming does not depend on the caller managing to write its
// response.
func (u *Updater) Apply(ctx context.Context, contentType string, declaredSize int64, body io.Reader) error {
	start := time.Now()

	received, err := u.apply(ctx, contentType, declaredSize, body)
	u.telemetry.RecordUpdateAttempt(ctx, outcomeFor(err), received, time.Since(start))

	return err
}

func (u *Updater) apply(ctx context.Context, contentType string, declaredSize int64, body io.Reader) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != ContentType {
		return 0, &UnsupportedMediaTypeError{ContentType: contentType}
	}

	if declaredSize < 0 {
		return 0, ErrLengthRequired
	}

	if declaredSize > PartitionCapacity {
		return 0, &PayloadTooLargeError{Declared: declaredSize, Capacity: PartitionCapacity}
	}

	running, err := u.store.RunningSlot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to identify running slot: %w", err)
	}

	target, err := u.store.UpdateSlot(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to identify update slot: %w", err)
	}

	logger.Info("starting firmware update",
		"running_slot", running.ID,
		"running_version", running.Version,
		"update_slot", target,
		"declared_size", humanize.Bytes(uint64(declaredSize)),
	)

	tx, err := u.store.Begin(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("failed to open write transaction: %w", err)
	}

	// Abort is idempotent and a no-op after commit, so the transaction is
	// never left open whatever path returns below.
	defer tx.Abort() //nolint:errcheck

	received, err := u.stream(ctx, tx, declaredSize, body)
	if err != nil {
		return received, err
	}

	if err := tx.Commit(ctx); err != nil {
		return received, &CommitError{Err: err}
	}

	logger.Info("firmware update committed",
		"slot", target,
		"bytes", humanize.Bytes(uint64(received)),
	)

	u.scheduler.Arm(RestartDelay)
	u.telemetry.RecordRestartArm(ctx)

	return received, nil
}

// stream forwards the request body into the transaction, one bounded chunk
// at a time, in read order, never past the declared size.
func (u *Updater) stream(ctx context.Context, tx flash.Transaction, declaredSize int64, body io.Reader) (int64, error) {
	logger := logctx.LoggerFromContext(ctx)

	buf := make([]byte, ChunkSize)

	var received int64

	for received < declaredSize {
		limit := int64(ChunkSize)
		if remaining := declaredSize - received; remaining < limit {
			limit = remaining
		}

		n, readErr := body.Read(buf[:limit])
		if n > 0 {
			received += int64(n)

			if _, writeErr := tx.Write(buf[:n]); writeErr != nil {
				logger.Error("failed to write firmware chunk", "received", received, "declared", declaredSize, "err", writeErr)

				return received, &TransferError{Received: received, Declared: declaredSize, Err: writeErr}
			}

			logger.Debug("received firmware chunk", "received", received, "declared", declaredSize)
		}

		if readErr != nil {
			if errors.Is(readErr, io.EOF) && received >= declaredSize {
				break
			}

			if errors.Is(readErr, io.EOF) {
				// Stream exhausted short of the declared size. Completing
				// silently would install a truncated image, so this aborts.
				logger.Error("request body ended short of declared size",
					"received", received,
					"declared", declaredSize,
				)

				return received, &TransferError{Received: received, Declared: declaredSize, Err: io.ErrUnexpectedEOF}
			}

			return received, &TransferError{Received: received, Declared: declaredSize, Err: readErr}
		}
	}

	return received, nil
}

func outcomeFor(err error) string {
	if err == nil {
		return "committed"
	}

	var (
		mediaTypeErr *UnsupportedMediaTypeError
		tooLargeErr  *PayloadTooLargeError
		transferErr  *TransferError
		commitErr    *CommitError
	)

	switch {
	case errors.As(err, &mediaTypeErr):
		return "unsupported_media_type"
	case errors.Is(err, ErrLengthRequired):
		return "length_required"
	case errors.As(err, &tooLargeErr):
		return "payload_too_large"
	case errors.As(err, &transferErr):
		return "transfer_failed"
	case errors.As(err, &commitErr):
		return "commit_failed"
	case errors.Is(err, flash.ErrSlotBusy):
		return "slot_busy"
	case errors.Is(err, flash.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "error"
	}
}
