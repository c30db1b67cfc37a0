package rest

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/efm-project/paneld/internal/flash"
	"github.com/efm-project/paneld/internal/logctx"
	"github.com/efm-project/paneld/internal/update"
	"github.com/go-chi/chi/v5"
)

// FirmwareApplier runs one firmware update per request.
type FirmwareApplier interface {
	Apply(ctx context.Context, contentType string, declaredSize int64, body io.Reader) error
}

// SlotReader answers which slot is running and with which firmware version.
type SlotReader interface {
	RunningSlot(ctx context.Context) (flash.SlotInfo, error)
}

// Status is the body of GET /status.
type Status struct {
	Slot    string `json:"slot"`
	Version string `json:"version"`
}

// UpdateHandler exposes the firmware update pipeline over HTTP.
type UpdateHandler struct {
	applier FirmwareApplier
	slots   SlotReader
}

func NewUpdateHandler(applier FirmwareApplier, slots SlotReader) *UpdateHandler {
	return &UpdateHandler{applier: applier, slots: slots}
}

func (h *UpdateHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/update", h.HandleUpdate)
	r.Get("/status", h.HandleStatus)

	return r
}

// HandleUpdate accepts a raw firmware image in the request body. The
// controller owns validation, streaming, commit/abort and restart arming;
// this handler only translates its closed error set to a status code.
func (h *UpdateHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Info("received firmware update request", "content_length", r.ContentLength)

	err := h.applier.Apply(r.Context(), r.Header.Get("Content-Type"), r.ContentLength, r.Body)
	if err != nil {
		status := updateStatusCode(err)
		logger.Error("firmware update failed", "status", status, "err", err)
		http.Error(w, http.StatusText(status), status)

		return
	}

	// 200 with an empty body; the device restarts shortly after.
	w.WriteHeader(http.StatusOK)
}

// HandleStatus reports the running slot and firmware version.
func (h *UpdateHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	running, err := h.slots.RunningSlot(r.Context())
	if err != nil {
		logger.Error("failed to read running slot", "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)

		return
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(Status{Slot: string(running.ID), Version: running.Version}); err != nil {
		logger.Error("failed to encode status response", "err", err)
	}
}

// updateStatusCode maps the updater's closed error set to transport status
// codes, in exactly one place.
func updateStatusCode(err error) int {
	var (
		mediaTypeErr *update.UnsupportedMediaTypeError
		tooLargeErr  *update.PayloadTooLargeError
	)

	switch {
	case errors.As(err, &mediaTypeErr):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, update.ErrLengthRequired):
		return http.StatusLengthRequired
	case errors.As(err, &tooLargeErr):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, flash.ErrSlotBusy):
		return http.StatusServiceUnavailable
	default:
		// Transfer, commit and resource failures: the running slot is
		// untouched and the client may retry.
		return http.StatusInternalServerError
	}
}
