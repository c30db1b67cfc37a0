package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/efm-project/paneld/internal/logctx"
	"github.com/go-chi/chi/v5"
)

// PanelClient is the serial panel consumed by the display routes.
type PanelClient interface {
	ShowText(ctx context.Context, line int, page rune, text string) error
	SetClock(ctx context.Context, t time.Time) error
}

// TextRequest is the body of POST /text.
type TextRequest struct {
	Page string `json:"page"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

// ClockRequest is the body of POST /clock. Time is optional; server time is
// used when it is absent.
type ClockRequest struct {
	Time string `json:"time"`
}

// DisplayHandler exposes the panel's display and clock over HTTP.
type DisplayHandler struct {
	panel PanelClient
}

func NewDisplayHandler(panel PanelClient) *DisplayHandler {
	return &DisplayHandler{panel: panel}
}

func (h *DisplayHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Post("/text", h.HandleText)
	r.Post("/clock", h.HandleClock)

	return r
}

func (h *DisplayHandler) HandleText(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	var req TextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	if req.Text == "" {
		http.Error(w, "text must not be empty", http.StatusBadRequest)

		return
	}

	if req.Page == "" {
		req.Page = "A"
	}

	if req.Line == 0 {
		req.Line = 1
	}

	// The panel addresses pages by a single letter.
	page := []rune(req.Page)
	if len(page) != 1 || page[0] < 'A' || page[0] > 'Z' {
		http.Error(w, "page must be a single letter A-Z", http.StatusBadRequest)

		return
	}

	if err := h.panel.ShowText(r.Context(), req.Line, page[0], req.Text); err != nil {
		logger.Error("failed to show text on panel", "err", err)
		http.Error(w, "panel did not accept the text", http.StatusBadGateway)

		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *DisplayHandler) HandleClock(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	at := time.Now()

	var req ClockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err == nil && req.Time != "" {
		parsed, err := time.Parse(time.RFC3339, req.Time)
		if err != nil {
			http.Error(w, "time must be RFC 3339", http.StatusBadRequest)

			return
		}

		at = parsed
	}

	if err := h.panel.SetClock(r.Context(), at); err != nil {
		logger.Error("failed to set panel clock", "err", err)
		http.Error(w, "panel did not accept the clock", http.StatusBadGateway)

		return
	}

	w.WriteHeader(http.StatusOK)
}
