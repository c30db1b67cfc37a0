package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/efm-project/paneld/internal/flash"
	"github.com/efm-project/paneld/internal/update"
	"github.com/stretchr/testify/require"
)

type mockApplier struct {
	err         error
	calls       int
	contentType string
	declared    int64
	received    int64
}

func (m *mockApplier) Apply(ctx context.Context, contentType string, declaredSize int64, body io.Reader) (err error) {
	m.calls++
	m.contentType = contentType
	m.declared = declaredSize

	n, _ := io.Copy(io.Discard, body)
	m.received = n

	return m.err
}

type mockSlots struct {
	info flash.SlotInfo
	err  error
}

func (m *mockSlots) RunningSlot(ctx context.Context) (flash.SlotInfo, error) {
	return m.info, m.err
}

func newUpdateServer(applier FirmwareApplier, slots SlotReader) *httptest.Server {
	return httptest.NewServer(NewUpdateHandler(applier, slots).Routes())
}

func postFirmware(t *testing.T, url, contentType, body string) *http.Response {
	t.Helper()

	resp, err := http.Post(url+"/update", contentType, strings.NewReader(body))
	require.NoError(t, err)

	return resp
}

func TestHandleUpdateSuccess(t *testing.T) {
	applier := &mockApplier{}
	srv := newUpdateServer(applier, &mockSlots{})

	defer srv.Close()

	resp := postFirmware(t, srv.URL, "application/octet-stream", "firmware image bytes")

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Empty(t, body, "success response carries an empty body")

	require.Equal(t, 1, applier.calls)
	require.Equal(t, "application/octet-stream", applier.contentType)
	require.Equal(t, int64(len("firmware image bytes")), applier.declared)
}

func TestHandleUpdateStatusMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{
			name:       "unsupported media type",
			err:        &update.UnsupportedMediaTypeError{ContentType: "text/plain"},
			wantStatus: http.StatusUnsupportedMediaType,
		},
		{
			name:       "length required",
			err:        update.ErrLengthRequired,
			wantStatus: http.StatusLengthRequired,
		},
		{
			name:       "payload too large",
			err:        &update.PayloadTooLargeError{Declared: 0x200000, Capacity: 0x1f0000},
			wantStatus: http.StatusRequestEntityTooLarge,
		},
		{
			name:       "transfer failed",
			err:        &update.TransferError{Received: 400, Declared: 1000, Err: errors.New("write rejected")},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "commit failed",
			err:        &update.CommitError{Err: errors.New("finalize failed")},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "slot busy",
			err:        fmt.Errorf("failed to open write transaction: %w", flash.ErrSlotBusy),
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "storage unavailable",
			err:        fmt.Errorf("failed to identify running slot: %w", flash.ErrStorageUnavailable),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newUpdateServer(&mockApplier{err: tt.err}, &mockSlots{})

			defer srv.Close()

			resp := postFirmware(t, srv.URL, "application/octet-stream", "irrelevant")

			defer resp.Body.Close()

			require.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestHandleStatus(t *testing.T) {
	slots := &mockSlots{info: flash.SlotInfo{ID: flash.SlotB, Version: "3f2a9cdeadbe"}}
	srv := newUpdateServer(&mockApplier{}, slots)

	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var status Status
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&status))
	require.Equal(t, "ota_1", status.Slot)
	require.Equal(t, "3f2a9cdeadbe", status.Version)
}

func TestHandleStatusStorageUnavailable(t *testing.T) {
	slots := &mockSlots{err: flash.ErrStorageUnavailable}
	srv := newUpdateServer(&mockApplier{}, slots)

	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	require.NoError(t, err)

	defer resp.Body.Close()

	require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
}
