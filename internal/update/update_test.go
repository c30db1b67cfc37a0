package update

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/efm-project/paneld/internal/flash"
	"github.com/stretchr/testify/require"
)

// chunkedReader yields one predefined chunk per Read call, then EOF, so the
// tests control exactly how the body arrives.
type chunkedReader struct {
	chunks [][]byte
}

func (r *chunkedReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}

	chunk := r.chunks[0]
	r.chunks = r.chunks[1:]

	n := copy(p, chunk)

	return n, nil
}

type mockTx struct {
	writes      [][]byte
	failAtWrite int // 1-based index of the write that fails, 0 = never
	commitErr   error
	commits     int
	aborts      int
}

func (t *mockTx) Write(p []byte) (int, error) {
	t.writes = append(t.writes, append([]byte(nil), p...))

	if t.failAtWrite > 0 && len(t.writes) == t.failAtWrite {
		return 0, &flash.WriteError{Slot: flash.SlotB, Err: errors.New("medium rejected chunk")}
	}

	return len(p), nil
}

func (t *mockTx) Commit(ctx context.Context) error {
	t.commits++

	return t.commitErr
}

func (t *mockTx) Abort() error {
	if t.commits == 0 {
		t.aborts++
	}

	return nil
}

type mockStore struct {
	tx         *mockTx
	beginCalls int
	beginErr   error
}

func (s *mockStore) RunningSlot(ctx context.Context) (flash.SlotInfo, error) {
	return flash.SlotInfo{ID: flash.SlotA, Version: "factory"}, nil
}

func (s *mockStore) UpdateSlot(ctx context.Context) (flash.SlotID, error) {
	return flash.SlotB, nil
}

func (s *mockStore) Begin(ctx context.Context, slot flash.SlotID) (flash.Transaction, error) {
	s.beginCalls++

	if s.beginErr != nil {
		return nil, s.beginErr
	}

	return s.tx, nil
}

type mockScheduler struct {
	arms []time.Duration
}

func (s *mockScheduler) Arm(delay time.Duration) {
	s.arms = append(s.arms, delay)
}

func payload(size int) []byte {
	b := make([]byte, size)
	for i := range b {
		b[i] = byte(i)
	}

	return b
}

func TestApplyCommitsAndArmsRestart(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	scheduler := &mockScheduler{}
	updater := NewUpdater(store, scheduler, nil)

	image := payload(1000)
	body := &chunkedReader{chunks: [][]byte{image[:400], image[400:800], image[800:]}}

	err := updater.Apply(context.Background(), ContentType, 1000, body)
	require.NoError(t, err)

	require.Equal(t, 1, store.beginCalls)
	require.Len(t, store.tx.writes, 3)
	require.Equal(t, image[:400], store.tx.writes[0])
	require.Equal(t, image[400:800], store.tx.writes[1])
	require.Equal(t, image[800:], store.tx.writes[2])
	require.Equal(t, 1, store.tx.commits)
	require.Equal(t, 0, store.tx.aborts)

	require.Equal(t, []time.Duration{5 * time.Second}, scheduler.arms)
}

func TestApplyAcceptsContentTypeParameters(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	updater := NewUpdater(store, &mockScheduler{}, nil)

	body := &chunkedReader{chunks: [][]byte{payload(10)}}

	err := updater.Apply(context.Background(), "application/octet-stream; charset=binary", 10, body)
	require.NoError(t, err)
}

func TestApplyRejectsWrongContentType(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	scheduler := &mockScheduler{}
	updater := NewUpdater(store, scheduler, nil)

	body := &chunkedReader{chunks: [][]byte{payload(10)}}

	err := updater.Apply(context.Background(), "text/plain", 10, body)

	var mediaTypeErr *UnsupportedMediaTypeError
	require.ErrorAs(t, err, &mediaTypeErr)
	require.Equal(t, "text/plain", mediaTypeErr.ContentType)

	require.Zero(t, store.beginCalls, "no transaction may be opened on rejected requests")
	require.Empty(t, scheduler.arms)
}

func TestApplyRequiresDeclaredLength(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	updater := NewUpdater(store, &mockScheduler{}, nil)

	err := updater.Apply(context.Background(), ContentType, -1, &chunkedReader{})
	require.ErrorIs(t, err, ErrLengthRequired)
	require.Zero(t, store.beginCalls)
}

func TestApplyRejectsOversizedImage(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	scheduler := &mockScheduler{}
	updater := NewUpdater(store, scheduler, nil)

	err := updater.Apply(context.Background(), ContentType, 0x200000, &chunkedReader{})

	var tooLarge *PayloadTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	require.Equal(t, int64(0x200000), tooLarge.Declared)
	require.Equal(t, int64(PartitionCapacity), tooLarge.Capacity)

	require.Zero(t, store.beginCalls)
	require.Empty(t, scheduler.arms)
}

func TestApplyAbortsOnWriteFailure(t *testing.T) {
	store := &mockStore{tx: &mockTx{failAtWrite: 2}}
	scheduler := &mockScheduler{}
	updater := NewUpdater(store, scheduler, nil)

	image := payload(1000)
	body := &chunkedReader{chunks: [][]byte{image[:400], image[400:800], image[800:]}}

	err := updater.Apply(context.Background(), ContentType, 1000, body)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)

	require.Equal(t, 1, store.beginCalls)
	require.Len(t, store.tx.writes, 2, "streaming must stop at the failed write")
	require.Equal(t, 1, store.tx.aborts)
	require.Equal(t, 0, store.tx.commits)
	require.Empty(t, scheduler.arms, "a failed update must never arm a restart")
}

func TestApplyAbortsOnShortBody(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	scheduler := &mockScheduler{}
	updater := NewUpdater(store, scheduler, nil)

	image := payload(800)
	body := &chunkedReader{chunks: [][]byte{image[:400], image[400:]}}

	err := updater.Apply(context.Background(), ContentType, 1000, body)

	var transferErr *TransferError
	require.ErrorAs(t, err, &transferErr)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.Equal(t, int64(800), transferErr.Received)
	require.Equal(t, int64(1000), transferErr.Declared)

	require.Equal(t, 1, store.tx.aborts)
	require.Equal(t, 0, store.tx.commits)
	require.Empty(t, scheduler.arms)
}

func TestApplyCommitFailure(t *testing.T) {
	commitErr := &flash.CommitError{Slot: flash.SlotB, Reason: "checksum mismatch"}
	store := &mockStore{tx: &mockTx{commitErr: commitErr}}
	scheduler := &mockScheduler{}
	updater := NewUpdater(store, scheduler, nil)

	body := &chunkedReader{chunks: [][]byte{payload(100)}}

	err := updater.Apply(context.Background(), ContentType, 100, body)

	var wrapped *CommitError
	require.ErrorAs(t, err, &wrapped)
	require.ErrorIs(t, err, commitErr)

	require.Equal(t, 1, store.tx.commits)
	require.Empty(t, scheduler.arms)
}

func TestApplySurfacesSlotBusy(t *testing.T) {
	store := &mockStore{beginErr: flash.ErrSlotBusy}
	updater := NewUpdater(store, &mockScheduler{}, nil)

	err := updater.Apply(context.Background(), ContentType, 100, &chunkedReader{})
	require.ErrorIs(t, err, flash.ErrSlotBusy)
}

func TestApplyNeverReadsPastDeclaredSize(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	updater := NewUpdater(store, &mockScheduler{}, nil)

	// The reader holds more data than declared; only the declared amount may
	// be forwarded.
	body := &chunkedReader{chunks: [][]byte{payload(ChunkSize * 3)}}

	err := updater.Apply(context.Background(), ContentType, 100, body)
	require.NoError(t, err)

	var forwarded int
	for _, w := range store.tx.writes {
		forwarded += len(w)
	}

	require.Equal(t, 100, forwarded)
}

func TestStreamToleratesEmptyReads(t *testing.T) {
	store := &mockStore{tx: &mockTx{}}
	updater := NewUpdater(store, &mockScheduler{}, nil)

	body := &zeroThenData{data: payload(50)}

	err := updater.Apply(context.Background(), ContentType, 50, body)
	require.NoError(t, err)
	require.Equal(t, 1, store.tx.commits)
}

// zeroThenData returns one empty read before delivering its data, mimicking
// a stalled-then-resumed network stream.
type zeroThenData struct {
	data    []byte
	stalled bool
}

func (r *zeroThenData) Read(p []byte) (int, error) {
	if !r.stalled {
		r.stalled = true

		return 0, nil
	}

	if len(r.data) == 0 {
		return 0, io.EOF
	}

	n := copy(p, r.data)
	r.data = r.data[n:]

	return n, nil
}
