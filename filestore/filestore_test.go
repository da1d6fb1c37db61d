package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relaykit/outbox"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "outbox.log"))
	require.NoError(t, err)
	return store
}

func TestNew_UnwritablePath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "outbox.log"))
	assert.Error(t, err)
}

func TestAppendAndListPending(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, store.Append(ctx, outbox.NewEvent("2", "B")))

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "1", pending[0].ID)
	assert.Equal(t, "A", pending[0].Payload)
	assert.Equal(t, outbox.StatusPending, pending[0].Status)
	assert.Equal(t, "2", pending[1].ID)
}

func TestAppend_DuplicateIDRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))

	err := store.Append(ctx, outbox.NewEvent("1", "other payload"))
	assert.ErrorIs(t, err, outbox.ErrDuplicateID)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
	assert.Equal(t, "A", pending[0].Payload)
}

func TestAppend_InvalidPayloadRejected(t *testing.T) {
	store := newTestStore(t)

	err := store.Append(context.Background(), outbox.NewEvent("1", "bad|payload"))
	assert.ErrorIs(t, err, outbox.ErrInvalidPayload)
}

func TestMarkProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, store.Append(ctx, outbox.NewEvent("2", "B")))

	require.NoError(t, store.MarkProcessed(ctx, "1"))

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].ID)

	// Marking the same status again is a no-op.
	assert.NoError(t, store.MarkProcessed(ctx, "1"))
}

func TestMarkFailed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, store.MarkFailed(ctx, "1", "delivery retries exhausted"))

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	failed, err := store.ListFailed(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "1", failed[0].ID)
	assert.Equal(t, "delivery retries exhausted", failed[0].LastError)
}

func TestMark_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.MarkProcessed(context.Background(), "ghost")
	assert.ErrorIs(t, err, outbox.ErrNotFound)
}

func TestMark_InvalidTransition(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, store.MarkProcessed(ctx, "1"))

	err := store.MarkFailed(ctx, "1", "too late")
	assert.ErrorIs(t, err, outbox.ErrInvalidTransition)

	err = store.MarkProcessed(ctx, "1")
	assert.NoError(t, err)
}

func TestPurgeProcessed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, store.Append(ctx, outbox.NewEvent("2", "B")))
	require.NoError(t, store.Append(ctx, outbox.NewEvent("3", "C")))
	require.NoError(t, store.MarkProcessed(ctx, "1"))
	require.NoError(t, store.MarkProcessed(ctx, "3"))

	removed, err := store.PurgeProcessed(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].ID)

	removed, err = store.PurgeProcessed(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestCorruptRecordsAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.log")
	content := "1|A|pending\n" +
		"not a record\n" +
		"2|B|sideways\n" +
		"3|C|pending\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	store, err := New(path)
	require.NoError(t, err)

	pending, err := store.ListPending(context.Background())
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "1", pending[0].ID)
	assert.Equal(t, "3", pending[1].ID)
	assert.Equal(t, int64(2), store.SkippedRecords())
}

func TestFileFormatOnDisk(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.log")
	store, err := New(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, store.Append(ctx, outbox.NewEvent("2", "B")))
	require.NoError(t, store.MarkProcessed(ctx, "1"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "1|A|processed\n2|B|pending\n", string(data))
}

func TestRewriteLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := New(filepath.Join(dir, "outbox.log"))
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, store.MarkProcessed(ctx, "1"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "outbox.log", entries[0].Name())
}

func TestSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "outbox.log")
	ctx := context.Background()

	first, err := New(path)
	require.NoError(t, err)
	require.NoError(t, first.Append(ctx, outbox.NewEvent("1", "A")))
	require.NoError(t, first.Append(ctx, outbox.NewEvent("2", "B")))
	require.NoError(t, first.MarkProcessed(ctx, "1"))

	second, err := New(path)
	require.NoError(t, err)

	pending, err := second.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "2", pending[0].ID)
}

func TestContextCancellationIsRespected(t *testing.T) {
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Append(ctx, outbox.NewEvent("1", "A")))
	_, err := store.ListPending(ctx)
	assert.Error(t, err)
	assert.Error(t, store.MarkProcessed(ctx, "1"))
}
