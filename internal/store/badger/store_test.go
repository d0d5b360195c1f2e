package badger

import (
	"context"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"github.com/stretchr/testify/require"
)

func openStore(t *testing.T, path string) *Store {
	t.Helper()

	store, err := Open(path)
	require.NoError(t, err)

	return store
}

func sampleRecord(id string, status call.Status, scheduledAt time.Time) *call.Record {
	return &call.Record{
		ID: id,
		Request: call.Request{
			CallerName:  "Jane",
			CallerPhone: "+15551234567",
			Destination: "+15557654321",
			Action:      "Ask for a refund",
		},
		Status:      status,
		ScheduledAt: scheduledAt,
		MaxRetries:  3,
		CreatedAt:   scheduledAt,
		UpdatedAt:   scheduledAt,
		Metadata:    map[string]any{call.MetadataTranscript: "hello"},
	}
}

func TestGetMissingCall(t *testing.T) {
	store := openStore(t, "")
	defer store.Close()

	_, err := store.Get(context.Background(), "missing")
	require.ErrorIs(t, err, call.ErrNotFound)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	store := openStore(t, "")
	defer store.Close()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dialedAt := now.Add(time.Minute)
	record := sampleRecord("a", call.StatusDialing, now)
	record.ProviderCallID = "provider-1"
	record.DialedAt = &dialedAt

	require.NoError(t, store.Put(context.Background(), record))

	loaded, err := store.Get(context.Background(), "a")
	require.NoError(t, err)
	require.Equal(t, record.Request, loaded.Request)
	require.Equal(t, call.StatusDialing, loaded.Status)
	require.Equal(t, "provider-1", loaded.ProviderCallID)
	require.True(t, dialedAt.Equal(*loaded.DialedAt))
	require.Equal(t, "hello", loaded.Metadata[call.MetadataTranscript])
}

func TestQueriesFilterAndOrder(t *testing.T) {
	store := openStore(t, "")
	defer store.Close()

	ctx := context.Background()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, sampleRecord("late", call.StatusScheduled, now.Add(time.Hour))))
	require.NoError(t, store.Put(ctx, sampleRecord("second", call.StatusScheduled, now.Add(-time.Minute))))
	require.NoError(t, store.Put(ctx, sampleRecord("first", call.StatusPending, now.Add(-time.Hour))))
	require.NoError(t, store.Put(ctx, sampleRecord("done", call.StatusCompleted, now.Add(-2*time.Hour))))

	due, err := store.QueryByStatusAndDue(ctx, []call.Status{call.StatusPending, call.StatusScheduled}, now)
	require.NoError(t, err)
	require.Len(t, due, 2)
	require.Equal(t, "first", due[0].ID)
	require.Equal(t, "second", due[1].ID)

	scheduled, err := store.QueryByStatus(ctx, []call.Status{call.StatusScheduled})
	require.NoError(t, err)
	require.Len(t, scheduled, 2)
}

func TestRecordsSurviveReopen(t *testing.T) {
	path := t.TempDir()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	store := openStore(t, path)
	require.NoError(t, store.Put(context.Background(), sampleRecord("kept", call.StatusPending, now)))
	require.NoError(t, store.Close())

	reopened := openStore(t, path)
	defer reopened.Close()

	record, err := reopened.Get(context.Background(), "kept")
	require.NoError(t, err)
	require.Equal(t, call.StatusPending, record.Status)
}
