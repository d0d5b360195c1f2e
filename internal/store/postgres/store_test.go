package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/test"
	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func startPostgres(t *testing.T) *gorm.DB {
	t.Helper()

	var dbConn *gorm.DB

	test.StartContainer(t, &dockertest.RunOptions{
		Repository: "postgres",
		Tag:        "16-alpine",
		Env: []string{
			"POSTGRES_USER=dialer",
			"POSTGRES_PASSWORD=dialer",
			"POSTGRES_DB=dialer",
		},
	}, func(resource *dockertest.Resource) error {
		dsn := fmt.Sprintf(
			"host=localhost user=dialer password=dialer dbname=dialer port=%s sslmode=disable",
			resource.GetPort("5432/tcp"),
		)

		var err error

		dbConn, err = database.Open(dsn)

		return err
	})

	require.NoError(t, dbConn.AutoMigrate(&call.Record{}))

	return dbConn
}

func newRecord(status call.Status, scheduledAt time.Time) *call.Record {
	return &call.Record{
		ID: uuid.NewString(),
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
	}
}

func TestPostgresStore(t *testing.T) {
	store := NewStore(startPostgres(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("missing call", func(t *testing.T) {
		_, err := store.Get(ctx, uuid.NewString())
		require.ErrorIs(t, err, call.ErrNotFound)
	})

	t.Run("put replaces the record", func(t *testing.T) {
		record := newRecord(call.StatusPending, now)
		require.NoError(t, store.Put(ctx, record))

		dialedAt := now.Add(time.Minute)
		record.Status = call.StatusDialing
		record.ProviderCallID = "provider-1"
		record.DialedAt = &dialedAt
		record.Metadata = map[string]any{call.MetadataTranscript: "hello"}
		require.NoError(t, store.Put(ctx, record))

		loaded, err := store.Get(ctx, record.ID)
		require.NoError(t, err)
		require.Equal(t, call.StatusDialing, loaded.Status)
		require.Equal(t, "provider-1", loaded.ProviderCallID)
		require.True(t, dialedAt.Equal(*loaded.DialedAt))
		require.Equal(t, "hello", loaded.Metadata[call.MetadataTranscript])
		require.Equal(t, record.Request, loaded.Request)
	})

	t.Run("due query respects status, time and order", func(t *testing.T) {
		base := now.Add(24 * time.Hour)
		first := newRecord(call.StatusPending, base.Add(-2*time.Minute))
		second := newRecord(call.StatusScheduled, base.Add(-time.Minute))
		later := newRecord(call.StatusScheduled, base.Add(time.Minute))
		done := newRecord(call.StatusCompleted, base.Add(-3*time.Minute))

		for _, record := range []*call.Record{later, second, done, first} {
			require.NoError(t, store.Put(ctx, record))
		}

		due, err := store.QueryByStatusAndDue(ctx, []call.Status{call.StatusPending, call.StatusScheduled}, base)
		require.NoError(t, err)

		var ids []string
		for _, record := range due {
			ids = append(ids, record.ID)
		}

		require.Contains(t, ids, first.ID)
		require.Contains(t, ids, second.ID)
		require.NotContains(t, ids, later.ID)
		require.NotContains(t, ids, done.ID)
		require.Less(t, indexOf(ids, first.ID), indexOf(ids, second.ID))
	})
}

func indexOf(ids []string, id string) int {
	for idx, candidate := range ids {
		if candidate == id {
			return idx
		}
	}

	return -1
}
