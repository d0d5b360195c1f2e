// Package memory keeps call records in process memory.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
)

type Store struct {
	mu       sync.RWMutex
	records  map[string]*call.Record
	failWith error
}

func New() *Store {
	return &Store{records: map[string]*call.Record{}}
}

// SetFailure makes every later operation fail with err until called with nil.
func (store *Store) SetFailure(err error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	store.failWith = err
}

func (store *Store) Get(_ context.Context, id string) (*call.Record, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.failWith != nil {
		return nil, store.failWith
	}

	record, ok := store.records[id]
	if !ok {
		return nil, call.ErrNotFound
	}

	return record.Clone(), nil
}

func (store *Store) Put(_ context.Context, record *call.Record) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if store.failWith != nil {
		return store.failWith
	}

	store.records[record.ID] = record.Clone()

	return nil
}

func (store *Store) QueryByStatusAndDue(
	_ context.Context,
	statuses []call.Status,
	now time.Time,
) ([]*call.Record, error) {
	return store.query(statuses, func(record *call.Record) bool {
		return !record.ScheduledAt.After(now)
	})
}

func (store *Store) QueryByStatus(_ context.Context, statuses []call.Status) ([]*call.Record, error) {
	return store.query(statuses, func(*call.Record) bool { return true })
}

func (store *Store) query(statuses []call.Status, keep func(*call.Record) bool) ([]*call.Record, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	if store.failWith != nil {
		return nil, store.failWith
	}

	result := make([]*call.Record, 0)

	for _, record := range store.records {
		if slices.Contains(statuses, record.Status) && keep(record) {
			result = append(result, record.Clone())
		}
	}

	call.SortForDispatch(result)

	return result, nil
}
