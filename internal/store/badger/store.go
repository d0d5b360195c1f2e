// Package badger keeps call records in an embedded badger database.
package badger

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

var keyPrefix = []byte("call:")

type Store struct {
	DB *badgerdb.DB
}

// Open opens the database in path, or an in-memory database when path is empty.
func Open(path string) (*Store, error) {
	options := badgerdb.DefaultOptions(path).WithLogger(nil)
	if path == "" {
		options = options.WithInMemory(true)
	}

	db, err := badgerdb.Open(options)
	if err != nil {
		logging.Logger.Error("[Open] Failed to open badger", zap.String("path", path), zap.String("error", err.Error()))

		return nil, fmt.Errorf("%w: open badger: %w", call.ErrStore, err)
	}

	return &Store{DB: db}, nil
}

func (store *Store) Close() error {
	return store.DB.Close()
}

func recordKey(id string) []byte {
	return append(slices.Clone(keyPrefix), id...)
}

func (store *Store) Get(_ context.Context, id string) (*call.Record, error) {
	var record call.Record

	err := store.DB.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(recordKey(id))
		if err != nil {
			return err
		}

		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &record)
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, call.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w: get %s: %w", call.ErrStore, id, err)
	}

	return &record, nil
}

func (store *Store) Put(_ context.Context, record *call.Record) error {
	value, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", call.ErrStore, record.ID, err)
	}

	err = store.DB.Update(func(txn *badgerdb.Txn) error {
		return txn.Set(recordKey(record.ID), value)
	})
	if err != nil {
		logging.Logger.Error("[Put] Failed to write call", zap.String("call_id", record.ID), zap.String("error", err.Error()))

		return fmt.Errorf("%w: put %s: %w", call.ErrStore, record.ID, err)
	}

	return nil
}

func (store *Store) QueryByStatusAndDue(
	_ context.Context,
	statuses []call.Status,
	now time.Time,
) ([]*call.Record, error) {
	return store.scan(func(record *call.Record) bool {
		return slices.Contains(statuses, record.Status) && !record.ScheduledAt.After(now)
	})
}

func (store *Store) QueryByStatus(_ context.Context, statuses []call.Status) ([]*call.Record, error) {
	return store.scan(func(record *call.Record) bool {
		return slices.Contains(statuses, record.Status)
	})
}

func (store *Store) scan(keep func(*call.Record) bool) ([]*call.Record, error) {
	result := make([]*call.Record, 0)

	err := store.DB.View(func(txn *badgerdb.Txn) error {
		options := badgerdb.DefaultIteratorOptions
		options.Prefix = keyPrefix

		iterator := txn.NewIterator(options)
		defer iterator.Close()

		for iterator.Seek(keyPrefix); iterator.ValidForPrefix(keyPrefix); iterator.Next() {
			var record call.Record

			err := iterator.Item().Value(func(value []byte) error {
				return json.Unmarshal(value, &record)
			})
			if err != nil {
				return err
			}

			if keep(&record) {
				result = append(result, &record)
			}
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan: %w", call.ErrStore, err)
	}

	call.SortForDispatch(result)

	return result, nil
}
