// Package postgres keeps call records in Postgres through gorm.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const dispatchOrder = "scheduled_at ASC, created_at ASC, id ASC"

type Store struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[any]
}

func NewStore(dbConn *gorm.DB) *Store {
	cbSettings := database.GetCircuitBreakerSettings()
	cbSettings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, gorm.ErrRecordNotFound)
	}

	return &Store{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[any](cbSettings),
	}
}

func (store *Store) Get(ctx context.Context, id string) (*call.Record, error) {
	result, err := store.CircuitBreaker.Execute(func() (any, error) {
		var record call.Record

		err := store.DBConn.WithContext(ctx).Where("id = ?", id).First(&record).Error
		if err != nil {
			return nil, err
		}

		return &record, nil
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, call.ErrNotFound
	}

	if err != nil {
		logging.Logger.Error("[Get] Failed to fetch call",
			zap.String("call_id", id),
			zap.String("error", err.Error()),
			zap.Bool("is_context_error", ctx.Err() != nil),
		)

		return nil, fmt.Errorf("%w: get %s: %w", call.ErrStore, id, err)
	}

	record, ok := result.(*call.Record)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type %T", call.ErrStore, result)
	}

	return record, nil
}

func (store *Store) Put(ctx context.Context, record *call.Record) error {
	_, err := store.CircuitBreaker.Execute(func() (any, error) {
		return nil, store.DBConn.WithContext(ctx).Save(record).Error
	})
	if err != nil {
		logging.Logger.Error("[Put] Failed to save call",
			zap.String("call_id", record.ID),
			zap.String("status", string(record.Status)),
			zap.String("error", err.Error()),
			zap.Bool("is_context_error", ctx.Err() != nil),
		)

		return fmt.Errorf("%w: put %s: %w", call.ErrStore, record.ID, err)
	}

	return nil
}

func (store *Store) QueryByStatusAndDue(
	ctx context.Context,
	statuses []call.Status,
	now time.Time,
) ([]*call.Record, error) {
	return store.find(ctx, func(query *gorm.DB) *gorm.DB {
		return query.Where("status IN ? AND scheduled_at <= ?", statusValues(statuses), now)
	})
}

func (store *Store) QueryByStatus(ctx context.Context, statuses []call.Status) ([]*call.Record, error) {
	return store.find(ctx, func(query *gorm.DB) *gorm.DB {
		return query.Where("status IN ?", statusValues(statuses))
	})
}

func (store *Store) find(ctx context.Context, scope func(*gorm.DB) *gorm.DB) ([]*call.Record, error) {
	result, err := store.CircuitBreaker.Execute(func() (any, error) {
		records := make([]*call.Record, 0)

		err := store.DBConn.WithContext(ctx).Scopes(scope).Order(dispatchOrder).Find(&records).Error
		if err != nil {
			return nil, err
		}

		return records, nil
	})
	if err != nil {
		logging.Logger.Error("[Query] Failed to query calls",
			zap.String("error", err.Error()),
			zap.Bool("is_context_error", ctx.Err() != nil),
		)

		return nil, fmt.Errorf("%w: query: %w", call.ErrStore, err)
	}

	records, ok := result.([]*call.Record)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected result type %T", call.ErrStore, result)
	}

	return records, nil
}

func statusValues(statuses []call.Status) []string {
	values := make([]string, len(statuses))
	for idx, status := range statuses {
		values[idx] = string(status)
	}

	return values
}
