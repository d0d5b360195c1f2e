package deadletter

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/database"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repository interface {
	Create(ctx context.Context, letter *Letter) error
	// Claim hands out at most limit pending letters due at now with fewer than
	// maxAttempts attempts. A claimed letter is invisible to other claimers.
	Claim(ctx context.Context, now time.Time, maxAttempts, limit int) ([]Letter, error)
	// Release returns a claimed letter to pending after a failed attempt.
	Release(ctx context.Context, letter *Letter, errMsg string, nextAttemptAt time.Time) error
	// ReleaseStale returns letters claimed before claimedBefore to pending.
	ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error)
	Resolve(ctx context.Context, letter *Letter) error
}

type PostgresRepository struct {
	DBConn         *gorm.DB
	CircuitBreaker *gobreaker.CircuitBreaker[struct{}]
}

func NewRepository(dbConn *gorm.DB) *PostgresRepository {
	return &PostgresRepository{
		DBConn:         dbConn,
		CircuitBreaker: gobreaker.NewCircuitBreaker[struct{}](database.GetCircuitBreakerSettings()),
	}
}

func (repository *PostgresRepository) execute(query func() error) error {
	_, err := repository.CircuitBreaker.Execute(func() (struct{}, error) {
		return struct{}{}, query()
	})

	return err
}

func (repository *PostgresRepository) Create(ctx context.Context, letter *Letter) error {
	err := repository.execute(func() error {
		// The letter outlives a canceled publisher.
		return repository.DBConn.WithContext(context.WithoutCancel(ctx)).Create(letter).Error
	})
	if err != nil {
		logging.Logger.Error("[Create] Failed to store dead letter",
			zap.String("call_id", letter.CallID),
			zap.String("error", err.Error()),
		)
	}

	return err
}

func (repository *PostgresRepository) Claim(ctx context.Context, now time.Time, maxAttempts, limit int) ([]Letter, error) {
	var letters []Letter

	err := repository.execute(func() error {
		return repository.DBConn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
				Where("state = ? AND next_attempt_at <= ? AND attempts < ?", StatePending, now, maxAttempts).
				Order("next_attempt_at ASC").
				Limit(limit).
				Find(&letters).Error
			if err != nil || len(letters) == 0 {
				return err
			}

			ids := make([]string, 0, len(letters))
			for idx := range letters {
				ids = append(ids, letters[idx].ID)
				letters[idx].State = StateClaimed
				letters[idx].ClaimedAt = &now
			}

			return tx.Model(&Letter{}).
				Where("id IN ?", ids).
				Updates(map[string]any{"state": StateClaimed, "claimed_at": now}).Error
		})
	})
	if err != nil {
		logging.Logger.Error("[Claim] Failed to claim dead letters", zap.String("error", err.Error()))

		return nil, err
	}

	return letters, nil
}

func (repository *PostgresRepository) Release(
	ctx context.Context,
	letter *Letter,
	errMsg string,
	nextAttemptAt time.Time,
) error {
	err := repository.execute(func() error {
		return repository.DBConn.WithContext(ctx).
			Model(&Letter{}).
			Where("id = ? AND state = ?", letter.ID, StateClaimed).
			Updates(map[string]any{
				"state":           StatePending,
				"attempts":        gorm.Expr("attempts + 1"),
				"last_error":      errMsg,
				"next_attempt_at": nextAttemptAt,
				"claimed_at":      nil,
			}).Error
	})
	if err != nil {
		logging.Logger.Error("[Release] Failed to release dead letter",
			zap.String("call_id", letter.CallID),
			zap.String("error", err.Error()),
		)
	}

	return err
}

func (repository *PostgresRepository) ReleaseStale(ctx context.Context, claimedBefore time.Time) (int64, error) {
	var released int64

	err := repository.execute(func() error {
		result := repository.DBConn.WithContext(ctx).
			Model(&Letter{}).
			Where("state = ? AND claimed_at < ?", StateClaimed, claimedBefore).
			Updates(map[string]any{"state": StatePending, "claimed_at": nil})
		released = result.RowsAffected

		return result.Error
	})
	if err != nil {
		logging.Logger.Error("[ReleaseStale] Failed to release stale dead letters", zap.String("error", err.Error()))

		return 0, err
	}

	return released, nil
}

func (repository *PostgresRepository) Resolve(ctx context.Context, letter *Letter) error {
	err := repository.execute(func() error {
		return repository.DBConn.WithContext(ctx).Delete(&Letter{}, "id = ?", letter.ID).Error
	})
	if err != nil {
		logging.Logger.Error("[Resolve] Failed to delete resent dead letter",
			zap.String("call_id", letter.CallID),
			zap.String("error", err.Error()),
		)
	}

	return err
}
