package deadletter

import (
	"context"
	"sync"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"
)

const claimTimeoutFactor = 10

type DeadLetterWorker struct {
	WorkerPool  *ants.Pool
	DLService   *DeadLetterService
	Interval    time.Duration
	Limit       int
	MaxAttempts int
	// ClaimTimeout is how long a claim survives before another worker may
	// take the letter over.
	ClaimTimeout time.Duration
}

func NewWorker(dlService *DeadLetterService, poolSize int, interval time.Duration, limit, maxAttempts int) (*DeadLetterWorker, error) {
	workerPool, err := ants.NewPool(poolSize, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}

	return &DeadLetterWorker{
		WorkerPool:   workerPool,
		DLService:    dlService,
		Interval:     interval,
		Limit:        limit,
		MaxAttempts:  maxAttempts,
		ClaimTimeout: claimTimeoutFactor * interval,
	}, nil
}

func (dlWorker *DeadLetterWorker) Run(ctx context.Context) {
	defer dlWorker.WorkerPool.Release()

	ticker := time.NewTicker(dlWorker.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dlWorker.Drain(ctx)
		}
	}
}

// Drain reclaims abandoned letters, then resends every due letter it can
// claim and waits for the attempts to finish.
func (dlWorker *DeadLetterWorker) Drain(ctx context.Context) {
	now := dlWorker.DLService.Now()

	released, err := dlWorker.DLService.Repository.ReleaseStale(ctx, now.Add(-dlWorker.ClaimTimeout))
	if err == nil && released > 0 {
		logging.Logger.Warn("[Drain] Released abandoned dead letter claims", zap.Int64("count", released))
	}

	letters, err := dlWorker.DLService.Repository.Claim(ctx, now, dlWorker.MaxAttempts, dlWorker.Limit)
	if err != nil || len(letters) == 0 {
		return
	}

	logging.Logger.Info("[Drain] Resending dead letters", zap.Int("count", len(letters)))

	var waitGroup sync.WaitGroup

	for idx := range letters {
		letter := &letters[idx]

		waitGroup.Add(1)

		err := dlWorker.WorkerPool.Submit(func() {
			defer waitGroup.Done()

			dlWorker.DLService.Resend(ctx, letter)
		})
		if err != nil {
			waitGroup.Done()
			logging.Logger.Error("[Drain] Worker pool rejected dead letter",
				zap.String("call_id", letter.CallID),
				zap.String("error", err.Error()),
			)

			_ = dlWorker.DLService.Repository.Release(ctx, letter, err.Error(), now)
		}
	}

	waitGroup.Wait()
}
