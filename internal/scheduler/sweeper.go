package scheduler

import (
	"context"
	"fmt"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// SweepStale fails calls stuck in INITIATING after a crash and calls that stay
// IN_PROGRESS longer than MaxCallDuration. It returns how many calls it failed.
func (scheduler *Scheduler) SweepStale(ctx context.Context) (int, error) {
	stale, err := scheduler.CallService.Store.QueryByStatus(
		ctx,
		[]call.Status{call.StatusInitiating, call.StatusInProgress},
	)
	if err != nil {
		return 0, fmt.Errorf("query stale calls: %w", err)
	}

	terminated := 0

	for _, candidate := range stale {
		swept := false

		_, err := scheduler.CallService.Update(ctx, candidate.ID, func(record *call.Record) (bool, error) {
			reason, ok := scheduler.staleReason(record)
			if !ok {
				return false, nil
			}

			swept = record.Terminate(reason, scheduler.CallService.Now())

			return swept, nil
		})
		if err != nil {
			logging.Logger.Error("[SweepStale] Failed to fail stale call",
				zap.String("call_id", candidate.ID),
				zap.String("error", err.Error()),
			)

			continue
		}

		if swept {
			terminated++
		}
	}

	if terminated > 0 {
		logging.Logger.Warn("[SweepStale] Failed stale calls", zap.Int("count", terminated))
	}

	return terminated, nil
}

func (scheduler *Scheduler) staleReason(record *call.Record) (string, bool) {
	now := scheduler.CallService.Now()

	switch record.Status {
	case call.StatusInitiating:
		if now.Sub(record.UpdatedAt) >= scheduler.Settings.InitiatingTimeout {
			return ReasonDispatchCrashed, true
		}
	case call.StatusInProgress:
		started := record.UpdatedAt
		if record.DialedAt != nil {
			started = *record.DialedAt
		}

		if now.Sub(started) >= scheduler.Settings.MaxCallDuration {
			return ReasonMaxCallDuration, true
		}
	}

	return "", false
}

// StartSweeper runs SweepStale on Settings.SweepSpec until ctx is canceled.
func (scheduler *Scheduler) StartSweeper(ctx context.Context) (*cron.Cron, error) {
	sweeper := cron.New(cron.WithParser(cronParser))

	_, err := sweeper.AddFunc(scheduler.Settings.SweepSpec, func() {
		_, err := scheduler.SweepStale(ctx)
		if err != nil {
			logging.Logger.Error("[StartSweeper] Sweep failed", zap.String("error", err.Error()))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", scheduler.Settings.SweepSpec, err)
	}

	sweeper.Start()

	go func() {
		<-ctx.Done()
		<-sweeper.Stop().Done()
	}()

	logging.Logger.Info("[StartSweeper] Stale call sweeper started",
		zap.String("schedule", scheduler.Settings.SweepSpec),
	)

	return sweeper, nil
}
