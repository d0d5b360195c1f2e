package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/dispatch"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	prometheusDialer "git.mci.dev/mse/sre/phoenix/golang/dialer/internal/prometheus"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	ReasonDialingTimeout  = "no status received from provider"
	ReasonDispatchCrashed = "dispatch interrupted"
	ReasonMaxCallDuration = "call exceeded maximum duration"
)

var ErrCyclePanic = errors.New("scheduling cycle panicked")

type Settings struct {
	Interval          time.Duration
	ErrorInterval     time.Duration
	PollTimeout       time.Duration
	PollConcurrency   int
	DialingTimeout    time.Duration
	InitiatingTimeout time.Duration
	MaxCallDuration   time.Duration
	SweepSpec         string
}

type CycleReport struct {
	Due        int
	Dispatched map[dispatch.Outcome]int
	Polled     int
	Changed    int
	TimedOut   int
}

type Scheduler struct {
	CallService *call.CallService
	Dispatcher  *dispatch.Dispatcher
	Gateway     gateway.Gateway
	PollPool    *ants.Pool
	Settings    Settings
}

func NewScheduler(
	callService *call.CallService,
	dispatcher *dispatch.Dispatcher,
	callGateway gateway.Gateway,
	settings Settings,
) (*Scheduler, error) {
	pollPool, err := ants.NewPool(
		settings.PollConcurrency,
		ants.WithPreAlloc(true),
		ants.WithPanicHandler(func(recovered any) {
			logging.Logger.Error("[Poll] panic in poll worker", zap.Any("recover", recovered))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Scheduler{
		CallService: callService,
		Dispatcher:  dispatcher,
		Gateway:     callGateway,
		PollPool:    pollPool,
		Settings:    settings,
	}, nil
}

// Run executes cycles until ctx is canceled. After a failed cycle it waits
// ErrorInterval instead of Interval.
func (scheduler *Scheduler) Run(ctx context.Context) {
	logging.Logger.Info("[Run] Scheduler started",
		zap.Duration("interval", scheduler.Settings.Interval),
		zap.Duration("error_interval", scheduler.Settings.ErrorInterval),
	)

	for {
		wait := scheduler.Settings.Interval

		report, err := scheduler.runCycleSafe(ctx)
		if err != nil {
			prometheusDialer.CycleErrors.Inc()
			logging.Logger.Error("[Run] Scheduling cycle failed",
				zap.String("error", err.Error()),
				zap.Duration("retry_in", scheduler.Settings.ErrorInterval),
			)

			wait = scheduler.Settings.ErrorInterval
		} else {
			logging.Logger.Debug("[Run] Scheduling cycle finished",
				zap.Int("due", report.Due),
				zap.Int("polled", report.Polled),
				zap.Int("changed", report.Changed),
				zap.Int("timed_out", report.TimedOut),
			)
		}

		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			logging.Logger.Info("[Run] Scheduler stopped")

			return
		case <-timer.C:
		}
	}
}

func (scheduler *Scheduler) runCycleSafe(ctx context.Context) (report CycleReport, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrCyclePanic, recovered)
		}
	}()

	return scheduler.RunCycle(ctx)
}

// RunCycle dispatches due calls, then polls the provider for calls it accepted
// before this cycle.
func (scheduler *Scheduler) RunCycle(ctx context.Context) (CycleReport, error) {
	timer := prometheus.NewTimer(prometheusDialer.CycleDuration)
	defer timer.ObserveDuration()

	report := CycleReport{Dispatched: map[dispatch.Outcome]int{}}
	now := scheduler.CallService.Now()

	due, err := scheduler.CallService.Store.QueryByStatusAndDue(
		ctx,
		[]call.Status{call.StatusPending, call.StatusScheduled},
		now,
	)
	if err != nil {
		return report, fmt.Errorf("query due calls: %w", err)
	}

	report.Due = len(due)
	dialedNow := map[string]struct{}{}

	for _, result := range scheduler.Dispatcher.Dispatch(ctx, due) {
		report.Dispatched[result.Outcome]++

		if result.Outcome == dispatch.OutcomeDialing {
			dialedNow[result.CallID] = struct{}{}
		}
	}

	open, err := scheduler.CallService.Store.QueryByStatus(
		ctx,
		[]call.Status{call.StatusDialing, call.StatusInProgress},
	)
	if err != nil {
		return report, fmt.Errorf("query open calls: %w", err)
	}

	var (
		waitGroup sync.WaitGroup
		mu        sync.Mutex
	)

	for _, record := range open {
		if _, skip := dialedNow[record.ID]; skip {
			continue
		}

		waitGroup.Add(1)

		err := scheduler.PollPool.Submit(func() {
			defer waitGroup.Done()

			changed, timedOut := scheduler.pollOne(ctx, record)

			mu.Lock()
			defer mu.Unlock()

			report.Polled++

			if changed {
				report.Changed++
			}

			if timedOut {
				report.TimedOut++
			}
		})
		if err != nil {
			waitGroup.Done()
			logging.Logger.Error("[Poll] failed to submit job to ants pool",
				zap.String("call_id", record.ID),
				zap.String("error", err.Error()),
			)
		}
	}

	waitGroup.Wait()

	return report, nil
}

func (scheduler *Scheduler) pollOne(ctx context.Context, record *call.Record) (bool, bool) {
	changed := false

	status, err := scheduler.poll(ctx, record.ProviderCallID)
	if err != nil {
		logging.Logger.Warn("[Poll] Failed to fetch provider status",
			zap.String("call_id", record.ID),
			zap.String("provider_call_id", record.ProviderCallID),
			zap.String("error", err.Error()),
		)
	} else {
		updated, err := scheduler.CallService.ApplyProviderStatus(ctx, record.ID, record.ProviderCallID, status)
		if err != nil {
			logging.Logger.Warn("[Poll] Provider status not applied",
				zap.String("call_id", record.ID),
				zap.String("provider_status", status.Status),
				zap.String("error", err.Error()),
			)
		} else {
			changed = updated.Status != record.Status
		}
	}

	timedOut := scheduler.expireDialing(ctx, record.ID)

	return changed || timedOut, timedOut
}

func (scheduler *Scheduler) poll(ctx context.Context, providerCallID string) (gateway.ProviderStatus, error) {
	timer := prometheus.NewTimer(prometheusDialer.GatewayRequestDuration.WithLabelValues("poll"))
	defer timer.ObserveDuration()

	pollCtx, cancel := context.WithTimeout(ctx, scheduler.Settings.PollTimeout)
	defer cancel()

	return scheduler.Gateway.Poll(pollCtx, providerCallID)
}

func (scheduler *Scheduler) expireDialing(ctx context.Context, id string) bool {
	expired := false

	_, err := scheduler.CallService.Update(ctx, id, func(record *call.Record) (bool, error) {
		now := scheduler.CallService.Now()
		if record.Status != call.StatusDialing || record.DialedAt == nil ||
			now.Sub(*record.DialedAt) < scheduler.Settings.DialingTimeout {
			return false, nil
		}

		expired = record.Terminate(ReasonDialingTimeout, now)

		return expired, nil
	})
	if err != nil {
		logging.Logger.Error("[Poll] Failed to check dialing timeout",
			zap.String("call_id", id),
			zap.String("error", err.Error()),
		)

		return false
	}

	if expired {
		logging.Logger.Warn("[Poll] Call timed out waiting for the provider",
			zap.String("call_id", id),
			zap.Duration("dialing_timeout", scheduler.Settings.DialingTimeout),
		)
	}

	return expired
}

func (scheduler *Scheduler) Release() {
	scheduler.PollPool.Release()
}
