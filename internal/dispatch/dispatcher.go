package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	prometheusDialer "git.mci.dev/mse/sre/phoenix/golang/dialer/internal/prometheus"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/retry"
	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type Outcome string

const (
	OutcomeDialing     Outcome = "dialing"
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeFailed      Outcome = "failed"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeSuperseded  Outcome = "superseded"
	OutcomeInterrupted Outcome = "interrupted"
	OutcomeError       Outcome = "error"
)

const persistTimeout = 10 * time.Second

var (
	errNotDue     = errors.New("call is no longer due")
	errSuperseded = errors.New("call changed while the submission was in flight")
)

type Result struct {
	CallID  string
	Outcome Outcome
	Err     error
}

// Dispatcher submits due calls to the provider with at most Concurrency
// submissions in flight. Calls are admitted in dispatch order.
type Dispatcher struct {
	CallService   *call.CallService
	Gateway       gateway.Gateway
	Retry         *retry.Controller
	WorkerPool    *ants.Pool
	SubmitTimeout time.Duration
	// Limiter spaces submissions when set.
	Limiter *rate.Limiter
}

func NewDispatcher(
	callService *call.CallService,
	callGateway gateway.Gateway,
	retryController *retry.Controller,
	concurrency int,
	submitTimeout time.Duration,
) (*Dispatcher, error) {
	workerPool, err := ants.NewPool(
		concurrency,
		ants.WithPreAlloc(true),
		ants.WithPanicHandler(func(recovered any) {
			logging.Logger.Error("[Dispatch] panic in dispatch worker", zap.Any("recover", recovered))
		}),
	)
	if err != nil {
		return nil, err
	}

	return &Dispatcher{
		CallService:   callService,
		Gateway:       callGateway,
		Retry:         retryController,
		WorkerPool:    workerPool,
		SubmitTimeout: submitTimeout,
	}, nil
}

// Dispatch submits records and waits for every admitted submission to settle.
// Records not admitted before ctx ends keep their status.
func (dispatcher *Dispatcher) Dispatch(ctx context.Context, records []*call.Record) []Result {
	ordered := append([]*call.Record(nil), records...)
	call.SortForDispatch(ordered)

	results := make([]Result, len(ordered))

	var waitGroup sync.WaitGroup

	for idx, record := range ordered {
		results[idx] = Result{CallID: record.ID, Outcome: OutcomeSkipped}

		if ctx.Err() != nil {
			continue
		}

		waitGroup.Add(1)

		err := dispatcher.WorkerPool.Submit(func() {
			defer waitGroup.Done()

			results[idx] = dispatcher.dispatchOne(ctx, record.ID)
		})
		if err != nil {
			waitGroup.Done()

			logging.Logger.Error("[Dispatch] failed to submit job to ants pool",
				zap.String("call_id", record.ID),
				zap.String("error", err.Error()),
			)

			results[idx] = Result{CallID: record.ID, Outcome: OutcomeError, Err: err}
		}
	}

	waitGroup.Wait()

	return results
}

func (dispatcher *Dispatcher) Release() {
	dispatcher.WorkerPool.Release()
}

func (dispatcher *Dispatcher) dispatchOne(ctx context.Context, id string) Result {
	prometheusDialer.DispatchInFlight.Inc()
	defer prometheusDialer.DispatchInFlight.Dec()

	result := dispatcher.submit(ctx, id)
	prometheusDialer.DispatchTotal.WithLabelValues(string(result.Outcome)).Inc()

	return result
}

func (dispatcher *Dispatcher) submit(ctx context.Context, id string) Result {
	if dispatcher.Limiter != nil {
		err := dispatcher.Limiter.Wait(ctx)
		if err != nil {
			return Result{CallID: id, Outcome: OutcomeSkipped, Err: err}
		}
	}

	if ctx.Err() != nil {
		return Result{CallID: id, Outcome: OutcomeSkipped, Err: ctx.Err()}
	}

	record, err := dispatcher.CallService.Update(ctx, id, func(record *call.Record) (bool, error) {
		if !record.IsDue(dispatcher.CallService.Now()) {
			return false, errNotDue
		}

		return true, record.BeginDispatch(dispatcher.CallService.Now())
	})
	if errors.Is(err, errNotDue) {
		return Result{CallID: id, Outcome: OutcomeSkipped}
	}

	if err != nil {
		logging.Logger.Error("[Dispatch] Failed to mark call initiating",
			zap.String("call_id", id),
			zap.String("error", err.Error()),
		)

		return Result{CallID: id, Outcome: OutcomeError, Err: err}
	}

	providerCallID, submitErr := dispatcher.callGateway(ctx, record)

	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if submitErr == nil {
		return dispatcher.markDialing(persistCtx, id, providerCallID)
	}

	if gateway.IsInterrupted(ctx, submitErr) {
		return dispatcher.requeue(persistCtx, id, submitErr)
	}

	return dispatcher.handleFailure(persistCtx, id, submitErr)
}

func (dispatcher *Dispatcher) callGateway(ctx context.Context, record *call.Record) (string, error) {
	timer := prometheus.NewTimer(prometheusDialer.GatewayRequestDuration.WithLabelValues("submit"))
	defer timer.ObserveDuration()

	submitCtx, cancel := context.WithTimeout(ctx, dispatcher.SubmitTimeout)
	defer cancel()

	return dispatcher.Gateway.Submit(submitCtx, gateway.CallSpec{
		ExternalID:     record.ID,
		CallerName:     record.Request.CallerName,
		CallerPhone:    record.Request.CallerPhone,
		Destination:    record.Request.Destination,
		Action:         record.Request.Action,
		AdditionalInfo: record.Request.AdditionalInfo,
	})
}

func (dispatcher *Dispatcher) markDialing(ctx context.Context, id, providerCallID string) Result {
	_, err := dispatcher.CallService.Update(ctx, id, func(record *call.Record) (bool, error) {
		if record.Status != call.StatusInitiating {
			return false, errSuperseded
		}

		return true, record.MarkDialing(providerCallID, dispatcher.CallService.Now())
	})
	if errors.Is(err, errSuperseded) {
		logging.Logger.Warn("[Dispatch] Provider accepted a call that was already finished locally",
			zap.String("call_id", id),
			zap.String("provider_call_id", providerCallID),
		)

		return Result{CallID: id, Outcome: OutcomeSuperseded, Err: err}
	}

	if err != nil {
		logging.Logger.Error("[Dispatch] Failed to mark call dialing",
			zap.String("call_id", id),
			zap.String("provider_call_id", providerCallID),
			zap.String("error", err.Error()),
		)

		return Result{CallID: id, Outcome: OutcomeError, Err: err}
	}

	logging.Logger.Info("[Dispatch] Call accepted by provider",
		zap.String("call_id", id),
		zap.String("provider_call_id", providerCallID),
	)

	return Result{CallID: id, Outcome: OutcomeDialing}
}

func (dispatcher *Dispatcher) handleFailure(ctx context.Context, id string, submitErr error) Result {
	outcome := OutcomeFailed

	var decision retry.Decision

	_, err := dispatcher.CallService.Update(ctx, id, func(record *call.Record) (bool, error) {
		if record.Status != call.StatusInitiating {
			return false, errSuperseded
		}

		decision = dispatcher.Retry.Decide(record, submitErr)

		switch {
		case decision.Action == retry.ActionRetry:
			outcome = OutcomeRescheduled

			return true, record.Reschedule(decision.At, dispatcher.CallService.Now())
		case decision.Counted:
			return true, record.Exhaust(decision.Reason, dispatcher.CallService.Now())
		default:
			return true, record.Fail(decision.Reason, dispatcher.CallService.Now())
		}
	})
	if errors.Is(err, errSuperseded) {
		return Result{CallID: id, Outcome: OutcomeSuperseded, Err: submitErr}
	}

	if err != nil {
		logging.Logger.Error("[Dispatch] Failed to record submission failure",
			zap.String("call_id", id),
			zap.String("submit_error", submitErr.Error()),
			zap.String("error", err.Error()),
		)

		return Result{CallID: id, Outcome: OutcomeError, Err: err}
	}

	logging.Logger.Warn("[Dispatch] Provider submission failed",
		zap.String("call_id", id),
		zap.String("decision", decision.Action.String()),
		zap.Duration("retry_in", decision.Delay),
		zap.String("error", submitErr.Error()),
	)

	return Result{CallID: id, Outcome: outcome, Err: submitErr}
}

// requeue puts a call whose submission was cut short by shutdown back in the
// queue. The attempt is not counted.
func (dispatcher *Dispatcher) requeue(ctx context.Context, id string, submitErr error) Result {
	_, err := dispatcher.CallService.Update(ctx, id, func(record *call.Record) (bool, error) {
		if record.Status != call.StatusInitiating {
			return false, errSuperseded
		}

		return true, record.Requeue(dispatcher.CallService.Now())
	})
	if errors.Is(err, errSuperseded) {
		return Result{CallID: id, Outcome: OutcomeSuperseded, Err: submitErr}
	}

	if err != nil {
		logging.Logger.Error("[Dispatch] Failed to requeue interrupted call",
			zap.String("call_id", id),
			zap.String("error", err.Error()),
		)

		return Result{CallID: id, Outcome: OutcomeError, Err: err}
	}

	logging.Logger.Warn("[Dispatch] Submission interrupted, call requeued", zap.String("call_id", id))

	return Result{CallID: id, Outcome: OutcomeInterrupted, Err: submitErr}
}
