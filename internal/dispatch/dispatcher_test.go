package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway/gatewaytest"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/lock"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/retry"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/store/memory"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store      *memory.Store
	service    *call.CallService
	gateway    *gatewaytest.Fake
	dispatcher *Dispatcher
}

func newFixture(t *testing.T, concurrency int) *fixture {
	t.Helper()

	store := memory.New()
	service := call.NewService(store, lock.NewKeyedMutex(), 3)
	service.Now = func() time.Time { return now }

	controller := retry.NewController(30*time.Second, 10*time.Minute, 0)
	controller.Now = service.Now

	fake := gatewaytest.New()

	dispatcher, err := NewDispatcher(service, fake, controller, concurrency, time.Second)
	require.NoError(t, err)
	t.Cleanup(dispatcher.Release)

	return &fixture{store: store, service: service, gateway: fake, dispatcher: dispatcher}
}

func (f *fixture) submit(t *testing.T, count int) []*call.Record {
	t.Helper()

	records := make([]*call.Record, 0, count)

	for idx := range count {
		f.service.NewID = func() string { return fmt.Sprintf("call-%02d", idx) }
		at := now.Add(-time.Duration(count-idx) * time.Minute)

		id, err := f.service.SubmitCall(context.Background(), call.Request{
			CallerName:  "Jane",
			CallerPhone: "+15551234567",
			Destination: "+15557654321",
			Action:      "refund",
		}, &at)
		require.NoError(t, err)

		record, err := f.service.GetCall(context.Background(), id)
		require.NoError(t, err)

		records = append(records, record)
	}

	return records
}

func (f *fixture) statusOf(t *testing.T, id string) *call.Record {
	t.Helper()

	record, err := f.store.Get(context.Background(), id)
	require.NoError(t, err)

	return record
}

func TestDispatchNeverExceedsConcurrency(t *testing.T) {
	f := newFixture(t, 2)
	records := f.submit(t, 10)

	var (
		inFlight    atomic.Int32
		maxInFlight atomic.Int32
		maxInit     atomic.Int32
	)

	f.gateway.SubmitFunc = func(ctx context.Context, spec gateway.CallSpec) (string, error) {
		current := inFlight.Add(1)
		defer inFlight.Add(-1)

		for {
			seen := maxInFlight.Load()
			if current <= seen || maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}

		initiating, err := f.store.QueryByStatus(ctx, []call.Status{call.StatusInitiating})
		if err == nil && int32(len(initiating)) > maxInit.Load() {
			maxInit.Store(int32(len(initiating)))
		}

		time.Sleep(10 * time.Millisecond)

		return "provider-" + spec.ExternalID, nil
	}

	results := f.dispatcher.Dispatch(context.Background(), records)

	require.Len(t, results, 10)
	require.LessOrEqual(t, maxInFlight.Load(), int32(2))
	require.LessOrEqual(t, maxInit.Load(), int32(2))

	for _, result := range results {
		require.Equal(t, OutcomeDialing, result.Outcome)

		record := f.statusOf(t, result.CallID)
		require.Equal(t, call.StatusDialing, record.Status)
		require.Equal(t, "provider-"+result.CallID, record.ProviderCallID)
	}
}

func TestDispatchAdmitsInScheduleOrder(t *testing.T) {
	f := newFixture(t, 1)
	records := f.submit(t, 5)

	reversed := []*call.Record{records[4], records[2], records[0], records[3], records[1]}

	f.dispatcher.Dispatch(context.Background(), reversed)

	submits := f.gateway.Submits()
	require.Len(t, submits, 5)

	for idx, spec := range submits {
		require.Equal(t, records[idx].ID, spec.ExternalID)
	}
}

func TestDispatchReschedulesTransientFailure(t *testing.T) {
	f := newFixture(t, 2)
	records := f.submit(t, 1)

	f.gateway.SubmitFunc = func(context.Context, gateway.CallSpec) (string, error) {
		return "", gateway.NewTransient("submit", 503, errors.New("unavailable"))
	}

	results := f.dispatcher.Dispatch(context.Background(), records)
	require.Equal(t, OutcomeRescheduled, results[0].Outcome)

	record := f.statusOf(t, records[0].ID)
	require.Equal(t, call.StatusScheduled, record.Status)
	require.Equal(t, 1, record.RetryCount)
	require.Equal(t, now.Add(30*time.Second), record.ScheduledAt)
	require.Empty(t, record.ProviderCallID)
}

func TestDispatchFailsPermanentError(t *testing.T) {
	f := newFixture(t, 2)
	records := f.submit(t, 1)

	f.gateway.SubmitFunc = func(context.Context, gateway.CallSpec) (string, error) {
		return "", gateway.NewPermanent("submit", 400, errors.New("invalid destination"))
	}

	results := f.dispatcher.Dispatch(context.Background(), records)
	require.Equal(t, OutcomeFailed, results[0].Outcome)

	record := f.statusOf(t, records[0].ID)
	require.Equal(t, call.StatusFailed, record.Status)
	require.Equal(t, 0, record.RetryCount)
	require.Contains(t, record.ErrorMessage, "invalid destination")
	require.NotNil(t, record.CompletedAt)
}

func TestDispatchTimesOutSlowGateway(t *testing.T) {
	f := newFixture(t, 1)
	f.dispatcher.SubmitTimeout = 20 * time.Millisecond
	records := f.submit(t, 1)

	f.gateway.SubmitFunc = func(ctx context.Context, _ gateway.CallSpec) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}

	results := f.dispatcher.Dispatch(context.Background(), records)
	require.Equal(t, OutcomeRescheduled, results[0].Outcome)
	require.ErrorIs(t, results[0].Err, context.DeadlineExceeded)
}

func TestDispatchSkipsRecordsNoLongerDue(t *testing.T) {
	f := newFixture(t, 1)
	records := f.submit(t, 1)

	_, err := f.service.TerminateCall(context.Background(), records[0].ID, "operator")
	require.NoError(t, err)

	results := f.dispatcher.Dispatch(context.Background(), records)

	require.Equal(t, OutcomeSkipped, results[0].Outcome)
	require.Empty(t, f.gateway.Submits())
}

func TestDispatchDoesNotResurrectTerminatedCall(t *testing.T) {
	f := newFixture(t, 1)
	records := f.submit(t, 1)

	f.gateway.SubmitFunc = func(context.Context, gateway.CallSpec) (string, error) {
		_, err := f.service.TerminateCall(context.Background(), records[0].ID, "operator")
		require.NoError(t, err)

		return "provider-late", nil
	}

	results := f.dispatcher.Dispatch(context.Background(), records)
	require.Equal(t, OutcomeSuperseded, results[0].Outcome)

	record := f.statusOf(t, records[0].ID)
	require.Equal(t, call.StatusFailed, record.Status)
	require.Empty(t, record.ProviderCallID)
}

func TestDispatchStopsAdmittingAfterCancel(t *testing.T) {
	f := newFixture(t, 1)
	records := f.submit(t, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := f.dispatcher.Dispatch(ctx, records)

	for _, result := range results {
		require.Equal(t, OutcomeSkipped, result.Outcome)
		require.True(t, f.statusOf(t, result.CallID).Status.IsDispatchable())
	}
}

func TestDispatchFailsAfterMaxAttempts(t *testing.T) {
	f := newFixture(t, 1)
	records := f.submit(t, 1)

	f.gateway.SubmitFunc = func(context.Context, gateway.CallSpec) (string, error) {
		return "", gateway.NewTransient("submit", 503, errors.New("unavailable"))
	}

	outcomes := make([]Outcome, 0, 3)

	for range 3 {
		record := f.statusOf(t, records[0].ID)
		f.service.Now = func() time.Time { return record.ScheduledAt }

		results := f.dispatcher.Dispatch(context.Background(), []*call.Record{record})
		outcomes = append(outcomes, results[0].Outcome)
	}

	require.Equal(t, []Outcome{OutcomeRescheduled, OutcomeRescheduled, OutcomeFailed}, outcomes)

	record := f.statusOf(t, records[0].ID)
	require.Equal(t, call.StatusFailed, record.Status)
	require.Equal(t, 3, record.RetryCount)
	require.Len(t, f.gateway.Submits(), 3)
}

func TestDispatchRequeuesSubmissionInterruptedByShutdown(t *testing.T) {
	f := newFixture(t, 1)
	f.dispatcher.SubmitTimeout = 5 * time.Second
	records := f.submit(t, 1)

	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})

	f.gateway.SubmitFunc = func(submitCtx context.Context, _ gateway.CallSpec) (string, error) {
		close(started)
		<-submitCtx.Done()

		return "", gateway.NewTransient("submit", 0, submitCtx.Err())
	}

	go func() {
		<-started
		cancel()
	}()

	results := f.dispatcher.Dispatch(ctx, records)
	require.Equal(t, OutcomeInterrupted, results[0].Outcome)
	require.ErrorIs(t, results[0].Err, context.Canceled)

	record := f.statusOf(t, records[0].ID)
	require.Equal(t, call.StatusScheduled, record.Status)
	require.Equal(t, 0, record.RetryCount)
	require.Empty(t, record.ErrorMessage)
	require.True(t, record.IsDue(now))
}

func TestDispatchSkipsJobsQueuedBeforeCancel(t *testing.T) {
	f := newFixture(t, 1)
	records := f.submit(t, 2)

	ctx, cancel := context.WithCancel(context.Background())

	var calls atomic.Int32

	f.gateway.SubmitFunc = func(context.Context, gateway.CallSpec) (string, error) {
		calls.Add(1)
		cancel()

		return "provider-1", nil
	}

	results := f.dispatcher.Dispatch(ctx, records)

	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, OutcomeDialing, results[0].Outcome)
	require.Equal(t, OutcomeSkipped, results[1].Outcome)
	require.Equal(t, call.StatusPending, f.statusOf(t, records[1].ID).Status)
}
