package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func dialingRecord() *Record {
	record := NewRecord("call-1", validRequest(), nil, 3, baseTime)
	_ = record.BeginDispatch(baseTime)
	_ = record.MarkDialing("provider-1", baseTime.Add(time.Second))

	return record
}

func TestNewRecordStatus(t *testing.T) {
	immediate := NewRecord("a", validRequest(), nil, 3, baseTime)
	require.Equal(t, StatusPending, immediate.Status)
	require.Equal(t, baseTime, immediate.ScheduledAt)

	past := baseTime.Add(-time.Hour)
	require.Equal(t, StatusPending, NewRecord("b", validRequest(), &past, 3, baseTime).Status)

	future := baseTime.Add(time.Hour)
	deferred := NewRecord("c", validRequest(), &future, 3, baseTime)
	require.Equal(t, StatusScheduled, deferred.Status)
	require.Equal(t, future, deferred.ScheduledAt)
	require.Empty(t, deferred.ProviderCallID)
}

func TestTransitionTable(t *testing.T) {
	allowed := map[Status][]Status{
		StatusPending:    {StatusInitiating},
		StatusScheduled:  {StatusInitiating},
		StatusInitiating: {StatusDialing, StatusScheduled, StatusFailed},
		StatusDialing:    {StatusInProgress, StatusNoAnswer, StatusBusy, StatusFailed},
		StatusInProgress: {StatusCompleted, StatusFailed},
	}

	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			expected := false

			for _, candidate := range allowed[from] {
				if candidate == to {
					expected = true
				}
			}

			require.Equal(t, expected, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestTransitionRejectsWithoutMutation(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 3, baseTime)
	before := record.Clone()

	err := record.Transition(StatusCompleted, baseTime.Add(time.Minute))

	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, before, record)
}

func TestTerminalRecordsNeverMove(t *testing.T) {
	for _, terminal := range []Status{StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy} {
		record := &Record{ID: "x", Status: terminal, ProviderCallID: "p"}

		for _, next := range AllStatuses {
			require.ErrorIs(t, record.Transition(next, baseTime), ErrInvalidTransition)
		}

		require.Equal(t, terminal, record.Status)
	}
}

func TestMarkDialingSetsProviderFields(t *testing.T) {
	record := dialingRecord()

	require.Equal(t, StatusDialing, record.Status)
	require.Equal(t, "provider-1", record.ProviderCallID)
	require.NotNil(t, record.DialedAt)
	require.Equal(t, baseTime.Add(time.Second), *record.DialedAt)
}

func TestMarkDialingRequiresProviderID(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 3, baseTime)
	require.NoError(t, record.BeginDispatch(baseTime))

	require.ErrorIs(t, record.MarkDialing("", baseTime), ErrInvalidTransition)
	require.Equal(t, StatusInitiating, record.Status)
}

func TestRescheduleIncrementsRetryCount(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 2, baseTime)
	require.NoError(t, record.BeginDispatch(baseTime))

	retryAt := baseTime.Add(30 * time.Second)
	require.NoError(t, record.Reschedule(retryAt, baseTime))
	require.Equal(t, StatusScheduled, record.Status)
	require.Equal(t, 1, record.RetryCount)
	require.Equal(t, retryAt, record.ScheduledAt)

	require.NoError(t, record.BeginDispatch(retryAt))
	require.ErrorIs(t, record.Reschedule(retryAt.Add(time.Minute), retryAt), ErrInvalidTransition)
	require.Equal(t, 1, record.RetryCount)
	require.Equal(t, StatusInitiating, record.Status)
}

func TestExhaustCountsFinalAttempt(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 2, baseTime)
	require.NoError(t, record.BeginDispatch(baseTime))
	require.NoError(t, record.Reschedule(baseTime, baseTime))
	require.NoError(t, record.BeginDispatch(baseTime))

	require.NoError(t, record.Exhaust("unavailable", baseTime))
	require.Equal(t, StatusFailed, record.Status)
	require.Equal(t, 2, record.RetryCount)
	require.Equal(t, "unavailable", record.ErrorMessage)
}

func TestExhaustNeverExceedsMaxRetries(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 0, baseTime)
	require.NoError(t, record.BeginDispatch(baseTime))

	require.NoError(t, record.Exhaust("unavailable", baseTime))
	require.Equal(t, 0, record.RetryCount)
}

func TestRequeueKeepsRetryCount(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 3, baseTime)
	require.NoError(t, record.BeginDispatch(baseTime))

	later := baseTime.Add(time.Minute)
	require.NoError(t, record.Requeue(later))
	require.Equal(t, StatusScheduled, record.Status)
	require.Equal(t, 0, record.RetryCount)
	require.Equal(t, later, record.ScheduledAt)
	require.True(t, record.IsDue(later))
}

func TestTerminateIsIdempotent(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 3, baseTime)

	require.True(t, record.Terminate("stop", baseTime.Add(time.Minute)))
	require.Equal(t, StatusFailed, record.Status)
	require.Equal(t, "stop", record.ErrorMessage)
	require.NotNil(t, record.CompletedAt)

	snapshot := record.Clone()

	require.False(t, record.Terminate("again", baseTime.Add(time.Hour)))
	require.Equal(t, snapshot, record)
}

func TestMapProviderStatus(t *testing.T) {
	cases := map[string]Status{
		"queue":       StatusDialing,
		"Ringing":     StatusDialing,
		"in-progress": StatusInProgress,
		"In Progress": StatusInProgress,
		"completed":   StatusCompleted,
		"hangup":      StatusCompleted,
		"no-answer":   StatusNoAnswer,
		"busy":        StatusBusy,
		"failed":      StatusFailed,
	}

	for observed, expected := range cases {
		status, ok := MapProviderStatus(observed)
		require.True(t, ok, observed)
		require.Equal(t, expected, status, observed)
	}

	_, ok := MapProviderStatus("voicemail")
	require.False(t, ok)
}

func TestApplyProviderStatusFollowsLifecycle(t *testing.T) {
	record := dialingRecord()

	changed, err := record.ApplyProviderStatus("ringing", baseTime.Add(2*time.Second))
	require.NoError(t, err)
	require.False(t, changed)

	changed, err = record.ApplyProviderStatus("in_progress", baseTime.Add(5*time.Second))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, StatusInProgress, record.Status)

	changed, err = record.ApplyProviderStatus("completed", baseTime.Add(65*time.Second))
	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, StatusCompleted, record.Status)
	require.Equal(t, 64*time.Second, record.Duration())
}

func TestApplyProviderStatusWalksThroughInProgress(t *testing.T) {
	record := dialingRecord()

	changed, err := record.ApplyProviderStatus("completed", baseTime.Add(time.Minute))

	require.NoError(t, err)
	require.True(t, changed)
	require.Equal(t, StatusCompleted, record.Status)
	require.NotNil(t, record.CompletedAt)
}

func TestApplyProviderStatusRejectsRegression(t *testing.T) {
	record := dialingRecord()
	_, err := record.ApplyProviderStatus("in_progress", baseTime.Add(time.Second))
	require.NoError(t, err)

	before := record.Clone()

	changed, err := record.ApplyProviderStatus("busy", baseTime.Add(time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.False(t, changed)
	require.Equal(t, before, record)
}

func TestApplyProviderStatusOnTerminalRecord(t *testing.T) {
	record := dialingRecord()
	_, err := record.ApplyProviderStatus("completed", baseTime.Add(time.Minute))
	require.NoError(t, err)

	before := record.Clone()

	changed, err := record.ApplyProviderStatus("dialing", baseTime.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.False(t, changed)
	require.Equal(t, before, record)

	changed, err = record.ApplyProviderStatus("completed", baseTime.Add(3*time.Minute))
	require.NoError(t, err)
	require.False(t, changed)
}

func TestApplyProviderStatusNeedsProviderCall(t *testing.T) {
	record := NewRecord("a", validRequest(), nil, 3, baseTime)
	require.NoError(t, record.BeginDispatch(baseTime))

	_, err := record.ApplyProviderStatus("in_progress", baseTime)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.Equal(t, StatusInitiating, record.Status)
}

func TestApplyProviderStatusUnknown(t *testing.T) {
	record := dialingRecord()

	changed, err := record.ApplyProviderStatus("voicemail", baseTime)

	require.ErrorIs(t, err, ErrUnknownProviderStatus)
	require.False(t, changed)
	require.Equal(t, StatusDialing, record.Status)
}
