package retry

import (
	"errors"
	"testing"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestController(jitter float64, float float64) *Controller {
	controller := NewController(30*time.Second, 5*time.Minute, jitter)
	controller.Now = func() time.Time { return now }
	controller.Float = func() float64 { return float }

	return controller
}

func TestDelayDoublesUntilCap(t *testing.T) {
	controller := newTestController(0, 0)

	require.Equal(t, 30*time.Second, controller.Delay(0))
	require.Equal(t, 60*time.Second, controller.Delay(1))
	require.Equal(t, 120*time.Second, controller.Delay(2))
	require.Equal(t, 240*time.Second, controller.Delay(3))
	require.Equal(t, 5*time.Minute, controller.Delay(4))
	require.Equal(t, 5*time.Minute, controller.Delay(60))
}

func TestDelayJitterStaysBelowBound(t *testing.T) {
	controller := newTestController(0.2, 0.5)

	require.Equal(t, 27*time.Second, controller.Delay(0))

	controller.Float = func() float64 { return 0.999 }
	require.Greater(t, controller.Delay(2), 96*time.Second)
	require.LessOrEqual(t, controller.Delay(2), 120*time.Second)
}

func TestDecideRetriesTransientErrors(t *testing.T) {
	controller := newTestController(0, 0)
	record := &call.Record{RetryCount: 1, MaxRetries: 3}

	decision := controller.Decide(record, gateway.NewTransient("submit", 503, errors.New("unavailable")))

	require.Equal(t, ActionRetry, decision.Action)
	require.Equal(t, time.Minute, decision.Delay)
	require.Equal(t, now.Add(time.Minute), decision.At)
}

func TestDecideGivesUpOnPermanentErrors(t *testing.T) {
	controller := newTestController(0, 0)
	record := &call.Record{RetryCount: 0, MaxRetries: 3}

	decision := controller.Decide(record, gateway.NewPermanent("submit", 400, errors.New("bad phone")))

	require.Equal(t, ActionGiveUp, decision.Action)
	require.Contains(t, decision.Reason, "bad phone")
}

func TestDecideGivesUpWhenExhausted(t *testing.T) {
	controller := newTestController(0, 0)
	record := &call.Record{RetryCount: 3, MaxRetries: 3}

	decision := controller.Decide(record, gateway.NewTransient("submit", 0, errors.New("timeout")))

	require.Equal(t, ActionGiveUp, decision.Action)
}

func TestDecideGivesUpOnLastCountedAttempt(t *testing.T) {
	controller := newTestController(0, 0)
	transient := gateway.NewTransient("submit", 503, errors.New("unavailable"))

	require.Equal(t, ActionRetry, controller.Decide(&call.Record{RetryCount: 1, MaxRetries: 3}, transient).Action)

	decision := controller.Decide(&call.Record{RetryCount: 2, MaxRetries: 3}, transient)
	require.Equal(t, ActionGiveUp, decision.Action)
	require.True(t, decision.Counted)
}

func TestDecidePermanentErrorsAreNotCounted(t *testing.T) {
	controller := newTestController(0, 0)

	decision := controller.Decide(&call.Record{MaxRetries: 3}, gateway.NewPermanent("submit", 422, errors.New("bad number")))

	require.Equal(t, ActionGiveUp, decision.Action)
	require.False(t, decision.Counted)
}
