package retry

import (
	"math"
	"math/rand/v2"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/call"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/gateway"
)

type Action int

const (
	ActionRetry Action = iota
	ActionGiveUp
)

func (action Action) String() string {
	if action == ActionRetry {
		return "retry"
	}

	return "give_up"
}

type Decision struct {
	Action Action
	At     time.Time
	Delay  time.Duration
	Reason string
	// Counted is set when the failed attempt counts against MaxRetries.
	// Permanent errors are never counted.
	Counted bool
}

// Controller decides what happens after a failed submission.
type Controller struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
	Now    func() time.Time
	// Float returns a number in [0, 1). Defaults to math/rand.
	Float func() float64
}

func NewController(base, maxDelay time.Duration, jitter float64) *Controller {
	return &Controller{
		Base:   base,
		Cap:    maxDelay,
		Jitter: jitter,
		Now:    func() time.Time { return time.Now().UTC() },
		Float:  rand.Float64,
	}
}

func (controller *Controller) Decide(record *call.Record, err error) Decision {
	reason := "unknown error"
	if err != nil {
		reason = err.Error()
	}

	if !gateway.IsTransient(err) {
		return Decision{Action: ActionGiveUp, Reason: reason}
	}

	// The attempt that just failed is counted first, so MaxRetries bounds the
	// number of submissions.
	if record.RetryCount+1 >= record.MaxRetries {
		return Decision{Action: ActionGiveUp, Reason: reason, Counted: true}
	}

	delay := controller.Delay(record.RetryCount)

	return Decision{
		Action:  ActionRetry,
		At:      controller.Now().Add(delay),
		Delay:   delay,
		Reason:  reason,
		Counted: true,
	}
}

// Delay returns min(Base * 2^retryCount, Cap), shortened by up to Jitter of itself.
func (controller *Controller) Delay(retryCount int) time.Duration {
	delay := controller.Cap

	exponential := float64(controller.Base) * math.Pow(2, float64(retryCount))
	if exponential < float64(controller.Cap) {
		delay = time.Duration(exponential)
	}

	if controller.Jitter <= 0 || controller.Float == nil {
		return delay
	}

	return delay - time.Duration(controller.Jitter*controller.Float()*float64(delay))
}
