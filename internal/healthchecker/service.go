package healthchecker

import (
	"context"
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/circuitbreak"
	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"go.uber.org/zap"
)

type CheckFunc func(ctx context.Context) error

type Healthchecker struct {
	CtxCancelFunc context.CancelFunc
	ErrorService  string
	Interval      time.Duration
	Checks        map[string]CheckFunc
}

const defaultInterval = time.Minute

func NewService(ctxCancelFunc context.CancelFunc, interval time.Duration) *Healthchecker {
	if interval <= 0 {
		interval = defaultInterval
	}

	return &Healthchecker{
		CtxCancelFunc: ctxCancelFunc,
		Interval:      interval,
		Checks: map[string]CheckFunc{
			circuitbreak.SynthflowService:     CheckSynthflow,
			circuitbreak.DBService:            CheckDB,
			circuitbreak.RedisService:         CheckRedis,
			circuitbreak.MinioService:         CheckMinio,
			circuitbreak.KafkaProducerService: CheckKafkaProducer,
		},
	}
}

// Monitor blocks until a breaker opens or ctx ends. On a breaker trip it
// records the service and cancels the app.
func (h *Healthchecker) Monitor(ctx context.Context) {
	logging.Logger.Info("[Monitor] Health checker monitor started")

	select {
	case <-ctx.Done():
		return
	case serviceName := <-circuitbreak.CircuitBreakChan:
		logging.Logger.Error("[Monitor] Circuit breaker opened", zap.String("service", serviceName))
		h.ErrorService = serviceName
		h.CtxCancelFunc()
	}
}

// Check blocks until the failed service passes its check.
func (h *Healthchecker) Check(ctx context.Context) {
	if h.ErrorService == "" {
		return
	}

	ticker := time.NewTicker(h.Interval)
	defer ticker.Stop()

	for {
		if h.checkErrorService(ctx) {
			h.ErrorService = ""

			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Healthchecker) checkErrorService(ctx context.Context) bool {
	check, ok := h.Checks[h.ErrorService]
	if !ok {
		logging.Logger.Warn("[checkErrorService] Unknown service, assuming healthy", zap.String("service", h.ErrorService))

		return true
	}

	checkCtx, cancel := context.WithTimeout(ctx, h.Interval)
	defer cancel()

	err := check(checkCtx)
	if err != nil {
		logging.Logger.Warn("[checkErrorService] Service still unhealthy",
			zap.String("service", h.ErrorService),
			zap.String("error", err.Error()),
		)

		return false
	}

	logging.Logger.Info("[checkErrorService] Service back healthy", zap.String("service", h.ErrorService))

	return true
}
