package circuitbreak

import (
	"time"

	"git.mci.dev/mse/sre/phoenix/golang/dialer/internal/logging"
	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

var CircuitBreakChan chan string

const (
	SynthflowService     = "synthflow"
	DBService            = "database"
	RedisService         = "redis"
	MinioService         = "minio"
	KafkaProducerService = "kafka_producer"
)

func Init() {
	CircuitBreakChan = make(chan string, 1)
}

// TriggerError asks the app to restart because service tripped its breaker.
// A pending restart request absorbs later ones.
func TriggerError(service string) {
	if CircuitBreakChan == nil {
		logging.Logger.Warn("[TriggerError] No app is listening for circuit breaker trips",
			zap.String("service", service),
		)

		return
	}

	select {
	case CircuitBreakChan <- service:
	default:
		logging.Logger.Debug("[TriggerError] Restart already requested", zap.String("service", service))
	}
}

// Settings trips after threshold consecutive failures and asks the app
// to restart when the breaker opens.
func Settings(service string, interval time.Duration, threshold uint32) gobreaker.Settings {
	return gobreaker.Settings{
		Name:     service,
		Interval: interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			willTrip := counts.ConsecutiveFailures >= threshold

			if willTrip {
				logging.Logger.Error("[ReadyToTrip] Circuit breaker about to trip",
					zap.String("service", service),
					zap.Uint32("total_requests", counts.Requests),
					zap.Uint32("total_successes", counts.TotalSuccesses),
					zap.Uint32("total_failures", counts.TotalFailures),
					zap.Uint32("consecutive_successes", counts.ConsecutiveSuccesses),
					zap.Uint32("consecutive_failures", counts.ConsecutiveFailures),
					zap.Uint32("threshold", threshold),
				)
			}

			return willTrip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Logger.Error("[OnStateChange] Circuit breaker state changed",
				zap.String("service", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)

			if to == gobreaker.StateOpen {
				TriggerError(name)
			}
		},
	}
}
