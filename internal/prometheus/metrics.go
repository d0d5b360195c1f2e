package prometheus

import "github.com/prometheus/client_golang/prometheus"

const (
	cycleDurationBucketStart  = 0.05
	cycleDurationBucketFactor = 2.0
	cycleDurationBucketCount  = 12
)

const (
	gatewayDurationBucketStart  = 0.1
	gatewayDurationBucketFactor = 2.0
	gatewayDurationBucketCount  = 10
)

var CycleDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Name: "dialer_cycle_duration_seconds",
		Help: "Time taken by one scheduling cycle",
		Buckets: prometheus.ExponentialBuckets(
			cycleDurationBucketStart,
			cycleDurationBucketFactor,
			cycleDurationBucketCount,
		),
	},
)

var CycleErrors = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dialer_cycle_errors_total",
		Help: "Scheduling cycles aborted by an error",
	},
)

var DispatchTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dialer_dispatch_total",
		Help: "Dispatch attempts by outcome",
	},
	[]string{"outcome"},
)

var DispatchInFlight = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "dialer_dispatch_in_flight",
		Help: "Submissions currently holding a dispatch slot",
	},
)

var GatewayRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name: "dialer_gateway_request_duration_seconds",
		Help: "Time taken by provider gateway requests",
		Buckets: prometheus.ExponentialBuckets(
			gatewayDurationBucketStart,
			gatewayDurationBucketFactor,
			gatewayDurationBucketCount,
		),
	},
	[]string{"operation"},
)

var CallTransitions = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dialer_call_transitions_total",
		Help: "Persisted call status changes by target status",
	},
	[]string{"status"},
)

var MinioOperationDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "dialer_minio_operation_duration_seconds",
		Help:    "Time taken by archive uploads",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"operation"},
)

var KafkaMessagesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dialer_kafka_messages_total",
		Help: "Kafka publishes by topic and outcome",
	},
	[]string{"topic", "outcome"},
)

func init() {
	prometheus.MustRegister(CycleDuration)
	prometheus.MustRegister(CycleErrors)
	prometheus.MustRegister(DispatchTotal)
	prometheus.MustRegister(DispatchInFlight)
	prometheus.MustRegister(GatewayRequestDuration)
	prometheus.MustRegister(CallTransitions)
	prometheus.MustRegister(MinioOperationDuration)
	prometheus.MustRegister(KafkaMessagesTotal)
}
