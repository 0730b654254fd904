package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ProcessingMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "processing_messages_total",
			Help: "Total number of messages run through the processing handler (count)",
		},
		[]string{"processor", "status"},
	)

	ProcessingDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "processing_duration_ms",
			Help:    "Business-logic invocation duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"processor", "status"},
	)

	DeliveryAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "delivery_attempts_total",
			Help: "Total number of output handler delivery attempts (count)",
		},
		[]string{"handler", "destination", "status"},
	)

	DeliveryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "delivery_duration_ms",
			Help:    "Output handler delivery duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
		},
		[]string{"handler", "destination", "status"},
	)

	RoutingRuleMatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "routing_rule_matches_total",
			Help: "Total number of routing rule evaluations (count)",
		},
		[]string{"rule", "result"},
	)

	RoutingActiveRules = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "routing_active_rules",
			Help: "Number of active routing rules (count)",
		},
	)

	DedupMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dedup_messages_total",
			Help: "Total number of messages checked for duplicates (count)",
		},
		[]string{"status"},
	)

	DedupDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dedup_duration_ms",
			Help:    "Duplicate check duration in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"status"},
	)

	DeadLetterMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dead_letter_messages_total",
			Help: "Total number of messages routed to the dead letter destination (count)",
		},
		[]string{"processor", "error_code"},
	)

	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open) (state code)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker (count)",
		},
		[]string{"name", "state"},
	)

	CircuitBreakerFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_failures_total",
			Help: "Total number of failures through circuit breaker (count)",
		},
		[]string{"name"},
	)

	DedupCacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dedup_cache_size",
			Help: "Number of dedup keys currently held in the cache (count)",
		},
	)

	RateLimitRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_requests_total",
			Help: "Total number of requests checked against rate limit (count)",
		},
		[]string{"status"},
	)

	FallbackUsageTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fallback_usage_total",
			Help: "Total number of times fallback strategies were used (count)",
		},
		[]string{"service", "strategy", "reason"},
	)

	TransportMessagesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_messages_written_total",
			Help: "Total number of messages written to a transport (count)",
		},
		[]string{"transport", "destination"},
	)

	TransportMessagesReadTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_messages_read_total",
			Help: "Total number of messages read from a transport (count)",
		},
		[]string{"transport", "destination"},
	)

	TransportWriteDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "transport_write_duration_ms",
			Help:    "Duration of transport writes in milliseconds",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000},
		},
		[]string{"transport", "destination"},
	)
)

func RegisterProcessingMetrics() {
	prometheus.MustRegister(ProcessingMessagesTotal)
	prometheus.MustRegister(ProcessingDuration)
	prometheus.MustRegister(DeliveryAttemptsTotal)
	prometheus.MustRegister(DeliveryDuration)
	prometheus.MustRegister(DeadLetterMessagesTotal)
}

func RegisterRoutingMetrics() {
	prometheus.MustRegister(RoutingRuleMatchesTotal)
	prometheus.MustRegister(RoutingActiveRules)
}

func RegisterDedupMetrics() {
	prometheus.MustRegister(DedupMessagesTotal)
	prometheus.MustRegister(DedupDuration)
	prometheus.MustRegister(DedupCacheSize)
	prometheus.MustRegister(FallbackUsageTotal)
}

func RegisterTransportMetrics() {
	prometheus.MustRegister(TransportMessagesWrittenTotal)
	prometheus.MustRegister(TransportMessagesReadTotal)
	prometheus.MustRegister(TransportWriteDuration)
}

func RegisterCircuitBreakerMetrics() {
	prometheus.MustRegister(CircuitBreakerState)
	prometheus.MustRegister(CircuitBreakerRequests)
	prometheus.MustRegister(CircuitBreakerFailures)
}

func RegisterManagementMetrics() {
	prometheus.MustRegister(RateLimitRequestsTotal)
}

func ObserveProcessingDuration(processor, status string, duration time.Duration) {
	ProcessingDuration.WithLabelValues(processor, status).Observe(float64(duration.Milliseconds()))
}

func ObserveDeliveryDuration(handler, destination, status string, duration time.Duration) {
	DeliveryDuration.WithLabelValues(handler, destination, status).Observe(float64(duration.Milliseconds()))
}

func ObserveDedupDuration(duration time.Duration, status string) {
	DedupDuration.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

func SetRoutingActiveRules(count int) {
	RoutingActiveRules.Set(float64(count))
}

func SetDedupCacheSize(size int) {
	DedupCacheSize.Set(float64(size))
}

func IncTransportWritten(transport, destination string) {
	TransportMessagesWrittenTotal.WithLabelValues(transport, destination).Inc()
}

func IncTransportRead(transport, destination string) {
	TransportMessagesReadTotal.WithLabelValues(transport, destination).Inc()
}

func ObserveTransportWriteDuration(transport, destination string, duration time.Duration) {
	TransportWriteDuration.WithLabelValues(transport, destination).Observe(float64(duration.Milliseconds()))
}
