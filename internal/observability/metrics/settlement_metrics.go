package metrics

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	LedgerResultFresh     = "fresh"
	LedgerResultDuplicate = "duplicate"
	LedgerResultInFlight  = "in_flight"
	LedgerResultResumed   = "resumed"
)

const (
	CartRetryResultCleared     = "cleared"
	CartRetryResultRescheduled = "rescheduled"
	CartRetryResultAbandoned   = "abandoned"
	CartRetryResultSuperseded  = "superseded"
)

const (
	StageReserve = "reserve"
	StageApply   = "apply"
	StageCommit  = "commit"
	StageCart    = "cart"
)

// SettlementMetrics holds the prometheus collectors scraped from /metrics.
type SettlementMetrics struct {
	acks          *prometheus.CounterVec
	ledger        *prometheus.CounterVec
	storageErrors *prometheus.CounterVec
	cartRetries   *prometheus.CounterVec
	applyDuration *prometheus.HistogramVec
}

var (
	settlementMetricsOnce sync.Once
	settlementMetrics     *SettlementMetrics
)

// Settlement returns the process-wide settlement collectors.
func Settlement() *SettlementMetrics {
	return SettlementWithConfig(Config{})
}

func SettlementWithConfig(cfg Config) *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementMetrics = NewSettlementMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return settlementMetrics
}

// NewSettlementMetrics registers a fresh set of collectors on registerer.
func NewSettlementMetrics(registerer prometheus.Registerer, cfg Config) *SettlementMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabels(cfg)

	m := &SettlementMetrics{
		acks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gocart_settlement_acks_total",
			Help:        "Acknowledgements returned to payment providers.",
			ConstLabels: constLabels,
		}, []string{"provider", "outcome", "status"}),
		ledger: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gocart_settlement_ledger_total",
			Help:        "Idempotency ledger reservations by result.",
			ConstLabels: constLabels,
		}, []string{"provider", "result"}),
		storageErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gocart_settlement_storage_errors_total",
			Help:        "Storage errors by pipeline stage and low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"stage", "reason"}),
		cartRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "gocart_cart_clear_retries_total",
			Help:        "Deferred cart clear attempts by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		applyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "gocart_settlement_apply_duration_seconds",
			Help:        "Latency of applying one settlement event.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"provider", "outcome"}),
	}
	registerer.MustRegister(m.acks, m.ledger, m.storageErrors, m.cartRetries, m.applyDuration)
	return m
}

func (m *SettlementMetrics) IncAck(provider, outcome string, status int) {
	if m == nil {
		return
	}
	m.acks.WithLabelValues(label(provider), label(outcome), strconv.Itoa(status)).Inc()
}

func (m *SettlementMetrics) IncLedger(provider, result string) {
	if m == nil {
		return
	}
	m.ledger.WithLabelValues(label(provider), label(result)).Inc()
}

func (m *SettlementMetrics) IncStorageError(stage, reason string) {
	if m == nil {
		return
	}
	m.storageErrors.WithLabelValues(label(stage), label(reason)).Inc()
}

func (m *SettlementMetrics) IncCartRetry(result string) {
	if m == nil {
		return
	}
	m.cartRetries.WithLabelValues(label(result)).Inc()
}

func (m *SettlementMetrics) ObserveApply(provider, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.applyDuration.WithLabelValues(label(provider), label(outcome)).Observe(elapsed.Seconds())
}

func constLabels(cfg Config) prometheus.Labels {
	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "gocart"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	return prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}
}

func label(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return "unknown"
	}
	return value
}
