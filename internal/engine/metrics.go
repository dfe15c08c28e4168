package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Latency: сколько заняла обработка фазы (все оценщики фазы)
	PhaseDuration *prometheus.HistogramVec

	// Traffic: общее кол-во транзакций
	TotalTransactions prometheus.Counter

	// Итоговые решения по транзакциям
	Interventions *prometheus.CounterVec

	// Errors: классификация отказов
	ErrorTotal *prometheus.CounterVec

	// Saturation: состояние Circuit Breaker (0 - closed, 1 - half-open, 2 - open)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge

	reg prometheus.Registerer
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		PhaseDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "waf_phase_duration_seconds",
			Help:    "Histogram of per-phase evaluation latencies.",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		}, []string{"phase"}),

		TotalTransactions: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "waf_transactions_total",
			Help: "Total number of inspected transactions.",
		}),

		Interventions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "waf_interventions_total",
			Help: "Final decisions by action and phase.",
		}, []string{"action", "phase"}),

		ErrorTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "waf_errors_total",
			Help: "Total number of errors by type.",
		}, []string{"type"}), // типы: evaluator, allocation, merge, body_read

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "waf_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=half-open, 2=open).",
		}, []string{"evaluator"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "waf_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),

		reg: reg,
	}
}

// TrackLiveRecords публикует число неосвобождённых записей вмешательства (поиск утечек).
func (m *Metrics) TrackLiveRecords(live func() int64) {
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Name: "waf_intervention_records_live",
		Help: "Intervention records created and not yet released.",
	}, func() float64 { return float64(live()) })
}
