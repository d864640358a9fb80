package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Исходы обработки доставки (значения label outcome).
const (
	OutcomeAcked        = "acked"
	OutcomeSkipped      = "skipped"
	OutcomeRequeued     = "requeued"
	OutcomeDeadLettered = "dead_lettered"
	OutcomeReturned     = "returned"
)

// Metrics — метрики воркера.
//
// Методы безопасны для nil-получателя: компоненты, которым метрики
// не переданы, просто ничего не пишут.
type Metrics struct {
	deliveries *prometheus.CounterVec
	processing prometheus.Histogram
	inFlight   prometheus.Gauge
	queueDepth *prometheus.GaugeVec
}

// NewMetrics регистрирует метрики в reg.
// Если reg == nil — используется prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "orders_worker_deliveries_total",
			Help: "Deliveries finalized by the orders worker, by outcome",
		}, []string{"outcome"}),
		processing: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "orders_worker_processing_seconds",
			Help:    "Time spent handling one delivery",
			Buckets: prometheus.DefBuckets,
		}),
		inFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "orders_worker_in_flight",
			Help: "Deliveries currently being handled",
		}),
		queueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "orders_queue_messages",
			Help: "Messages ready in a queue, sampled by the queue monitor",
		}, []string{"queue"}),
	}
}

// ObserveOutcome учитывает финальный исход доставки.
func (m *Metrics) ObserveOutcome(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.deliveries.WithLabelValues(outcome).Inc()
	m.processing.Observe(took.Seconds())
}

// DeliveryStarted увеличивает gauge доставок в работе.
func (m *Metrics) DeliveryStarted() {
	if m == nil {
		return
	}
	m.inFlight.Inc()
}

// DeliveryFinished уменьшает gauge доставок в работе.
func (m *Metrics) DeliveryFinished() {
	if m == nil {
		return
	}
	m.inFlight.Dec()
}

// SetQueueDepth записывает глубину очереди.
func (m *Metrics) SetQueueDepth(queue string, messages int) {
	if m == nil {
		return
	}
	m.queueDepth.WithLabelValues(queue).Set(float64(messages))
}

// Deliveries возвращает счётчик исходов (для тестов и диагностики).
func (m *Metrics) Deliveries() *prometheus.CounterVec {
	return m.deliveries
}

// QueueDepth возвращает gauge глубины очередей.
func (m *Metrics) QueueDepth() *prometheus.GaugeVec {
	return m.queueDepth
}
