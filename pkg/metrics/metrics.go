// Package metrics 提供执行引擎的 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "trading"

// Metrics 指标集合。方法对 nil 接收者安全，测试中可直接传 nil。
type Metrics struct {
	registry *prometheus.Registry

	QuoteBarsTotal         *prometheus.CounterVec
	TickDuration           prometheus.Histogram
	SlicesTotal            prometheus.Counter
	SliceSharesTotal       prometheus.Counter
	OrdersFilledTotal      prometheus.Counter
	OrdersCreatedTotal     prometheus.Counter
	ConflictsTotal         *prometheus.CounterVec
	SliceAttemptsExhausted prometheus.Counter
	EventsPublishedTotal   *prometheus.CounterVec
	CurrentVWAP            *prometheus.GaugeVec
	HTTPRequestsTotal      *prometheus.CounterVec
	HTTPRequestDuration    *prometheus.HistogramVec
	ConsumedMessagesTotal  *prometheus.CounterVec
}

// New 创建并注册指标，每个实例拥有独立的 registry
func New(subsystem string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		QuoteBarsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "quote_bars_total",
			Help:      "Quote bars processed, by result",
		}, []string{"result"}),
		TickDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "tick_duration_seconds",
			Help:      "Time spent handling one quote bar",
			Buckets:   prometheus.DefBuckets,
		}),
		SlicesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slices_total",
			Help:      "Slices requested",
		}),
		SliceSharesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slice_shares_total",
			Help:      "Shares released through slices",
		}),
		OrdersFilledTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_filled_total",
			Help:      "Algo orders fully filled",
		}),
		OrdersCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "orders_created_total",
			Help:      "Algo orders created",
		}),
		ConflictsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "optimistic_conflicts_total",
			Help:      "Optimistic concurrency conflicts, by aggregate",
		}, []string{"aggregate"}),
		SliceAttemptsExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slice_attempts_exhausted_total",
			Help:      "Orders skipped for a tick after exhausting slice retries",
		}),
		EventsPublishedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "events_published_total",
			Help:      "Domain events handed to the event sink, by event and result",
		}, []string{"event", "result"}),
		CurrentVWAP: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "vwap",
			Help:      "Latest VWAP per symbol",
		}, []string{"symbol"}),
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		ConsumedMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "consumed_messages_total",
			Help:      "Kafka messages consumed, by topic and result",
		}, []string{"topic", "result"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.QuoteBarsTotal,
		m.TickDuration,
		m.SlicesTotal,
		m.SliceSharesTotal,
		m.OrdersFilledTotal,
		m.OrdersCreatedTotal,
		m.ConflictsTotal,
		m.SliceAttemptsExhausted,
		m.EventsPublishedTotal,
		m.CurrentVWAP,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ConsumedMessagesTotal,
	)
	return m
}

// Handler 返回 /metrics 的 HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry 返回底层 registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) ObserveQuoteBar(result string, seconds float64) {
	if m == nil {
		return
	}
	m.QuoteBarsTotal.WithLabelValues(result).Inc()
	m.TickDuration.Observe(seconds)
}

func (m *Metrics) RecordSlice(shares float64) {
	if m == nil {
		return
	}
	m.SlicesTotal.Inc()
	m.SliceSharesTotal.Add(shares)
}

func (m *Metrics) RecordFill() {
	if m == nil {
		return
	}
	m.OrdersFilledTotal.Inc()
}

func (m *Metrics) RecordOrderCreated() {
	if m == nil {
		return
	}
	m.OrdersCreatedTotal.Inc()
}

func (m *Metrics) RecordConflict(aggregate string) {
	if m == nil {
		return
	}
	m.ConflictsTotal.WithLabelValues(aggregate).Inc()
}

func (m *Metrics) RecordSliceExhausted() {
	if m == nil {
		return
	}
	m.SliceAttemptsExhausted.Inc()
}

func (m *Metrics) RecordPublish(event string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.EventsPublishedTotal.WithLabelValues(event, result).Inc()
}

func (m *Metrics) SetVWAP(symbol string, vwap float64) {
	if m == nil {
		return
	}
	m.CurrentVWAP.WithLabelValues(symbol).Set(vwap)
}

func (m *Metrics) ObserveHTTP(method, route, status string, seconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, route).Observe(seconds)
}

func (m *Metrics) RecordConsumed(topic string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ConsumedMessagesTotal.WithLabelValues(topic, result).Inc()
}
