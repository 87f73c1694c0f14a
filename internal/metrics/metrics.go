// Package metrics exposes Prometheus collectors for the bot.
// All recording methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups the bot's collectors.
type Metrics struct {
	messages      *prometheus.CounterVec
	commands      *prometheus.CounterVec
	apiCalls      *prometheus.CounterVec
	responseTime  *prometheus.HistogramVec
	uniqueUsers   prometheus.Gauge
	rateLimitHits prometheus.Counter
	relayCalls    *prometheus.CounterVec

	registry *prometheus.Registry
	mu       sync.Mutex
	users    map[int64]struct{}
}

// New creates the collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_messages_total",
			Help: "Total number of messages received by the bot",
		}, []string{"type"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_commands_total",
			Help: "Total number of commands received",
		}, []string{"command"}),
		apiCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "llm_api_calls_total",
			Help: "Total number of calls to the LLM API",
		}, []string{"endpoint", "status"}),
		responseTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "bot_response_time_seconds",
			Help:    "Response time of the bot in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		uniqueUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bot_unique_users",
			Help: "Number of unique users interacting with the bot",
		}),
		rateLimitHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bot_rate_limit_hits_total",
			Help: "Number of times users hit the rate limit",
		}),
		relayCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bot_api_calls_total",
			Help: "Number of calls to the bot REST API",
		}, []string{"endpoint", "status"}),
		registry: reg,
		users:    make(map[int64]struct{}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.messages, m.commands, m.apiCalls, m.responseTime,
		m.uniqueUsers, m.rateLimitHits, m.relayCalls,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Message counts an inbound message of the given type (text, document, photo, command, callback).
func (m *Metrics) Message(kind string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind).Inc()
}

// Command counts a bot command.
func (m *Metrics) Command(name string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(name).Inc()
}

// APICall counts a knowledge service call by outcome.
func (m *Metrics) APICall(endpoint string, err error) {
	if m == nil {
		return
	}
	m.apiCalls.WithLabelValues(endpoint, status(err)).Inc()
}

// ObserveSince records the time elapsed since start for operation.
func (m *Metrics) ObserveSince(operation string, start time.Time) {
	if m == nil {
		return
	}
	m.responseTime.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// User records that a user interacted with the bot.
func (m *Metrics) User(id int64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, seen := m.users[id]; seen {
		return
	}
	m.users[id] = struct{}{}
	m.uniqueUsers.Set(float64(len(m.users)))
}

// RateLimited counts a rejected admission.
func (m *Metrics) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimitHits.Inc()
}

// Relay counts a staff relay API call by outcome.
func (m *Metrics) Relay(endpoint string, err error) {
	if m == nil {
		return
	}
	m.relayCalls.WithLabelValues(endpoint, status(err)).Inc()
}

func status(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}
