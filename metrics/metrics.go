// Package metrics exposes prometheus counters for the audio relay. A nil
// *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "realtime_voice"

type Metrics struct {
	registry *prometheus.Registry

	sentEvents     *prometheus.CounterVec
	droppedSends   prometheus.Counter
	receivedEvents *prometheus.CounterVec
	parseErrors    prometheus.Counter

	playbackEnqueued  prometheus.Counter
	playbackOverflow  prometheus.Counter
	playbackDiscarded prometheus.Counter
	playbackWritten   prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		sentEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_sent_total",
			Help:      "Client events written to the socket, by type.",
		}, []string{"type"}),
		droppedSends: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_events_dropped_total",
			Help:      "Client events dropped because the session was not connected or the write failed.",
		}),
		receivedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_events_received_total",
			Help:      "Server events received, by type.",
		}, []string{"type"}),
		parseErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "server_event_parse_errors_total",
			Help:      "Inbound frames discarded as malformed.",
		}),
		playbackEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_enqueued_total",
			Help:      "Audio frames accepted by the playback queue.",
		}),
		playbackOverflow: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_overflow_total",
			Help:      "Oldest frames evicted because the playback queue was full.",
		}),
		playbackDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_muted_total",
			Help:      "Frames dequeued and discarded while muted.",
		}),
		playbackWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playback_frames_written_total",
			Help:      "Frames written to the output device.",
		}),
	}
	m.registry.MustRegister(
		m.sentEvents,
		m.droppedSends,
		m.receivedEvents,
		m.parseErrors,
		m.playbackEnqueued,
		m.playbackOverflow,
		m.playbackDiscarded,
		m.playbackWritten,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) EventSent(eventType string) {
	if m == nil {
		return
	}
	m.sentEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) SendDropped() {
	if m == nil {
		return
	}
	m.droppedSends.Inc()
}

func (m *Metrics) EventReceived(eventType string) {
	if m == nil {
		return
	}
	m.receivedEvents.WithLabelValues(eventType).Inc()
}

func (m *Metrics) ParseError() {
	if m == nil {
		return
	}
	m.parseErrors.Inc()
}

func (m *Metrics) FrameEnqueued(overflow bool) {
	if m == nil {
		return
	}
	m.playbackEnqueued.Inc()
	if overflow {
		m.playbackOverflow.Inc()
	}
}

func (m *Metrics) FrameDiscarded() {
	if m == nil {
		return
	}
	m.playbackDiscarded.Inc()
}

func (m *Metrics) FrameWritten() {
	if m == nil {
		return
	}
	m.playbackWritten.Inc()
}

// Router serves /metrics and /healthz.
func (m *Metrics) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	}
	return r
}
