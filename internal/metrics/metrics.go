// Package metrics holds the Prometheus collectors for the ingestion service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	// Connections currently open, by endpoint (video, mic, system, chat).
	Connections *prometheus.GaugeVec
	Handshakes  *prometheus.CounterVec
	Chunks      *prometheus.CounterVec
	Bytes       *prometheus.CounterVec
	StoreErrors *prometheus.CounterVec
	ChatTurns   *prometheus.CounterVec
	Meetings    *prometheus.CounterVec
	// ProcessDropped counts chunks stored but skipped by a saturated processor.
	ProcessDropped *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meetstream_connections",
			Help: "Open meeting connections by endpoint.",
		}, []string{"endpoint"}),
		Handshakes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetstream_handshakes_total",
			Help: "Connection handshakes by endpoint and result.",
		}, []string{"endpoint", "result"}),
		Chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetstream_chunks_total",
			Help: "Chunks appended to stream buffers.",
		}, []string{"stream"}),
		Bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetstream_chunk_bytes_total",
			Help: "Bytes appended to stream buffers.",
		}, []string{"stream"}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetstream_store_errors_total",
			Help: "Failed session state or record operations.",
		}, []string{"op"}),
		ChatTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetstream_chat_turns_total",
			Help: "Chat transcript turns by speaker.",
		}, []string{"speaker"}),
		Meetings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetstream_meetings_total",
			Help: "Meeting lifecycle events.",
		}, []string{"event"}),
		ProcessDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "meetstream_process_dropped_total",
			Help: "Stored chunks not handed to the processor because its queue was full.",
		}, []string{"stream"}),
	}
	reg.MustRegister(m.Connections, m.Handshakes, m.Chunks, m.Bytes, m.StoreErrors, m.ChatTurns, m.Meetings, m.ProcessDropped)
	return m
}

// NewNop returns collectors registered with a private registry, for tests and tools.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
