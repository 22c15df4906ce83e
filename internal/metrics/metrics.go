package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry 创建自定义 Prometheus Registry，并注册常用采集器
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler 返回 Prometheus 指标 HTTP 处理器
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// ProtocolMetrics 同步协议指标（发射端与接收端共用，未使用的保持为 0）
type ProtocolMetrics struct {
	PacketsSent      *prometheus.CounterVec // labels: type=RTT_REQUEST|FINAL_COMMAND|ACK, result=ok|error
	PacketsReceived  *prometheus.CounterVec // labels: type
	DecodeRejected   *prometheus.CounterVec // labels: reason
	FramesDropped    *prometheus.CounterVec // labels: reason=queue_full|rate_limited
	AcksMatched      prometheus.Counter
	AcksStale        prometheus.Counter
	HandshakeRetries *prometheus.CounterVec // labels: phase=rtt|final
	SessionOutcomes  *prometheus.CounterVec // labels: outcome=succeeded|failed
	RunsSettled      prometheus.Counter
	RTTMicros        prometheus.Histogram
	Sequences        *prometheus.CounterVec // labels: event=started|completed|preempted|deadman|stopped|duplicate
	ActiveSessions   prometheus.Gauge
}

// NewProtocolMetrics 注册并返回协议指标
func NewProtocolMetrics(reg prometheus.Registerer) *ProtocolMetrics {
	m := &ProtocolMetrics{
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlab_packets_sent_total",
			Help: "Packets handed to the radio link.",
		}, []string{"type", "result"}),
		PacketsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlab_packets_received_total",
			Help: "Structurally valid packets received.",
		}, []string{"type"}),
		DecodeRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlab_decode_rejected_total",
			Help: "Packets discarded by the codec.",
		}, []string{"reason"}),
		FramesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlab_frames_dropped_total",
			Help: "Inbound frames dropped before decoding.",
		}, []string{"reason"}),
		AcksMatched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlab_acks_matched_total",
			Help: "Acknowledgements matching an outstanding send.",
		}),
		AcksStale: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlab_acks_stale_total",
			Help: "Acknowledgements ignored as stale or duplicate.",
		}),
		HandshakeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlab_handshake_retries_total",
			Help: "Handshake attempts consumed by timeout or send failure.",
		}, []string{"phase"}),
		SessionOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlab_session_outcomes_total",
			Help: "Terminal transmitter session outcomes.",
		}, []string{"outcome"}),
		RunsSettled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "mlab_runs_settled_total",
			Help: "Runs whose sessions all reached a terminal outcome.",
		}),
		RTTMicros: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "mlab_rtt_microseconds",
			Help:    "Measured round-trip time of RTT_REQUEST handshakes.",
			Buckets: prometheus.ExponentialBuckets(500, 2, 12),
		}),
		Sequences: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mlab_sequences_total",
			Help: "Receiver execution sequence events.",
		}, []string{"event"}),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mlab_active_sessions",
			Help: "Transmitter sessions not yet terminal.",
		}),
	}
	reg.MustRegister(m.PacketsSent, m.PacketsReceived, m.DecodeRejected, m.FramesDropped,
		m.AcksMatched, m.AcksStale, m.HandshakeRetries, m.SessionOutcomes, m.RunsSettled,
		m.RTTMicros, m.Sequences, m.ActiveSessions)
	return m
}

// Sent 记录一次发送
func (m *ProtocolMetrics) Sent(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PacketsSent.WithLabelValues(kind, result).Inc()
}

// Rejected 记录一次解码拒绝
func (m *ProtocolMetrics) Rejected(reason string) {
	if m == nil {
		return
	}
	m.DecodeRejected.WithLabelValues(reason).Inc()
}

// Received 记录一次有效接收
func (m *ProtocolMetrics) Received(kind string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(kind).Inc()
}

// Dropped 记录入站丢弃
func (m *ProtocolMetrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.FramesDropped.WithLabelValues(reason).Inc()
}

// SequenceEvent 记录接收端序列事件
func (m *ProtocolMetrics) SequenceEvent(event string) {
	if m == nil {
		return
	}
	m.Sequences.WithLabelValues(event).Inc()
}
