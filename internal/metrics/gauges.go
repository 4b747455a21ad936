// =============================================================================
// 文件: internal/metrics/gauges.go
// 描述: 会话实时埋点指标（Counter/Gauge/Histogram），实现 client.Observer
// =============================================================================
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/rtpclient/internal/client"
	"github.com/mrcgq/rtpclient/internal/peer"
)

const namespace = "rtpmidi"

var _ client.Observer = (*SessionMetrics)(nil)

// SessionMetrics 会话指标集合
type SessionMetrics struct {
	// 连接相关
	ConnectAttempts *prometheus.CounterVec
	Connections     *prometheus.CounterVec
	Disconnects     *prometheus.CounterVec

	// 延迟相关
	LatencyHist *prometheus.HistogramVec
	LastLatency *prometheus.GaugeVec

	// 流量相关
	TxBytes *prometheus.CounterVec
	RxBytes *prometheus.CounterVec
}

// NewSessionMetrics 创建指标集合并注册
func NewSessionMetrics(registry prometheus.Registerer) *SessionMetrics {
	m := &SessionMetrics{
		ConnectAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Total connection attempts",
		}, []string{"peer"}),

		Connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "connections_total",
			Help:      "Total completed handshakes",
		}, []string{"peer"}),

		Disconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Total disconnect events by reason",
		}, []string{"peer", "reason"}),

		LatencyHist: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "latency_seconds",
			Help:      "Measured peer latency",
			Buckets:   []float64{.0001, .0005, .001, .0025, .005, .01, .025, .05, .1, .25},
		}, []string{"peer"}),

		LastLatency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "last_latency_seconds",
			Help:      "Most recent latency measurement",
		}, []string{"peer"}),

		TxBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_sent_total",
			Help:      "Total bytes sent",
		}, []string{"peer", "channel"}),

		RxBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bytes_received_total",
			Help:      "Total bytes received",
		}, []string{"peer", "channel"}),
	}

	registry.MustRegister(
		m.ConnectAttempts,
		m.Connections,
		m.Disconnects,
		m.LatencyHist,
		m.LastLatency,
		m.TxBytes,
		m.RxBytes,
	)

	return m
}

// ConnectAttempt 记录连接尝试
func (m *SessionMetrics) ConnectAttempt(name string) {
	m.ConnectAttempts.WithLabelValues(name).Inc()
}

// Connected 记录握手完成
func (m *SessionMetrics) Connected(name string) {
	m.Connections.WithLabelValues(name).Inc()
}

// Disconnected 记录断开
func (m *SessionMetrics) Disconnected(name string, reason peer.DisconnectReason) {
	m.Disconnects.WithLabelValues(name, reason.String()).Inc()
}

// Latency 记录延迟
func (m *SessionMetrics) Latency(name string, d time.Duration) {
	m.LatencyHist.WithLabelValues(name).Observe(d.Seconds())
	m.LastLatency.WithLabelValues(name).Set(d.Seconds())
}

func (m *SessionMetrics) BytesSent(name string, ch peer.Channel, n int) {
	m.TxBytes.WithLabelValues(name, ch.String()).Add(float64(n))
}

func (m *SessionMetrics) BytesReceived(name string, ch peer.Channel, n int) {
	m.RxBytes.WithLabelValues(name, ch.String()).Add(float64(n))
}
