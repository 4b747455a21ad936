// =============================================================================
// 文件: internal/metrics/collectors.go
// 描述: Prometheus 指标收集器定义
// =============================================================================
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mrcgq/rtpclient/internal/client"
)

// =============================================================================
// Supervisor 收集器
// =============================================================================

// SupervisorStats 会话管理器统计数据接口
type SupervisorStats interface {
	GetTargetStats() []TargetStat
	GetUptimeSeconds() float64
}

// TargetStat 单个目标的统计数据
type TargetStat struct {
	Name           string       `json:"name"`
	State          client.State `json:"state"`
	Attempts       int          `json:"attempts"`
	TimerState     int          `json:"ck_fast_rounds"`
	LocalBasePort  int          `json:"local_base_port"`
	RemoteBasePort int          `json:"remote_base_port"`

	// 平滑延迟与抖动，尚无探测回复时为零
	SmoothedLatency time.Duration `json:"smoothed_latency"`
	LatencyJitter   time.Duration `json:"latency_jitter"`
}

// SupervisorCollector 会话管理器指标收集器
type SupervisorCollector struct {
	statsProvider SupervisorStats

	// 描述符
	stateDesc      *prometheus.Desc
	attemptsDesc   *prometheus.Desc
	timerStateDesc *prometheus.Desc
	localPortDesc  *prometheus.Desc
	remotePortDesc *prometheus.Desc
	srttDesc       *prometheus.Desc
	jitterDesc     *prometheus.Desc
	targetsDesc    *prometheus.Desc
	uptimeDesc     *prometheus.Desc
}

// NewSupervisorCollector 创建会话管理器收集器
func NewSupervisorCollector(provider SupervisorStats) *SupervisorCollector {
	subsystem := "supervisor"

	return &SupervisorCollector{
		statsProvider: provider,

		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "target_state"),
			"Current session state per target (1 = active)",
			[]string{"target", "state"}, nil,
		),
		attemptsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "reconnect_attempts"),
			"Consecutive reconnect attempts since last successful handshake",
			[]string{"target"}, nil,
		),
		timerStateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "ck_fast_rounds"),
			"Completed fast latency probe rounds",
			[]string{"target"}, nil,
		),
		localPortDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "local_base_port"),
			"Local control port (0 = not bound)",
			[]string{"target"}, nil,
		),
		remotePortDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "remote_base_port"),
			"Remote control port (0 = not defined)",
			[]string{"target"}, nil,
		),
		srttDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "smoothed_latency_seconds"),
			"Smoothed latency probe round trip",
			[]string{"target"}, nil,
		),
		jitterDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "latency_jitter_seconds"),
			"Mean deviation of latency probe round trip",
			[]string{"target"}, nil,
		),
		targetsDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "targets"),
			"Number of configured targets",
			nil, nil,
		),
		uptimeDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "uptime_seconds"),
			"Supervisor uptime in seconds",
			nil, nil,
		),
	}
}

// Describe 实现 prometheus.Collector
func (c *SupervisorCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateDesc
	ch <- c.attemptsDesc
	ch <- c.timerStateDesc
	ch <- c.localPortDesc
	ch <- c.remotePortDesc
	ch <- c.srttDesc
	ch <- c.jitterDesc
	ch <- c.targetsDesc
	ch <- c.uptimeDesc
}

// Collect 实现 prometheus.Collector
func (c *SupervisorCollector) Collect(ch chan<- prometheus.Metric) {
	stats := c.statsProvider.GetTargetStats()

	for _, t := range stats {
		// 状态 (one-hot)
		for _, st := range client.States() {
			val := 0.0
			if st == t.State {
				val = 1.0
			}
			ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, val, t.Name, st.String())
		}

		ch <- prometheus.MustNewConstMetric(c.attemptsDesc, prometheus.GaugeValue,
			float64(t.Attempts), t.Name)
		ch <- prometheus.MustNewConstMetric(c.timerStateDesc, prometheus.GaugeValue,
			float64(t.TimerState), t.Name)
		ch <- prometheus.MustNewConstMetric(c.localPortDesc, prometheus.GaugeValue,
			float64(t.LocalBasePort), t.Name)
		ch <- prometheus.MustNewConstMetric(c.remotePortDesc, prometheus.GaugeValue,
			float64(t.RemoteBasePort), t.Name)
		ch <- prometheus.MustNewConstMetric(c.srttDesc, prometheus.GaugeValue,
			t.SmoothedLatency.Seconds(), t.Name)
		ch <- prometheus.MustNewConstMetric(c.jitterDesc, prometheus.GaugeValue,
			t.LatencyJitter.Seconds(), t.Name)
	}

	ch <- prometheus.MustNewConstMetric(c.targetsDesc, prometheus.GaugeValue, float64(len(stats)))
	ch <- prometheus.MustNewConstMetric(c.uptimeDesc, prometheus.GaugeValue,
		c.statsProvider.GetUptimeSeconds())
}
