// =============================================================================
// 文件: internal/supervisor/snapshot.go
// 描述: 状态快照 - 事件循环内采集，供健康检查与指标收集器跨协程读取
// =============================================================================
package supervisor

import (
	"time"

	"github.com/mrcgq/rtpclient/internal/client"
	"github.com/mrcgq/rtpclient/internal/metrics"
)

var _ metrics.SupervisorStats = (*Manager)(nil)

// TargetSnapshot 单个目标的状态快照
type TargetSnapshot struct {
	Name           string              `json:"name"`
	Host           string              `json:"host"`
	Port           string              `json:"port"`
	State          client.State        `json:"state"`
	Attempts       int                 `json:"attempts"`
	TimerState     int                 `json:"timer_state"`
	LocalBasePort  int                 `json:"local_base_port"`
	RemoteBasePort int                 `json:"remote_base_port"`
	Latency        client.LatencyStats `json:"latency"`
	LastDisconnect string              `json:"last_disconnect,omitempty"`
	AttemptID      string              `json:"attempt_id,omitempty"`
}

// Snapshot 返回最近一次采集的快照副本
func (m *Manager) Snapshot() []TargetSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]TargetSnapshot, len(m.snapshot))
	copy(out, m.snapshot)
	return out
}

// collect 采集当前状态，只能在事件循环中调用
func (m *Manager) collect() []TargetSnapshot {
	out := make([]TargetSnapshot, 0, len(m.targets))
	for _, tg := range m.targets {
		s := tg.session
		out = append(out, TargetSnapshot{
			Name:           tg.cfg.Name,
			Host:           tg.cfg.Host,
			Port:           tg.cfg.Port,
			State:          s.State(),
			Attempts:       tg.attempts,
			TimerState:     s.TimerState(),
			LocalBasePort:  s.LocalBasePort(),
			RemoteBasePort: s.RemoteBasePort(),
			Latency:        s.Latency(),
			LastDisconnect: tg.last,
			AttemptID:      s.AttemptID(),
		})
	}
	return out
}

func (m *Manager) publish() {
	snap := m.collect()
	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
}

// schedulePublish 周期刷新快照，保活轮数等不触发事件的字段依赖它更新
func (m *Manager) schedulePublish() {
	m.publish()
	if m.server != nil {
		m.server.Heartbeat()
	}
	m.loop.AddTimer(snapshotInterval, func() error {
		m.schedulePublish()
		return nil
	})
}

// GetTargetStats 实现 metrics.SupervisorStats
func (m *Manager) GetTargetStats() []metrics.TargetStat {
	snap := m.Snapshot()
	out := make([]metrics.TargetStat, 0, len(snap))
	for _, t := range snap {
		out = append(out, metrics.TargetStat{
			Name:            t.Name,
			State:           t.State,
			Attempts:        t.Attempts,
			TimerState:      t.TimerState,
			LocalBasePort:   t.LocalBasePort,
			RemoteBasePort:  t.RemoteBasePort,
			SmoothedLatency: t.Latency.Smoothed,
			LatencyJitter:   t.Latency.Variance,
		})
	}
	return out
}

// GetUptimeSeconds 实现 metrics.SupervisorStats
func (m *Manager) GetUptimeSeconds() float64 {
	return m.uptime().Seconds()
}

func (m *Manager) uptime() time.Duration {
	m.mu.RLock()
	started := m.started
	m.mu.RUnlock()
	if started.IsZero() {
		return 0
	}
	return m.clock.Since(started)
}

// health 全部已连接为 healthy，部分为 degraded，无一连接为 unhealthy
func (m *Manager) health() metrics.HealthStatus {
	snap := m.Snapshot()
	status := metrics.HealthStatus{
		Timestamp:  m.clock.Now(),
		Version:    metrics.Version,
		Uptime:     m.uptime(),
		Components: make(map[string]metrics.ComponentHealth, len(snap)),
	}

	connected := 0
	for _, t := range snap {
		ch := metrics.ComponentHealth{Status: metrics.StatusHealthy}
		if t.State == client.StateConnected {
			connected++
		} else {
			ch.Status = metrics.StatusUnhealthy
			ch.Message = t.State.String()
			if t.LastDisconnect != "" {
				ch.Message += " (" + t.LastDisconnect + ")"
			}
		}
		status.Components[t.Name] = ch
	}

	switch {
	case len(snap) > 0 && connected == len(snap):
		status.Status = metrics.StatusHealthy
	case connected > 0:
		status.Status = metrics.StatusDegraded
	default:
		status.Status = metrics.StatusUnhealthy
	}
	return status
}
