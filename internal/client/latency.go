// =============================================================================
// 文件: internal/client/latency.go
// 描述: 延迟统计 - 平滑延迟与抖动 (RFC 6298 的 SRTT/RTTVAR 算法)
// =============================================================================
package client

import "time"

const (
	latencyAlpha = 0.125 // 平滑因子 (1/8)
	latencyBeta  = 0.25  // 方差因子 (1/4)
)

// LatencyStats 延迟探测统计，每次 Reset 清零
type LatencyStats struct {
	Latest   time.Duration `json:"latest"`
	Smoothed time.Duration `json:"smoothed"`
	// Variance 平均偏差，作为抖动指标
	Variance time.Duration `json:"variance"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Samples  uint64        `json:"samples"`
}

// update 记录一次探测回复
func (l *LatencyStats) update(sample time.Duration) {
	if sample < 0 {
		return
	}

	l.Latest = sample
	l.Samples++
	if l.Samples == 1 || sample < l.Min {
		l.Min = sample
	}
	if sample > l.Max {
		l.Max = sample
	}

	if l.Samples == 1 {
		l.Smoothed = sample
		l.Variance = sample / 2
		return
	}

	// RTTVAR = (1 - beta) * RTTVAR + beta * |SRTT - R|
	diff := l.Smoothed - sample
	if diff < 0 {
		diff = -diff
	}
	l.Variance = time.Duration(float64(l.Variance)*(1-latencyBeta) + float64(diff)*latencyBeta)

	// SRTT = (1 - alpha) * SRTT + alpha * R
	l.Smoothed = time.Duration(float64(l.Smoothed)*(1-latencyAlpha) + float64(sample)*latencyAlpha)
}
