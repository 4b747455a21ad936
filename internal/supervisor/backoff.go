// =============================================================================
// 文件: internal/supervisor/backoff.go
// 描述: 重连退避 - 指数增长、上限截断、可选抖动
// =============================================================================
package supervisor

import (
	"math"
	"math/rand"
	"time"

	"github.com/mrcgq/rtpclient/internal/config"
)

// BackoffConfig 退避参数
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	// Jitter 抖动比例 (0-1)，延迟在 [d*(1-j), d*(1+j)) 内均匀分布
	Jitter float64
}

// BackoffFromConfig 由配置构造退避参数
func BackoffFromConfig(c config.ReconnectConfig) BackoffConfig {
	return BackoffConfig{
		InitialDelay: c.InitialDelay(),
		Multiplier:   c.Multiplier,
		MaxDelay:     c.MaxDelay(),
		Jitter:       c.Jitter,
	}
}

// NextBackoffDelay 第 attempt 次重试 (从 1 开始) 的延迟
func NextBackoffDelay(cfg BackoffConfig, attempt int, rng *rand.Rand) time.Duration {
	if cfg.InitialDelay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	if cfg.Multiplier < 1.0 {
		cfg.Multiplier = 1.0
	}

	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Multiplier, float64(attempt-1))
	if cfg.MaxDelay > 0 && delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	if cfg.Jitter > 0 && rng != nil {
		delay *= 1 + cfg.Jitter*(2*rng.Float64()-1)
	}
	return time.Duration(delay)
}
