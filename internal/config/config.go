// =============================================================================
// 文件: internal/config/config.go
// 描述: 配置管理 - 远端目标、会话时序、重连退避、监控
//       按扩展名选择 YAML 或 TOML，本地端口对 (P, P+1) 冲突检测
// =============================================================================
package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config 主配置
type Config struct {
	LogLevel  string `yaml:"log_level" toml:"log_level"`
	LogFormat string `yaml:"log_format" toml:"log_format"`

	Targets   []TargetConfig  `yaml:"targets" toml:"targets"`
	Session   SessionConfig   `yaml:"session" toml:"session"`
	Transport TransportConfig `yaml:"transport" toml:"transport"`
	Reconnect ReconnectConfig `yaml:"reconnect" toml:"reconnect"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// TargetConfig 远端目标
type TargetConfig struct {
	Name string `yaml:"name" toml:"name"`
	Host string `yaml:"host" toml:"host"`
	// Port 端口号或服务名
	Port      string `yaml:"port" toml:"port"`
	LocalPort int    `yaml:"local_port" toml:"local_port"` // 0 = 系统分配
}

// SessionConfig 会话时序 (毫秒)
type SessionConfig struct {
	ConnectTimeoutMs   int `yaml:"connect_timeout_ms" toml:"connect_timeout_ms"`
	CKTimeoutMs        int `yaml:"ck_timeout_ms" toml:"ck_timeout_ms"`
	CKFastIntervalMs   int `yaml:"ck_fast_interval_ms" toml:"ck_fast_interval_ms"`
	CKFastRounds       int `yaml:"ck_fast_rounds" toml:"ck_fast_rounds"`
	CKSteadyIntervalMs int `yaml:"ck_steady_interval_ms" toml:"ck_steady_interval_ms"`
	ResolveTimeoutMs   int `yaml:"resolve_timeout_ms" toml:"resolve_timeout_ms"`
}

// TransportConfig 套接字参数
type TransportConfig struct {
	ReadBuffer  int `yaml:"read_buffer" toml:"read_buffer"`
	WriteBuffer int `yaml:"write_buffer" toml:"write_buffer"`
	DSCP        int `yaml:"dscp" toml:"dscp"` // 0 = 不设置
}

// ReconnectConfig 断线重连退避
type ReconnectConfig struct {
	Enabled        bool    `yaml:"enabled" toml:"enabled"`
	InitialDelayMs int     `yaml:"initial_delay_ms" toml:"initial_delay_ms"`
	Multiplier     float64 `yaml:"multiplier" toml:"multiplier"`
	MaxDelayMs     int     `yaml:"max_delay_ms" toml:"max_delay_ms"`
	Jitter         float64 `yaml:"jitter" toml:"jitter"`
}

// MetricsConfig 监控配置
type MetricsConfig struct {
	Enabled     bool   `yaml:"enabled" toml:"enabled"`
	Listen      string `yaml:"listen" toml:"listen"`
	Path        string `yaml:"path" toml:"path"`
	HealthPath  string `yaml:"health_path" toml:"health_path"`
	EnablePprof bool   `yaml:"enable_pprof" toml:"enable_pprof"`
}

// Load 加载配置，.toml 扩展名使用 TOML，其余按 YAML 解析
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置失败: %w", err)
	}

	cfg := DefaultConfig()
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(string(data), cfg); err != nil {
			return nil, fmt.Errorf("解析配置失败: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	cfg.syncRelatedConfig()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "console",

		Session: SessionConfig{
			ConnectTimeoutMs:   20000,
			CKTimeoutMs:        5000,
			CKFastIntervalMs:   250,
			CKFastRounds:       6,
			CKSteadyIntervalMs: 10000,
			ResolveTimeoutMs:   5000,
		},

		Reconnect: ReconnectConfig{
			Enabled:        true,
			InitialDelayMs: 1000,
			Multiplier:     2.0,
			MaxDelayMs:     30000,
			Jitter:         0.2,
		},

		Metrics: MetricsConfig{
			Enabled:     false,
			Listen:      ":9105",
			Path:        "/metrics",
			HealthPath:  "/health",
			EnablePprof: false,
		},
	}
}

// Validate 验证配置
func (c *Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level 无效: %s", c.LogLevel)
	}
	switch strings.ToLower(c.LogFormat) {
	case "console", "json":
	default:
		return fmt.Errorf("log_format 无效: %s", c.LogFormat)
	}

	if err := c.validateTargets(); err != nil {
		return err
	}
	if err := c.validateSession(); err != nil {
		return err
	}

	if c.Transport.ReadBuffer < 0 || c.Transport.WriteBuffer < 0 {
		return fmt.Errorf("transport 缓冲区大小不能为负")
	}
	if c.Transport.DSCP < 0 || c.Transport.DSCP > 63 {
		return fmt.Errorf("transport.dscp 需在 0-63 之间")
	}

	if c.Reconnect.Enabled {
		r := c.Reconnect
		if r.InitialDelayMs <= 0 {
			return fmt.Errorf("reconnect.initial_delay_ms 必须大于 0")
		}
		if r.Multiplier < 1 {
			return fmt.Errorf("reconnect.multiplier 不能小于 1")
		}
		if r.MaxDelayMs < r.InitialDelayMs {
			return fmt.Errorf("reconnect.max_delay_ms (%d) 不能小于 initial_delay_ms (%d)", r.MaxDelayMs, r.InitialDelayMs)
		}
		if r.Jitter < 0 || r.Jitter > 1 {
			return fmt.Errorf("reconnect.jitter 需在 0-1 之间")
		}
	}

	if c.Metrics.Enabled {
		if _, err := parsePort(c.Metrics.Listen); err != nil {
			return fmt.Errorf("metrics.listen 端口格式错误: %w", err)
		}
		if !strings.HasPrefix(c.Metrics.Path, "/") || !strings.HasPrefix(c.Metrics.HealthPath, "/") {
			return fmt.Errorf("metrics 路径必须以 / 开头")
		}
	}

	return nil
}

// validateTargets 验证远端目标与本地端口对
func (c *Config) validateTargets() error {
	if len(c.Targets) == 0 {
		return fmt.Errorf("targets 不能为空")
	}

	names := make(map[string]bool)
	ports := make(map[int]string)

	for i, t := range c.Targets {
		if t.Name == "" {
			return fmt.Errorf("targets[%d].name 不能为空", i)
		}
		if names[t.Name] {
			return fmt.Errorf("targets 名称重复: %s", t.Name)
		}
		names[t.Name] = true

		if t.Host == "" {
			return fmt.Errorf("targets[%s].host 不能为空", t.Name)
		}
		if t.Port == "" {
			return fmt.Errorf("targets[%s].port 不能为空", t.Name)
		}
		// 数据端口 = 端口 + 1，因此端口上限为 65534
		if n, err := strconv.Atoi(t.Port); err == nil && (n < 1 || n > 65534) {
			return fmt.Errorf("targets[%s].port 需在 1-65534 之间", t.Name)
		}

		if t.LocalPort == 0 {
			continue
		}
		if t.LocalPort < 1 || t.LocalPort > 65534 {
			return fmt.Errorf("targets[%s].local_port 需在 1-65534 之间", t.Name)
		}
		for _, p := range []int{t.LocalPort, t.LocalPort + 1} {
			if existing, exists := ports[p]; exists {
				return fmt.Errorf("targets[%s].local_port 端口 (%d) 与 %s 冲突", t.Name, p, existing)
			}
			ports[p] = t.Name
		}
	}
	return nil
}

// validateSession 验证会话时序
func (c *Config) validateSession() error {
	s := c.Session
	checks := []struct {
		name  string
		value int
	}{
		{"session.connect_timeout_ms", s.ConnectTimeoutMs},
		{"session.ck_timeout_ms", s.CKTimeoutMs},
		{"session.ck_fast_interval_ms", s.CKFastIntervalMs},
		{"session.ck_steady_interval_ms", s.CKSteadyIntervalMs},
		{"session.resolve_timeout_ms", s.ResolveTimeoutMs},
	}
	for _, ch := range checks {
		if ch.value <= 0 {
			return fmt.Errorf("%s 必须大于 0", ch.name)
		}
	}
	if s.CKFastRounds < 0 {
		return fmt.Errorf("session.ck_fast_rounds 不能为负")
	}
	return nil
}

// syncRelatedConfig 同步关联配置
func (c *Config) syncRelatedConfig() {
	c.LogLevel = strings.ToLower(c.LogLevel)
	c.LogFormat = strings.ToLower(c.LogFormat)

	// 未命名目标使用 host:port
	for i := range c.Targets {
		t := &c.Targets[i]
		t.Host = strings.TrimSpace(t.Host)
		if t.Port == "" {
			t.Port = "5004"
		}
		if t.Name == "" && t.Host != "" {
			t.Name = net.JoinHostPort(t.Host, t.Port)
		}
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
	if c.Metrics.HealthPath == "" {
		c.Metrics.HealthPath = "/health"
	}
}

// parsePort 解析端口号
func parsePort(addr string) (int, error) {
	if strings.HasPrefix(addr, ":") {
		return strconv.Atoi(addr[1:])
	}
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return strconv.Atoi(addr)
	}
	return strconv.Atoi(portStr)
}

func ms(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

// ConnectTimeout 握手总期限
func (s SessionConfig) ConnectTimeout() time.Duration { return ms(s.ConnectTimeoutMs) }

// CKTimeout 探测回复期限
func (s SessionConfig) CKTimeout() time.Duration { return ms(s.CKTimeoutMs) }

func (s SessionConfig) CKFastInterval() time.Duration   { return ms(s.CKFastIntervalMs) }
func (s SessionConfig) CKSteadyInterval() time.Duration { return ms(s.CKSteadyIntervalMs) }
func (s SessionConfig) ResolveTimeout() time.Duration   { return ms(s.ResolveTimeoutMs) }

func (r ReconnectConfig) InitialDelay() time.Duration { return ms(r.InitialDelayMs) }
func (r ReconnectConfig) MaxDelay() time.Duration     { return ms(r.MaxDelayMs) }

// =============================================================================
// 配置文件示例生成
// =============================================================================

// GenerateExampleConfig 生成示例配置
func GenerateExampleConfig() string {
	return `# RTP-MIDI 客户端配置文件示例
# =============================================================================

log_level: "info"                   # 日志级别: debug, info, warn, error
log_format: "console"               # 日志格式: console, json

# 远端目标 (数据端口 = 控制端口 + 1)
targets:
  - name: "studio"
    host: "192.168.1.20"
    port: "5004"                    # 端口号或服务名
    local_port: 0                   # 0 = 系统分配
  - name: "stage"
    host: "stage.local"
    port: "5008"
    local_port: 5010                # 占用本地 5010 与 5011

# 会话时序 (毫秒)
session:
  connect_timeout_ms: 20000         # 两阶段握手总期限
  ck_timeout_ms: 5000               # 延迟探测回复期限
  ck_fast_interval_ms: 250          # 快速探测间隔
  ck_fast_rounds: 6                 # 快速探测轮数
  ck_steady_interval_ms: 10000      # 稳定探测间隔
  resolve_timeout_ms: 5000          # 地址解析期限

# 套接字参数
transport:
  read_buffer: 0                    # 0 = 系统默认
  write_buffer: 0
  dscp: 46                          # EF，0 = 不设置

# 断线重连
reconnect:
  enabled: true
  initial_delay_ms: 1000
  multiplier: 2.0
  max_delay_ms: 30000
  jitter: 0.2                       # 0-1

# 监控
metrics:
  enabled: true
  listen: ":9105"
  path: "/metrics"
  health_path: "/health"
  enable_pprof: false
`
}

// WriteExampleConfig 写入示例配置文件
func WriteExampleConfig(path string) error {
	return os.WriteFile(path, []byte(GenerateExampleConfig()), 0644)
}
