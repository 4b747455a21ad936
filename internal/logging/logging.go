// =============================================================================
// 文件: internal/logging/logging.go
// 描述: 日志初始化 - zap 生产/控制台配置，环境变量可覆盖级别与格式
// =============================================================================
package logging

import (
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	EnvLogLevel  = "RTPCLIENT_LOG_LEVEL"
	EnvLogFormat = "RTPCLIENT_LOG_FORMAT"
)

// Options 日志选项
type Options struct {
	Level  string // debug, info, warn, error
	Format string // console, json
}

// New 创建日志器，环境变量优先于传入的选项
func New(level, format string) (*zap.Logger, error) {
	opts := Options{Level: level, Format: format}
	applyEnvOverrides(&opts)

	lvl, err := parseLevel(opts.Level)
	if err != nil {
		return nil, err
	}

	var cfg zap.Config
	switch strings.ToLower(opts.Format) {
	case "", "console":
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
	case "json":
		cfg = zap.NewProductionConfig()
	default:
		return nil, fmt.Errorf("日志格式无效: %s", opts.Format)
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

func applyEnvOverrides(opts *Options) {
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		opts.Level = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		opts.Format = v
	}
}

func parseLevel(raw string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug", "trace":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("日志级别无效: %s", raw)
	}
}
