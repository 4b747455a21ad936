// =============================================================================
// 文件: internal/metrics/server.go
// 描述: 指标 HTTP 服务 - Prometheus 指标、目标状态、健康/存活/就绪探针
//       存活以事件循环心跳为准，就绪要求至少一个目标已连接
// =============================================================================
package metrics

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mrcgq/rtpclient/internal/config"
)

// Version 健康检查中报告的版本
const Version = "1.0.0"

// 健康状态取值
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// DefaultLivenessWindow 心跳超过该期限未更新即视为事件循环停滞
const DefaultLivenessWindow = 5 * time.Second

// TargetsPath 目标状态端点
const TargetsPath = "/targets"

// HealthStatus 健康状态，Components 以目标名为键
type HealthStatus struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version"`
	Uptime     time.Duration              `json:"uptime"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth 单个目标的健康状态
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// MetricsServer 指标服务
type MetricsServer struct {
	cfg      config.MetricsConfig
	registry *prometheus.Registry
	stats    SupervisorStats
	health   func() HealthStatus
	logger   *zap.SugaredLogger

	window    time.Duration
	heartbeat atomic.Int64 // UnixNano，0 表示事件循环尚未启动

	mu  sync.Mutex
	srv *http.Server
	ln  net.Listener
}

// NewMetricsServer 创建指标服务
//
// stats 不为空时注册会话管理器收集器并提供目标状态端点；
// health 为空时健康检查恒为 healthy。
func NewMetricsServer(cfg config.MetricsConfig, stats SupervisorStats, health func() HealthStatus, log *zap.Logger) *MetricsServer {
	if log == nil {
		log = zap.NewNop()
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		registry.MustRegister(NewSupervisorCollector(stats))
	}

	return &MetricsServer{
		cfg:      cfg,
		registry: registry,
		stats:    stats,
		health:   health,
		logger:   log.Sugar().Named("metrics"),
		window:   DefaultLivenessWindow,
	}
}

// Registry 会话指标注册到这里
func (s *MetricsServer) Registry() *prometheus.Registry {
	return s.registry
}

// SetLivenessWindow 设置心跳期限，需在 Start 之前调用
func (s *MetricsServer) SetLivenessWindow(d time.Duration) {
	if d > 0 {
		s.window = d
	}
}

// Heartbeat 由事件循环周期调用
func (s *MetricsServer) Heartbeat() {
	s.heartbeat.Store(time.Now().UnixNano())
}

func (s *MetricsServer) alive() bool {
	last := s.heartbeat.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) <= s.window
}

func (s *MetricsServer) evaluate() HealthStatus {
	if s.health == nil {
		return HealthStatus{Status: StatusHealthy, Timestamp: time.Now(), Version: Version}
	}
	return s.health()
}

func (s *MetricsServer) routes() *http.ServeMux {
	mux := http.NewServeMux()

	hp := s.cfg.HealthPath
	mux.HandleFunc(hp, s.serveHealth)
	mux.HandleFunc(hp+"/live", s.serveLive)
	mux.HandleFunc(hp+"/ready", s.serveReady)
	if s.stats != nil {
		mux.HandleFunc(TargetsPath, s.serveTargets)
	}

	mux.Handle(s.cfg.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
		Registry:          s.registry,
	}))

	if s.cfg.EnablePprof {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	return mux
}

// Start 绑定监听地址并在后台提供服务，绑定失败时返回错误
func (s *MetricsServer) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Listen)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:      s.routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	s.mu.Lock()
	s.ln, s.srv = ln, srv
	s.mu.Unlock()

	s.logger.Infof("指标服务监听 %s", ln.Addr())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("指标服务异常退出: %v", err)
		}
	}()
	return nil
}

// Addr 实际监听地址，未启动时为空
func (s *MetricsServer) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Stop 停止服务，最多等待 5 秒
func (s *MetricsServer) Stop() {
	s.mu.Lock()
	srv := s.srv
	s.mu.Unlock()
	if srv == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		s.logger.Debugf("关闭指标服务: %v", err)
	}
}

// =============================================================================
// 处理函数
// =============================================================================

// serveHealth 无一目标连接时返回 503
func (s *MetricsServer) serveHealth(w http.ResponseWriter, r *http.Request) {
	status := s.evaluate()
	code := http.StatusOK
	if status.Status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	s.writeJSON(w, code, status)
}

func (s *MetricsServer) serveLive(w http.ResponseWriter, r *http.Request) {
	if !s.alive() {
		http.Error(w, "STALLED", http.StatusServiceUnavailable)
		return
	}
	w.Write([]byte("OK"))
}

func (s *MetricsServer) serveReady(w http.ResponseWriter, r *http.Request) {
	switch s.evaluate().Status {
	case StatusHealthy, StatusDegraded:
		w.Write([]byte("READY"))
	default:
		http.Error(w, "NOT READY", http.StatusServiceUnavailable)
	}
}

func (s *MetricsServer) serveTargets(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.stats.GetTargetStats())
}

func (s *MetricsServer) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugf("写入响应: %v", err)
	}
}
