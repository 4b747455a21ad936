// =============================================================================
// 文件: internal/supervisor/supervisor.go
// 描述: 会话管理器 - 运行事件循环，每个目标一个会话，断开后按退避重连
// =============================================================================
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/rtpclient/internal/client"
	"github.com/mrcgq/rtpclient/internal/config"
	"github.com/mrcgq/rtpclient/internal/metrics"
	"github.com/mrcgq/rtpclient/internal/peer"
	"github.com/mrcgq/rtpclient/internal/reactor"
	"github.com/mrcgq/rtpclient/internal/transport"
)

// 快照刷新周期
const snapshotInterval = time.Second

// 心跳随快照刷新，连续错过数次视为事件循环停滞
const livenessWindow = 5 * snapshotInterval

// 关闭时等待告别发送完成的期限
const shutdownTimeout = 5 * time.Second

// PeerFactory 为目标创建对端
type PeerFactory func(target config.TargetConfig) peer.Peer

// Option 构造选项
type Option func(*Manager)

// WithClock 指定时钟
func WithClock(c clockwork.Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRand 指定退避抖动随机源
func WithRand(r *rand.Rand) Option {
	return func(m *Manager) { m.rng = r }
}

// WithEstablisher 替换地址解析与建链实现
func WithEstablisher(e client.Establisher) Option {
	return func(m *Manager) { m.dialer = e }
}

// Manager 会话管理器
type Manager struct {
	cfg     *config.Config
	clock   clockwork.Clock
	rng     *rand.Rand
	dialer  client.Establisher
	backoff BackoffConfig
	logger  *zap.SugaredLogger

	loop    *reactor.Loop
	targets []*target

	server   *metrics.MetricsServer
	observer *metrics.SessionMetrics

	// 以下字段跨协程读取
	mu       sync.RWMutex
	started  time.Time
	snapshot []TargetSnapshot
}

// target 单个目标的运行状态，只在事件循环中访问
type target struct {
	cfg      config.TargetConfig
	session  *client.Session
	attempts int
	retry    reactor.Timer
	last     string
	stopped  bool
}

// New 创建会话管理器
func New(cfg *config.Config, factory PeerFactory, log *zap.Logger, opts ...Option) (*Manager, error) {
	if cfg == nil || factory == nil {
		return nil, errors.New("supervisor: 配置与对端工厂不能为空")
	}
	if log == nil {
		log = zap.NewNop()
	}

	m := &Manager{
		cfg:     cfg,
		clock:   clockwork.NewRealClock(),
		backoff: BackoffFromConfig(cfg.Reconnect),
		logger:  log.Sugar().Named("supervisor"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.rng == nil {
		m.rng = rand.New(rand.NewSource(m.clock.Now().UnixNano()))
	}
	if m.dialer == nil {
		m.dialer = transport.NewDialer(transport.Options{
			ReadBufferSize:  cfg.Transport.ReadBuffer,
			WriteBufferSize: cfg.Transport.WriteBuffer,
			DSCP:            cfg.Transport.DSCP,
			ResolveTimeout:  cfg.Session.ResolveTimeout(),
		}, log)
	}

	m.loop = reactor.New(
		reactor.WithClock(m.clock),
		reactor.WithLogger(log),
		reactor.WithErrorHandler(func(err error) {
			m.log(0, "事件循环回调错误: %v", err)
		}),
	)

	if cfg.Metrics.Enabled {
		m.server = metrics.NewMetricsServer(cfg.Metrics, m, m.health, log)
		m.server.SetLivenessWindow(livenessWindow)
		m.observer = metrics.NewSessionMetrics(m.server.Registry())
	}

	sessionCfg := client.Config{
		ConnectTimeout:   cfg.Session.ConnectTimeout(),
		CKTimeout:        cfg.Session.CKTimeout(),
		CKFastInterval:   cfg.Session.CKFastInterval(),
		CKFastRounds:     cfg.Session.CKFastRounds,
		CKSteadyInterval: cfg.Session.CKSteadyInterval(),
		ResolveTimeout:   cfg.Session.ResolveTimeout(),
	}

	for _, tc := range cfg.Targets {
		p := factory(tc)
		if p == nil {
			return nil, fmt.Errorf("supervisor: 目标 %s 的对端为空", tc.Name)
		}

		tg := &target{cfg: tc}
		tg.session = client.New(tc.Name, p, m.loop, sessionCfg, log)
		tg.session.SetDialer(m.dialer)
		if m.observer != nil {
			tg.session.SetObserver(m.observer)
		}

		p.Events().Disconnect.Connect(func(r peer.DisconnectReason) error {
			return m.onDisconnect(tg, r)
		})
		p.Events().StatusChanged.Connect(func(ev peer.StatusChange) error {
			if ev.Status == peer.Connected {
				tg.attempts = 0
				// 会话自身的处理函数在本函数之后执行
				m.loop.Post(func() error {
					m.publish()
					return nil
				})
			}
			return nil
		})

		m.targets = append(m.targets, tg)
	}

	m.snapshot = m.collect()
	return m, nil
}

// Run 运行事件循环与指标服务，直到 ctx 结束
//
// 结束时先在事件循环中关闭全部会话（发送告别），再停止事件循环。
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.started = m.clock.Now()
	m.mu.Unlock()

	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()

	g, gctx := errgroup.WithContext(ctx)

	m.loop.Post(func() error {
		for _, tg := range m.targets {
			m.connect(tg)
		}
		m.schedulePublish()
		return nil
	})

	g.Go(func() error {
		if err := m.loop.Run(loopCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := m.loop.Exec(sctx, m.shutdown)
		stopLoop()
		return err
	})

	if m.server != nil {
		g.Go(func() error {
			if err := m.server.Start(gctx); err != nil {
				return fmt.Errorf("启动指标服务失败: %w", err)
			}
			<-gctx.Done()
			m.server.Stop()
			return nil
		})
	}

	m.log(1, "会话管理器启动, 目标数 %d", len(m.targets))
	err := g.Wait()
	m.log(1, "会话管理器已停止")
	return err
}

// MetricsAddr 指标服务实际监听地址，未启用时为空
func (m *Manager) MetricsAddr() string {
	if m.server == nil {
		return ""
	}
	return m.server.Addr()
}

// connect 发起连接
func (m *Manager) connect(tg *target) {
	if tg.stopped {
		return
	}
	tg.session.Connect(tg.cfg.Host, tg.cfg.Port, tg.cfg.LocalPort)
	m.publish()
}

// onDisconnect 会话断开：重置会话并按退避安排重连
func (m *Manager) onDisconnect(tg *target, reason peer.DisconnectReason) error {
	tg.last = reason.String()
	if tg.stopped {
		return nil
	}

	tg.session.Reset()
	if tg.retry != nil {
		tg.retry.Cancel()
		tg.retry = nil
	}

	if !m.cfg.Reconnect.Enabled {
		m.log(1, "目标 %s 断开 (%s)，未启用重连", tg.cfg.Name, reason)
		m.publish()
		return nil
	}

	tg.attempts++
	delay := NextBackoffDelay(m.backoff, tg.attempts, m.rng)
	m.log(1, "目标 %s 断开 (%s)，%s 后第 %d 次重连", tg.cfg.Name, reason, delay, tg.attempts)

	tg.retry = m.loop.AddTimer(delay, func() error {
		tg.retry = nil
		m.connect(tg)
		return nil
	})
	m.publish()
	return nil
}

// shutdown 关闭全部会话，告别发送失败只记录日志
func (m *Manager) shutdown() error {
	for _, tg := range m.targets {
		tg.stopped = true
		if tg.retry != nil {
			tg.retry.Cancel()
			tg.retry = nil
		}
		if err := tg.session.Close(); err != nil {
			m.log(0, "关闭会话 %s: %v", tg.cfg.Name, err)
		}
	}
	m.publish()
	return nil
}

// log 0=错误 1=信息 2=调试
func (m *Manager) log(level int, format string, args ...interface{}) {
	switch level {
	case 0:
		m.logger.Errorf(format, args...)
	case 1:
		m.logger.Infof(format, args...)
	default:
		m.logger.Debugf(format, args...)
	}
}
