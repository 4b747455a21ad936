// =============================================================================
// 文件: internal/reactor/loop.go
// 描述: 事件循环实现 - 无界任务队列 + 单协程调度
// =============================================================================
package reactor

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

var _ Reactor = (*Loop)(nil)

// Loop 事件循环
type Loop struct {
	clock   clockwork.Clock
	logger  *zap.SugaredLogger
	onError ErrorHandler

	mu      sync.Mutex
	queue   []func() error
	wake    chan struct{}
	readers map[net.Conn]*watcher
}

// Option 构造选项
type Option func(*Loop)

// WithClock 指定时钟（测试使用假时钟）
func WithClock(c clockwork.Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithLogger 指定日志
func WithLogger(log *zap.Logger) Option {
	return func(l *Loop) {
		if log != nil {
			l.logger = log.Sugar().Named("reactor")
		}
	}
}

// WithErrorHandler 指定回调错误处理函数
func WithErrorHandler(fn ErrorHandler) Option {
	return func(l *Loop) { l.onError = fn }
}

// New 创建事件循环
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:   clockwork.NewRealClock(),
		logger:  zap.NewNop().Sugar(),
		wake:    make(chan struct{}, 1),
		readers: make(map[net.Conn]*watcher),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Post 投递任务，永不阻塞
func (l *Loop) Post(fn func() error) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Run 运行事件循环直到 ctx 结束
func (l *Loop) Run(ctx context.Context) error {
	defer l.removeAllReaders()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		batch := l.drain()
		for _, fn := range batch {
			l.call(fn)
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Exec 在事件循环中执行 fn 并等待其完成
func (l *Loop) Exec(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	l.Post(func() error {
		done <- fn()
		return nil
	})

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Clock 返回事件循环使用的时钟
func (l *Loop) Clock() clockwork.Clock {
	return l.clock
}

func (l *Loop) drain() []func() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	batch := l.queue
	l.queue = nil
	return batch
}

func (l *Loop) pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) call(fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			l.report(fmt.Errorf("%w: %v", ErrPanic, r))
		}
	}()

	if err := fn(); err != nil {
		l.report(err)
	}
}

func (l *Loop) report(err error) {
	if l.onError != nil {
		l.onError(err)
		return
	}
	l.logger.Errorf("回调错误: %v", err)
}
