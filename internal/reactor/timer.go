// =============================================================================
// 文件: internal/reactor/timer.go
// 描述: 可取消定时器 - 时钟到期后向事件循环投递，执行前检查取消标记
// =============================================================================
package reactor

import (
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
)

type timer struct {
	t         clockwork.Timer
	cancelled atomic.Bool
	fired     atomic.Bool
}

// AddTimer 注册一次性定时器
//
// 时钟到期与取消可能交错：到期回调只负责投递，真正执行在事件循环中，
// 且执行前检查取消标记，因此在事件循环中调用 Cancel 后回调一定不会执行。
func (l *Loop) AddTimer(d time.Duration, fn func() error) Timer {
	tm := &timer{}
	tm.t = l.clock.AfterFunc(d, func() {
		l.Post(func() error {
			if tm.cancelled.Load() {
				return nil
			}
			if !tm.fired.CompareAndSwap(false, true) {
				return nil
			}
			return fn()
		})
	})
	return tm
}

// Cancel 取消定时器
func (tm *timer) Cancel() bool {
	if tm.fired.Load() {
		return false
	}
	if !tm.cancelled.CompareAndSwap(false, true) {
		return false
	}
	tm.t.Stop()
	return true
}
