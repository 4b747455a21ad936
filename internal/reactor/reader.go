// =============================================================================
// 文件: internal/reactor/reader.go
// 描述: 读就绪监听 - 每个连接一个读协程，数据报投递回事件循环
// =============================================================================
package reactor

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync/atomic"
	"time"
)

// 连续读取错误上限，超过后停止监听
const maxConsecutiveReadErrors = 16

type watcher struct {
	conn    net.Conn
	fn      ReadFunc
	removed atomic.Bool
	stop    chan struct{}
	done    chan struct{}
}

func (w *watcher) stopped() bool {
	select {
	case <-w.stop:
		return true
	default:
		return false
	}
}

// AddReader 注册读回调
func (l *Loop) AddReader(conn net.Conn, fn ReadFunc) error {
	l.mu.Lock()
	if _, exists := l.readers[conn]; exists {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, conn.LocalAddr())
	}
	w := &watcher{
		conn: conn,
		fn:   fn,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	l.readers[conn] = w
	l.mu.Unlock()

	go l.watch(w)
	return nil
}

// RemoveReader 注销读回调，返回前读协程已退出
//
// 已投递但尚未执行的数据报会被丢弃。
func (l *Loop) RemoveReader(conn net.Conn) {
	l.mu.Lock()
	w, ok := l.readers[conn]
	delete(l.readers, conn)
	l.mu.Unlock()

	if !ok {
		return
	}
	l.stopWatcher(w)
}

// Readers 当前注册的连接数
func (l *Loop) Readers() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.readers)
}

func (l *Loop) stopWatcher(w *watcher) {
	w.removed.Store(true)
	close(w.stop)
	_ = w.conn.SetReadDeadline(time.Now())
	<-w.done
}

func (l *Loop) removeAllReaders() {
	l.mu.Lock()
	all := l.readers
	l.readers = make(map[net.Conn]*watcher)
	l.mu.Unlock()

	for _, w := range all {
		l.stopWatcher(w)
	}
}

func (l *Loop) watch(w *watcher) {
	defer close(w.done)

	buf := make([]byte, MaxDatagramSize)
	failures := 0

	for {
		n, err := w.conn.Read(buf)
		if w.stopped() {
			return
		}

		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			if errors.Is(err, os.ErrDeadlineExceeded) {
				continue
			}

			failures++
			readErr := fmt.Errorf("%w: %s: %v", ErrRead, w.conn.LocalAddr(), err)
			l.Post(func() error {
				if w.removed.Load() {
					return nil
				}
				return readErr
			})
			if failures >= maxConsecutiveReadErrors {
				l.logger.Errorf("连续读取失败 %d 次，停止监听 %s", failures, w.conn.LocalAddr())
				return
			}
			continue
		}
		failures = 0

		pkt := make([]byte, n)
		copy(pkt, buf[:n])
		l.Post(func() error {
			if w.removed.Load() {
				return nil
			}
			return w.fn(pkt)
		})
	}
}
