// =============================================================================
// 文件: internal/reactor/types.go
// 描述: 事件循环接口定义 - 读就绪回调、可取消定时器、任务投递
// =============================================================================
package reactor

import (
	"errors"
	"net"
	"time"
)

// MaxDatagramSize 单个数据报读取上限
const MaxDatagramSize = 1500

var (
	ErrAlreadyRegistered = errors.New("reactor: 连接已注册")
	ErrRead              = errors.New("reactor: 读取失败")
	ErrPanic             = errors.New("reactor: 回调 panic")
)

// ReadFunc 数据报到达回调，在事件循环协程中执行
type ReadFunc func(data []byte) error

// Timer 可取消定时器
type Timer interface {
	// Cancel 取消定时器；返回 true 表示本次取消阻止了回调执行
	Cancel() bool
}

// Reactor 单协程事件循环
//
// 所有回调在同一协程中顺序执行，回调之间无需加锁。
type Reactor interface {
	AddReader(conn net.Conn, fn ReadFunc) error
	RemoveReader(conn net.Conn)
	AddTimer(d time.Duration, fn func() error) Timer
	Post(fn func() error)
}

// ErrorHandler 回调错误处理
type ErrorHandler func(err error)
