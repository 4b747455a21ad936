// =============================================================================
// 文件: internal/signal/signal.go
// 描述: 事件源 - 基于令牌的订阅/撤销，避免过期订阅在重置后继续触发
// =============================================================================
package signal

import (
	"sync"

	"go.uber.org/multierr"
)

// Token 订阅令牌，零值表示未订阅
type Token uint64

// Handler 事件处理函数
type Handler[T any] func(T) error

type slot[T any] struct {
	token Token
	fn    Handler[T]
}

// Signal 单参数事件源
//
// 处理函数按订阅顺序调用。Emit 期间允许订阅或撤销，本次 Emit 使用快照。
type Signal[T any] struct {
	mu    sync.Mutex
	next  Token
	slots []slot[T]
}

// Connect 订阅事件，返回用于撤销的令牌
func (s *Signal[T]) Connect(fn Handler[T]) Token {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.next++
	s.slots = append(s.slots, slot[T]{token: s.next, fn: fn})
	return s.next
}

// Disconnect 撤销订阅，令牌未知或已撤销时返回 false
func (s *Signal[T]) Disconnect(tok Token) bool {
	if tok == 0 {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, sl := range s.slots {
		if sl.token == tok {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return true
		}
	}
	return false
}

// Emit 触发事件
func (s *Signal[T]) Emit(v T) error {
	s.mu.Lock()
	snapshot := make([]slot[T], len(s.slots))
	copy(snapshot, s.slots)
	s.mu.Unlock()

	var err error
	for _, sl := range snapshot {
		if !s.live(sl.token) {
			// 被同一轮中更早的处理函数撤销
			continue
		}
		err = multierr.Append(err, sl.fn(v))
	}
	return err
}

// Len 当前订阅数
func (s *Signal[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.slots)
}

func (s *Signal[T]) live(tok Token) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sl := range s.slots {
		if sl.token == tok {
			return true
		}
	}
	return false
}
