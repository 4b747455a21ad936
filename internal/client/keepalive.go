// =============================================================================
// 文件: internal/client/keepalive.go
// 描述: 延迟探测保活 - 每次 CK0 都有回复期限，前几轮快速探测，之后慢速
// =============================================================================
package client

import (
	"time"

	"github.com/mrcgq/rtpclient/internal/peer"
	"github.com/mrcgq/rtpclient/internal/reactor"
)

// sendCK0WithTimeout 先布置回复期限再发送探测，避免同步回复先于期限到达
func (s *Session) sendCK0WithTimeout() error {
	cancelTimer(&s.ckTimeout)
	s.ckTimeout = s.reactor.AddTimer(s.cfg.CKTimeout, s.onCKTimeout)
	return s.peer.SendCK0()
}

// onLatency 收到探测回复
func (s *Session) onLatency(d time.Duration) error {
	if s.state != StateConnected {
		return nil
	}
	cancelTimer(&s.ckTimeout)
	s.latency.update(d)
	s.observer.Latency(s.name, d)

	next := s.cfg.CKSteadyInterval
	if s.timerState < s.cfg.CKFastRounds {
		next = s.cfg.CKFastInterval
		s.timerState++
	}
	s.log(2, "延迟 %s, %s 后再次探测 (第 %d 轮)", d, next, s.timerState)

	cancelTimer(&s.timerCK)
	s.timerCK = s.reactor.AddTimer(next, func() error {
		s.timerCK = nil
		return s.sendCK0WithTimeout()
	})
	return nil
}

// onCKTimeout 探测回复超时：停止保活并释放套接字
func (s *Session) onCKTimeout() error {
	s.ckTimeout = nil
	s.log(0, "延迟探测超时 %s", s.name)

	s.revokeHandshake()
	cancelTimer(&s.timerCK)
	s.releaseSockets()
	s.state = StateCKTimeout
	return s.peer.Events().Disconnect.Emit(peer.CKTimeout)
}

func cancelTimer(t *reactor.Timer) {
	if *t != nil {
		(*t).Cancel()
		*t = nil
	}
}
