// =============================================================================
// 文件: internal/client/handshake.go
// 描述: 连接建立 - 异步解析、套接字对建立、控制/MIDI 两阶段握手与总超时
// =============================================================================
package client

import (
	"context"
	"net/netip"

	"github.com/google/uuid"

	"github.com/mrcgq/rtpclient/internal/peer"
	"github.com/mrcgq/rtpclient/internal/transport"
)

// Connect 发起连接
//
// 立即返回。解析在独立协程中进行，结果投递回事件循环；
// 失败以 CantConnect 断开事件报告，不返回错误。
// 会话不处于空闲状态时先执行 Reset。
func (s *Session) Connect(host, service string, localPort int) {
	if s.closed {
		s.log(0, "会话已关闭，忽略连接请求 %s:%s", host, service)
		return
	}
	if s.state != StateIdle {
		s.log(2, "重新连接前重置会话 (%s)", s.state)
		s.Reset()
	}

	s.attempt++
	attempt := s.attempt
	s.attemptID = uuid.NewString()
	s.state = StateResolving
	s.observer.ConnectAttempt(s.name)
	s.log(2, "尝试连接 %s:%s attempt=%s", host, service, s.attemptID)

	dialer := s.dialer
	timeout := s.cfg.ResolveTimeout
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		cands, err := dialer.Resolve(ctx, host, service)
		s.reactor.Post(func() error {
			if s.closed || attempt != s.attempt {
				return nil
			}
			return s.establish(host, service, localPort, cands, err)
		})
	}()
}

// establish 解析完成后在事件循环中建立套接字对并启动控制通道握手
func (s *Session) establish(host, service string, localPort int, cands []netip.AddrPort, resolveErr error) error {
	if resolveErr != nil {
		s.log(0, "无法解析 %s:%s: %v", host, service, resolveErr)
		return s.failConnect()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ResolveTimeout)
	defer cancel()
	pair, err := s.dialer.DialPair(ctx, cands, localPort)
	if err != nil {
		s.log(0, "无法连接 %s:%s: %v", host, service, err)
		return s.failConnect()
	}
	if err := s.adopt(pair); err != nil {
		s.log(0, "注册套接字失败 %s: %v", s.name, err)
		return s.failConnect()
	}

	s.log(2, "控制通道 %d -> %s", s.localBasePort, s.controlAddr)

	s.connEvent = s.peer.Events().StatusChanged.Connect(s.onStatusChanged)
	s.connectTimer = s.reactor.AddTimer(s.cfg.ConnectTimeout, s.onConnectTimeout)
	s.state = StateControlPending
	return s.peer.Connect(peer.ControlChannel)
}

// adopt 接管套接字对并注册读回调
func (s *Session) adopt(pair *transport.Pair) error {
	s.control = pair.Control
	s.midi = pair.MIDI
	s.localBasePort = pair.LocalBase
	s.remoteBasePort = pair.RemoteBase
	s.controlAddr = pair.ControlAddr
	s.midiAddr = pair.MIDIAddr

	if err := s.reactor.AddReader(s.control, s.dataReady(peer.ControlChannel)); err != nil {
		return err
	}
	return s.reactor.AddReader(s.midi, s.dataReady(peer.MIDIChannel))
}

func (s *Session) failConnect() error {
	s.releaseSockets()
	s.state = StateCantConnect
	return s.peer.Events().Disconnect.Emit(peer.CantConnect)
}

// onStatusChanged 握手期间的状态推进
func (s *Session) onStatusChanged(ev peer.StatusChange) error {
	switch ev.Status {
	case peer.ControlConnected:
		if s.state != StateControlPending {
			return nil
		}
		s.state = StateControlConnected
		s.log(2, "MIDI 通道 %d -> %s", s.localBasePort+peer.MIDIPortOffset, s.midiAddr)
		if err := s.peer.Connect(peer.MIDIChannel); err != nil {
			return err
		}
		// 对端可能在 Connect 内同步完成握手
		if s.state == StateControlConnected {
			s.state = StateMIDIPending
		}
		return nil

	case peer.Connected:
		if !s.handshaking() {
			return nil
		}
		return s.connected()
	}
	return nil
}

// handshaking 只有握手阶段的状态变化才推进会话；终止状态需经 Reset
func (s *Session) handshaking() bool {
	switch s.state {
	case StateControlPending, StateControlConnected, StateMIDIPending:
		return true
	}
	return false
}

func (s *Session) connected() error {
	cancelTimer(&s.connectTimer)
	s.state = StateConnected
	s.log(1, "已连接 %s (本地 %d, 远端 %s)", s.name, s.localBasePort, s.controlAddr)
	s.observer.Connected(s.name)

	s.peer.Events().Latency.Disconnect(s.ckEvent)
	s.ckEvent = s.peer.Events().Latency.Connect(s.onLatency)
	return s.sendCK0WithTimeout()
}

// onConnectTimeout 握手总期限到达
func (s *Session) onConnectTimeout() error {
	s.connectTimer = nil
	s.log(0, "连接超时 %s (%s)", s.name, s.state)

	s.peer.Events().StatusChanged.Disconnect(s.connEvent)
	s.connEvent = 0
	s.releaseSockets()
	s.state = StateConnectTimeout
	return s.peer.Events().Disconnect.Emit(peer.ConnectTimeout)
}
