// =============================================================================
// 文件: internal/client/teardown.go
// 描述: 会话拆除 - 断开事件处理、Reset 与 Close
// =============================================================================
package client

import (
	"go.uber.org/multierr"

	"github.com/mrcgq/rtpclient/internal/peer"
)

// onDisconnect 任何断开事件都结束当前尝试的定时器与握手订阅
//
// 该订阅在构造时建立，先于所有者的订阅执行。
func (s *Session) onDisconnect(reason peer.DisconnectReason) error {
	s.stopTimers()
	s.revokeHandshake()
	s.state = stateForReason(reason)
	s.observer.Disconnected(s.name, reason)
	s.log(1, "断开 %s: %s", s.name, reason)
	return nil
}

// Reset 取消全部定时器与订阅，关闭套接字并重置对端
//
// 任意状态下均可调用，重复调用无副作用。
func (s *Session) Reset() {
	s.log(2, "重置会话 %s", s.name)

	s.stopTimers()
	s.timerState = 0
	s.latency = LatencyStats{}
	s.revokeHandshake()
	s.remoteBasePort = 0
	s.releaseSockets()
	s.attempt++
	s.state = StateIdle
	s.peer.Reset()
}

// Close 通知远端并释放全部资源
//
// 按对端状态对仍处于连接的通道发送告别（先 MIDI 后控制），发送失败只记录日志。
func (s *Session) Close() error {
	if s.closed {
		return nil
	}

	var errs error
	status := s.peer.Status()
	if status.Has(peer.MIDIConnected) {
		s.log(2, "发送 MIDI 通道告别 %s", s.name)
		errs = multierr.Append(errs, s.peer.SendGoodbye(peer.MIDIChannel))
	}
	if status.Has(peer.ControlConnected) {
		s.log(2, "发送控制通道告别 %s", s.name)
		errs = multierr.Append(errs, s.peer.SendGoodbye(peer.ControlChannel))
	}
	if errs != nil {
		s.log(0, "告别发送失败 %s: %v", s.name, errs)
	}

	s.stopTimers()
	s.revokeHandshake()
	s.releaseSockets()
	s.peer.Events().Send.Disconnect(s.sendEvent)
	s.peer.Events().Disconnect.Disconnect(s.discEvent)
	s.sendEvent, s.discEvent = 0, 0

	s.attempt++
	s.closed = true
	s.state = StateIdle
	return errs
}

func (s *Session) stopTimers() {
	cancelTimer(&s.connectTimer)
	cancelTimer(&s.ckTimeout)
	cancelTimer(&s.timerCK)
}

func (s *Session) revokeHandshake() {
	ev := s.peer.Events()
	ev.StatusChanged.Disconnect(s.connEvent)
	ev.Latency.Disconnect(s.ckEvent)
	s.connEvent, s.ckEvent = 0, 0
}

// releaseSockets 注销读回调并关闭套接字，MIDI 先于控制
func (s *Session) releaseSockets() {
	if s.midi != nil {
		s.reactor.RemoveReader(s.midi)
		if err := s.midi.Close(); err != nil {
			s.log(2, "关闭 MIDI 套接字: %v", err)
		}
		s.midi = nil
	}
	if s.control != nil {
		s.reactor.RemoveReader(s.control)
		if err := s.control.Close(); err != nil {
			s.log(2, "关闭控制套接字: %v", err)
		}
		s.control = nil
	}
}
