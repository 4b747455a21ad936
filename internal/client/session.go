// =============================================================================
// 文件: internal/client/session.go
// 描述: RTP-MIDI 客户端会话 - 持有控制/MIDI 套接字对，驱动对端完成握手与保活
//       所有方法必须在事件循环协程中调用
// =============================================================================
package client

import (
	"fmt"
	"net"
	"net/netip"

	"go.uber.org/zap"

	"github.com/mrcgq/rtpclient/internal/peer"
	"github.com/mrcgq/rtpclient/internal/reactor"
	"github.com/mrcgq/rtpclient/internal/signal"
	"github.com/mrcgq/rtpclient/internal/transport"
)

// Session 单个远端的客户端会话
type Session struct {
	name     string
	peer     peer.Peer
	reactor  reactor.Reactor
	dialer   Establisher
	observer Observer
	cfg      Config
	logger   *zap.SugaredLogger

	// 套接字对
	control        *net.UDPConn
	midi           *net.UDPConn
	localBasePort  int
	remoteBasePort int
	controlAddr    netip.AddrPort
	midiAddr       netip.AddrPort

	// 定时器
	connectTimer reactor.Timer
	ckTimeout    reactor.Timer
	timerCK      reactor.Timer
	timerState   int
	latency      LatencyStats

	// 事件订阅
	connEvent signal.Token
	ckEvent   signal.Token
	sendEvent signal.Token
	discEvent signal.Token

	// attempt 每次 Connect/Reset/Close 递增，用于丢弃过期的异步解析结果
	attempt   uint64
	attemptID string
	state     State
	closed    bool
}

// New 创建会话并订阅对端的发送与断开事件
func New(name string, p peer.Peer, r reactor.Reactor, cfg Config, log *zap.Logger) *Session {
	if log == nil {
		log = zap.NewNop()
	}

	cfg = cfg.withDefaults()
	s := &Session{
		name:     name,
		peer:     p,
		reactor:  r,
		dialer:   transport.NewDialer(transport.Options{ResolveTimeout: cfg.ResolveTimeout}, log),
		observer: nopObserver{},
		cfg:      cfg,
		logger:   log.Sugar().Named("client").With("peer", name),
		state:    StateIdle,
	}

	s.sendEvent = p.Events().Send.Connect(s.sendTo)
	s.discEvent = p.Events().Disconnect.Connect(s.onDisconnect)
	return s
}

// SetDialer 替换解析与建链实现，需在 Connect 之前调用
func (s *Session) SetDialer(d Establisher) {
	if d != nil {
		s.dialer = d
	}
}

// SetObserver 设置指标回调
func (s *Session) SetObserver(o Observer) {
	if o == nil {
		o = nopObserver{}
	}
	s.observer = o
}

func (s *Session) Name() string      { return s.name }
func (s *Session) Peer() peer.Peer   { return s.peer }
func (s *Session) State() State      { return s.state }
func (s *Session) Closed() bool      { return s.closed }
func (s *Session) AttemptID() string { return s.attemptID }

// LocalBasePort 本地控制端口，未建立时为 0
func (s *Session) LocalBasePort() int { return s.localBasePort }

// RemoteBasePort 远端控制端口，Reset 后为 0
func (s *Session) RemoteBasePort() int { return s.remoteBasePort }

// ControlAddr 远端控制地址
func (s *Session) ControlAddr() netip.AddrPort { return s.controlAddr }

// MIDIAddr 远端 MIDI 地址
func (s *Session) MIDIAddr() netip.AddrPort { return s.midiAddr }

// Latency 延迟统计
func (s *Session) Latency() LatencyStats { return s.latency }

// TimerState 已完成的快速探测轮数
func (s *Session) TimerState() int { return s.timerState }

// Conns 当前打开的套接字，未打开的为 nil
func (s *Session) Conns() (control, midi *net.UDPConn) {
	return s.control, s.midi
}

// =============================================================================
// 数据收发
// =============================================================================

// sendTo 对端 Send 事件处理：按通道写入对应套接字
func (s *Session) sendTo(pkt peer.Packet) error {
	conn := s.control
	if pkt.Channel == peer.MIDIChannel {
		conn = s.midi
	}
	if conn == nil {
		return fmt.Errorf("%w: %s %s", ErrNotConnected, s.name, pkt.Channel)
	}

	n, err := conn.Write(pkt.Data)
	if err != nil {
		s.log(0, "无法发送数据到 %s:%d: %v", s.name, s.remotePort(pkt.Channel), err)
		return fmt.Errorf("%w: %s %s: %w", ErrSend, s.name, pkt.Channel, err)
	}
	if n != len(pkt.Data) {
		s.log(0, "数据未完整发送 %s:%d (%d/%d)", s.name, s.remotePort(pkt.Channel), n, len(pkt.Data))
		return fmt.Errorf("%w: %s %s %d/%d", ErrShortWrite, s.name, pkt.Channel, n, len(pkt.Data))
	}

	s.observer.BytesSent(s.name, pkt.Channel, n)
	return nil
}

// dataReady 生成读就绪回调，将数据报原样交给对端
func (s *Session) dataReady(ch peer.Channel) reactor.ReadFunc {
	return func(data []byte) error {
		s.observer.BytesReceived(s.name, ch, len(data))
		if err := s.peer.DataReady(data, ch); err != nil {
			return fmt.Errorf("%w: %s %s: %w", ErrReceive, s.name, ch, err)
		}
		return nil
	}
}

func (s *Session) remotePort(ch peer.Channel) int {
	if ch == peer.MIDIChannel && s.remoteBasePort > 0 {
		return s.remoteBasePort + peer.MIDIPortOffset
	}
	return s.remoteBasePort
}

// =============================================================================
// 日志
// =============================================================================

// log 0=错误 1=信息 2=调试
func (s *Session) log(level int, format string, args ...interface{}) {
	switch level {
	case 0:
		s.logger.Errorf(format, args...)
	case 1:
		s.logger.Infof(format, args...)
	default:
		s.logger.Debugf(format, args...)
	}
}
