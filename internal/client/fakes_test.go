package client

import (
	"bytes"
	"context"
	"net"
	"net/netip"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrcgq/rtpclient/internal/peer"
	"github.com/mrcgq/rtpclient/internal/reactor"
	"github.com/mrcgq/rtpclient/internal/transport"
)

// =============================================================================
// 同步事件循环：定时器由测试手动触发，投递的任务经通道取出执行
// =============================================================================

type fakeTimer struct {
	d         time.Duration
	fn        func() error
	cancelled bool
	fired     bool
}

func (t *fakeTimer) Cancel() bool {
	if t.cancelled || t.fired {
		return false
	}
	t.cancelled = true
	return true
}

type fakeReactor struct {
	readers    map[net.Conn]reactor.ReadFunc
	timers     []*fakeTimer
	posts      chan func() error
	maxReaders int
}

func newFakeReactor() *fakeReactor {
	return &fakeReactor{
		readers: make(map[net.Conn]reactor.ReadFunc),
		posts:   make(chan func() error, 16),
	}
}

func (r *fakeReactor) AddReader(conn net.Conn, fn reactor.ReadFunc) error {
	if _, ok := r.readers[conn]; ok {
		return reactor.ErrAlreadyRegistered
	}
	r.readers[conn] = fn
	if len(r.readers) > r.maxReaders {
		r.maxReaders = len(r.readers)
	}
	return nil
}

func (r *fakeReactor) RemoveReader(conn net.Conn) {
	delete(r.readers, conn)
}

func (r *fakeReactor) AddTimer(d time.Duration, fn func() error) reactor.Timer {
	t := &fakeTimer{d: d, fn: fn}
	r.timers = append(r.timers, t)
	return t
}

func (r *fakeReactor) Post(fn func() error) {
	r.posts <- fn
}

func (r *fakeReactor) active() []*fakeTimer {
	var out []*fakeTimer
	for _, t := range r.timers {
		if !t.cancelled && !t.fired {
			out = append(out, t)
		}
	}
	return out
}

func (r *fakeReactor) activeWith(d time.Duration) []*fakeTimer {
	var out []*fakeTimer
	for _, t := range r.active() {
		if t.d == d {
			out = append(out, t)
		}
	}
	return out
}

// runPost 等待并执行一个投递任务
func (r *fakeReactor) runPost(t *testing.T) error {
	t.Helper()
	select {
	case fn := <-r.posts:
		return fn()
	case <-time.After(3 * time.Second):
		t.Fatal("等待投递任务超时")
		return nil
	}
}

// fireOnly 触发唯一一个指定时长的活动定时器
func (r *fakeReactor) fireOnly(t *testing.T, d time.Duration) error {
	t.Helper()
	ts := r.activeWith(d)
	require.Len(t, ts, 1, "时长 %s 的活动定时器", d)
	ts[0].fired = true
	return ts[0].fn()
}

func (r *fakeReactor) deliver(t *testing.T, conn net.Conn, data []byte) error {
	t.Helper()
	fn, ok := r.readers[conn]
	require.True(t, ok, "连接未注册")
	return fn(data)
}

// =============================================================================
// 脚本化对端：命令被记录，并经 Send 事件发出可识别的负载
// =============================================================================

type fakePeer struct {
	events   peer.Events
	status   peer.Status
	connects []peer.Channel
	cks      int
	goodbyes []peer.Channel
	resets   int
	received []peer.Packet

	// syncMIDI 时 MIDI 通道握手在 Connect 内同步完成
	syncMIDI bool
}

func (p *fakePeer) Events() *peer.Events { return &p.events }
func (p *fakePeer) Status() peer.Status  { return p.status }

func (p *fakePeer) Connect(ch peer.Channel) error {
	p.connects = append(p.connects, ch)
	if err := p.events.Send.Emit(peer.Packet{Data: []byte("IN"), Channel: ch}); err != nil {
		return err
	}
	if p.syncMIDI && ch == peer.MIDIChannel {
		return p.setStatus(peer.Connected)
	}
	return nil
}

func (p *fakePeer) SendCK0() error {
	p.cks++
	return p.events.Send.Emit(peer.Packet{Data: []byte("CK0"), Channel: peer.MIDIChannel})
}

func (p *fakePeer) SendGoodbye(ch peer.Channel) error {
	p.goodbyes = append(p.goodbyes, ch)
	return p.events.Send.Emit(peer.Packet{Data: []byte("BY"), Channel: ch})
}

func (p *fakePeer) Reset() {
	p.resets++
	p.status = peer.NotConnected
}

func (p *fakePeer) DataReady(data []byte, ch peer.Channel) error {
	p.received = append(p.received, peer.Packet{Data: append([]byte(nil), data...), Channel: ch})
	return nil
}

func (p *fakePeer) setStatus(st peer.Status) error {
	p.status = st
	return p.events.StatusChanged.Emit(peer.StatusChange{Name: "remote", Status: st})
}

func (p *fakePeer) reply(d time.Duration) error {
	return p.events.Latency.Emit(d)
}

// =============================================================================
// 远端：在 R 与 R+1 上监听
// =============================================================================

type remoteEnd struct {
	base    int
	control *net.UDPConn
	midi    *net.UDPConn
}

func listenRemote(t *testing.T) *remoteEnd {
	t.Helper()
	lo := net.IPv4(127, 0, 0, 1)
	for i := 0; i < 20; i++ {
		a, err := net.ListenUDP("udp", &net.UDPAddr{IP: lo})
		require.NoError(t, err)
		base := a.LocalAddr().(*net.UDPAddr).Port
		if base >= 65534 {
			a.Close()
			continue
		}
		b, err := net.ListenUDP("udp", &net.UDPAddr{IP: lo, Port: base + 1})
		if err != nil {
			a.Close()
			continue
		}
		r := &remoteEnd{base: base, control: a, midi: b}
		t.Cleanup(func() {
			a.Close()
			b.Close()
		})
		return r
	}
	t.Fatal("找不到空闲远端端口对")
	return nil
}

// expect 读取直到收到指定负载，返回发送方端口
func (r *remoteEnd) expect(t *testing.T, conn *net.UDPConn, want string) int {
	t.Helper()
	buf := make([]byte, 1500)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		n, from, err := conn.ReadFromUDP(buf)
		require.NoError(t, err, "等待 %q", want)
		if bytes.Equal(buf[:n], []byte(want)) {
			return from.Port
		}
	}
}

// =============================================================================
// 测试夹具
// =============================================================================

type stubEstablisher struct {
	cands      []netip.AddrPort
	resolveErr error
	dialErr    error
}

func (e *stubEstablisher) Resolve(ctx context.Context, host, service string) ([]netip.AddrPort, error) {
	return e.cands, e.resolveErr
}

func (e *stubEstablisher) DialPair(ctx context.Context, cands []netip.AddrPort, localPort int) (*transport.Pair, error) {
	return nil, e.dialErr
}

type harness struct {
	t       *testing.T
	r       *fakeReactor
	p       *fakePeer
	s       *Session
	remote  *remoteEnd
	reasons []peer.DisconnectReason
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		t:      t,
		r:      newFakeReactor(),
		p:      &fakePeer{},
		remote: listenRemote(t),
	}
	h.s = New("studio", h.p, h.r, DefaultConfig(), zaptest.NewLogger(t))
	h.p.events.Disconnect.Connect(func(r peer.DisconnectReason) error {
		h.reasons = append(h.reasons, r)
		return nil
	})
	t.Cleanup(func() { h.s.Close() })
	return h
}

// connect 发起连接并执行解析结果，停在控制通道握手
func (h *harness) connect() {
	h.t.Helper()
	h.s.Connect("127.0.0.1", strconv.Itoa(h.remote.base), 0)
	require.Equal(h.t, StateResolving, h.s.State())
	require.NoError(h.t, h.r.runPost(h.t))
	require.Equal(h.t, StateControlPending, h.s.State(), "断开原因: %v", h.reasons)
}

// handshake 完成两阶段握手
func (h *harness) handshake() {
	h.t.Helper()
	h.connect()
	require.NoError(h.t, h.p.setStatus(peer.ControlConnected))
	require.NoError(h.t, h.p.setStatus(peer.Connected))
	require.Equal(h.t, StateConnected, h.s.State())
}
