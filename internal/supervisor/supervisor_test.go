package supervisor

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mrcgq/rtpclient/internal/client"
	"github.com/mrcgq/rtpclient/internal/config"
	"github.com/mrcgq/rtpclient/internal/peer"
)

// autoPeer 同步完成握手并立即回复延迟探测；reject 时拒绝连接
type autoPeer struct {
	events peer.Events

	mu       sync.Mutex
	status   peer.Status
	reject   bool
	connects int
	goodbyes []peer.Channel
}

func (p *autoPeer) Events() *peer.Events { return &p.events }

func (p *autoPeer) Status() peer.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

func (p *autoPeer) Connect(ch peer.Channel) error {
	p.mu.Lock()
	p.connects++
	reject := p.reject
	p.mu.Unlock()

	if reject {
		return p.events.Disconnect.Emit(peer.ConnectionRejected)
	}
	if err := p.events.Send.Emit(peer.Packet{Data: []byte("IN"), Channel: ch}); err != nil {
		return err
	}

	bit := peer.ControlConnected
	if ch == peer.MIDIChannel {
		bit = peer.MIDIConnected
	}
	p.mu.Lock()
	p.status |= bit
	st := p.status
	p.mu.Unlock()
	return p.events.StatusChanged.Emit(peer.StatusChange{Name: "auto", Status: st})
}

func (p *autoPeer) SendCK0() error {
	if err := p.events.Send.Emit(peer.Packet{Data: []byte("CK0"), Channel: peer.MIDIChannel}); err != nil {
		return err
	}
	return p.events.Latency.Emit(time.Millisecond)
}

func (p *autoPeer) SendGoodbye(ch peer.Channel) error {
	p.mu.Lock()
	p.goodbyes = append(p.goodbyes, ch)
	p.mu.Unlock()
	return p.events.Send.Emit(peer.Packet{Data: []byte("BY"), Channel: ch})
}

func (p *autoPeer) Reset() {
	p.mu.Lock()
	p.status = peer.NotConnected
	p.mu.Unlock()
}

func (p *autoPeer) DataReady(data []byte, ch peer.Channel) error { return nil }

func (p *autoPeer) setReject(v bool) {
	p.mu.Lock()
	p.reject = v
	p.mu.Unlock()
}

func (p *autoPeer) stats() (connects int, goodbyes []peer.Channel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connects, append([]peer.Channel(nil), p.goodbyes...)
}

// listenRemote 在 R 与 R+1 上监听，返回 R
func listenRemote(t *testing.T) int {
	t.Helper()
	lo := net.IPv4(127, 0, 0, 1)
	for i := 0; i < 20; i++ {
		a, err := net.ListenUDP("udp", &net.UDPAddr{IP: lo})
		require.NoError(t, err)
		base := a.LocalAddr().(*net.UDPAddr).Port
		b, err := net.ListenUDP("udp", &net.UDPAddr{IP: lo, Port: base + 1})
		if err != nil || base >= 65534 {
			a.Close()
			continue
		}
		t.Cleanup(func() {
			a.Close()
			b.Close()
		})
		return base
	}
	t.Fatal("找不到空闲远端端口对")
	return 0
}

func testConfig(t *testing.T, names ...string) *config.Config {
	cfg := config.DefaultConfig()
	for _, name := range names {
		cfg.Targets = append(cfg.Targets, config.TargetConfig{
			Name: name,
			Host: "127.0.0.1",
			Port: strconv.Itoa(listenRemote(t)),
		})
	}
	cfg.Reconnect = config.ReconnectConfig{
		Enabled:        true,
		InitialDelayMs: 10,
		Multiplier:     1,
		MaxDelayMs:     10,
	}
	require.NoError(t, cfg.Validate())
	return cfg
}

type peerSet struct {
	mu    sync.Mutex
	peers map[string]*autoPeer
}

func (s *peerSet) factory(reject bool) PeerFactory {
	return func(tc config.TargetConfig) peer.Peer {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.peers == nil {
			s.peers = make(map[string]*autoPeer)
		}
		p := &autoPeer{reject: reject}
		s.peers[tc.Name] = p
		return p
	}
}

func (s *peerSet) get(name string) *autoPeer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peers[name]
}

// start 在后台运行管理器，返回停止函数
func start(t *testing.T, m *Manager) func() error {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx) }()

	stopped := false
	stop := func() error {
		if stopped {
			return nil
		}
		stopped = true
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("管理器未退出")
			return nil
		}
	}
	t.Cleanup(func() { stop() })
	return stop
}

func findTarget(snap []TargetSnapshot, name string) TargetSnapshot {
	for _, s := range snap {
		if s.Name == name {
			return s
		}
	}
	return TargetSnapshot{}
}

func allConnected(m *Manager) func() bool {
	return func() bool {
		for _, s := range m.Snapshot() {
			if s.State != client.StateConnected {
				return false
			}
		}
		return true
	}
}

func TestManagerConnectsAndShutsDown(t *testing.T) {
	cfg := testConfig(t, "studio", "stage")
	var peers peerSet
	m, err := New(cfg, peers.factory(false), zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Len(t, m.Snapshot(), 2)

	stop := start(t, m)
	require.Eventually(t, allConnected(m), 5*time.Second, 10*time.Millisecond)

	for _, s := range m.Snapshot() {
		assert.NotZero(t, s.LocalBasePort, s.Name)
		assert.Equal(t, s.Port, strconv.Itoa(s.RemoteBasePort), s.Name)
		assert.Equal(t, 0, s.Attempts)
		assert.NotEmpty(t, s.AttemptID)
	}
	require.Eventually(t, func() bool {
		return findTarget(m.Snapshot(), "studio").Latency.Samples > 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, time.Millisecond, findTarget(m.Snapshot(), "studio").Latency.Smoothed)

	require.NoError(t, stop())
	for _, name := range []string{"studio", "stage"} {
		_, goodbyes := peers.get(name).stats()
		assert.Equal(t, []peer.Channel{peer.MIDIChannel, peer.ControlChannel}, goodbyes, name)
	}
	for _, s := range m.Snapshot() {
		assert.Equal(t, client.StateIdle, s.State)
	}
}

func TestManagerReconnectsWithBackoff(t *testing.T) {
	cfg := testConfig(t, "studio")
	var peers peerSet
	m, err := New(cfg, peers.factory(true), zaptest.NewLogger(t))
	require.NoError(t, err)
	start(t, m)

	require.Eventually(t, func() bool {
		return findTarget(m.Snapshot(), "studio").Attempts >= 3
	}, 5*time.Second, 5*time.Millisecond)
	assert.Equal(t, "CONNECTION_REJECTED", findTarget(m.Snapshot(), "studio").LastDisconnect)

	peers.get("studio").setReject(false)
	require.Eventually(t, allConnected(m), 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, findTarget(m.Snapshot(), "studio").Attempts)
}

func TestManagerWithoutReconnect(t *testing.T) {
	cfg := testConfig(t, "studio")
	cfg.Reconnect.Enabled = false
	var peers peerSet
	m, err := New(cfg, peers.factory(true), zaptest.NewLogger(t))
	require.NoError(t, err)
	stop := start(t, m)

	require.Eventually(t, func() bool {
		return findTarget(m.Snapshot(), "studio").LastDisconnect != ""
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	require.NoError(t, stop())
	connects, goodbyes := peers.get("studio").stats()
	assert.Equal(t, 1, connects)
	assert.Empty(t, goodbyes)
	assert.Equal(t, 0, findTarget(m.Snapshot(), "studio").Attempts)
}

func TestManagerMetricsAndHealth(t *testing.T) {
	cfg := testConfig(t, "studio")
	cfg.Metrics.Enabled = true
	cfg.Metrics.Listen = "127.0.0.1:0"
	var peers peerSet
	m, err := New(cfg, peers.factory(false), zaptest.NewLogger(t))
	require.NoError(t, err)
	start(t, m)

	require.Eventually(t, func() bool { return m.MetricsAddr() != "" }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, allConnected(m), 5*time.Second, 10*time.Millisecond)

	base := "http://" + m.MetricsAddr()
	get := func(path string) (int, string) {
		resp, err := http.Get(base + path)
		require.NoError(t, err)
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		return resp.StatusCode, string(body)
	}

	code, body := get("/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"status":"healthy"`)

	code, body = get("/metrics")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `rtpmidi_supervisor_target_state{state="CONNECTED",target="studio"} 1`)
	assert.Contains(t, body, `rtpmidi_session_connections_total{peer="studio"} 1`)

	code, body = get("/targets")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `"state":"CONNECTED"`)

	code, _ = get("/health/live")
	assert.Equal(t, http.StatusOK, code)
}

func TestHealthStatus(t *testing.T) {
	cfg := testConfig(t, "studio", "stage")
	var peers peerSet
	m, err := New(cfg, peers.factory(false), nil)
	require.NoError(t, err)

	m.snapshot = []TargetSnapshot{
		{Name: "studio", State: client.StateConnected},
		{Name: "stage", State: client.StateIdle, LastDisconnect: "CK_TIMEOUT"},
	}
	h := m.health()
	assert.Equal(t, "degraded", h.Status)
	assert.Equal(t, "IDLE (CK_TIMEOUT)", h.Components["stage"].Message)

	m.snapshot[1].State = client.StateConnected
	assert.Equal(t, "healthy", m.health().Status)

	m.snapshot = nil
	assert.Equal(t, "unhealthy", m.health().Status)
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New(nil, func(config.TargetConfig) peer.Peer { return &autoPeer{} }, nil)
	assert.Error(t, err)

	cfg := testConfig(t, "studio")
	_, err = New(cfg, func(config.TargetConfig) peer.Peer { return nil }, nil)
	assert.Error(t, err)
}
