// =============================================================================
// 文件: internal/client/types.go
// 描述: 客户端会话类型定义 - 状态、配置、依赖接口
// =============================================================================
package client

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"time"

	"github.com/mrcgq/rtpclient/internal/peer"
	"github.com/mrcgq/rtpclient/internal/transport"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrNotConnected = errors.New("client: 通道未建立")
	ErrShortWrite   = errors.New("client: 数据未完整发送")
	ErrSend         = errors.New("client: 发送失败")
	ErrReceive      = errors.New("client: 处理接收数据失败")
)

// =============================================================================
// 会话状态
// =============================================================================

// State 客户端可观察状态
type State int

const (
	StateIdle State = iota
	StateResolving
	StateControlPending
	StateControlConnected
	StateMIDIPending
	StateConnected

	// 终止状态，经 Reset 回到 StateIdle
	StateCantConnect
	StateConnectTimeout
	StateCKTimeout
	StateGoodbyeReceived
	StateDisconnected
)

var stateNames = map[State]string{
	StateIdle:             "IDLE",
	StateResolving:        "RESOLVING",
	StateControlPending:   "CONTROL_PENDING",
	StateControlConnected: "CONTROL_CONNECTED",
	StateMIDIPending:      "MIDI_PENDING",
	StateConnected:        "CONNECTED",
	StateCantConnect:      "CANT_CONNECT",
	StateConnectTimeout:   "CONNECT_TIMEOUT",
	StateCKTimeout:        "CK_TIMEOUT",
	StateGoodbyeReceived:  "GOODBYE_RECEIVED",
	StateDisconnected:     "DISCONNECTED",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("STATE(%d)", int(s))
}

// MarshalText 以名称序列化，供 JSON 输出
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// States 全部状态，用于指标导出
func States() []State {
	out := make([]State, 0, len(stateNames))
	for s := StateIdle; s <= StateDisconnected; s++ {
		out = append(out, s)
	}
	return out
}

func stateForReason(r peer.DisconnectReason) State {
	switch r {
	case peer.CantConnect:
		return StateCantConnect
	case peer.ConnectTimeout:
		return StateConnectTimeout
	case peer.CKTimeout:
		return StateCKTimeout
	case peer.GoodbyeReceived:
		return StateGoodbyeReceived
	default:
		return StateDisconnected
	}
}

// =============================================================================
// 配置
// =============================================================================

// Config 会话时序配置
type Config struct {
	// 整个两阶段握手的总期限
	ConnectTimeout time.Duration
	// 延迟探测回复期限
	CKTimeout time.Duration

	// 前 CKFastRounds 轮使用 CKFastInterval，之后固定 CKSteadyInterval
	CKFastInterval   time.Duration
	CKFastRounds     int
	CKSteadyInterval time.Duration

	ResolveTimeout time.Duration
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:   20 * time.Second,
		CKTimeout:        5 * time.Second,
		CKFastInterval:   250 * time.Millisecond,
		CKFastRounds:     6,
		CKSteadyInterval: 10 * time.Second,
		ResolveTimeout:   5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.CKTimeout <= 0 {
		c.CKTimeout = def.CKTimeout
	}
	if c.CKFastInterval <= 0 {
		c.CKFastInterval = def.CKFastInterval
	}
	if c.CKFastRounds < 0 {
		c.CKFastRounds = def.CKFastRounds
	}
	if c.CKSteadyInterval <= 0 {
		c.CKSteadyInterval = def.CKSteadyInterval
	}
	if c.ResolveTimeout <= 0 {
		c.ResolveTimeout = def.ResolveTimeout
	}
	return c
}

// =============================================================================
// 依赖接口
// =============================================================================

// Establisher 地址解析与套接字对建立，*transport.Dialer 满足该接口
type Establisher interface {
	Resolve(ctx context.Context, host, service string) ([]netip.AddrPort, error)
	DialPair(ctx context.Context, cands []netip.AddrPort, localPort int) (*transport.Pair, error)
}

// Observer 会话指标回调
type Observer interface {
	ConnectAttempt(name string)
	Connected(name string)
	Disconnected(name string, reason peer.DisconnectReason)
	Latency(name string, d time.Duration)
	BytesSent(name string, ch peer.Channel, n int)
	BytesReceived(name string, ch peer.Channel, n int)
}

type nopObserver struct{}

func (nopObserver) ConnectAttempt(string)                      {}
func (nopObserver) Connected(string)                           {}
func (nopObserver) Disconnected(string, peer.DisconnectReason) {}
func (nopObserver) Latency(string, time.Duration)              {}
func (nopObserver) BytesSent(string, peer.Channel, int)        {}
func (nopObserver) BytesReceived(string, peer.Channel, int)    {}
