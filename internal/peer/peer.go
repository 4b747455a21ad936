// =============================================================================
// 文件: internal/peer/peer.go
// 描述: 会话对端契约 - 协议编解码与连接状态机由对端实现，客户端只依赖此接口
// =============================================================================
package peer

import (
	"fmt"
	"time"

	"github.com/mrcgq/rtpclient/internal/signal"
)

// =============================================================================
// 逻辑通道
// =============================================================================

// Channel 逻辑通道
type Channel int

const (
	ControlChannel Channel = iota
	MIDIChannel
)

// MIDIPortOffset 数据通道端口 = 控制端口 + 1，本地与远端两侧一致
const MIDIPortOffset = 1

func (c Channel) String() string {
	switch c {
	case ControlChannel:
		return "control"
	case MIDIChannel:
		return "midi"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// =============================================================================
// 连接状态
// =============================================================================

// Status 连接状态位掩码
type Status uint8

const (
	NotConnected     Status = 0
	ControlConnected Status = 1 << 0
	MIDIConnected    Status = 1 << 1
	Connected               = ControlConnected | MIDIConnected
)

// Has 是否包含指定位
func (s Status) Has(bit Status) bool {
	return s&bit == bit
}

func (s Status) String() string {
	switch s {
	case NotConnected:
		return "NOT_CONNECTED"
	case ControlConnected:
		return "CONTROL_CONNECTED"
	case MIDIConnected:
		return "MIDI_CONNECTED"
	case Connected:
		return "CONNECTED"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// =============================================================================
// 断开原因
// =============================================================================

// DisconnectReason 断开原因
type DisconnectReason int

const (
	CantConnect DisconnectReason = iota
	PeerDisconnected
	ConnectionRejected
	Disconnect
	ConnectTimeout
	CKTimeout
	GoodbyeReceived
	NetworkError
)

var reasonNames = map[DisconnectReason]string{
	CantConnect:        "CANT_CONNECT",
	PeerDisconnected:   "PEER_DISCONNECTED",
	ConnectionRejected: "CONNECTION_REJECTED",
	Disconnect:         "DISCONNECT",
	ConnectTimeout:     "CONNECT_TIMEOUT",
	CKTimeout:          "CK_TIMEOUT",
	GoodbyeReceived:    "GOODBYE_RECEIVED",
	NetworkError:       "NETWORK_ERROR",
}

func (r DisconnectReason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return fmt.Sprintf("REASON(%d)", int(r))
}

// =============================================================================
// 事件
// =============================================================================

// Packet 待发送数据
type Packet struct {
	Data    []byte
	Channel Channel
}

// StatusChange 状态变化通知
type StatusChange struct {
	Name   string
	Status Status
}

// Events 对端暴露的事件源
type Events struct {
	Send          signal.Signal[Packet]
	StatusChanged signal.Signal[StatusChange]
	Latency       signal.Signal[time.Duration]
	Disconnect    signal.Signal[DisconnectReason]
}

// Peer 对端命令接口
//
// 客户端发送失败时，错误经 Send 事件返回给对端，再由对应命令返回给调用方。
type Peer interface {
	Events() *Events
	Status() Status

	// Connect 在指定通道上发起握手
	Connect(ch Channel) error
	// SendCK0 发送延迟探测
	SendCK0() error
	SendGoodbye(ch Channel) error
	Reset()
	// DataReady 投喂收到的数据报
	DataReady(data []byte, ch Channel) error
}
