// =============================================================================
// 文件: internal/transport/types.go
// 描述: 传输层类型定义 - 解析器接口、套接字对、错误定义
// =============================================================================
package transport

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"time"

	"go.uber.org/multierr"
)

// =============================================================================
// 错误定义
// =============================================================================

var (
	ErrNoCandidates      = errors.New("transport: 没有可用的候选地址")
	ErrCannotOpenControl = errors.New("transport: cannot open remote control socket")
	ErrCannotOpenMIDI    = errors.New("transport: cannot open remote midi socket")
	ErrInvalidPort       = errors.New("transport: 端口无效")
	ErrPortOverflow      = errors.New("transport: 基础端口 +1 超出范围")
)

// maxBasePort 基础端口上限，保证 +1 后仍为合法端口
const maxBasePort = 65534

// =============================================================================
// 解析器
// =============================================================================

// Resolver 地址解析接口，*net.Resolver 满足该接口
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
	LookupPort(ctx context.Context, network, service string) (int, error)
}

// =============================================================================
// 套接字对
// =============================================================================

// Pair 控制/MIDI 两个已连接的 UDP 套接字
//
// MIDI 套接字本地绑定 LocalBase+1，远端为 RemoteBase+1。
type Pair struct {
	Control *net.UDPConn
	MIDI    *net.UDPConn

	LocalBase  int
	RemoteBase int

	ControlAddr netip.AddrPort
	MIDIAddr    netip.AddrPort
}

// Close 关闭两个套接字
func (p *Pair) Close() error {
	var err error
	if p.MIDI != nil {
		err = multierr.Append(err, p.MIDI.Close())
	}
	if p.Control != nil {
		err = multierr.Append(err, p.Control.Close())
	}
	return err
}

// Options 套接字调优
type Options struct {
	// 0 表示使用系统默认
	ReadBufferSize  int
	WriteBufferSize int

	// DSCP 标记，0 表示不设置
	DSCP int

	// 单次地址查询的期限，0 表示使用默认值
	ResolveTimeout time.Duration
}
