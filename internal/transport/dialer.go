// =============================================================================
// 文件: internal/transport/dialer.go
// 描述: 双套接字建立 - 依次尝试候选地址，控制通道成功后按 +1 派生 MIDI 通道
//       任一步骤失败时按回滚列表关闭已打开的套接字
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/mrcgq/rtpclient/internal/peer"
)

// Dialer 地址解析与套接字对建立
type Dialer struct {
	resolver Resolver
	opts     Options
	group    singleflight.Group
	logger   *zap.SugaredLogger
}

// NewDialer 创建 Dialer，默认使用系统解析器
func NewDialer(opts Options, log *zap.Logger) *Dialer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dialer{
		resolver: net.DefaultResolver,
		opts:     opts,
		logger:   log.Sugar().Named("transport"),
	}
}

// SetResolver 替换解析器
func (d *Dialer) SetResolver(r Resolver) {
	if r != nil {
		d.resolver = r
	}
}

// DialPair 建立控制/MIDI 套接字对
//
// localPort 为 0 时由系统分配控制端口。返回错误时不会遗留任何打开的套接字。
func (d *Dialer) DialPair(ctx context.Context, cands []netip.AddrPort, localPort int) (pair *Pair, err error) {
	if localPort < 0 || localPort > maxBasePort {
		return nil, fmt.Errorf("%w: 本地端口 %d", ErrInvalidPort, localPort)
	}

	var rollback []io.Closer
	defer func() {
		if err == nil {
			return
		}
		for i := len(rollback) - 1; i >= 0; i-- {
			_ = rollback[i].Close()
		}
	}()

	control, remote, err := d.dialControl(ctx, cands, localPort)
	if err != nil {
		return nil, err
	}
	rollback = append(rollback, control)

	local := addrPortOf(control.LocalAddr())
	if int(local.Port()) > maxBasePort || int(remote.Port()) > maxBasePort {
		return nil, fmt.Errorf("%w: 本地 %d, 远端 %d", ErrPortOverflow, local.Port(), remote.Port())
	}

	midiLocal := netip.AddrPortFrom(local.Addr(), local.Port()+peer.MIDIPortOffset)
	midiRemote := netip.AddrPortFrom(remote.Addr(), remote.Port()+peer.MIDIPortOffset)

	midi, err := d.dialUDP(ctx, net.UDPAddrFromAddrPort(midiLocal), midiRemote)
	if err != nil {
		d.log(2, "MIDI 套接字失败 %s -> %s: %v", midiLocal, midiRemote, err)
		return nil, fmt.Errorf("%w: %w", ErrCannotOpenMIDI, err)
	}
	rollback = append(rollback, midi)

	d.tune(control)
	d.tune(midi)

	pair = &Pair{
		Control:     control,
		MIDI:        midi,
		LocalBase:   int(local.Port()),
		RemoteBase:  int(remote.Port()),
		ControlAddr: remote,
		MIDIAddr:    midiRemote,
	}
	d.log(2, "套接字对已建立: 本地 %d/%d, 远端 %s/%s",
		pair.LocalBase, pair.LocalBase+peer.MIDIPortOffset, pair.ControlAddr, pair.MIDIAddr)
	return pair, nil
}

// dialControl 依次尝试候选地址，返回第一个成功的控制套接字
func (d *Dialer) dialControl(ctx context.Context, cands []netip.AddrPort, localPort int) (*net.UDPConn, netip.AddrPort, error) {
	var laddr *net.UDPAddr
	if localPort > 0 {
		laddr = &net.UDPAddr{Port: localPort}
	}

	lastErr := ErrNoCandidates
	for _, cand := range cands {
		if !cand.IsValid() {
			continue
		}
		conn, err := d.dialUDP(ctx, laddr, cand)
		if err != nil {
			d.log(2, "候选地址失败 %s: %v", cand, err)
			lastErr = err
			continue
		}
		return conn, cand, nil
	}
	return nil, netip.AddrPort{}, fmt.Errorf("%w: %w", ErrCannotOpenControl, lastErr)
}

// dialUDP 创建套接字、设置地址复用、可选绑定本地地址并连接远端
func (d *Dialer) dialUDP(ctx context.Context, laddr *net.UDPAddr, raddr netip.AddrPort) (*net.UDPConn, error) {
	dialer := net.Dialer{Control: reuseAddrControl}
	if laddr != nil {
		dialer.LocalAddr = laddr
	}

	c, err := dialer.DialContext(ctx, "udp", raddr.String())
	if err != nil {
		return nil, err
	}
	return c.(*net.UDPConn), nil
}

func (d *Dialer) tune(c *net.UDPConn) {
	if d.opts.ReadBufferSize > 0 || d.opts.WriteBufferSize > 0 {
		r, w := setupBuffers(c, d.opts.ReadBufferSize, d.opts.WriteBufferSize)
		d.log(2, "缓冲区配置 %s: read=%d, write=%d", c.LocalAddr(), r, w)
	}
	if d.opts.DSCP > 0 {
		if err := setDSCP(c, d.opts.DSCP); err != nil {
			d.log(1, "DSCP 设置失败 %s: %v", c.LocalAddr(), err)
		}
	}
}

func addrPortOf(a net.Addr) netip.AddrPort {
	ua, ok := a.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// log 日志输出
func (d *Dialer) log(level int, format string, args ...interface{}) {
	switch level {
	case 0:
		d.logger.Errorf(format, args...)
	case 1:
		d.logger.Infof(format, args...)
	default:
		d.logger.Debugf(format, args...)
	}
}
