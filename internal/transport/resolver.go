// =============================================================================
// 文件: internal/transport/resolver.go
// 描述: 地址解析 - 协议无关 (IPv4/IPv6)，相同目标的并发解析合并为一次
// =============================================================================
package transport

import (
	"context"
	"fmt"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"
)

// 未配置 ResolveTimeout 时的解析期限
const defaultResolveTimeout = 10 * time.Second

// Resolve 解析 host/service 为候选地址列表，顺序与解析器返回一致
//
// 相同目标的并发解析共用一次查询。查询使用独立于调用方的 ctx，
// 期限由 Options.ResolveTimeout 决定；调用方的 ctx 只决定自己等待多久。
func (d *Dialer) Resolve(ctx context.Context, host, service string) ([]netip.AddrPort, error) {
	key := host + "|" + service
	ch := d.group.DoChan(key, func() (interface{}, error) {
		rctx, cancel := context.WithTimeout(context.Background(), d.resolveTimeout())
		defer cancel()
		return d.resolve(rctx, host, service)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("解析 %s:%s 被取消: %w", host, service, ctx.Err())
	}
	if res.Err != nil {
		return nil, res.Err
	}
	if res.Shared {
		d.log(2, "解析结果复用: %s:%s", host, service)
	}

	cands := res.Val.([]netip.AddrPort)
	out := make([]netip.AddrPort, len(cands))
	copy(out, cands)
	return out, nil
}

func (d *Dialer) resolveTimeout() time.Duration {
	if d.opts.ResolveTimeout > 0 {
		return d.opts.ResolveTimeout
	}
	return defaultResolveTimeout
}

func (d *Dialer) resolve(ctx context.Context, host, service string) ([]netip.AddrPort, error) {
	host = strings.TrimSpace(host)
	if host == "" {
		return nil, fmt.Errorf("%w: 主机名为空", ErrNoCandidates)
	}

	port, err := d.lookupPort(ctx, service)
	if err != nil {
		return nil, err
	}

	var addrs []netip.Addr
	if ip, err := netip.ParseAddr(strings.Trim(host, "[]")); err == nil {
		addrs = []netip.Addr{ip}
	} else {
		addrs, err = d.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return nil, fmt.Errorf("无法解析地址 %s:%s: %w", host, service, err)
		}
	}

	cands := make([]netip.AddrPort, 0, len(addrs))
	for _, ip := range addrs {
		cands = append(cands, netip.AddrPortFrom(ip.Unmap(), uint16(port)))
	}
	if len(cands) == 0 {
		return nil, fmt.Errorf("%w: %s:%s", ErrNoCandidates, host, service)
	}

	d.log(2, "解析 %s:%s -> %v", host, service, cands)
	return cands, nil
}

func (d *Dialer) lookupPort(ctx context.Context, service string) (int, error) {
	service = strings.TrimSpace(service)

	port, err := strconv.Atoi(service)
	if err != nil {
		port, err = d.resolver.LookupPort(ctx, "udp", service)
		if err != nil {
			return 0, fmt.Errorf("无法解析服务 %q: %w", service, err)
		}
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidPort, port)
	}
	return port, nil
}
