package main

import (
	"context"
	"net/netip"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mrcgq/rtpclient/internal/client"
	"github.com/mrcgq/rtpclient/internal/config"
)

// 同时检查的目标上限
const maxParallelChecks = 8

// targetReport 单个目标的检查结果
type targetReport struct {
	Name string
	Host string
	Port string

	Candidates []netip.AddrPort
	Elapsed    time.Duration

	// 以下字段仅在试建端口对时填充
	Probed      bool
	LocalBase   int
	ControlAddr netip.AddrPort
	MIDIAddr    netip.AddrPort

	Err error
}

// checkTargets 并发解析全部目标，probe 时再试建端口对并立即关闭
//
// 结果顺序与 targets 一致；单个目标失败不影响其他目标。
func checkTargets(ctx context.Context, est client.Establisher, targets []config.TargetConfig, probe bool, timeout time.Duration) []targetReport {
	reports := make([]targetReport, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelChecks)

	for i, tc := range targets {
		i, tc := i, tc
		g.Go(func() error {
			reports[i] = checkTarget(gctx, est, tc, probe, timeout)
			return nil
		})
	}
	_ = g.Wait()

	return reports
}

func checkTarget(ctx context.Context, est client.Establisher, tc config.TargetConfig, probe bool, timeout time.Duration) targetReport {
	r := targetReport{Name: tc.Name, Host: tc.Host, Port: tc.Port}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	r.Candidates, r.Err = est.Resolve(ctx, tc.Host, tc.Port)
	r.Elapsed = time.Since(start)
	if r.Err != nil || !probe {
		return r
	}

	pair, err := est.DialPair(ctx, r.Candidates, tc.LocalPort)
	if err != nil {
		r.Err = err
		return r
	}
	defer pair.Close()

	r.Probed = true
	r.LocalBase = pair.LocalBase
	r.ControlAddr = pair.ControlAddr
	r.MIDIAddr = pair.MIDIAddr
	return r
}
