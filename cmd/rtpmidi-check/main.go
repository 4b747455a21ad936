// cmd/rtpmidi-check/main.go
// RTP-MIDI 客户端配置检查工具
// 生成示例配置、校验配置文件、解析目标地址并试建端口对

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mrcgq/rtpclient/internal/config"
	"github.com/mrcgq/rtpclient/internal/logging"
	"github.com/mrcgq/rtpclient/internal/metrics"
	"github.com/mrcgq/rtpclient/internal/transport"
)

// ============================================
// 版本信息
// ============================================

var (
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// options 命令行参数
type options struct {
	configPath string
	genPath    string
	probe      bool
	timeout    time.Duration
	logLevel   string
	version    bool
}

// ============================================
// 主函数
// ============================================

func main() {
	opts := parseFlags()

	if opts.version {
		fmt.Printf("rtpmidi-check v%s\n", metrics.Version)
		fmt.Printf("Build: %s (%s)\n", BuildTime, GitCommit)
		fmt.Printf("Go: %s\n", runtime.Version())
		fmt.Printf("OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
		return
	}

	if opts.genPath != "" {
		if err := config.WriteExampleConfig(opts.genPath); err != nil {
			fmt.Printf("[ERROR] 写入示例配置失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("[INFO] 示例配置已写入: %s\n", opts.genPath)
		return
	}

	if err := run(opts); err != nil {
		fmt.Printf("[ERROR] %v\n", err)
		os.Exit(1)
	}
}

// parseFlags 解析命令行参数
func parseFlags() options {
	var opts options

	flag.StringVar(&opts.configPath, "config", "rtpclient.yaml", "配置文件路径 (YAML/TOML)")
	flag.StringVar(&opts.genPath, "gen", "", "生成示例配置到指定路径后退出")
	flag.BoolVar(&opts.probe, "probe", false, "解析后为每个目标试建控制/MIDI 端口对")
	flag.DurationVar(&opts.timeout, "timeout", 5*time.Second, "单个目标的检查期限")
	flag.StringVar(&opts.logLevel, "log", "", "日志级别 (覆盖配置文件)")
	flag.BoolVar(&opts.version, "version", false, "显示版本")

	flag.Parse()
	return opts
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}

	logger, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	printBanner(opts.configPath, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dialer := transport.NewDialer(transport.Options{
		ReadBufferSize:  cfg.Transport.ReadBuffer,
		WriteBufferSize: cfg.Transport.WriteBuffer,
		DSCP:            cfg.Transport.DSCP,
		ResolveTimeout:  opts.timeout,
	}, logger)

	reports := checkTargets(ctx, dialer, cfg.Targets, opts.probe, opts.timeout)
	failed := printReports(reports)
	logger.Debug("检查完成", zap.Int("targets", len(reports)), zap.Int("failed", failed))

	if failed > 0 {
		return fmt.Errorf("%d 个目标检查失败", failed)
	}
	return nil
}

// printBanner 打印横幅
func printBanner(path string, cfg *config.Config) {
	reconnect := "关闭"
	if cfg.Reconnect.Enabled {
		reconnect = fmt.Sprintf("%s 起, 上限 %s", cfg.Reconnect.InitialDelay(), cfg.Reconnect.MaxDelay())
	}
	metricsAddr := "关闭"
	if cfg.Metrics.Enabled {
		metricsAddr = cfg.Metrics.Listen + cfg.Metrics.Path
	}

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Println("║                RTP-MIDI Client Config Check               ║")
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  配置:   %-48s ║\n", path)
	fmt.Printf("║  目标:   %-48d ║\n", len(cfg.Targets))
	fmt.Printf("║  握手:   %-48s ║\n", fmt.Sprintf("期限 %s, 探测期限 %s", cfg.Session.ConnectTimeout(), cfg.Session.CKTimeout()))
	fmt.Printf("║  重连:   %-48s ║\n", reconnect)
	fmt.Printf("║  监控:   %-48s ║\n", metricsAddr)
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()
}

// printReports 打印检查结果，返回失败数量
func printReports(reports []targetReport) int {
	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Printf("[FAIL] %-20s %s:%s  %v\n", r.Name, r.Host, r.Port, r.Err)
			continue
		}

		fmt.Printf("[ OK ] %-20s %s:%s  候选 %v (%s)\n", r.Name, r.Host, r.Port, r.Candidates, r.Elapsed.Round(time.Millisecond))
		if r.Probed {
			fmt.Printf("       控制 %d -> %s, MIDI %d -> %s\n",
				r.LocalBase, r.ControlAddr, r.LocalBase+1, r.MIDIAddr)
		}
	}
	return failed
}
