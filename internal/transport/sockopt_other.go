//go:build !unix

// =============================================================================
// 文件: internal/transport/sockopt_other.go
// 描述: 套接字选项 - 非 Unix 平台存根
// =============================================================================
package transport

import "syscall"

// Windows 上 SO_REUSEADDR 允许抢占已绑定端口，语义不同，不设置
func reuseAddrControl(network, address string, c syscall.RawConn) error {
	return nil
}
