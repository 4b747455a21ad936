//go:build unix

// =============================================================================
// 文件: internal/transport/sockopt_unix.go
// 描述: 套接字选项 - Unix 平台 SO_REUSEADDR
// =============================================================================
package transport

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func reuseAddrControl(network, address string, c syscall.RawConn) error {
	var opErr error
	err := c.Control(func(fd uintptr) {
		opErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return opErr
}
