// =============================================================================
// 文件: internal/transport/buffer.go
// 描述: 套接字缓冲区与 DSCP 标记 - 设置失败时逐级降级
// =============================================================================
package transport

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

const (
	minBufferSize = 4 * 1024        // 4KB 最小
	maxBufferSize = 4 * 1024 * 1024 // 4MB 最大
)

// clampBufferSize 限制缓冲区大小在合理范围内
func clampBufferSize(size int) int {
	if size < minBufferSize {
		return minBufferSize
	}
	if size > maxBufferSize {
		return maxBufferSize
	}
	return size
}

// setupBuffers 设置系统缓冲区，返回实际生效的大小（0 表示未设置）
func setupBuffers(c *net.UDPConn, readSize, writeSize int) (int, int) {
	if readSize > 0 {
		readSize = applyWithFallback(c.SetReadBuffer, clampBufferSize(readSize))
	}
	if writeSize > 0 {
		writeSize = applyWithFallback(c.SetWriteBuffer, clampBufferSize(writeSize))
	}
	return readSize, writeSize
}

func applyWithFallback(set func(int) error, size int) int {
	for ; size >= minBufferSize; size /= 2 {
		if err := set(size); err == nil {
			return size
		}
	}
	return 0
}

// setDSCP 设置 DSCP (IPv4 TOS / IPv6 Traffic Class 高 6 位)
func setDSCP(c *net.UDPConn, dscp int) error {
	tos := (dscp & 0x3f) << 2

	if ua, ok := c.LocalAddr().(*net.UDPAddr); ok && ua.IP.To4() != nil {
		return ipv4.NewConn(c).SetTOS(tos)
	}
	return ipv6.NewConn(c).SetTrafficClass(tos)
}
