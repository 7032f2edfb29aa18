//go:build windows

package utils

import (
	"syscall"
)

func setSocketOptions(fd uintptr, bufSize int) {
	syscall.SetsockoptInt(syscall.Handle(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1)
	syscall.SetsockoptInt(syscall.Handle(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, 4*bufSize)
}
