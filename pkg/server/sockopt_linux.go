//go:build linux

package server

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// controlListener sets SO_REUSEADDR on listening sockets so a restarted
// server can rebind while old connections sit in TIME_WAIT.
func controlListener(_, _ string, c syscall.RawConn) error {
	var serr error
	err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	if serr != nil {
		return fmt.Errorf("setsockopt SO_REUSEADDR: %w", serr)
	}
	return nil
}

// tuneConn disables Nagle on accepted TCP connections. Frames are small
// and latency bound.
func tuneConn(c syscall.Conn) {
	raw, err := c.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
	})
}
