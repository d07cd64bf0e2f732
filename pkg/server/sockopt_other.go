//go:build !linux

package server

import "syscall"

func controlListener(_, _ string, _ syscall.RawConn) error { return nil }

func tuneConn(syscall.Conn) {}
