//go:build !unix

package proxy

import (
	"net"
	"syscall"
)

func controlListener(_, _ string, _ syscall.RawConn) error {
	return nil
}

func setBacklog(_ net.Listener, _ int) error {
	return nil
}
