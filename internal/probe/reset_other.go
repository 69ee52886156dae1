//go:build !linux

package probe

import "net"

func resetConn(_ *net.TCPConn) error {
	return ErrResetUnsupported
}
