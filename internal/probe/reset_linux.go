//go:build linux

package probe

import (
	"fmt"
	"net"
	"unsafe"

	"golang.org/x/sys/unix"
)

// resetConn forces an immediate disconnect by re-connecting the socket with
// an AF_UNSPEC address. SO_LINGER with a zero interval still tries a
// graceful close first, so it is not a real hard reset; the AF_UNSPEC
// reconnect is, but the behavior is poorly documented and Linux-only, so
// treat it as a best-effort fault-injection knob.
func resetConn(tcp *net.TCPConn) error {
	raw, err := tcp.SyscallConn()
	if err != nil {
		return fmt.Errorf("probe: raw conn: %w", err)
	}

	var connErr error
	err = raw.Control(func(fd uintptr) {
		var sa unix.RawSockaddrInet4
		sa.Family = unix.AF_UNSPEC
		_, _, errno := unix.Syscall(
			unix.SYS_CONNECT,
			fd,
			uintptr(unsafe.Pointer(&sa)),
			unsafe.Sizeof(sa),
		)
		if errno != 0 {
			connErr = errno
		}
	})
	if err != nil {
		return fmt.Errorf("probe: control: %w", err)
	}
	if connErr != nil {
		return fmt.Errorf("probe: connect AF_UNSPEC: %w", connErr)
	}
	return nil
}
