//go:build unix

package discovery

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// ControlReuseBroadcast 在 bind 前开启 SO_REUSEADDR 与 SO_BROADCAST
func ControlReuseBroadcast(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		if sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); sockErr != nil {
			return
		}
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_BROADCAST, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
