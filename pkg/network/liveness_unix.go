//go:build linux || darwin

package network

import (
	"errors"
	"os"
	"syscall"

	"golang.org/x/sys/unix"
)

// peerClosed peeks one byte without blocking. A zero length read means the
// peer sent FIN.
func peerClosed(raw syscall.RawConn) (bool, error) {
	var (
		gone    bool
		peekErr error
	)
	err := raw.Read(func(fd uintptr) bool {
		var b [1]byte
		n, _, err := unix.Recvfrom(int(fd), b[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
		switch {
		case err == nil:
			gone = n == 0
		case errors.Is(err, unix.EAGAIN), errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		default:
			peekErr = err
		}
		return true
	})
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return gone, peekErr
}
