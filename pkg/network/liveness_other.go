//go:build !(linux || darwin)

package network

import "syscall"

// peerClosed is not available here; a dead peer shows up as a read error.
func peerClosed(syscall.RawConn) (bool, error) {
	return false, nil
}
