// endpoint_unix.go binds and dials the control endpoint as a unix domain
// socket. A stale socket file from a crashed daemon is removed before
// binding; the PID file lock guarantees no live daemon still owns it.

//go:build !windows

package ipc

import (
	"net"
	"os"
)

// listen binds a unix socket at path, restricted to the owning user.
func listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, err
	}
	return l, nil
}

// dial connects to the unix socket at path.
func dial(path string) (net.Conn, error) {
	return net.Dial("unix", path)
}
