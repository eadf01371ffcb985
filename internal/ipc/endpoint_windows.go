// endpoint_windows.go binds and dials the control endpoint as a named pipe
// (\\.\pipe\ccoptimize) using the go-winio library.

//go:build windows

package ipc

import (
	"net"

	"github.com/Microsoft/go-winio"
)

// listen binds the named pipe at path.
func listen(path string) (net.Listener, error) {
	return winio.ListenPipe(path, nil)
}

// dial connects to the named pipe at path.
func dial(path string) (net.Conn, error) {
	return winio.DialPipe(path, nil)
}
