//go:build !windows

package ipc

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
)

// socketPath returns a short socket path; unix socket paths have a tight
// length limit, so the default TempDir can be too deep on some systems.
func socketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "d.sock")
}

func TestServerClientExchange(t *testing.T) {
	type statusBody struct {
		Active bool   `json:"active"`
		ID     string `json:"id"`
	}

	srv := NewServer(func(op Opcode, payload []byte) (any, error) {
		switch op {
		case OpStatus:
			return statusBody{Active: true, ID: "session_1"}, nil
		default:
			return nil, fmt.Errorf("unknown opcode %d", op)
		}
	})

	path := socketPath(t)
	if err := srv.Listen(path); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	var got statusBody
	if err := Call(path, OpStatus, nil, &got); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if !got.Active || got.ID != "session_1" {
		t.Errorf("response = %+v", got)
	}
}

func TestServerHandlerError(t *testing.T) {
	srv := NewServer(func(Opcode, []byte) (any, error) {
		return nil, errors.New("store unavailable")
	})

	path := socketPath(t)
	if err := srv.Listen(path); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	err := Call(path, OpStatus, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "store unavailable") {
		t.Fatalf("err = %v, want daemon error", err)
	}
}

func TestServerHandlerPanicRecovered(t *testing.T) {
	srv := NewServer(func(Opcode, []byte) (any, error) {
		panic("boom")
	})

	path := socketPath(t)
	if err := srv.Listen(path); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	err := Call(path, OpStatus, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "handler panic") {
		t.Fatalf("err = %v, want handler panic error", err)
	}

	// The server keeps answering after a panic.
	if !Ping(path) {
		t.Fatal("server dead after handler panic")
	}
}

func TestPing(t *testing.T) {
	path := socketPath(t)
	if Ping(path) {
		t.Fatal("ping succeeded with no daemon")
	}

	srv := NewServer(func(Opcode, []byte) (any, error) { return nil, nil })
	if err := srv.Listen(path); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer srv.Close()

	if !Ping(path) {
		t.Fatal("ping failed with daemon running")
	}
}

func TestCallDaemonNotRunning(t *testing.T) {
	err := Call(socketPath(t), OpStatus, nil, nil)
	if !errors.Is(err, ErrDaemonNotRunning) {
		t.Fatalf("err = %v, want ErrDaemonNotRunning", err)
	}
}

func TestListenReplacesStaleSocket(t *testing.T) {
	path := socketPath(t)

	srv1 := NewServer(func(Opcode, []byte) (any, error) { return nil, nil })
	if err := srv1.Listen(path); err != nil {
		t.Fatalf("first Listen: %v", err)
	}
	srv1.Close()

	// The socket file may linger after an unclean shutdown; a new server
	// must still be able to bind.
	srv2 := NewServer(func(Opcode, []byte) (any, error) { return nil, nil })
	if err := srv2.Listen(path); err != nil {
		t.Fatalf("second Listen: %v", err)
	}
	defer srv2.Close()

	if !Ping(path) {
		t.Fatal("replacement server not answering")
	}
}
