package ipc

import (
	"encoding/json"
	"fmt"
	"time"
)

// Call connects to the daemon's control endpoint at path, sends one request,
// and decodes the response into out. A nil out discards the body.
func Call(path string, op Opcode, req any, out any) error {
	conn, err := dial(path)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDaemonNotRunning, err)
	}
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))

	var payload []byte
	if req != nil {
		payload, err = json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	frame, err := EncodeFrame(op, payload)
	if err != nil {
		return err
	}
	if _, err := conn.Write(frame); err != nil {
		return fmt.Errorf("sending request: %w", err)
	}

	respOp, body, err := DecodeFrame(conn)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if respOp == OpError {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return fmt.Errorf("daemon error: %s", e.Error)
		}
		return fmt.Errorf("daemon error")
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

// Ping reports whether a daemon is answering on path.
func Ping(path string) bool {
	return Call(path, OpPing, nil, nil) == nil
}
