package ipc

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// connDeadline bounds a single request/response exchange.
const connDeadline = 5 * time.Second

// Handler produces the response body for one request. Returning an error
// sends an OpError frame instead; the connection survives neither way
// beyond its single exchange.
type Handler func(op Opcode, payload []byte) (any, error)

// Server answers framed requests on the daemon's control socket.
type Server struct {
	handler Handler

	mu       sync.Mutex
	listener net.Listener
	wg       sync.WaitGroup
	closed   bool
}

// NewServer creates a server dispatching to handler.
func NewServer(handler Handler) *Server {
	return &Server{handler: handler}
}

// Listen binds the platform control endpoint (unix socket or named pipe)
// and starts accepting in the background.
func (s *Server) Listen(path string) error {
	l, err := listen(path)
	if err != nil {
		return fmt.Errorf("binding control socket: %w", err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		l.Close()
		return errors.New("server already closed")
	}
	s.listener = l
	s.mu.Unlock()

	s.wg.Add(1)
	go s.acceptLoop(l)
	slog.Info("control socket listening", "path", path)
	return nil
}

// Close stops accepting and waits for in-flight exchanges.
func (s *Server) Close() error {
	s.mu.Lock()
	s.closed = true
	l := s.listener
	s.mu.Unlock()

	var err error
	if l != nil {
		err = l.Close()
	}
	s.wg.Wait()
	return err
}

func (s *Server) acceptLoop(l net.Listener) {
	defer s.wg.Done()

	for {
		conn, err := l.Accept()
		if err != nil {
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if !closed {
				slog.Warn("control socket accept failed", "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(conn)
		}()
	}
}

// serveConn handles one request/response exchange then closes.
func (s *Server) serveConn(conn net.Conn) {
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(connDeadline))

	op, payload, err := DecodeFrame(conn)
	if err != nil {
		slog.Debug("control request decode failed", "error", err)
		return
	}

	respOp := OpResult
	var body any
	body, err = s.dispatch(op, payload)
	if err != nil {
		respOp = OpError
		body = map[string]string{"error": err.Error()}
	}

	data, err := json.Marshal(body)
	if err != nil {
		slog.Warn("control response encode failed", "error", err)
		return
	}
	frame, err := EncodeFrame(respOp, data)
	if err != nil {
		slog.Warn("control response frame failed", "error", err)
		return
	}
	if _, err := conn.Write(frame); err != nil {
		slog.Debug("control response write failed", "error", err)
	}
}

// dispatch routes one request, recovering handler panics into errors.
func (s *Server) dispatch(op Opcode, payload []byte) (body any, err error) {
	defer func() {
		if r := recover(); r != nil {
			body, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	if op == OpPing {
		return map[string]string{"status": "ok"}, nil
	}
	return s.handler(op, payload)
}
