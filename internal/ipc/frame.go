// Package ipc implements the framed control channel between the running
// daemon and the CLI.
//
// The daemon listens on a unix socket (a named pipe on Windows); the CLI
// connects, sends one framed request, and reads one framed response. Frames
// are [4-byte LE opcode][4-byte LE length][JSON payload].
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ///////////////////////////////////////////////
// Constants
// ///////////////////////////////////////////////

// Opcode identifies the request or response kind of a frame.
type Opcode uint32

const (
	// OpPing checks daemon liveness.
	OpPing Opcode = 0
	// OpStatus requests the full status snapshot.
	OpStatus Opcode = 1
	// OpSessions requests recent session history.
	OpSessions Opcode = 2
	// OpResult carries a successful JSON response.
	OpResult Opcode = 100
	// OpError carries a JSON-encoded error message.
	OpError Opcode = 101

	// frameHeaderSize is the byte length of the frame header: a 4-byte
	// little-endian opcode followed by a 4-byte little-endian payload length.
	frameHeaderSize = 8

	// MaxPayloadSize is the maximum allowed payload size (1 MB).
	MaxPayloadSize = 1 << 20
)

// ErrPayloadTooLarge is returned when a frame payload exceeds MaxPayloadSize.
var ErrPayloadTooLarge = errors.New("payload too large")

// ErrDaemonNotRunning is returned when the daemon's socket cannot be reached.
var ErrDaemonNotRunning = errors.New("daemon not running")

// ErrUnknownOpcode is returned by handlers for request opcodes they do not
// understand.
var ErrUnknownOpcode = errors.New("unknown opcode")

// ///////////////////////////////////////////////
// Frame Encoding
// ///////////////////////////////////////////////

// EncodeFrame builds a control frame: [4-byte LE opcode][4-byte LE length][payload].
func EncodeFrame(opcode Opcode, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}
	frame := make([]byte, frameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(frame[0:4], uint32(opcode))
	binary.LittleEndian.PutUint32(frame[4:8], uint32(len(payload)))
	copy(frame[8:], payload)
	return frame, nil
}

// ///////////////////////////////////////////////
// Frame Decoding
// ///////////////////////////////////////////////

// DecodeFrame reads a single control frame from reader.
// It handles partial reads via io.ReadFull.
func DecodeFrame(reader io.Reader) (opcode Opcode, payload []byte, err error) {
	header := make([]byte, frameHeaderSize)
	if _, err = io.ReadFull(reader, header); err != nil {
		return 0, nil, fmt.Errorf("reading frame header: %w", err)
	}

	opcode = Opcode(binary.LittleEndian.Uint32(header[0:4]))
	length := binary.LittleEndian.Uint32(header[4:8])

	if length > MaxPayloadSize {
		return 0, nil, fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, length, MaxPayloadSize)
	}

	payload = make([]byte, length)
	if _, err = io.ReadFull(reader, payload); err != nil {
		return 0, nil, fmt.Errorf("reading frame payload: %w", err)
	}

	return opcode, payload, nil
}
