// Package agent defines the reporting contract between the session coordinator
// and its collaborators (detector, timer, token tracker).
//
// Every collaborator implements [Reportable]: it identifies itself with a
// stable name and accepts callbacks through AddCallback. Events flow as a
// (event type, payload) pair; the payload always carries enough identity
// ("session_id" or "id") for the coordinator to correlate it to a session.
// Dispatch is by interface, never by reflection.
package agent

import (
	"log/slog"
	"sync"
	"time"
)

// ///////////////////////////////////////////////
// Contract
// ///////////////////////////////////////////////

// Payload is the data map attached to every agent event.
type Payload map[string]any

// Callback receives an event from a collaborator. Callbacks execute on the
// emitting collaborator's goroutine, so handlers must stay sub-second.
type Callback func(event string, data Payload)

// Reportable is the capability interface every registered collaborator
// implements.
type Reportable interface {
	// Name returns the stable agent identifier (e.g. "detector", "timer").
	Name() string
	// AddCallback registers cb to receive this agent's events.
	AddCallback(cb Callback)
}

// ///////////////////////////////////////////////
// Emitter
// ///////////////////////////////////////////////

// Emitter is the shared callback fan-out embedded by collaborators.
// A panicking callback is recovered and logged; it never prevents delivery
// to the remaining callbacks or stops the emitting loop.
type Emitter struct {
	mu  sync.Mutex
	cbs []Callback
}

// AddCallback registers cb to receive emitted events.
func (e *Emitter) AddCallback(cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cbs = append(e.cbs, cb)
}

// Emit delivers the event to every registered callback in registration order.
func (e *Emitter) Emit(event string, data Payload) {
	e.mu.Lock()
	cbs := make([]Callback, len(e.cbs))
	copy(cbs, e.cbs)
	e.mu.Unlock()

	for _, cb := range cbs {
		deliver(cb, event, data)
	}
}

// deliver invokes a single callback, recovering any panic so one bad
// subscriber cannot take down the emitter.
func deliver(cb Callback, event string, data Payload) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("agent callback panicked", "event", event, "panic", r)
		}
	}()
	cb(event, data)
}

// ///////////////////////////////////////////////
// Payload Accessors
// ///////////////////////////////////////////////

// SessionID extracts the session identity from a payload, checking
// "session_id" first and "id" second. Returns empty string when neither
// is present.
func (p Payload) SessionID() string {
	if id, ok := p["session_id"].(string); ok && id != "" {
		return id
	}
	if id, ok := p["id"].(string); ok && id != "" {
		return id
	}
	return ""
}

// Time extracts a time.Time value from the payload, or the zero time when
// the key is missing or holds another type.
func (p Payload) Time(key string) time.Time {
	if t, ok := p[key].(time.Time); ok {
		return t
	}
	return time.Time{}
}

// Float extracts a float64 value from the payload, accepting float64 and
// integer kinds. Returns 0 when missing.
func (p Payload) Float(key string) float64 {
	switch v := p[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

// Int extracts an int64 value from the payload. Returns 0 when missing.
func (p Payload) Int(key string) int64 {
	switch v := p[key].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	default:
		return 0
	}
}
