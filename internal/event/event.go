// Package event defines the typed progress events emitted during an agent
// run and the stream abstraction the execution loop publishes them through.
package event

import (
	"time"

	"github.com/rs/xid"
)

// Type identifies the kind of progress event.
type Type string

const (
	TypeStart        Type = "start"
	TypeTextChunk    Type = "text_chunk"
	TypeTextComplete Type = "text_complete"
	TypeToolStart    Type = "tool_start"
	TypeToolEnd      Type = "tool_end"
	TypeTurnComplete Type = "turn_complete"
	TypeWarning      Type = "warning"
	TypeStop         Type = "stop"
)

// Event is one entry in a run's append-only progress sequence. Exactly the
// payload fields matching Type are populated; consumers switch on Type.
type Event struct {
	ID        string       `json:"id"`
	Timestamp time.Time    `json:"timestamp"`
	Session   string       `json:"session"`
	Type      Type         `json:"type"`
	Text      string       `json:"text,omitempty"`    // text_chunk, text_complete
	Warning   string       `json:"warning,omitempty"` // warning
	Tool      *ToolPayload `json:"tool,omitempty"`    // tool_start, tool_end
	Turn      *TurnPayload `json:"turn,omitempty"`    // turn_complete
	Stop      *StopPayload `json:"stop,omitempty"`    // stop
}

// ToolPayload describes a tool invocation bracketed by tool_start/tool_end.
type ToolPayload struct {
	RequestID  string         `json:"request_id"`
	Name       string         `json:"name"`
	Input      map[string]any `json:"input,omitempty"`
	Output     string         `json:"output,omitempty"`
	Error      string         `json:"error,omitempty"`
	Denied     bool           `json:"denied,omitempty"`
	DenyReason string         `json:"deny_reason,omitempty"`
}

// TurnPayload carries per-turn accounting on turn_complete.
type TurnPayload struct {
	Number  int     `json:"number"`
	CostUSD float64 `json:"cost_usd"`
}

// StopPayload carries the terminal summary on the final stop event.
type StopPayload struct {
	Reason   string        `json:"reason"`
	Turns    int           `json:"turns"`
	CostUSD  float64       `json:"cost_usd"`
	Duration time.Duration `json:"duration"`
}

// Stream carries events from the execution loop to a consumer. Emit blocks
// when the buffer is full so partial output is observable without the loop
// racing ahead of the reader.
type Stream struct {
	session string
	ch      chan Event
}

// DefaultBuffer is the event channel capacity used when none is given.
const DefaultBuffer = 64

// NewStream creates a stream for one run. A buffer of 0 or less uses
// DefaultBuffer.
func NewStream(session string, buffer int) *Stream {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Stream{
		session: session,
		ch:      make(chan Event, buffer),
	}
}

// Emit stamps and publishes an event. The ID, timestamp, and session fields
// are filled in if unset.
func (s *Stream) Emit(e Event) {
	if e.ID == "" {
		e.ID = xid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Session == "" {
		e.Session = s.session
	}
	s.ch <- e
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan Event {
	return s.ch
}

// Close ends the stream. Only the emitting side may call it, after the final
// stop event.
func (s *Stream) Close() {
	close(s.ch)
}

// Collect drains a stream to completion and returns all events in order.
func Collect(ch <-chan Event) []Event {
	var events []Event
	for e := range ch {
		events = append(events, e)
	}
	return events
}
