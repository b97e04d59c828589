package event

import (
	"testing"
	"time"
)

func TestStreamEmitStampsFields(t *testing.T) {
	s := NewStream("demo", 4)

	s.Emit(Event{Type: TypeStart})
	s.Emit(Event{Type: TypeTextChunk, Text: "hello"})
	s.Close()

	events := Collect(s.Events())
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}

	for i, e := range events {
		if e.ID == "" {
			t.Errorf("event %d missing ID", i)
		}
		if e.Timestamp.IsZero() {
			t.Errorf("event %d missing timestamp", i)
		}
		if e.Session != "demo" {
			t.Errorf("event %d session = %q, expected 'demo'", i, e.Session)
		}
	}

	if events[1].Text != "hello" {
		t.Errorf("expected text payload 'hello', got %q", events[1].Text)
	}
}

func TestStreamPreservesExplicitFields(t *testing.T) {
	s := NewStream("demo", 1)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	go func() {
		s.Emit(Event{Type: TypeWarning, Warning: "slow", Timestamp: ts, Session: "other"})
		s.Close()
	}()

	events := Collect(s.Events())
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if !events[0].Timestamp.Equal(ts) {
		t.Errorf("explicit timestamp was overwritten: %v", events[0].Timestamp)
	}
	if events[0].Session != "other" {
		t.Errorf("explicit session was overwritten: %q", events[0].Session)
	}
}

func TestStreamBlocksWhenFull(t *testing.T) {
	s := NewStream("demo", 1)
	s.Emit(Event{Type: TypeStart})

	emitted := make(chan struct{})
	go func() {
		s.Emit(Event{Type: TypeStop, Stop: &StopPayload{Reason: "complete"}})
		close(emitted)
	}()

	select {
	case <-emitted:
		t.Fatal("second emit should block until the first event is consumed")
	case <-time.After(50 * time.Millisecond):
	}

	<-s.Events()
	select {
	case <-emitted:
	case <-time.After(time.Second):
		t.Fatal("emit did not unblock after a read")
	}
}

func TestCollectOrder(t *testing.T) {
	s := NewStream("demo", 8)
	types := []Type{TypeStart, TypeTextChunk, TypeTextComplete, TypeTurnComplete, TypeStop}
	for _, typ := range types {
		s.Emit(Event{Type: typ})
	}
	s.Close()

	events := Collect(s.Events())
	if len(events) != len(types) {
		t.Fatalf("expected %d events, got %d", len(types), len(events))
	}
	for i, typ := range types {
		if events[i].Type != typ {
			t.Errorf("event %d type = %s, expected %s", i, events[i].Type, typ)
		}
	}
}
