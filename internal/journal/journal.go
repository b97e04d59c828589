package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mark3labs/agentloop/internal/event"
	"github.com/mark3labs/agentloop/internal/logger"
	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const streamName = "agentloop_events"

// SubjectForSession returns the wildcard subject pattern for all events in a
// run. Example: "agentloop.mysession.>"
func SubjectForSession(session string) string {
	return fmt.Sprintf("agentloop.%s.>", session)
}

// SubjectForEvent returns the specific subject for an event type in a run.
// Example: "agentloop.mysession.tool_end"
func SubjectForEvent(session string, typ event.Type) string {
	return fmt.Sprintf("agentloop.%s.%s", session, typ)
}

// Journal is an append-only run log backed by embedded NATS JetStream.
// Every progress event a run emits is persisted here, so past runs can be
// replayed and summarized after the process that ran them has exited.
type Journal struct {
	ns     *server.Server
	nc     *nats.Conn
	js     jetstream.JetStream
	stream jetstream.Stream
}

// Open starts the embedded server, connects in-process, and creates or
// updates the event stream. The returned Journal must be closed.
func Open(ctx context.Context, dataDir string) (*Journal, error) {
	ns, err := startEmbeddedServer(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to start embedded NATS: %w", err)
	}

	nc, err := connectInProcess(ns)
	if err != nil {
		ns.Shutdown()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := createJetStream(nc)
	if err != nil {
		shutdown(nc, ns)
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	stream, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{"agentloop.>"},
		Storage:  jetstream.FileStorage,
		MaxAge:   30 * 24 * time.Hour, // 30 day retention
	})
	if err != nil {
		shutdown(nc, ns)
		return nil, fmt.Errorf("failed to create stream: %w", err)
	}

	return &Journal{ns: ns, nc: nc, js: js, stream: stream}, nil
}

// Close drains the connection and shuts the embedded server down.
func (j *Journal) Close() error {
	return shutdown(j.nc, j.ns)
}

// Append persists one event. Events without a session cannot be routed to a
// subject and are rejected.
func (j *Journal) Append(ctx context.Context, e event.Event) error {
	if e.Session == "" {
		return fmt.Errorf("event has no session")
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	subject := SubjectForEvent(e.Session, e.Type)
	ack, err := j.js.Publish(ctx, subject, data)
	if err != nil {
		logger.Error("Failed to publish event to subject %s: %v", subject, err)
		return fmt.Errorf("failed to publish event: %w", err)
	}

	logger.Debug("Event journaled: session=%s type=%s seq=%d", e.Session, e.Type, ack.Sequence)
	return nil
}

// Record consumes a run's event stream and appends every event to the
// journal. It returns when the stream closes. Append failures are logged
// and do not interrupt consumption; the run itself must not stall on a
// journaling problem.
func (j *Journal) Record(ctx context.Context, events <-chan event.Event) {
	for e := range events {
		if err := j.Append(ctx, e); err != nil {
			logger.Warn("Dropping event from journal: %v", err)
		}
	}
}

// Events replays all persisted events for a session in append order.
func (j *Journal) Events(ctx context.Context, session string) ([]event.Event, error) {
	return j.replay(ctx, SubjectForSession(session))
}

// replay reads all events matching the subject filter, in stream order.
func (j *Journal) replay(ctx context.Context, filter string) ([]event.Event, error) {
	consumer, err := j.stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		FilterSubject: filter,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckExplicitPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create consumer: %w", err)
	}

	var out []event.Event
	const batchSize = 1000
	malformed := 0
	for {
		msgs, err := consumer.FetchNoWait(batchSize)
		if err != nil {
			break
		}

		count := 0
		for msg := range msgs.Messages() {
			count++
			var e event.Event
			if err := json.Unmarshal(msg.Data(), &e); err != nil {
				malformed++
				meta, _ := msg.Metadata()
				logger.Warn("Skipping malformed event (seq=%d): %v", meta.Sequence.Stream, err)
				msg.Ack()
				continue
			}
			if e.ID == "" {
				meta, _ := msg.Metadata()
				e.ID = fmt.Sprintf("%d", meta.Sequence.Stream)
			}
			out = append(out, e)
			msg.Ack()
		}

		if count < batchSize {
			break
		}
	}

	if malformed > 0 {
		logger.Warn("Skipped %d malformed events during replay", malformed)
	}
	return out, nil
}

// RunInfo summarizes one persisted run, reduced from its event log.
type RunInfo struct {
	Session    string    `json:"session"`
	Started    time.Time `json:"started"`
	Ended      time.Time `json:"ended,omitempty"`
	Events     int       `json:"events"`
	Turns      int       `json:"turns"`
	ToolCalls  int       `json:"tool_calls"`
	Warnings   int       `json:"warnings"`
	CostUSD    float64   `json:"cost_usd"`
	StopReason string    `json:"stop_reason,omitempty"`
	Done       bool      `json:"done"`
}

// apply folds one event into the summary.
func (r *RunInfo) apply(e event.Event) {
	r.Events++
	if r.Started.IsZero() || e.Timestamp.Before(r.Started) {
		r.Started = e.Timestamp
	}
	if e.Timestamp.After(r.Ended) {
		r.Ended = e.Timestamp
	}

	switch e.Type {
	case event.TypeTurnComplete:
		if e.Turn != nil {
			r.Turns = e.Turn.Number
			r.CostUSD = e.Turn.CostUSD
		}
	case event.TypeToolStart:
		r.ToolCalls++
	case event.TypeWarning:
		r.Warnings++
	case event.TypeStop:
		r.Done = true
		if e.Stop != nil {
			r.StopReason = e.Stop.Reason
			r.Turns = e.Stop.Turns
			r.CostUSD = e.Stop.CostUSD
		}
	}
}

// Run reduces a single session's event log into a summary. Returns an error
// when the session has no events.
func (j *Journal) Run(ctx context.Context, session string) (*RunInfo, error) {
	events, err := j.Events(ctx, session)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("no events for session %q", session)
	}

	info := &RunInfo{Session: session}
	for _, e := range events {
		info.apply(e)
	}
	return info, nil
}

// Runs lists all persisted runs, most recently started first.
func (j *Journal) Runs(ctx context.Context) ([]*RunInfo, error) {
	events, err := j.replay(ctx, "agentloop.>")
	if err != nil {
		return nil, err
	}

	byScope := make(map[string]*RunInfo)
	for _, e := range events {
		info, ok := byScope[e.Session]
		if !ok {
			info = &RunInfo{Session: e.Session}
			byScope[e.Session] = info
		}
		info.apply(e)
	}

	runs := make([]*RunInfo, 0, len(byScope))
	for _, info := range byScope {
		runs = append(runs, info)
	}
	sort.Slice(runs, func(i, k int) bool {
		return runs[i].Started.After(runs[k].Started)
	})
	return runs, nil
}
