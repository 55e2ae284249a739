package grantkit

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// Trail event types emitted by the engine.
const (
	TrailAuthorize     = "authorize"
	TrailGrantEnact    = "grant.enact"
	TrailGrantRepeal   = "grant.repeal"
	TrailLatchCreate   = "latch.create"
	TrailLatchComplete = "latch.complete"
	TrailLatchFail     = "latch.fail"
)

// TrailEvent is one entry in the decision trail. Events are emitted
// asynchronously and must not be relied on for the authorization outcome
// itself; the Decision return value is authoritative.
type TrailEvent struct {
	Timestamp time.Time         `json:"timestamp"`
	EventType string            `json:"event_type"`
	Principal string            `json:"principal,omitempty"`
	Action    string            `json:"action,omitempty"`
	Resource  string            `json:"resource,omitempty"`
	Outcome   string            `json:"outcome,omitempty"`
	GrantIDs  []string          `json:"grant_ids,omitempty"`
	LatchID   string            `json:"latch_id,omitempty"`
	WorkerID  string            `json:"worker_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// TrailSink receives emitted trail events.
type TrailSink interface {
	Emit(ctx context.Context, event TrailEvent)
}

// NoOpSink drops trail events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, TrailEvent) {}

// ChannelSink writes trail events into a buffered channel.
type ChannelSink struct {
	events chan TrailEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan TrailEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event TrailEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan TrailEvent {
	return s.events
}

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event TrailEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

func grantIDs(grants []Grant) []string {
	if len(grants) == 0 {
		return nil
	}
	ids := make([]string, len(grants))
	for i, g := range grants {
		ids[i] = g.ID.String()
	}
	return ids
}
