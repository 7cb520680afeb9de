package audit

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"time"
)

// RedactedValue replaces sensitive values in captured request bodies.
const RedactedValue = "[REDACTED]"

// Event is one immutable security-relevant outcome. The actor fields are
// empty for unauthenticated actions; events reference users only by id
// and email so they survive user deletion.
type Event struct {
	Timestamp  time.Time      `json:"timestamp"`
	UserID     string         `json:"user_id,omitempty"`
	UserEmail  string         `json:"user_email,omitempty"`
	Action     string         `json:"action"`
	Resource   string         `json:"resource,omitempty"`
	ResourceID string         `json:"resource_id,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
	IPAddress  string         `json:"ip_address,omitempty"`
	UserAgent  string         `json:"user_agent,omitempty"`
	Success    bool           `json:"success"`
	Error      string         `json:"error,omitempty"`
}

// Store persists events. Implementations must treat events as
// append-only.
type Store interface {
	Insert(ctx context.Context, event Event) error
}

// Query filters and paginates the event log. Pages are 1-based.
type Query struct {
	Page     int
	PageSize int
	UserID   string
	Action   string
	Resource string
	Success  *bool
	Start    *time.Time
	End      *time.Time
}

// Page is one page of query results, newest first.
type Page struct {
	Events   []Event
	Total    int64
	Pages    int
	Page     int
	PageSize int
}

// PageCount computes the 1-based page count for a total row count.
func PageCount(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

// Sanitize returns a copy of body with sensitive values redacted. Any
// key containing "password", "token", or "secret" is replaced; the rest
// pass through untouched. Redaction is unconditional.
func Sanitize(body map[string]any) map[string]any {
	if body == nil {
		return nil
	}

	sanitized := make(map[string]any, len(body))
	for key, value := range body {
		lower := strings.ToLower(key)
		if strings.Contains(lower, "password") ||
			strings.Contains(lower, "token") ||
			strings.Contains(lower, "secret") {
			sanitized[key] = RedactedValue
			continue
		}
		sanitized[key] = value
	}

	return sanitized
}

// Sink receives dispatched events. Emit errors are logged by the
// dispatcher and never reach the code that emitted the event.
type Sink interface {
	Emit(ctx context.Context, event Event) error
}

// NoOpSink drops events.
type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, Event) error { return nil }

// StoreSink persists events through a Store.
type StoreSink struct {
	store Store
}

func NewStoreSink(store Store) *StoreSink {
	return &StoreSink{store: store}
}

func (s *StoreSink) Emit(ctx context.Context, event Event) error {
	if s == nil || s.store == nil {
		return nil
	}
	return s.store.Insert(ctx, event)
}

// ChannelSink writes events into a buffered channel.
type ChannelSink struct {
	events chan Event
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan Event, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event Event) error {
	select {
	case s.events <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("audit channel full")
	}
}

func (s *ChannelSink) Events() <-chan Event {
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

func (s *JSONWriterSink) Emit(_ context.Context, event Event) error {
	if s == nil || s.writer == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	_, err = s.writer.Write([]byte("\n"))
	return err
}
