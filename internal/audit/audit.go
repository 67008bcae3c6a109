// Package audit records security relevant auth events. Events are published to the
// task stream and archived by the worker.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portalauth/internal/ids"
)

const TaskType = "audit"

type EventType string

const (
	EventLoginSucceeded EventType = "login.succeeded"
	EventLoginFailed    EventType = "login.failed"
	EventLoginLocked    EventType = "login.locked"
	EventRegistered     EventType = "register"
	EventLogout         EventType = "logout"
	EventStatusChanged  EventType = "user.status_changed"
	EventSessionRevoked EventType = "session.revoked"
)

type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	UserID     string    `json:"userId,omitempty"`
	Email      string    `json:"email,omitempty"`
	SessionID  string    `json:"sessionId,omitempty"`
	Origin     string    `json:"origin,omitempty"`
	UserAgent  string    `json:"userAgent,omitempty"`
	Backend    string    `json:"backend,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }

// StreamPublisher appends events to a Redis stream as task entries.
type StreamPublisher struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

func NewStreamPublisher(client redis.UniversalClient, stream string) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: 100_000}
}

func (p *StreamPublisher) Publish(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = ids.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	err = p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Approx: true,
		Values: map[string]any{
			"type":  TaskType,
			"event": string(body),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("publish audit event: %w", err)
	}
	return nil
}

// Decode parses the event carried by a task entry.
func Decode(raw string) (Event, error) {
	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return Event{}, fmt.Errorf("decode audit event: %w", err)
	}
	return event, nil
}

// ObjectKey is where an event is archived.
func ObjectKey(event Event) string {
	at := event.OccurredAt.UTC()
	return fmt.Sprintf("audit/%04d/%02d/%02d/%s.json", at.Year(), at.Month(), at.Day(), event.ID)
}
