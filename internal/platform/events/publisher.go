// Package events publishes comment domain events to NATS JetStream.
// Publishing is fire-and-forget: failures are logged and never surface to the
// request that produced the event.
package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Stream and subject names for every comment event.
const (
	StreamName   = "COMMENTS"
	SubjectsAll  = "comments.>"
	StreamMaxAge = 7 * 24 * time.Hour

	SubjectCommentCreated     = "comments.created"
	SubjectCommentLiked       = "comments.liked"
	SubjectCommentUnliked     = "comments.unliked"
	SubjectReconcileRequested = "comments.reconcile.requested"
	SubjectDLQ                = "comments.dlq"
)

// Event is the canonical envelope sent to all comments.* subjects.
type Event struct {
	EventID    string         `json:"event_id"`
	EventName  string         `json:"event_name"`
	UserID     string         `json:"user_id,omitempty"`
	OccurredAt time.Time      `json:"occurred_at"`
	Properties map[string]any `json:"properties,omitempty"`
}

// StringProp returns a string property or "".
func (e Event) StringProp(key string) string {
	v, _ := e.Properties[key].(string)
	return v
}

// Publisher publishes events to NATS JetStream.
// The zero value and a nil pointer are both safe no-op stubs.
type Publisher struct {
	js  nats.JetStreamContext
	log *zap.Logger
}

// New creates a Publisher using an existing JetStream context.
// Pass js=nil to get a no-op stub (useful in tests and services without NATS).
func New(js nats.JetStreamContext, log *zap.Logger) *Publisher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Publisher{js: js, log: log}
}

// EnsureStream creates the COMMENTS stream, or widens its subjects if an
// older deployment created it with a narrower set.
func EnsureStream(js nats.JetStreamContext) error {
	info, err := js.StreamInfo(StreamName)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == SubjectsAll {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = []string{SubjectsAll}
		_, err = js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     StreamName,
		Subjects: []string{SubjectsAll},
		Storage:  nats.FileStorage,
		MaxAge:   StreamMaxAge,
	})
	return err
}

// Publish sends an event asynchronously. Safe to call with a nil receiver.
func (p *Publisher) Publish(subject, eventName, userID string, props map[string]any) {
	if p == nil || p.js == nil {
		return
	}
	ev := Event{
		EventID:    uuid.NewString(),
		EventName:  eventName,
		UserID:     userID,
		OccurredAt: time.Now().UTC(),
		Properties: props,
	}
	data, err := json.Marshal(ev)
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("event", eventName), zap.Error(err))
		return
	}
	if _, err := p.js.PublishAsync(subject, data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", subject), zap.Error(err))
	}
}

// ReportDrift asks the reconcile consumer to recompute a comment's like count.
func (p *Publisher) ReportDrift(commentID string) {
	p.Publish(SubjectReconcileRequested, "reconcile_requested", "", map[string]any{"comment_id": commentID})
}
