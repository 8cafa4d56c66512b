// Package worker repairs like counters in the background.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/corner/internal/platform/events"
	"github.com/example/corner/services/comments/internal/service"
)

// DurableName is the JetStream consumer for reconcile requests.
const DurableName = "comments_reconcile"

// Reconciler recomputes one comment's like count.
type Reconciler interface {
	Reconcile(ctx context.Context, commentID string) (service.ReconcileResult, error)
}

// ReconcilerFunc adapts a function to Reconciler.
type ReconcilerFunc func(ctx context.Context, commentID string) (service.ReconcileResult, error)

func (f ReconcilerFunc) Reconcile(ctx context.Context, commentID string) (service.ReconcileResult, error) {
	return f(ctx, commentID)
}

type ackable interface {
	Ack(opts ...nats.AckOpt) error
	NakWithDelay(delay time.Duration, opts ...nats.AckOpt) error
	Metadata() (*nats.MsgMetadata, error)
}

type dlqPublisher interface {
	Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error)
}

// ReconcileConsumer drains comments.reconcile.requested with a durable pull
// subscription. Failed reconciles are redelivered with backoff; after
// MaxDeliver attempts the request goes to the DLQ.
type ReconcileConsumer struct {
	Log        *zap.Logger
	JS         nats.JetStreamContext
	Reconciler Reconciler
	MaxDeliver int
	BatchSize  int

	dlq dlqPublisher
}

func NewReconcileConsumer(log *zap.Logger, js nats.JetStreamContext, rec Reconciler) *ReconcileConsumer {
	return &ReconcileConsumer{Log: log, JS: js, Reconciler: rec, MaxDeliver: 5, BatchSize: 20, dlq: js}
}

func (c *ReconcileConsumer) Run(ctx context.Context) error {
	if err := events.EnsureStream(c.JS); err != nil {
		return fmt.Errorf("ensure stream: %w", err)
	}
	sub, err := c.JS.PullSubscribe(events.SubjectReconcileRequested, DurableName)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	c.Log.Info("consumer started", zap.String("subject", events.SubjectReconcileRequested))
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs, err := sub.Fetch(c.BatchSize, nats.MaxWait(2*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			c.Log.Warn("fetch failed", zap.Error(err))
			time.Sleep(time.Second)
			continue
		}
		for _, m := range msgs {
			c.handle(ctx, m.Data, m)
		}
	}
}

func (c *ReconcileConsumer) handle(ctx context.Context, data []byte, m ackable) {
	numDelivered := uint64(1)
	if md, _ := m.Metadata(); md != nil {
		numDelivered = md.NumDelivered
	}

	if c.MaxDeliver > 0 && int(numDelivered) > c.MaxDeliver {
		if err := c.publishDLQ(data, fmt.Sprintf("max deliveries exceeded: %d", numDelivered)); err != nil {
			c.Log.Warn("dlq publish failed", zap.Error(err))
		}
		_ = m.Ack()
		return
	}

	var ev events.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		c.Log.Warn("bad payload", zap.Error(err))
		_ = m.Ack()
		return
	}
	commentID := ev.StringProp("comment_id")
	if commentID == "" {
		c.Log.Warn("reconcile request without comment_id", zap.String("event_id", ev.EventID))
		_ = m.Ack()
		return
	}

	res, err := c.Reconciler.Reconcile(ctx, commentID)
	switch {
	case err == nil:
		if res.Corrected {
			c.Log.Info("drift repaired", zap.String("comment_id", commentID),
				zap.Int64("previous", res.Previous), zap.Int64("actual", res.Actual))
		}
		_ = m.Ack()
	case errors.Is(err, service.ErrNotFound):
		_ = m.Ack()
	default:
		c.Log.Warn("reconcile failed", zap.String("comment_id", commentID),
			zap.Uint64("attempt", numDelivered), zap.Error(err))
		_ = m.NakWithDelay(backoffDelay(numDelivered))
	}
}

func (c *ReconcileConsumer) publishDLQ(data []byte, reason string) error {
	if c.dlq == nil {
		return errors.New("no dlq publisher")
	}
	msg := map[string]any{"subject": events.SubjectReconcileRequested, "reason": reason, "payload": json.RawMessage(data)}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = c.dlq.Publish(events.SubjectDLQ, b)
	return err
}
