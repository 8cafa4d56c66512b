package worker

import (
	"context"
	"errors"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"github.com/example/corner/services/comments/internal/service"
)

// Sweeper is the in-process DriftReporter. Reported comment IDs sit in a
// dirty set until a sweep reconciles them; entries that keep failing are
// dropped after the TTL.
type Sweeper struct {
	dirty    *cache.Cache
	rec      Reconciler
	log      *zap.Logger
	interval time.Duration
}

func NewSweeper(rec Reconciler, log *zap.Logger, interval, ttl time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		dirty:    cache.New(ttl, 2*ttl),
		rec:      rec,
		log:      log,
		interval: interval,
	}
}

func (s *Sweeper) ReportDrift(commentID string) {
	s.dirty.SetDefault(commentID, struct{}{})
}

// Pending is the number of unexpired comments waiting for a sweep.
func (s *Sweeper) Pending() int {
	return len(s.dirty.Items())
}

// Sweep reconciles every dirty comment once and returns how many were
// cleared. An entry is removed before its reconcile so a report that arrives
// meanwhile survives; a failed entry goes back with its original expiry.
func (s *Sweeper) Sweep(ctx context.Context) int {
	cleared := 0
	for id, item := range s.dirty.Items() {
		if ctx.Err() != nil {
			break
		}
		s.dirty.Delete(id)
		_, err := s.rec.Reconcile(ctx, id)
		if err != nil && !errors.Is(err, service.ErrNotFound) {
			s.log.Warn("sweep reconcile failed", zap.String("comment_id", id), zap.Error(err))
			if left := time.Until(time.Unix(0, item.Expiration)); left > 0 {
				s.dirty.Add(id, struct{}{}, left)
			}
			continue
		}
		cleared++
	}
	return cleared
}

// Run sweeps on every tick until ctx is done, then makes one final pass.
func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.Sweep(final)
			cancel()
			return nil
		case <-t.C:
			if n := s.Sweep(ctx); n > 0 {
				s.log.Info("sweep complete", zap.Int("cleared", n), zap.Int("pending", s.Pending()))
			}
		}
	}
}
