// Package ratelimit bounds request rate per client within a sliding window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/ytserve/ytserve/internal/logging"
)

type Limiter struct {
	mu     sync.Mutex
	max    int
	window time.Duration
	hits   map[string][]time.Time
	now    func() time.Time
}

func New(max int, window time.Duration) *Limiter {
	return &Limiter{
		max:    max,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// TryAcquire records an attempt for the client and reports whether it falls
// within the allowed budget. Rejected attempts are not recorded, so a
// throttled client recovers as soon as its window slides past old hits.
func (l *Limiter) TryAcquire(clientID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	live := l.prune(clientID, now)
	if len(live) >= l.max {
		return false
	}
	l.hits[clientID] = append(live, now)
	return true
}

// prune drops hits older than the window; caller must hold the lock.
func (l *Limiter) prune(clientID string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	stamps := l.hits[clientID]
	live := stamps[:0]
	for _, stamp := range stamps {
		if stamp.After(cutoff) {
			live = append(live, stamp)
		}
	}
	if len(live) == 0 {
		delete(l.hits, clientID)
		return nil
	}
	l.hits[clientID] = live
	return live
}

// Sweep evicts clients whose every hit has expired, bounding memory for
// clients that never return.
func (l *Limiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	evicted := 0
	for clientID := range l.hits {
		if l.prune(clientID, now) == nil {
			evicted++
		}
	}
	return evicted
}

// StartSweeper runs Sweep periodically until the context is cancelled.
func (l *Limiter) StartSweeper(ctx context.Context, every time.Duration) {
	log := logging.Get("ratelimit")
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if evicted := l.Sweep(); evicted > 0 {
					log.Debug().Int("evicted", evicted).Msg("Swept idle rate-limit entries")
				}
			}
		}
	}()
}
