package ratelimit

import (
	"context"
	"sync"
	"time"

	"followup-escalator/internal/clock"
)

// Local is the in-process sliding-window log for single-worker deployments
// and tests. Each key keeps its own log of grant times, oldest first.
type Local struct {
	mu     sync.Mutex
	grants map[string][]time.Time
	limit  int
	window time.Duration
	clock  clock.Clock
}

func NewLocal(limit int, window time.Duration, clk clock.Clock) *Local {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Local{
		grants: make(map[string][]time.Time),
		limit:  limit,
		window: window,
		clock:  clk,
	}
}

func (l *Local) Allow(_ context.Context, key string) (bool, float64, error) {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	log := l.grants[key]
	expired := 0
	for expired < len(log) && !log[expired].After(cutoff) {
		expired++
	}
	log = log[expired:]
	if len(log) >= l.limit {
		l.grants[key] = log
		return false, 0, nil
	}
	log = append(log, now)
	l.grants[key] = log
	return true, float64(l.limit - len(log)), nil
}
