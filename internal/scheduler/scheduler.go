// Package scheduler triggers overdue scans: once at start and then on every tick.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/escalation"
)

// Scanner runs one scan cycle.
type Scanner interface {
	ScanAndEnqueue(ctx context.Context) escalation.ScanSummary
}

// TickerFactory builds the ticker for one Start/Stop lifetime.
type TickerFactory func() (clock.Ticker, error)

// Scheduler owns the scan loop. Start and Stop are idempotent, and a stopped
// scheduler can be started again.
type Scheduler struct {
	scanner     Scanner
	newTicker   TickerFactory
	scanOnStart bool
	clock       clock.Clock
	logger      *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	ticker  clock.Ticker
	done    chan struct{}
}

// New builds a stopped scheduler. Ticks are compared against clk, so a
// ticker must stamp its ticks from the same time source.
func New(scanner Scanner, newTicker TickerFactory, scanOnStart bool, clk clock.Clock, logger *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		scanner:     scanner,
		newTicker:   newTicker,
		scanOnStart: scanOnStart,
		clock:       clk,
		logger:      logger.With("component", "scheduler"),
	}
}

// Start launches the scan loop in the background. Calling Start on a running
// scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	t, err := s.newTicker()
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	s.ticker = t
	s.done = make(chan struct{})
	go s.run(runCtx, t, s.done)
	s.logger.Info("scheduler started", "scan_on_start", s.scanOnStart)
	return nil
}

// Stop cancels the loop and waits for an in-flight scan to return. Calling
// Stop on a stopped scheduler does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.ticker.Stop()
	done := s.done
	s.mu.Unlock()

	<-done
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) run(ctx context.Context, t clock.Ticker, done chan struct{}) {
	defer close(done)
	var lastEnd time.Time
	if s.scanOnStart {
		lastEnd = s.scan(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			return
		case at := <-t.C():
			// A tick that fired while the previous scan ran is dropped.
			if at.Before(lastEnd) {
				s.logger.Debug("dropped tick that fired during scan", "tick", at)
				continue
			}
			lastEnd = s.scan(ctx)
		}
	}
}

func (s *Scheduler) scan(ctx context.Context) time.Time {
	if ctx.Err() == nil {
		s.scanner.ScanAndEnqueue(ctx)
	}
	return s.clock.Now()
}
