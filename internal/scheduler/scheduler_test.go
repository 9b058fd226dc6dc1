package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followup-escalator/internal/clock"
	"followup-escalator/internal/escalation"
)

type countingScanner struct {
	calls   int32
	release chan struct{}
	started chan struct{}
}

func newCountingScanner() *countingScanner {
	return &countingScanner{started: make(chan struct{}, 100)}
}

func (c *countingScanner) ScanAndEnqueue(ctx context.Context) escalation.ScanSummary {
	atomic.AddInt32(&c.calls, 1)
	c.started <- struct{}{}
	if c.release != nil {
		select {
		case <-c.release:
		case <-ctx.Done():
		}
	}
	return escalation.ScanSummary{}
}

func (c *countingScanner) count() int { return int(atomic.LoadInt32(&c.calls)) }

func manualFactory(t *clock.ManualTicker) TickerFactory {
	return func() (clock.Ticker, error) { return t, nil }
}

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// tick advances the fake clock by d and delivers a tick stamped with the new
// time, waiting for the loop to drain any earlier tick.
func tick(t *testing.T, ticker *clock.ManualTicker, clk *clock.Fake, d time.Duration) {
	t.Helper()
	at := clk.Advance(d)
	require.Eventually(t, func() bool { return ticker.Tick(at) }, time.Second, time.Millisecond)
}

func TestScheduler_ScansImmediatelyThenPerTick(t *testing.T) {
	scanner := newCountingScanner()
	ticker := clock.NewManualTicker()
	clk := clock.NewFake(epoch)
	s := New(scanner, manualFactory(ticker), true, clk, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	<-scanner.started
	assert.Equal(t, 1, scanner.count())

	for i := 0; i < 3; i++ {
		tick(t, ticker, clk, 15*time.Minute)
		<-scanner.started
	}
	assert.Equal(t, 4, scanner.count())
}

func TestScheduler_VirtualTimeInThePast(t *testing.T) {
	scanner := newCountingScanner()
	ticker := clock.NewManualTicker()
	clk := clock.NewFake(time.Date(1999, 12, 31, 23, 0, 0, 0, time.UTC))
	s := New(scanner, manualFactory(ticker), false, clk, nil)

	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()
	tick(t, ticker, clk, time.Minute)
	<-scanner.started
	tick(t, ticker, clk, time.Minute)
	<-scanner.started
	assert.Equal(t, 2, scanner.count())
}

func TestScheduler_StartStopIdempotent(t *testing.T) {
	scanner := newCountingScanner()
	ticker := clock.NewManualTicker()
	s := New(scanner, manualFactory(ticker), true, clock.NewFake(epoch), nil)

	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	<-scanner.started
	assert.True(t, s.Running())

	s.Stop()
	s.Stop()
	assert.False(t, s.Running())
	assert.True(t, ticker.Stopped())
	assert.Equal(t, 1, scanner.count(), "second Start must not launch a second loop")
}

func TestScheduler_RestartAfterStop(t *testing.T) {
	scanner := newCountingScanner()
	s := New(scanner, func() (clock.Ticker, error) { return clock.NewManualTicker(), nil }, true, clock.NewFake(epoch), nil)

	require.NoError(t, s.Start(context.Background()))
	<-scanner.started
	s.Stop()
	require.NoError(t, s.Start(context.Background()))
	<-scanner.started
	s.Stop()
	assert.Equal(t, 2, scanner.count())
}

func TestScheduler_TicksDuringScanAreDropped(t *testing.T) {
	scanner := newCountingScanner()
	scanner.release = make(chan struct{})
	ticker := clock.NewManualTicker()
	clk := clock.NewFake(epoch)
	s := New(scanner, manualFactory(ticker), true, clk, nil)

	require.NoError(t, s.Start(context.Background()))
	<-scanner.started

	// The first scan is still running: only one tick can be pending.
	assert.True(t, ticker.Tick(clk.Advance(time.Second)))
	assert.False(t, ticker.Tick(clk.Now()))
	clk.Advance(time.Minute)
	close(scanner.release)

	require.Eventually(t, func() bool { return len(ticker.C()) == 0 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, scanner.count(), "tick stamped before the scan ended is dropped")

	tick(t, ticker, clk, 15*time.Minute)
	<-scanner.started
	assert.Equal(t, 2, scanner.count())
	s.Stop()
}

func TestScheduler_StopWaitsForScan(t *testing.T) {
	scanner := newCountingScanner()
	scanner.release = make(chan struct{})
	s := New(scanner, manualFactory(clock.NewManualTicker()), true, clock.NewFake(epoch), nil)
	require.NoError(t, s.Start(context.Background()))
	<-scanner.started

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.Stop()
	}()
	wg.Wait() // scan observes ctx cancellation and returns
	assert.False(t, s.Running())
}

func TestScheduler_NoScanOnStart(t *testing.T) {
	scanner := newCountingScanner()
	ticker := clock.NewManualTicker()
	clk := clock.NewFake(epoch)
	s := New(scanner, manualFactory(ticker), false, clk, nil)
	require.NoError(t, s.Start(context.Background()))
	defer s.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, scanner.count())
	ticker.Tick(clk.Now())
	<-scanner.started
	assert.Equal(t, 1, scanner.count())
}

func TestCronTicker(t *testing.T) {
	_, err := NewCronTicker("not a schedule", nil)
	assert.Error(t, err)

	ticker, err := NewCronTicker("@every 1s", nil)
	require.NoError(t, err)
	defer ticker.Stop()
	select {
	case <-ticker.C():
	case <-time.After(3 * time.Second):
		t.Fatal("cron ticker never fired")
	}
	ticker.Stop()
	ticker.Stop()
}
