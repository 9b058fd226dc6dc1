package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"followup-escalator/internal/clock"
)

// CronTicker ticks on a cron schedule such as "@every 15m" or "*/15 * * * *".
type CronTicker struct {
	cron *cron.Cron
	ch   chan time.Time
	once sync.Once
}

// NewCronTicker validates spec and starts ticking.
func NewCronTicker(spec string, loc *time.Location) (*CronTicker, error) {
	if loc == nil {
		loc = time.UTC
	}
	t := &CronTicker{
		cron: cron.New(cron.WithLocation(loc)),
		ch:   make(chan time.Time, 1),
	}
	if _, err := t.cron.AddFunc(spec, t.fire); err != nil {
		return nil, fmt.Errorf("invalid scan schedule %q: %w", spec, err)
	}
	t.cron.Start()
	return t, nil
}

// CronTickerFactory builds a fresh CronTicker for each scheduler run.
func CronTickerFactory(spec string) TickerFactory {
	return func() (clock.Ticker, error) {
		t, err := NewCronTicker(spec, time.UTC)
		if err != nil {
			return nil, err
		}
		return t, nil
	}
}

func (t *CronTicker) fire() {
	select {
	case t.ch <- time.Now():
	default:
	}
}

func (t *CronTicker) C() <-chan time.Time { return t.ch }

func (t *CronTicker) Stop() {
	t.once.Do(func() {
		ctx := t.cron.Stop()
		<-ctx.Done()
	})
}
