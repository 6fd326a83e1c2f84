package fencetime

import (
	"context"
	"time"

	"github.com/gogpu/fencetime/internal/workpool"
)

// DefaultSweepInterval is roughly one frame at 60 Hz.
const DefaultSweepInterval = 16 * time.Millisecond

// Sweeper calls UpdateSignalTimes on a fixed set of timelines at a fixed
// interval, for callers that have no frame loop to drive the sweep. While
// Run is active, separate timelines are swept in parallel.
type Sweeper struct {
	timelines []*Timeline
	interval  time.Duration
}

// NewSweeper creates a sweeper. An interval <= 0 selects
// DefaultSweepInterval.
func NewSweeper(interval time.Duration, timelines ...*Timeline) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{timelines: timelines, interval: interval}
}

// SweepOnce updates every timeline once on the calling goroutine.
func (s *Sweeper) SweepOnce() {
	for _, tl := range s.timelines {
		tl.UpdateSignalTimes()
	}
}

func (s *Sweeper) sweep(pool *workpool.Pool) {
	if pool == nil {
		s.SweepOnce()
		return
	}
	tasks := make([]func(), len(s.timelines))
	for i, tl := range s.timelines {
		tasks[i] = tl.UpdateSignalTimes
	}
	pool.RunAll(tasks)
}

// Run sweeps until ctx is done and returns ctx.Err().
func (s *Sweeper) Run(ctx context.Context) error {
	var pool *workpool.Pool
	if len(s.timelines) > 1 {
		pool = workpool.New(len(s.timelines))
		defer pool.Close()
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final sweep so nothing resolved before shutdown is left queued.
			s.sweep(pool)
			return ctx.Err()
		case <-ticker.C:
			s.sweep(pool)
		}
	}
}
