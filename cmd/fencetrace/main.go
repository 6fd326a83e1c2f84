// Command fencetrace simulates a compositor reporting frame fences to a
// client and records the resolved frame timings.
//
// The compositor side creates fences that signal on a schedule, sends one
// delta per frame over an in-memory wire, and the client side resolves them
// through per-event timelines. Resolved frames are written to SQLite when
// -db is set.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"time"

	"github.com/gogpu/fencetime"
	"github.com/gogpu/fencetime/framelog"
	"github.com/gogpu/fencetime/store"
)

// deltaWindow is how many recent frames get a delta every tick.
const deltaWindow = 8

func main() {
	var (
		frames     = flag.Int("frames", 120, "number of frames to simulate")
		interval   = flag.Duration("interval", 16*time.Millisecond, "frame interval")
		latency    = flag.Duration("latency", 40*time.Millisecond, "post-to-present latency")
		maxEntries = flag.Int("max-entries", fencetime.DefaultMaxEntries, "timeline capacity")
		dbPath     = flag.String("db", "", "SQLite database for frame records (optional)")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	fencetime.SetLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	cfg := config{
		frames:     *frames,
		interval:   *interval,
		latency:    *latency,
		maxEntries: *maxEntries,
	}
	if err := run(ctx, logger, cfg, *dbPath); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("fencetrace failed", "err", err)
		os.Exit(1)
	}
}

type config struct {
	frames     int
	interval   time.Duration
	latency    time.Duration
	maxEntries int
}

func run(ctx context.Context, logger *slog.Logger, cfg config, dbPath string) error {
	stats := &statsSink{}
	var sink framelog.Sink = stats
	if dbPath != "" {
		st, err := store.New(dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		stats.next = st
	}

	opts := []framelog.HistoryOption{framelog.WithTimelineEntries(cfg.maxEntries)}
	compositor := framelog.NewHistory(opts...)
	client := framelog.NewHistory(opts...)

	timelines := slices.Concat(compositor.Timelines(), client.Timelines())
	sweeper := fencetime.NewSweeper(cfg.interval/2, timelines...)
	sweepCtx, stopSweep := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Go(func() { _ = sweeper.Run(sweepCtx) })
	defer func() {
		stopSweep()
		wg.Wait()
	}()

	ticker := time.NewTicker(cfg.interval)
	defer ticker.Stop()

	sim := newSimulator(cfg, compositor, client)
	for n := uint64(1); n <= uint64(cfg.frames); n++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		if err := sim.frame(n); err != nil {
			return err
		}
		sim.sendDeltas(n)
		compositor.Drain()
		if _, err := client.Flush(ctx, sink); err != nil {
			logger.Warn("flush failed", "err", err)
		}
	}

	// Let the last frames signal.
	deadline := time.Now().Add(cfg.latency + 2*cfg.interval)
	for time.Now().Before(deadline) && client.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		sim.sendDeltas(uint64(cfg.frames))
		compositor.Drain()
		if _, err := client.Flush(ctx, sink); err != nil {
			logger.Warn("flush failed", "err", err)
		}
	}

	logger.Info("trace complete",
		"frames", cfg.frames,
		"recorded", stats.count,
		"unresolved", client.Len(),
		"mean_present_latency", stats.meanLatency(framelog.DisplayPresent),
		"mean_gpu_latency", stats.meanLatency(framelog.GPUCompositionDone),
	)
	return nil
}

// simulator plays the compositor. Each frame gets fences that signal at
// fixed offsets from the time it was posted.
type simulator struct {
	cfg        config
	compositor *framelog.History
	client     *framelog.History

	// sent holds the snapshot kind last sent per frame and event, so each
	// fence and each signal time crosses the wire once.
	sent map[uint64]*[framelog.NumEvents]fencetime.SnapshotKind
}

func newSimulator(cfg config, compositor, client *framelog.History) *simulator {
	return &simulator{
		cfg:        cfg,
		compositor: compositor,
		client:     client,
		sent:       make(map[uint64]*[framelog.NumEvents]fencetime.SnapshotKind),
	}
}

func (s *simulator) frame(n uint64) error {
	posted := fencetime.Now()
	at := func(d time.Duration) *fencetime.FenceTime {
		return fencetime.New(newDeadlineFence(posted + int64(d)))
	}

	if err := s.compositor.AddFrame(n, posted, at(s.cfg.interval/2)); err != nil {
		return err
	}
	if err := s.client.AddFrame(n, posted, nil); err != nil {
		return err
	}
	for _, f := range []struct {
		event framelog.Event
		after time.Duration
	}{
		{framelog.GPUCompositionDone, s.cfg.latency / 2},
		{framelog.DisplayPresent, s.cfg.latency},
		{framelog.Release, s.cfg.latency + s.cfg.interval},
	} {
		if err := s.compositor.SetFence(n, f.event, at(f.after)); err != nil {
			return err
		}
	}
	return nil
}

// sendDeltas carries the state of the most recent frames to the client
// through the flattened wire format.
func (s *simulator) sendDeltas(latest uint64) {
	first := uint64(1)
	if latest > deltaWindow {
		first = latest - deltaWindow + 1
	}
	for n := range s.sent {
		if n < first {
			delete(s.sent, n)
		}
	}

	for n := first; n <= latest; n++ {
		f, ok := s.compositor.Frame(n)
		if !ok {
			continue
		}
		d := framelog.NewDelta(f)
		sent := s.sent[n]
		if sent == nil {
			sent = new([framelog.NumEvents]fencetime.SnapshotKind)
			s.sent[n] = sent
		}
		changed := false
		for e := range framelog.Event(framelog.NumEvents) {
			kind := d.Snapshots[e].Kind()
			if kind == sent[e] {
				d.Snapshots[e] = fencetime.Snapshot{}
				continue
			}
			sent[e] = kind
			changed = true
		}
		if !changed {
			continue
		}

		buf, fds, err := d.Encode()
		if err != nil {
			fencetime.Logger().Warn("encode delta", "frame", n, "err", err)
			continue
		}

		var recv framelog.Delta
		if _, _, err := recv.Unflatten(buf, fds); err != nil {
			fencetime.Logger().Warn("decode delta", "frame", n, "err", err)
			continue
		}
		if err := s.client.ApplyDelta(recv); err != nil && !errors.Is(err, framelog.ErrUnknownFrame) {
			fencetime.Logger().Warn("apply delta", "frame", n, "err", err)
		}
	}
}

// statsSink tallies latencies and forwards records to next, if set.
type statsSink struct {
	next framelog.Sink

	count   int
	sums    [framelog.NumEvents]time.Duration
	samples [framelog.NumEvents]int
}

func (s *statsSink) WriteRecords(ctx context.Context, records []framelog.Record) error {
	if s.next != nil {
		if err := s.next.WriteRecords(ctx, records); err != nil {
			return err
		}
	}
	for _, r := range records {
		s.count++
		for e := range framelog.Event(framelog.NumEvents) {
			if d, ok := r.Latency(e); ok {
				s.sums[e] += d
				s.samples[e]++
			}
		}
	}
	return nil
}

func (s *statsSink) meanLatency(e framelog.Event) time.Duration {
	if s.samples[e] == 0 {
		return 0
	}
	return s.sums[e] / time.Duration(s.samples[e])
}
