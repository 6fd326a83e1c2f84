package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/gogpu/fencetime"
	"github.com/gogpu/fencetime/framelog"
	"github.com/gogpu/fencetime/store"
)

func TestDeadlineFence(t *testing.T) {
	now := fencetime.Now()
	past := newDeadlineFence(now - 1)
	if got := past.SignalTime(); got != now-1 {
		t.Errorf("SignalTime() = %d, want %d", got, now-1)
	}
	future := newDeadlineFence(now + int64(time.Hour))
	if got := future.SignalTime(); got != fencetime.SignalTimePending {
		t.Errorf("SignalTime() = %d, want pending", got)
	}

	s, err := fencetime.DecodeSnapshot(mustEncode(t, fencetime.NewFenceSnapshot(future)))
	if err != nil {
		t.Fatalf("DecodeSnapshot() = %v", err)
	}
	got, ok := s.Fence().(*deadlineFence)
	if !ok || got.deadline != future.deadline {
		t.Errorf("decoded fence = %#v, want deadline %d", s.Fence(), future.deadline)
	}
}

func mustEncode(t *testing.T, s fencetime.Snapshot) ([]byte, []int) {
	t.Helper()
	buf, fds, err := fencetime.EncodeSnapshot(s)
	if err != nil {
		t.Fatalf("EncodeSnapshot() = %v", err)
	}
	return buf, fds
}

func TestRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "trace.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := config{
		frames:     6,
		interval:   2 * time.Millisecond,
		latency:    2 * time.Millisecond,
		maxEntries: fencetime.DefaultMaxEntries,
	}
	if err := run(context.Background(), logger, cfg, dbPath); err != nil {
		t.Fatalf("run() = %v", err)
	}

	st, err := store.New(dbPath)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()
	records, err := st.Records(context.Background(), 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) == 0 {
		t.Fatal("no frames recorded")
	}
	for _, r := range records {
		release := r.Times[framelog.Release]
		if !fencetime.IsValidTimestamp(release) || release < r.Posted {
			t.Errorf("frame %d release = %d, posted %d", r.Frame, release, r.Posted)
		}
	}
}
