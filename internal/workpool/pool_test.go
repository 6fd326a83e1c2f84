package workpool

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name string
		n    int
		want int
	}{
		{"explicit", 4, 4},
		{"zero", 0, runtime.GOMAXPROCS(0)},
		{"negative", -5, runtime.GOMAXPROCS(0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New(tt.n)
			defer p.Close()
			if p.Workers() != tt.want {
				t.Errorf("Workers() = %d, want %d", p.Workers(), tt.want)
			}
			if !p.Running() {
				t.Error("pool should be running after creation")
			}
		})
	}
}

func TestRunAll(t *testing.T) {
	p := New(4)
	defer p.Close()

	var counter atomic.Int64
	tasks := make([]func(), 100)
	for i := range tasks {
		tasks[i] = func() { counter.Add(1) }
	}
	p.RunAll(tasks)

	if counter.Load() != 100 {
		t.Errorf("counter = %d, want 100", counter.Load())
	}
}

func TestRunAll_Empty(t *testing.T) {
	p := New(2)
	defer p.Close()
	p.RunAll(nil)
}

// A slow task on one worker must not stop the others' tasks from running.
func TestRunAll_Steals(t *testing.T) {
	p := New(2)
	defer p.Close()

	release := make(chan struct{})
	var fast atomic.Int64
	tasks := []func(){func() { <-release }}
	for range 9 {
		tasks = append(tasks, func() { fast.Add(1) })
	}

	done := make(chan struct{})
	go func() {
		p.RunAll(tasks)
		close(done)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for fast.Load() < 9 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if fast.Load() != 9 {
		t.Errorf("fast tasks done = %d, want 9 while one task blocks", fast.Load())
	}
	close(release)
	<-done
}

func TestRunAll_Concurrent(t *testing.T) {
	p := New(4)
	defer p.Close()

	var counter atomic.Int64
	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			tasks := make([]func(), 50)
			for i := range tasks {
				tasks[i] = func() { counter.Add(1) }
			}
			p.RunAll(tasks)
		})
	}
	wg.Wait()

	if counter.Load() != 8*50 {
		t.Errorf("counter = %d, want %d", counter.Load(), 8*50)
	}
}

func TestClose(t *testing.T) {
	p := New(2)
	p.Close()
	p.Close()

	if p.Running() {
		t.Error("pool should not be running after Close")
	}

	ran := 0
	p.RunAll([]func(){func() { ran++ }, func() { ran++ }})
	if ran != 2 {
		t.Errorf("RunAll on closed pool ran %d tasks, want 2", ran)
	}
}
