package parallel

import (
	"runtime"
	"sync/atomic"
	"testing"
	"time"
)

// =============================================================================
// WorkerPool Creation Tests
// =============================================================================

func TestWorkerPool_Create(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	if pool.Workers() != 4 {
		t.Errorf("Workers() = %d, want 4", pool.Workers())
	}
	if !pool.IsRunning() {
		t.Error("Pool should be running after creation")
	}
}

func TestWorkerPool_CreateZeroWorkers(t *testing.T) {
	pool := NewWorkerPool(0)
	defer pool.Close()

	if want := runtime.GOMAXPROCS(0); pool.Workers() != want {
		t.Errorf("Workers() = %d, want %d (GOMAXPROCS)", pool.Workers(), want)
	}
}

// =============================================================================
// Execution Tests
// =============================================================================

func TestWorkerPool_ExecuteAll(t *testing.T) {
	pool := NewWorkerPool(4)
	defer pool.Close()

	var counter atomic.Int64
	work := make([]func(), 100)
	for i := range work {
		work[i] = func() { counter.Add(1) }
	}
	pool.ExecuteAll(work)

	if got := counter.Load(); got != 100 {
		t.Errorf("counter = %d, want 100", got)
	}
}

func TestWorkerPool_ForEach(t *testing.T) {
	pool := NewWorkerPool(3)
	defer pool.Close()

	out := make([]int, 1000)
	pool.ForEach(len(out), func(i int) { out[i] = i * 2 })

	for i, v := range out {
		if v != i*2 {
			t.Fatalf("out[%d] = %d, want %d", i, v, i*2)
		}
	}
}

func TestWorkerPool_ExecuteAfterClose(t *testing.T) {
	pool := NewWorkerPool(2)
	pool.Close()
	pool.Close() // idempotent

	var ran atomic.Bool
	pool.ExecuteAll([]func(){func() { ran.Store(true) }})
	if !ran.Load() {
		t.Error("ExecuteAll on a closed pool should run work inline")
	}
}

func TestWorkerPool_ExecuteAllRacingClose(t *testing.T) {
	for range 200 {
		pool := NewWorkerPool(2)
		var ran atomic.Int32
		work := make([]func(), 16)
		for i := range work {
			work[i] = func() { ran.Add(1) }
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			pool.ExecuteAll(work)
		}()
		runtime.Gosched()
		pool.Close()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("ExecuteAll did not return after Close")
		}
		if got := ran.Load(); got != int32(len(work)) {
			t.Fatalf("ran %d of %d functions", got, len(work))
		}
	}
}
