package persistence_test

import (
	"MangoCache/internal/persistence"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeWriter struct {
	mu       sync.Mutex
	failures int // fail this many calls first
	calls    int
	written  []int64
}

func (f *fakeWriter) WriteBatch(_ context.Context, events []persistence.EventRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	for _, e := range events {
		f.written = append(f.written, e.Sequence)
	}
	return nil
}

func (f *fakeWriter) sequences() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int64(nil), f.written...)
}

func TestWorker_FlushesOnBatchSizeAndClose(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan persistence.EventRow, 10)
	worker := persistence.NewPersistenceWorker(w, in, persistence.WorkerConfig{
		BatchSize:    2,
		FlushTimeout: time.Hour,
		Logger:       zerolog.Nop(),
	})

	for seq := int64(1); seq <= 5; seq++ {
		in <- persistence.EventRow{Sequence: seq}
	}
	close(in)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	got := w.sequences()
	if len(got) != 5 {
		t.Fatalf("wrote %v, want 5 events", got)
	}
	for i, seq := range got {
		if seq != int64(i+1) {
			t.Errorf("position %d: got seq %d, want %d", i, seq, i+1)
		}
	}
	// two full batches and the remainder on close
	if w.calls != 3 {
		t.Errorf("got %d writes, want 3", w.calls)
	}
}

func TestWorker_RetriesUntilSuccess(t *testing.T) {
	w := &fakeWriter{failures: 2}
	in := make(chan persistence.EventRow, 1)
	worker := persistence.NewPersistenceWorker(w, in, persistence.WorkerConfig{
		BatchSize:    1,
		FlushTimeout: time.Hour,
		MaxBackoff:   time.Millisecond,
		Logger:       zerolog.Nop(),
	})

	in <- persistence.EventRow{Sequence: 42}
	close(in)

	if err := worker.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := w.sequences(); len(got) != 1 || got[0] != 42 {
		t.Errorf("got %v, want [42]", got)
	}
	if w.calls != 3 {
		t.Errorf("got %d attempts, want 3", w.calls)
	}
}

func TestWorker_FlushesOnTimeout(t *testing.T) {
	w := &fakeWriter{}
	in := make(chan persistence.EventRow, 1)
	worker := persistence.NewPersistenceWorker(w, in, persistence.WorkerConfig{
		BatchSize:    100,
		FlushTimeout: 5 * time.Millisecond,
		Logger:       zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.Run(ctx) }()

	in <- persistence.EventRow{Sequence: 1}

	deadline := time.Now().Add(2 * time.Second)
	for len(w.sequences()) == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-done

	if got := w.sequences(); len(got) != 1 {
		t.Errorf("got %v, want one event flushed by the timer", got)
	}
}
