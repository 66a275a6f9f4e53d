package reindex

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencopilot/copilot/internal/copilot"
)

type fakeRunner struct {
	mu      sync.Mutex
	calls   int
	batches []int
	block   chan struct{}
	started chan struct{}
	err     error
}

func (f *fakeRunner) ReindexAll(ctx context.Context, batchSize int) (copilot.ReindexReport, error) {
	f.mu.Lock()
	f.calls++
	f.batches = append(f.batches, batchSize)
	f.mu.Unlock()
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return copilot.ReindexReport{}, ctx.Err()
		}
	}
	return copilot.ReindexReport{Bots: 1, Indexed: 3}, f.err
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestEmptyScheduleDisables(t *testing.T) {
	s, err := New(&fakeRunner{}, Config{}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if s.Enabled() {
		t.Error("expected disabled scheduler")
	}
	if !s.Next().IsZero() {
		t.Errorf("expected zero next time, got %v", s.Next())
	}
	s.Start()
	s.Stop()
}

func TestInvalidSchedule(t *testing.T) {
	if _, err := New(&fakeRunner{}, Config{Schedule: "every now and then"}); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestDefaultScheduleParses(t *testing.T) {
	s, err := New(&fakeRunner{}, Config{Schedule: DefaultSchedule}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	if !s.Enabled() {
		t.Fatal("expected enabled scheduler")
	}
	s.Start()
	defer s.Stop()
	next := s.Next()
	if next.IsZero() || next.Sub(time.Now()) > 24*time.Hour {
		t.Errorf("unexpected next run %v", next)
	}
}

func TestRunNowPassesBatchSize(t *testing.T) {
	r := &fakeRunner{}
	s, _ := New(r, Config{BatchSize: 7}, WithLogger(zerolog.Nop()))
	rep, err := s.RunNow(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if rep.Indexed != 3 {
		t.Errorf("expected report from runner, got %+v", rep)
	}
	if r.batches[0] != 7 {
		t.Errorf("expected batch size 7, got %d", r.batches[0])
	}
}

func TestOverlappingRunsAreSkipped(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, _ := New(r, Config{}, WithLogger(zerolog.Nop()))

	var first error
	done := make(chan struct{})
	go func() {
		_, first = s.RunNow(context.Background())
		close(done)
	}()
	<-r.started

	if _, err := s.RunNow(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("expected ErrRunning, got %v", err)
	}
	close(r.block)
	<-done
	if first != nil {
		t.Fatalf("first run: %v", first)
	}
	if r.callCount() != 1 {
		t.Errorf("expected 1 call, got %d", r.callCount())
	}

	r.block = nil
	r.started = nil
	if _, err := s.RunNow(context.Background()); err != nil {
		t.Errorf("run after completion: %v", err)
	}
}

func TestScheduledRunFires(t *testing.T) {
	var fired atomic.Int32
	r := &fakeRunner{}
	s, err := New(runnerFunc(func(ctx context.Context, n int) (copilot.ReindexReport, error) {
		fired.Add(1)
		return r.ReindexAll(ctx, n)
	}), Config{Schedule: "@every 1s"}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	defer s.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for fired.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	if fired.Load() == 0 {
		t.Fatal("scheduled run never fired")
	}
}

func TestStopCancelsRunningPass(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{}), started: make(chan struct{}, 1)}
	s, err := New(r, Config{Schedule: "@every 1s"}, WithLogger(zerolog.Nop()))
	if err != nil {
		t.Fatal(err)
	}
	s.Start()
	select {
	case <-r.started:
	case <-time.After(3 * time.Second):
		t.Fatal("scheduled run never started")
	}
	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not cancel the running pass")
	}
}

type runnerFunc func(ctx context.Context, batchSize int) (copilot.ReindexReport, error)

func (f runnerFunc) ReindexAll(ctx context.Context, batchSize int) (copilot.ReindexReport, error) {
	return f(ctx, batchSize)
}
