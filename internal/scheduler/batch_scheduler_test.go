package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/dpushkaran/Pyrrhus/internal/run"
)

type fakeRunner struct {
	mu         sync.Mutex
	inFlight   int32
	maxInFlight int32
	failBudget  float64
}

func (f *fakeRunner) Execute(ctx context.Context, task string, budget float64, mode run.Mode) (run.Outcome, error) {
	cur := atomic.AddInt32(&f.inFlight, 1)
	defer atomic.AddInt32(&f.inFlight, -1)
	f.mu.Lock()
	if cur > f.maxInFlight {
		f.maxInFlight = cur
	}
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
	if budget == f.failBudget {
		return run.Outcome{}, fmt.Errorf("forced failure at budget %.2f", budget)
	}
	return run.Outcome{RunID: fmt.Sprintf("run-%.2f", budget)}, nil
}

func newTestScheduler(t *testing.T, engine BatchRunner) *BatchScheduler {
	t.Helper()
	return NewBatchScheduler(engine, otel.Meter("scheduler-test"))
}

func TestSweepReturnsResultsInAscendingBudgetOrder(t *testing.T) {
	runner := &fakeRunner{failBudget: -1}
	s := newTestScheduler(t, runner)

	results := s.Sweep(context.Background(), "task", []float64{5, 1, 3}, run.ModeStatic, 3, 0)
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	want := []float64{1, 3, 5}
	for i, r := range results {
		if r.Budget != want[i] {
			t.Errorf("results[%d].Budget = %v, want %v (ascending order)", i, r.Budget, want[i])
		}
	}
}

func TestSweepRespectsConcurrencyLimit(t *testing.T) {
	runner := &fakeRunner{failBudget: -1}
	s := newTestScheduler(t, runner)

	s.Sweep(context.Background(), "task", []float64{1, 2, 3, 4, 5, 6}, run.ModeStatic, 2, 0)
	if runner.maxInFlight > 2 {
		t.Errorf("max in-flight = %d, want at most 2", runner.maxInFlight)
	}
}

func TestSweepRecordsPerBudgetErrorsWithoutAbortingOthers(t *testing.T) {
	runner := &fakeRunner{failBudget: 2}
	s := newTestScheduler(t, runner)

	results := s.Sweep(context.Background(), "task", []float64{1, 2, 3}, run.ModeStatic, 3, 0)
	var failed, succeeded int
	for _, r := range results {
		if r.Err != nil {
			failed++
		} else {
			succeeded++
		}
	}
	if failed != 1 || succeeded != 2 {
		t.Errorf("failed=%d succeeded=%d, want 1 and 2", failed, succeeded)
	}
}

func TestScheduleCompactionRejectsInvalidCronExpression(t *testing.T) {
	runner := &fakeRunner{failBudget: -1}
	s := newTestScheduler(t, runner)

	err := s.ScheduleCompaction("compact", "not a cron expression", func(ctx context.Context) error { return nil })
	if err == nil {
		t.Fatal("expected an error for an invalid cron expression")
	}
}

func TestScheduleCompactionThenRemoveJob(t *testing.T) {
	runner := &fakeRunner{failBudget: -1}
	s := newTestScheduler(t, runner)

	err := s.ScheduleCompaction("compact", "*/5 * * * * *", func(ctx context.Context) error { return nil })
	if err != nil {
		t.Fatalf("ScheduleCompaction: %v", err)
	}
	if _, ok := s.entries["compact"]; !ok {
		t.Fatal("expected the job to be registered")
	}
	s.RemoveJob("compact")
	if _, ok := s.entries["compact"]; ok {
		t.Error("expected the job to be removed")
	}
}
