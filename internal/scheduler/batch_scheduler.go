// Package scheduler drives the out-of-scope batch-sweep collaborator
// (multiple budgets over one task) and a periodic trace-compaction job,
// reusing the teacher's cron.New(cron.WithSeconds()) + AddFunc pattern and
// its EventHandler concurrency gate, generalized from workflow dispatch to
// a bounded worker pool over budget values.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dpushkaran/Pyrrhus/internal/run"
)

// SweepResult is one budget's outcome within a batch sweep.
type SweepResult struct {
	Budget  float64
	Outcome run.Outcome
	Err     error
}

// BatchRunner is the subset of run.Engine a sweep needs; satisfied by
// *run.Engine.
type BatchRunner interface {
	Execute(ctx context.Context, task string, budget float64, mode run.Mode) (run.Outcome, error)
}

// BatchScheduler runs a set of budgets over the same task with a bounded
// worker pool and a small stagger between launches, and can additionally
// run a periodic compaction job on a cron schedule.
type BatchScheduler struct {
	engine BatchRunner
	cron   *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID

	sweepRuns    metric.Int64Counter
	sweepFails   metric.Int64Counter
	sweepLatency metric.Float64Histogram
	tracer       trace.Tracer
}

// NewBatchScheduler builds a scheduler driving engine, reporting through
// meter.
func NewBatchScheduler(engine BatchRunner, meter metric.Meter) *BatchScheduler {
	sweepRuns, _ := meter.Int64Counter("pyrrhus_batch_sweep_runs_total")
	sweepFails, _ := meter.Int64Counter("pyrrhus_batch_sweep_failures_total")
	sweepLatency, _ := meter.Float64Histogram("pyrrhus_batch_sweep_duration_ms")
	return &BatchScheduler{
		engine:       engine,
		cron:         cron.New(cron.WithSeconds()),
		entries:      make(map[string]cron.EntryID),
		sweepRuns:    sweepRuns,
		sweepFails:   sweepFails,
		sweepLatency: sweepLatency,
		tracer:       otel.Tracer("pyrrhus/scheduler"),
	}
}

// Start begins the cron loop driving any registered periodic jobs (e.g.
// compaction). Sweep itself is synchronous and does not need the cron
// loop running.
func (s *BatchScheduler) Start() { s.cron.Start() }

// Stop halts the cron loop, blocking until any running job finishes.
func (s *BatchScheduler) Stop() { <-s.cron.Stop().Done() }

// Sweep runs task once per budget in budgets, mode held constant, with at
// most concurrency budgets in flight at a time and a stagger delay between
// successive launches so the sweep doesn't thunder the model endpoint.
// Results are returned in ascending-budget order regardless of completion
// order.
func (s *BatchScheduler) Sweep(ctx context.Context, task string, budgets []float64, mode run.Mode, concurrency int, stagger time.Duration) []SweepResult {
	ctx, span := s.tracer.Start(ctx, "scheduler.sweep", trace.WithAttributes(
		attribute.Int("budget_count", len(budgets)),
		attribute.Int("concurrency", concurrency),
	))
	defer span.End()

	if concurrency <= 0 {
		concurrency = 1
	}
	sorted := append([]float64(nil), budgets...)
	sort.Float64s(sorted)

	results := make([]SweepResult, len(sorted))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	for i, budget := range sorted {
		wg.Add(1)
		go func(i int, budget float64) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			outcome, err := s.engine.Execute(ctx, task, budget, mode)
			s.sweepLatency.Record(ctx, float64(time.Since(start).Milliseconds()), metric.WithAttributes(attribute.Float64("budget", budget)))
			if err != nil {
				s.sweepFails.Add(ctx, 1)
				slog.Warn("scheduler: sweep budget failed", "budget", budget, "error", err)
			} else {
				s.sweepRuns.Add(ctx, 1)
			}
			results[i] = SweepResult{Budget: budget, Outcome: outcome, Err: err}
		}(i, budget)
		if stagger > 0 && i < len(sorted)-1 {
			time.Sleep(stagger)
		}
	}
	wg.Wait()
	return results
}

// CompactFunc performs one compaction pass over a trace store (pruning
// stale versions, vacuuming, etc). Concrete stores supply their own.
type CompactFunc func(ctx context.Context) error

// ScheduleCompaction registers a periodic compaction job under cronExpr
// (6-field, seconds-first per cron.WithSeconds). Returns an error if
// cronExpr doesn't parse, matching the teacher's AddSchedule validation.
func (s *BatchScheduler) ScheduleCompaction(name, cronExpr string, fn CompactFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.cron.AddFunc(cronExpr, func() {
		ctx, span := s.tracer.Start(context.Background(), "scheduler.compact", trace.WithAttributes(attribute.String("job", name)))
		defer span.End()
		if err := fn(ctx); err != nil {
			slog.Warn("scheduler: compaction job failed", "job", name, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("scheduler: invalid cron expression for %s: %w", name, err)
	}
	s.entries[name] = id
	return nil
}

// RemoveJob unregisters a previously scheduled job by name.
func (s *BatchScheduler) RemoveJob(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.entries[name]; ok {
		s.cron.Remove(id)
		delete(s.entries, name)
	}
}
