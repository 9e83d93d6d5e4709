// Package run ties the planner, allocator, executors, evaluator, and report
// builder into a single Execute call per budget, and tracks in-flight runs
// so they can be cancelled — the supplemented feature grounded on the
// teacher's CancellationManager.
package run

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Status is the lifecycle state of a tracked run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

type trackedRun struct {
	cancel       context.CancelFunc
	status       Status
	cancelReason string
	cancelledAt  time.Time
}

// CancellationManager tracks in-flight runs by run_id and lets a caller
// cancel one before it completes.
type CancellationManager struct {
	mu     sync.RWMutex
	active map[string]*trackedRun

	cancellations metric.Int64Counter
	tracer        trace.Tracer
}

// NewCancellationManager builds a manager reporting through meter.
func NewCancellationManager(meter metric.Meter) *CancellationManager {
	cancellations, _ := meter.Int64Counter("pyrrhus_run_cancellations_total")
	return &CancellationManager{
		active:        make(map[string]*trackedRun),
		cancellations: cancellations,
		tracer:        otel.Tracer("pyrrhus/run"),
	}
}

// Register records runID as in-flight, associating it with cancel.
func (cm *CancellationManager) Register(runID string, cancel context.CancelFunc) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.active[runID] = &trackedRun{cancel: cancel, status: StatusRunning}
}

// Cancel stops an in-flight run.
func (cm *CancellationManager) Cancel(ctx context.Context, runID, reason string) error {
	ctx, span := cm.tracer.Start(ctx, "run.cancel", trace.WithAttributes(attribute.String("run_id", runID), attribute.String("reason", reason)))
	defer span.End()

	cm.mu.Lock()
	defer cm.mu.Unlock()

	r, ok := cm.active[runID]
	if !ok {
		return fmt.Errorf("run: %s not found or already finished", runID)
	}
	if r.status != StatusRunning {
		return fmt.Errorf("run: %s is not running (status: %s)", runID, r.status)
	}
	r.cancel()
	r.status = StatusCancelled
	r.cancelReason = reason
	r.cancelledAt = time.Now()
	cm.cancellations.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
	return nil
}

// Complete marks runID with its terminal status.
func (cm *CancellationManager) Complete(runID string, status Status) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	if r, ok := cm.active[runID]; ok {
		r.status = status
	}
}

// Status returns the tracked status of runID.
func (cm *CancellationManager) Status(runID string) (Status, bool) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	r, ok := cm.active[runID]
	if !ok {
		return "", false
	}
	return r.status, true
}

// Cleanup drops cancelled runs whose cancellation is older than retention
// and returns how many it dropped. Runs marked completed or failed are not
// dropped and stay tracked.
func (cm *CancellationManager) Cleanup(retention time.Duration) int {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cleaned := 0
	now := time.Now()
	for id, r := range cm.active {
		if r.status == StatusRunning {
			continue
		}
		if r.status == StatusCancelled && !r.cancelledAt.IsZero() && now.Sub(r.cancelledAt) > retention {
			delete(cm.active, id)
			cleaned++
		}
	}
	return cleaned
}
