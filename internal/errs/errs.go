// Package errs defines the error taxonomy the scheduler propagates:
// Configuration, BudgetExhausted, and PlannerInvalid are fatal and abort a
// run; ModelCallFailed, EvaluatorFailed, and PersistenceFailed are contained
// at the point of use.
package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrConfiguration marks a missing credential or missing budget.
	ErrConfiguration = errors.New("configuration error")
	// ErrBudgetExhausted marks a budget that cannot fund even the allocator
	// floor.
	ErrBudgetExhausted = errors.New("budget exhausted")
	// ErrPlannerInvalid marks planner output that failed to decode or a
	// TaskGraph that failed validation.
	ErrPlannerInvalid = errors.New("planner produced invalid graph")
	// ErrModelCallFailed marks a failed provider call.
	ErrModelCallFailed = errors.New("model call failed")
	// ErrEvaluatorFailed marks a failed judge call.
	ErrEvaluatorFailed = errors.New("evaluator call failed")
	// ErrPersistenceFailed marks a failed trace store write; never fatal.
	ErrPersistenceFailed = errors.New("trace persistence failed")
)

// BudgetExhausted wraps ErrBudgetExhausted with the budget and already-spent
// amount, per the error design's requirement to name both in the message.
func BudgetExhausted(budget, spent float64) error {
	return fmt.Errorf("%w: budget $%.4f, already spent $%.4f", ErrBudgetExhausted, budget, spent)
}

// PlannerInvalid wraps ErrPlannerInvalid with the underlying validation
// failure.
func PlannerInvalid(cause error) error {
	return fmt.Errorf("%w: %w", ErrPlannerInvalid, cause)
}

// ModelCallFailed wraps ErrModelCallFailed with the subtask id and model
// that failed.
func ModelCallFailed(subtaskID int, model string, cause error) error {
	return fmt.Errorf("%w: subtask %d, model %s: %v", ErrModelCallFailed, subtaskID, model, cause)
}
