// Package executor implements the two DAG walkers: the static executor
// (plan once, run once, redistribute surplus) and the dynamic ROI executor
// (run cheap, upgrade reactively). Both return the same Result type but take
// different Run arguments (Static an allocator.ExecutionPlan, Dynamic a
// budget and the planner's cost); there is no shared Executor interface, and
// run.Engine picks one by Mode. Both are grounded on the teacher's
// DAGEngine.Execute walking a workflow in topological order with a single
// coordinator collecting results.
package executor

import (
	"context"

	"github.com/dpushkaran/Pyrrhus/internal/allocator"
	"github.com/dpushkaran/Pyrrhus/internal/evaluator"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// SubTaskAttempt records one invocation of a model for a node.
type SubTaskAttempt struct {
	Tier             tier.Tier `json:"tier"`
	Output           string    `json:"output"`
	QualityScore     float64   `json:"quality_score"`
	PromptTokens     int       `json:"prompt_tokens"`
	CompletionTokens int       `json:"completion_tokens"`
	CostDollars      float64   `json:"cost_dollars"`
}

// ROIDecisionKind enumerates the outcome of one post-attempt ROI evaluation.
type ROIDecisionKind string

const (
	DecisionUpgrade        ROIDecisionKind = "upgrade"
	DecisionAccept         ROIDecisionKind = "accept"
	DecisionBudgetExceeded ROIDecisionKind = "budget_exceeded"
)

// ROIDecision records one post-attempt evaluation in the dynamic executor.
type ROIDecision struct {
	SubTaskID           int             `json:"subtask_id"`
	CurrentTier         tier.Tier       `json:"current_tier"`
	CurrentQuality      float64         `json:"current_quality"`
	ProposedTier        tier.Tier       `json:"proposed_tier"`
	UpgradeCostEstimate float64         `json:"upgrade_cost_estimate"`
	ExpectedQualityLift float64         `json:"expected_quality_lift"`
	ROI                 float64         `json:"roi"`
	Decision            ROIDecisionKind `json:"decision"`
	Reason              string          `json:"reason"`
}

// SubTaskResult is the per-node outcome recorded by either executor.
type SubTaskResult struct {
	SubTaskID          int           `json:"subtask_id"`
	FinalTier          tier.Tier     `json:"final_tier"`
	PromptTokens       int           `json:"prompt_tokens"`
	CompletionTokens   int           `json:"completion_tokens"`
	CostDollars        float64       `json:"cost_dollars"`
	Output             string        `json:"output"`
	SurplusTokens      int           `json:"surplus_tokens"`
	Attempts           []SubTaskAttempt `json:"attempts"`
	ROIDecisions       []ROIDecision `json:"roi_decisions"`
	FinalAttemptIndex  int           `json:"final_attempt_index"`
	Skipped            bool          `json:"skipped"`
}

// Result is the common output of either executor variant: the concatenated
// deliverable text plus the per-node results that feed the report builder.
type Result struct {
	Deliverable string
	Results     []SubTaskResult
	Plan        *allocator.ExecutionPlan // nil for the dynamic executor
}

// Judge is the subset of evaluator.Evaluator the executors depend on, so
// tests can substitute a scripted judge (spec scenarios S5/S6 force fixed
// scores per tier).
type Judge interface {
	QuickScore(ctx context.Context, subtaskDesc, output, overallTask string) (evaluator.QualityScore, error)
}
