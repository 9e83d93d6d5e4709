// Package trace defines the persisted RunTrace record and the append-only
// stores that write it: a JSONL writer, a BoltDB store grounded on the
// teacher's WorkflowStore, and a SQLite store grounded on aladin2907's
// relational persistence layer. All three satisfy the same Store interface.
package trace

import (
	"context"
	"time"

	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// PlannerTrace records the planner's own call.
type PlannerTrace struct {
	Task      string  `json:"task"`
	Model     string  `json:"model"`
	Tokens    int     `json:"tokens"`
	Cost      float64 `json:"cost"`
	GraphJSON string  `json:"graph_json"`
}

// SubTaskTrace records one node's outcome for persistence.
type SubTaskTrace struct {
	ID          int        `json:"id"`
	Description string     `json:"description"`
	Tier        tier.Tier  `json:"tier"`
	Model       string     `json:"model"`
	Prompt      string     `json:"prompt,omitempty"`
	Output      string     `json:"output"`
	Tokens      int        `json:"tokens"`
	Cost        float64    `json:"cost"`
	Surplus     int        `json:"surplus"`
	Skipped     bool       `json:"skipped"`
	Quality     *float64   `json:"quality,omitempty"`
	TextMetrics *TextMetrics `json:"text_metrics,omitempty"`
}

// TextMetrics mirrors the collaborator text-metrics utility's output, stored
// alongside a subtask trace when computed.
type TextMetrics struct {
	WordCount              int     `json:"word_count"`
	GzipCompressionRatio   float64 `json:"gzip_compression_ratio"`
	TrigramRepetitionRatio float64 `json:"trigram_repetition_ratio"`
	FillerWordCount        int     `json:"filler_word_count"`
}

// RunTrace is one JSONL row / relational row: the complete persisted record
// of one run.
type RunTrace struct {
	RunID                string          `json:"run_id"`
	Task                 string          `json:"task"`
	BudgetDollars        float64         `json:"budget_dollars"`
	Timestamp            time.Time       `json:"timestamp"`
	PlannerTrace         PlannerTrace    `json:"planner_trace"`
	SubTaskTraces        []SubTaskTrace  `json:"subtask_traces"`
	Deliverable          string          `json:"deliverable"`
	DeliverableQuality   *float64        `json:"deliverable_quality,omitempty"`
	TotalCostDollars     float64         `json:"total_cost_dollars"`
	EvaluationCostDollars float64        `json:"evaluation_cost_dollars"`
}

// Store is the persistence contract every backend implements. Writes are
// append-only and idempotent per run_id; a write failure is logged by the
// caller and never fails the run (PersistenceFailed is non-fatal).
type Store interface {
	PutRun(ctx context.Context, rt RunTrace) error
	GetRun(ctx context.Context, runID string) (RunTrace, bool, error)
	ListRuns(ctx context.Context, limit, offset int) ([]RunTrace, error)
	Close() error
}
