// Package evaluator implements the judge: a stateless, cheap-model scorer
// whose accumulated cost is reported separately from the task budget.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

const scoreSystemInstruction = `You score a piece of output on four rubric dimensions: relevance,
completeness, coherence, conciseness, each 0-10, plus an overall score 0-10 and a one-sentence
rationale. Reserve 9-10 for truly exceptional output. Return JSON matching the schema exactly.`

var scoreSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "relevance": {"type": "number"},
    "completeness": {"type": "number"},
    "coherence": {"type": "number"},
    "conciseness": {"type": "number"},
    "overall": {"type": "number"},
    "rationale": {"type": "string"}
  },
  "required": ["relevance", "completeness", "coherence", "conciseness", "overall", "rationale"]
}`)

// QualityScore is the judge's rubric output.
type QualityScore struct {
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Coherence    float64 `json:"coherence"`
	Conciseness  float64 `json:"conciseness"`
	Overall      float64 `json:"overall"`
	Rationale    string  `json:"rationale"`
}

// Evaluator scores (subtask, output) and (task, deliverable) pairs. Its
// accumulated token/cost counters are instance-scoped, never process-global,
// per the design notes.
type Evaluator struct {
	client  modelclient.Client
	model   string
	catalog tier.Catalog

	mu          sync.Mutex
	totalTokens int
	totalCost   float64
}

// New builds an Evaluator backed by model (typically the Fast tier's model
// id, since the judge is meant to be cheap).
func New(client modelclient.Client, model string, catalog tier.Catalog) *Evaluator {
	return &Evaluator{client: client, model: model, catalog: catalog}
}

// QuickScore is the cheap entry point used inside the dynamic executor's
// inner ROI loop.
func (e *Evaluator) QuickScore(ctx context.Context, subtaskDesc, output, overallTask string) (QualityScore, error) {
	return e.score(ctx, fmt.Sprintf("Task: %s\nSubtask: %s\nOutput:\n%s", overallTask, subtaskDesc, output))
}

// EvaluateSubtask is the full entry point used by the tracing layer; it
// honours the same schema as QuickScore.
func (e *Evaluator) EvaluateSubtask(ctx context.Context, subtaskDesc, output, overallTask string) (QualityScore, error) {
	return e.QuickScore(ctx, subtaskDesc, output, overallTask)
}

// EvaluateDeliverable scores the final concatenated deliverable against the
// original task.
func (e *Evaluator) EvaluateDeliverable(ctx context.Context, task, deliverable string) (QualityScore, error) {
	return e.score(ctx, fmt.Sprintf("Task: %s\nDeliverable:\n%s", task, deliverable))
}

func (e *Evaluator) score(ctx context.Context, prompt string) (QualityScore, error) {
	raw, usage, err := e.client.GenerateJSON(ctx, e.model, scoreSchema, prompt, scoreSystemInstruction, 0.1)
	if err != nil {
		return QualityScore{}, fmt.Errorf("evaluator: judge call failed: %w", err)
	}
	var qs QualityScore
	if err := json.Unmarshal(raw, &qs); err != nil {
		return QualityScore{}, fmt.Errorf("evaluator: decode judge output: %w", err)
	}
	e.mu.Lock()
	e.totalTokens += usage.PromptTokens + usage.CompletionTokens
	e.totalCost += e.catalog.EstimateCost(tier.Fast, usage.PromptTokens, usage.CompletionTokens)
	e.mu.Unlock()
	return qs, nil
}

// TotalCost returns the accumulated judge cost so far. This is meta-overhead
// reported separately from the task budget, never drawn from it.
func (e *Evaluator) TotalCost() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalCost
}

// TotalTokens returns the accumulated judge token count.
func (e *Evaluator) TotalTokens() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalTokens
}
