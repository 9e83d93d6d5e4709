package plan

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dpushkaran/Pyrrhus/internal/errs"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

const plannerSystemInstruction = `You decompose a user task into a directed acyclic graph of 3-7 subtasks.
Rules: ids start at 1 and ascend; each description is a single actionable sentence;
complexity is one of "low", "medium", "high"; dependencies is a list of prior ids;
the graph must be acyclic; the last subtask must be the user-visible deliverable.
Return JSON: {"nodes": [{"id": int, "description": string, "complexity": string, "dependencies": [int]}]}.`

// plannerSchema is the structured-output schema passed to GenerateJSON.
var plannerSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "nodes": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "id": {"type": "integer"},
          "description": {"type": "string"},
          "complexity": {"type": "string", "enum": ["low", "medium", "high"]},
          "dependencies": {"type": "array", "items": {"type": "integer"}}
        },
        "required": ["id", "description", "complexity", "dependencies"]
      }
    }
  },
  "required": ["nodes"]
}`)

// PlanResult is the Planner's output: a validated graph plus the token usage
// of the planning call itself, billed at Verify-tier pricing.
type PlanResult struct {
	Graph TaskGraph
	Usage modelclient.Usage
}

// Planner turns a task string into a validated TaskGraph.
type Planner struct {
	client modelclient.Client
	model  string
}

// NewPlanner builds a Planner that calls model via client.
func NewPlanner(client modelclient.Client, model string) *Planner {
	return &Planner{client: client, model: model}
}

// Plan calls the structured-output model and validates its response. Any
// validation failure is fatal and returns no partial graph, per the
// PlannerInvalid error class.
func (p *Planner) Plan(ctx context.Context, task string) (PlanResult, error) {
	raw, usage, err := p.client.GenerateJSON(ctx, p.model, plannerSchema, task, plannerSystemInstruction, 0.2)
	if err != nil {
		return PlanResult{}, fmt.Errorf("plan: planner call failed: %w", err)
	}
	var decoded TaskGraph
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return PlanResult{}, errs.PlannerInvalid(fmt.Errorf("plan: decode planner output: %w", err))
	}
	if err := decoded.Validate(); err != nil {
		return PlanResult{}, errs.PlannerInvalid(err)
	}
	return PlanResult{Graph: decoded, Usage: usage}, nil
}

// PlannerCost returns the dollar cost of usage at Verify-tier pricing, the
// price the planner's own call is billed at regardless of which tiers the
// resulting subtasks run at.
func PlannerCost(catalog tier.Catalog, usage modelclient.Usage) float64 {
	return catalog.EstimateCost(tier.Verify, usage.PromptTokens, usage.CompletionTokens)
}
