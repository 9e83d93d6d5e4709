package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/dpushkaran/Pyrrhus/internal/allocator"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// Static walks a TaskGraph once per node at its planned tier, then
// redistributes each node's unused token budget to downstream nodes.
type Static struct {
	client  modelclient.Client
	catalog tier.Catalog
}

// NewStatic builds a Static executor.
func NewStatic(client modelclient.Client, catalog tier.Catalog) *Static {
	return &Static{client: client, catalog: catalog}
}

// Run executes every node of g according to execPlan, in Kahn's-algorithm
// topological order, and returns the concatenated deliverable.
func (s *Static) Run(ctx context.Context, task string, g *plan.TaskGraph, execPlan allocator.ExecutionPlan) (Result, error) {
	tracer := otel.Tracer("pyrrhus/executor")
	ctx, span := tracer.Start(ctx, "executor.static.run")
	defer span.End()

	allocByID := make(map[int]allocator.SubTaskAllocation, len(execPlan.Allocations))
	for _, a := range execPlan.Allocations {
		allocByID[a.SubTaskID] = a
	}

	outputs := make(map[int]string, len(g.Nodes))
	var pool int
	var poolMu sync.Mutex

	order := g.TopoOrder()
	results := make([]SubTaskResult, 0, len(order))
	var deliverableParts []string

	for _, id := range order {
		node, _ := g.ByID(id)
		alloc := allocByID[id]

		if alloc.Skipped {
			results = append(results, SubTaskResult{SubTaskID: id, FinalTier: alloc.Tier, Skipped: true})
			continue
		}

		tierSpec := s.catalog.Spec(alloc.Tier)
		maxTokens := alloc.MaxTokens

		poolMu.Lock()
		if pool > 0 && maxTokens < tierSpec.DefaultMaxTokens {
			boost := tierSpec.DefaultMaxTokens - maxTokens
			if boost > pool {
				boost = pool
			}
			maxTokens += boost
			pool -= boost
		}
		poolMu.Unlock()

		prompt := buildPrompt(task, node, g, outputs)

		res, err := s.client.Generate(ctx, tierSpec.ModelID, prompt, modelclient.Options{
			MaxOutputTokens: maxTokens,
			Temperature:     0.4,
		})
		var output string
		var cost float64
		var promptTokens, completionTokens int
		if err != nil {
			slog.Warn("static executor: model call failed, continuing with empty output", "subtask_id", id, "error", err)
		} else {
			output = res.Text
			promptTokens = res.PromptTokens
			completionTokens = res.CompletionTokens
			cost = s.catalog.EstimateCost(alloc.Tier, promptTokens, completionTokens)
		}
		outputs[id] = output

		surplusTokens := maxTokens - completionTokens
		if surplusTokens < 0 {
			surplusTokens = 0
		}
		poolMu.Lock()
		pool += surplusTokens
		poolMu.Unlock()

		if output != "" {
			deliverableParts = append(deliverableParts, output)
		}

		results = append(results, SubTaskResult{
			SubTaskID:        id,
			FinalTier:        alloc.Tier,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostDollars:      cost,
			Output:           output,
			SurplusTokens:    surplusTokens,
			Attempts: []SubTaskAttempt{{
				Tier:             alloc.Tier,
				Output:           output,
				PromptTokens:     promptTokens,
				CompletionTokens: completionTokens,
				CostDollars:      cost,
			}},
			FinalAttemptIndex: 0,
		})
	}

	span.SetAttributes(attribute.Int("pyrrhus.node_count", len(order)))

	return Result{
		Deliverable: strings.Join(deliverableParts, "\n\n"),
		Results:     results,
		Plan:        &execPlan,
	}, nil
}

func buildPrompt(task string, node plan.SubTask, g *plan.TaskGraph, outputs map[int]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Overall task: %s\n\n", task)
	fmt.Fprintf(&b, "Your subtask: %s\n\n", node.Description)
	for _, dep := range node.Dependencies {
		if out, ok := outputs[dep]; ok && out != "" {
			depNode, _ := g.ByID(dep)
			fmt.Fprintf(&b, "Prior output for %q:\n%s\n\n", depNode.Description, out)
		}
	}
	b.WriteString("Do not restate prior content; produce only your own contribution.")
	return b.String()
}
