package run

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	nats "github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"

	"github.com/dpushkaran/Pyrrhus/internal/allocator"
	"github.com/dpushkaran/Pyrrhus/internal/config"
	"github.com/dpushkaran/Pyrrhus/internal/errs"
	"github.com/dpushkaran/Pyrrhus/internal/evaluator"
	"github.com/dpushkaran/Pyrrhus/internal/eventbus"
	"github.com/dpushkaran/Pyrrhus/internal/executor"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/report"
	"github.com/dpushkaran/Pyrrhus/internal/trace"
)

// Mode selects which executor variant runs the DAG.
type Mode string

const (
	ModeStatic  Mode = "static"
	ModeDynamic Mode = "dynamic"
)

// Engine bundles the components a run needs: a client, an evaluator, the
// resolved configuration, and an optional trace store.
type Engine struct {
	Client    modelclient.Client
	Evaluator *evaluator.Evaluator
	Config    config.Config
	Store     trace.Store  // optional; nil disables persistence
	EventBus  *nats.Conn   // optional; nil disables event publishing
	NoEval    bool
}

// Outcome is what Execute returns: the deliverable, its CostReport, and the
// run_id assigned.
type Outcome struct {
	RunID       string
	Deliverable string
	Report      report.CostReport
	Graph       plan.TaskGraph
}

// Execute runs the full pipeline for one task/budget pair: plan, allocate
// (or run dynamically), execute, evaluate the deliverable, build the
// report, and persist a trace. Fatal error classes (Configuration,
// BudgetExhausted, PlannerInvalid) abort and return early; per-node
// failures are already contained by the executors and never reach here as
// errors.
func (e *Engine) Execute(ctx context.Context, task string, budget float64, mode Mode) (Outcome, error) {
	runID := uuid.NewString()
	tracer := otel.Tracer("pyrrhus/run")
	ctx, span := tracer.Start(ctx, "run.execute")
	defer span.End()

	planner := plan.NewPlanner(e.Client, e.Config.DefaultPlannerModel)
	planResult, err := planner.Plan(ctx, task)
	if err != nil {
		return Outcome{}, err
	}
	g := planResult.Graph
	plannerCost := plan.PlannerCost(e.Config.TierCatalog, planResult.Usage)

	var result executor.Result
	var downgradeEvents []string
	var budgetedTokens int

	switch mode {
	case ModeDynamic:
		dyn := executor.NewDynamic(e.Client, e.Evaluator, e.Config)
		result, err = dyn.Run(ctx, task, &g, budget, plannerCost)
		if err != nil {
			return Outcome{}, err
		}
		for _, r := range result.Results {
			for _, a := range r.Attempts {
				budgetedTokens += e.Config.TierCatalog.Spec(a.Tier).DefaultMaxTokens
			}
		}
	default:
		execPlan, err := allocator.Allocate(&g, e.Config.TierCatalog, budget, plannerCost, e.Config.MaxTokenFloor)
		if err != nil {
			return Outcome{}, err
		}
		downgradeEvents = execPlan.DowngradeEvents
		for _, a := range execPlan.Allocations {
			budgetedTokens += a.MaxTokens
		}
		stat := executor.NewStatic(e.Client, e.Config.TierCatalog)
		result, err = stat.Run(ctx, task, &g, execPlan)
		if err != nil {
			return Outcome{}, err
		}
	}

	var deliverableQuality *float64
	if !e.NoEval && e.Evaluator != nil {
		qs, err := e.Evaluator.EvaluateDeliverable(ctx, task, result.Deliverable)
		if err != nil {
			slog.Warn("run: deliverable evaluation failed", "run_id", runID, "error", err)
		} else {
			q := qs.Overall
			deliverableQuality = &q
		}
	}

	rpt := report.Build(&g, budget, result.Results, downgradeEvents, budgetedTokens, judgeCostOf(e.Evaluator))

	if e.Store != nil {
		rt := buildTrace(runID, task, budget, g, planResult, plannerCost, result, deliverableQuality, rpt)
		if err := e.Store.PutRun(ctx, rt); err != nil {
			slog.Warn(errs.ErrPersistenceFailed.Error(), "run_id", runID, "error", err)
		}
	}

	if payload, err := json.Marshal(rpt); err == nil {
		if err := eventbus.Publish(ctx, e.EventBus, eventbus.SubjectRunCompleted, payload); err != nil {
			slog.Warn("run: event publish failed", "run_id", runID, "error", err)
		}
	}

	return Outcome{RunID: runID, Deliverable: result.Deliverable, Report: rpt, Graph: g}, nil
}

func judgeCostOf(e *evaluator.Evaluator) float64 {
	if e == nil {
		return 0
	}
	return e.TotalCost()
}

func buildTrace(runID, task string, budget float64, g plan.TaskGraph, planResult plan.PlanResult, plannerCost float64, result executor.Result, deliverableQuality *float64, rpt report.CostReport) trace.RunTrace {
	graphJSON, _ := json.Marshal(g)
	subtaskTraces := make([]trace.SubTaskTrace, 0, len(result.Results))
	for _, r := range result.Results {
		node, _ := g.ByID(r.SubTaskID)
		var quality *float64
		if len(r.Attempts) > 0 {
			best := r.Attempts[r.FinalAttemptIndex]
			q := best.QualityScore
			quality = &q
		}
		subtaskTraces = append(subtaskTraces, trace.SubTaskTrace{
			ID:          r.SubTaskID,
			Description: node.Description,
			Tier:        r.FinalTier,
			Output:      r.Output,
			Tokens:      r.PromptTokens + r.CompletionTokens,
			Cost:        r.CostDollars,
			Surplus:     r.SurplusTokens,
			Skipped:     r.Skipped,
			Quality:     quality,
		})
	}
	return trace.RunTrace{
		RunID:         runID,
		Task:          task,
		BudgetDollars: budget,
		Timestamp:     time.Now().UTC(),
		PlannerTrace: trace.PlannerTrace{
			Task:      task,
			Tokens:    planResult.Usage.PromptTokens + planResult.Usage.CompletionTokens,
			Cost:      plannerCost,
			GraphJSON: string(graphJSON),
		},
		SubTaskTraces:         subtaskTraces,
		Deliverable:           result.Deliverable,
		DeliverableQuality:    deliverableQuality,
		TotalCostDollars:      rpt.SpentDollars + plannerCost,
		EvaluationCostDollars: rpt.JudgeCostDollars,
	}
}
