package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/dpushkaran/Pyrrhus/internal/config"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// Dynamic replaces Static+allocator.Allocate: no advance allocation, tiers
// are chosen reactively per node via a quality-scored ROI test.
type Dynamic struct {
	client modelclient.Client
	judge  Judge
	cfg    config.Config

	mu            sync.Mutex
	totalSpent    float64
	upstreamSpent float64
}

// NewDynamic builds a Dynamic executor.
func NewDynamic(client modelclient.Client, judge Judge, cfg config.Config) *Dynamic {
	return &Dynamic{client: client, judge: judge, cfg: cfg}
}

// Run walks g in topological order, escalating each node's tier only when
// the ROI test in spec section 4.5 authorises it, and reserving a fraction
// of the budget for the terminal node.
func (d *Dynamic) Run(ctx context.Context, task string, g *plan.TaskGraph, budget, plannerCost float64) (Result, error) {
	tracer := otel.Tracer("pyrrhus/executor")
	ctx, span := tracer.Start(ctx, "executor.dynamic.run")
	defer span.End()

	remainingTotal := budget - plannerCost
	synthesisReserve := remainingTotal * d.cfg.SynthesisReserveFrac
	upstreamBudget := remainingTotal - synthesisReserve

	terminalID := g.TerminalID()
	order := g.TopoOrder()
	outputs := make(map[int]string, len(g.Nodes))
	results := make([]SubTaskResult, 0, len(order))
	var deliverableParts []string

	for _, id := range order {
		node, _ := g.ByID(id)
		isTerminal := id == terminalID

		d.mu.Lock()
		var available float64
		if isTerminal {
			available = budget - d.totalSpent
		} else {
			a := upstreamBudget - d.upstreamSpent
			b := budget - d.totalSpent
			if a < b {
				available = a
			} else {
				available = b
			}
		}
		d.mu.Unlock()

		result := d.runNode(ctx, task, node, g, outputs, available)
		outputs[id] = result.Output
		if result.Output != "" {
			deliverableParts = append(deliverableParts, result.Output)
		}

		d.mu.Lock()
		d.totalSpent += result.CostDollars
		if !isTerminal {
			d.upstreamSpent += result.CostDollars
		}
		d.mu.Unlock()

		results = append(results, result)
	}

	return Result{
		Deliverable: strings.Join(deliverableParts, "\n\n"),
		Results:     results,
	}, nil
}

// runNode executes the inner ROI loop in spec section 4.5 step 3 for a
// single node and returns its SubTaskResult (chosen attempt = argmax
// quality, not last attempt).
func (d *Dynamic) runNode(ctx context.Context, task string, node plan.SubTask, g *plan.TaskGraph, outputs map[int]string, available float64) SubTaskResult {
	catalog := d.cfg.TierCatalog
	prompt := buildPrompt(task, node, g, outputs)

	var attempts []SubTaskAttempt
	var decisions []ROIDecision
	tierIdx := 0

	for {
		t := tier.Ladder[tierIdx]
		spec := catalog.Spec(t)
		est := float64(spec.DefaultMaxTokens) * spec.OutputPricePerM / 1e6
		if est > available {
			break
		}

		res, err := d.client.Generate(ctx, spec.ModelID, prompt, modelclient.Options{
			MaxOutputTokens: spec.DefaultMaxTokens,
			Temperature:     0.4,
		})
		var output string
		var promptTokens, completionTokens int
		if err != nil {
			slog.Warn("dynamic executor: model call failed, scoring as empty", "subtask_id", node.ID, "tier", t, "error", err)
		} else {
			output = res.Text
			promptTokens = res.PromptTokens
			completionTokens = res.CompletionTokens
		}
		cost := catalog.EstimateCost(t, promptTokens, completionTokens)
		available -= cost

		score := 0.0
		if output != "" {
			qs, err := d.judge.QuickScore(ctx, node.Description, output, task)
			if err != nil {
				slog.Warn("dynamic executor: evaluator call failed, scoring as zero", "subtask_id", node.ID, "error", err)
			} else {
				score = qs.Overall
			}
		}

		attempts = append(attempts, SubTaskAttempt{
			Tier:             t,
			Output:           output,
			QualityScore:     score,
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			CostDollars:      cost,
		})

		if score >= d.cfg.QualityThreshold {
			break
		}

		nextTier, hasNext := tier.Next(t)
		if !hasNext {
			break
		}

		nextSpec := catalog.Spec(nextTier)
		upgradeEst := float64(nextSpec.DefaultMaxTokens) * nextSpec.OutputPricePerM / 1e6
		lift, _ := d.cfg.Lift(tier.Pair{From: t, To: nextTier})
		roi := 0.0
		if upgradeEst > 0 {
			roi = lift / upgradeEst
		}

		decision := ROIDecision{
			SubTaskID:           node.ID,
			CurrentTier:         t,
			CurrentQuality:      score,
			ProposedTier:        nextTier,
			UpgradeCostEstimate: upgradeEst,
			ExpectedQualityLift: lift,
			ROI:                 roi,
		}
		if roi >= d.cfg.MinROI && upgradeEst <= available {
			decision.Decision = DecisionUpgrade
			decision.Reason = fmt.Sprintf("roi %.2f >= min_roi %.2f and upgrade estimate $%.6f fits available $%.6f", roi, d.cfg.MinROI, upgradeEst, available)
			decisions = append(decisions, decision)
			tierIdx++
			continue
		}
		if roi < d.cfg.MinROI {
			decision.Decision = DecisionAccept
			decision.Reason = fmt.Sprintf("roi %.2f below min_roi %.2f", roi, d.cfg.MinROI)
		} else {
			decision.Decision = DecisionBudgetExceeded
			decision.Reason = fmt.Sprintf("upgrade estimate $%.6f exceeds available $%.6f", upgradeEst, available)
		}
		decisions = append(decisions, decision)
		break
	}

	bestIdx := argmaxQuality(attempts)
	result := SubTaskResult{
		SubTaskID:    node.ID,
		ROIDecisions: decisions,
		Attempts:     attempts,
	}
	if bestIdx >= 0 {
		best := attempts[bestIdx]
		result.FinalTier = best.Tier
		result.Output = best.Output
		result.FinalAttemptIndex = bestIdx
	}
	for _, a := range attempts {
		result.PromptTokens += a.PromptTokens
		result.CompletionTokens += a.CompletionTokens
		result.CostDollars += a.CostDollars
	}
	return result
}

// argmaxQuality returns the index of the attempt with the highest quality
// score, or -1 if attempts is empty. Ties keep the earliest (cheapest)
// attempt.
func argmaxQuality(attempts []SubTaskAttempt) int {
	best := -1
	for i, a := range attempts {
		if best == -1 || a.QualityScore > attempts[best].QualityScore {
			best = i
		}
	}
	return best
}
