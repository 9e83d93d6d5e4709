// Package report assembles the CostReport: a pure projection over a run's
// SubTaskResults, grounded on the teacher's GetStats aggregation style in
// persistence.go generalized from database counters to a scheduling run.
package report

import (
	"github.com/dpushkaran/Pyrrhus/internal/executor"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// DAGShape summarises the structural properties of the TaskGraph a run
// executed.
type DAGShape struct {
	TotalNodes             int                     `json:"total_nodes"`
	MaxDepth               int                     `json:"max_depth"`
	ParallelisableCount    int                     `json:"parallelisable_count"`
	ComplexityDistribution map[tier.Complexity]int `json:"complexity_distribution"`
}

// CostReport is the aggregate projection over one run's results.
type CostReport struct {
	BudgetDollars      float64                  `json:"budget_dollars"`
	SpentDollars       float64                  `json:"spent_dollars"`
	RemainingDollars   float64                  `json:"remaining_dollars"`
	UtilizationPercent float64                  `json:"utilization_percent"`
	TierCounts         map[tier.Tier]int        `json:"tier_counts"`
	SkipCount          int                      `json:"skip_count"`
	DowngradeCount     int                      `json:"downgrade_count"`
	UpgradeCount       int                      `json:"upgrade_count"`
	TokenEfficiency    float64                  `json:"token_efficiency_percent"`
	DAGShape           DAGShape                 `json:"dag_shape"`
	ROIDecisions       []executor.ROIDecision   `json:"roi_decisions"`
	JudgeCostDollars   float64                  `json:"judge_cost_dollars"`
	Results            []executor.SubTaskResult `json:"subtask_results"`
}

// Build assembles a CostReport from a run's outcome. downgradeEvents comes
// from the static allocator's ExecutionPlan (nil/empty for dynamic runs, whose
// per-node ROIDecisions carry the equivalent information). budgetedTokens is
// the sum of max_tokens across allocations (static) or default caps actually
// attempted (dynamic); callers compute it from whichever plan they ran.
func Build(g *plan.TaskGraph, budget float64, results []executor.SubTaskResult, downgradeEvents []string, budgetedTokens int, judgeCost float64) CostReport {
	tierCounts := map[tier.Tier]int{tier.Fast: 0, tier.Verify: 0, tier.Deep: 0}
	var spent float64
	var completionTokens int
	var skips, upgrades int
	var decisions []executor.ROIDecision

	for _, r := range results {
		if r.Skipped {
			skips++
			continue
		}
		tierCounts[r.FinalTier]++
		spent += r.CostDollars
		completionTokens += r.CompletionTokens
		decisions = append(decisions, r.ROIDecisions...)
		for _, d := range r.ROIDecisions {
			if d.Decision == executor.DecisionUpgrade {
				upgrades++
			}
		}
	}

	remaining := budget - spent
	utilization := 0.0
	if budget > 0 {
		utilization = spent / budget * 100
	}
	tokenEfficiency := 0.0
	if budgetedTokens > 0 {
		tokenEfficiency = float64(completionTokens) / float64(budgetedTokens) * 100
	}

	return CostReport{
		BudgetDollars:      budget,
		SpentDollars:       spent,
		RemainingDollars:   remaining,
		UtilizationPercent: utilization,
		TierCounts:         tierCounts,
		SkipCount:          skips,
		DowngradeCount:     len(downgradeEvents),
		UpgradeCount:       upgrades,
		TokenEfficiency:    tokenEfficiency,
		DAGShape: DAGShape{
			TotalNodes:             len(g.Nodes),
			MaxDepth:               g.MaxDepth(),
			ParallelisableCount:    g.SourceCount(),
			ComplexityDistribution: g.ComplexityDistribution(),
		},
		ROIDecisions:     decisions,
		JudgeCostDollars: judgeCost,
		Results:          results,
	}
}
