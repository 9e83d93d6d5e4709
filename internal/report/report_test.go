package report

import (
	"testing"

	"github.com/dpushkaran/Pyrrhus/internal/executor"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

func TestBuildAggregatesSpendAndUtilization(t *testing.T) {
	g := &plan.TaskGraph{Nodes: []plan.SubTask{
		{ID: 1, Complexity: tier.Low},
		{ID: 2, Complexity: tier.High, Dependencies: []int{1}},
	}}
	results := []executor.SubTaskResult{
		{SubTaskID: 1, FinalTier: tier.Fast, CostDollars: 1.0, CompletionTokens: 100},
		{SubTaskID: 2, FinalTier: tier.Deep, CostDollars: 3.0, CompletionTokens: 200},
	}
	rpt := Build(g, 10.0, results, nil, 400, 0.25)

	if rpt.SpentDollars != 4.0 {
		t.Errorf("SpentDollars = %v, want 4.0", rpt.SpentDollars)
	}
	if rpt.RemainingDollars != 6.0 {
		t.Errorf("RemainingDollars = %v, want 6.0", rpt.RemainingDollars)
	}
	if rpt.UtilizationPercent != 40.0 {
		t.Errorf("UtilizationPercent = %v, want 40.0", rpt.UtilizationPercent)
	}
	if rpt.TokenEfficiency != 75.0 {
		t.Errorf("TokenEfficiency = %v, want 75.0", rpt.TokenEfficiency)
	}
	if rpt.TierCounts[tier.Fast] != 1 || rpt.TierCounts[tier.Deep] != 1 {
		t.Errorf("TierCounts = %+v", rpt.TierCounts)
	}
	if rpt.JudgeCostDollars != 0.25 {
		t.Errorf("JudgeCostDollars = %v, want 0.25", rpt.JudgeCostDollars)
	}
	if rpt.DAGShape.TotalNodes != 2 || rpt.DAGShape.MaxDepth != 1 {
		t.Errorf("DAGShape = %+v", rpt.DAGShape)
	}
}

func TestBuildCountsSkipsAndExcludesThemFromSpend(t *testing.T) {
	g := &plan.TaskGraph{Nodes: []plan.SubTask{{ID: 1}, {ID: 2, Dependencies: []int{1}}}}
	results := []executor.SubTaskResult{
		{SubTaskID: 1, Skipped: true},
		{SubTaskID: 2, FinalTier: tier.Fast, CostDollars: 0.5},
	}
	rpt := Build(g, 1.0, results, []string{"node 1: deep -> skipped"}, 0, 0)

	if rpt.SkipCount != 1 {
		t.Errorf("SkipCount = %d, want 1", rpt.SkipCount)
	}
	if rpt.SpentDollars != 0.5 {
		t.Errorf("SpentDollars = %v, want 0.5 (skipped node contributes nothing)", rpt.SpentDollars)
	}
	if rpt.DowngradeCount != 1 {
		t.Errorf("DowngradeCount = %d, want 1", rpt.DowngradeCount)
	}
}

func TestBuildCountsUpgradeDecisions(t *testing.T) {
	g := &plan.TaskGraph{Nodes: []plan.SubTask{{ID: 1}}}
	results := []executor.SubTaskResult{
		{
			SubTaskID:   1,
			FinalTier:   tier.Verify,
			CostDollars: 0.01,
			ROIDecisions: []executor.ROIDecision{
				{Decision: executor.DecisionUpgrade},
				{Decision: executor.DecisionAccept},
			},
		},
	}
	rpt := Build(g, 1.0, results, nil, 0, 0)
	if rpt.UpgradeCount != 1 {
		t.Errorf("UpgradeCount = %d, want 1", rpt.UpgradeCount)
	}
	if len(rpt.ROIDecisions) != 2 {
		t.Errorf("ROIDecisions = %d, want 2 (all decisions carried through)", len(rpt.ROIDecisions))
	}
}

func TestBuildZeroBudgetAvoidsDivisionByZero(t *testing.T) {
	g := &plan.TaskGraph{Nodes: []plan.SubTask{{ID: 1}}}
	rpt := Build(g, 0, nil, nil, 0, 0)
	if rpt.UtilizationPercent != 0 {
		t.Errorf("UtilizationPercent = %v, want 0", rpt.UtilizationPercent)
	}
	if rpt.TokenEfficiency != 0 {
		t.Errorf("TokenEfficiency = %v, want 0", rpt.TokenEfficiency)
	}
}
