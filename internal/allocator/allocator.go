// Package allocator implements the static allocator: a pure function from a
// TaskGraph and a budget to an ExecutionPlan, via a deterministic downgrade
// cascade. Grounded on the teacher's deterministic Kahn's-algorithm
// scheduling discipline in dag_engine.go, applied here to tier demotion
// order instead of execution order.
package allocator

import (
	"fmt"
	"sort"

	"github.com/dpushkaran/Pyrrhus/internal/errs"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// SubTaskAllocation is the allocator's per-node decision, frozen once
// Allocate returns.
type SubTaskAllocation struct {
	SubTaskID            int       `json:"subtask_id"`
	Tier                 tier.Tier `json:"tier"`
	MaxTokens            int       `json:"max_tokens"`
	EstimatedCostDollars float64   `json:"estimated_cost_dollars"`
	Skipped              bool      `json:"skipped"`
}

// ExecutionPlan is the allocator's output: one allocation per node, in
// TaskGraph order, plus the totals and the list of downgrades applied.
type ExecutionPlan struct {
	Allocations       []SubTaskAllocation `json:"allocations"`
	TotalEstimatedCost float64            `json:"total_estimated_cost_dollars"`
	BudgetDollars      float64            `json:"budget_dollars"`
	DowngradeEvents    []string           `json:"downgrade_events"`
}

type cascadeNode struct {
	id    int
	tier  tier.Tier
	tok   int
	cost  float64
	depth int
}

// Allocate runs the four-pass downgrade cascade against g, given a total
// budget and the dollars already spent (e.g. by the planner call). It never
// performs I/O and is deterministic: identical inputs yield identical plans.
func Allocate(g *plan.TaskGraph, catalog tier.Catalog, budget, alreadySpent float64, tokenFloor int) (ExecutionPlan, error) {
	remaining := budget - alreadySpent
	if remaining <= 0 {
		return ExecutionPlan{}, errs.BudgetExhausted(budget, alreadySpent)
	}

	depths := g.CriticalDepths()
	nodes := make([]*cascadeNode, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		t := tier.DefaultTierFor(n.Complexity)
		spec := catalog.Spec(t)
		nodes = append(nodes, &cascadeNode{id: n.ID, tier: t, tok: spec.DefaultMaxTokens, depth: depths[n.ID]})
	}
	recost := func(n *cascadeNode) {
		if n.tok == 0 {
			n.cost = 0
			return
		}
		n.cost = catalog.EstimateCost(n.tier, 0, n.tok)
	}
	for _, n := range nodes {
		recost(n)
	}
	totalCost := func() float64 {
		var sum float64
		for _, n := range nodes {
			sum += n.cost
		}
		return sum
	}

	// Least-critical first; ties broken by ascending id.
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].depth != nodes[j].depth {
			return nodes[i].depth < nodes[j].depth
		}
		return nodes[i].id < nodes[j].id
	})

	var events []string

	if totalCost() <= remaining {
		return buildPlan(g, nodes, catalog, budget, remaining, events)
	}

	// Pass 1: least-critical Deep nodes demoted to Verify.
	for _, n := range nodes {
		if totalCost() <= remaining {
			break
		}
		if n.tier == tier.Deep {
			n.tier = tier.Verify
			n.tok = catalog.Spec(tier.Verify).DefaultMaxTokens
			recost(n)
			events = append(events, fmt.Sprintf("node %d: deep -> verify (pass 1)", n.id))
		}
	}

	// Pass 2: remaining Deep nodes (the most critical) demoted to Fast.
	if totalCost() > remaining {
		for _, n := range nodes {
			if totalCost() <= remaining {
				break
			}
			if n.tier == tier.Deep {
				n.tier = tier.Fast
				n.tok = catalog.Spec(tier.Fast).DefaultMaxTokens
				recost(n)
				events = append(events, fmt.Sprintf("node %d: deep -> fast (pass 2)", n.id))
			}
		}
	}

	// Pass 3: least-critical Verify nodes skipped.
	if totalCost() > remaining {
		for _, n := range nodes {
			if totalCost() <= remaining {
				break
			}
			if n.tier == tier.Verify {
				n.tok = 0
				n.cost = 0
				events = append(events, fmt.Sprintf("node %d: verify -> skipped (pass 3)", n.id))
			}
		}
	}

	// Pass 4 (fallback): scale every non-skipped node's tokens proportionally,
	// flooring at tokenFloor.
	if totalCost() > remaining {
		cur := totalCost()
		if cur > 0 {
			ratio := remaining / cur
			for _, n := range nodes {
				if n.tok == 0 {
					continue
				}
				scaled := int(float64(n.tok) * ratio)
				if scaled < tokenFloor {
					scaled = tokenFloor
				}
				n.tok = scaled
				recost(n)
			}
			events = append(events, fmt.Sprintf("pass 4: scaled non-skipped nodes by ratio %.4f, floor %d tokens", ratio, tokenFloor))
		}
	}

	if totalCost() > remaining {
		allFloor := true
		for _, n := range nodes {
			if n.tok != 0 && n.tok > tokenFloor {
				allFloor = false
				break
			}
		}
		if !allFloor {
			return ExecutionPlan{}, errs.BudgetExhausted(budget, alreadySpent)
		}
	}

	return buildPlan(g, nodes, catalog, budget, remaining, events)
}

func buildPlan(g *plan.TaskGraph, nodes []*cascadeNode, catalog tier.Catalog, budget, remaining float64, events []string) (ExecutionPlan, error) {
	byID := make(map[int]SubTaskAllocation, len(nodes))
	var total float64
	for _, n := range nodes {
		byID[n.id] = SubTaskAllocation{
			SubTaskID:            n.id,
			Tier:                 n.tier,
			MaxTokens:            n.tok,
			EstimatedCostDollars: n.cost,
			Skipped:              n.tok == 0,
		}
		total += n.cost
	}
	allocations := make([]SubTaskAllocation, 0, len(g.Nodes))
	for _, node := range g.Nodes {
		allocations = append(allocations, byID[node.ID])
	}
	return ExecutionPlan{
		Allocations:        allocations,
		TotalEstimatedCost: total,
		BudgetDollars:      budget,
		DowngradeEvents:    events,
	}, nil
}
