package executor

import (
	"context"
	"testing"

	"github.com/dpushkaran/Pyrrhus/internal/allocator"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

func TestStaticRunProducesOneResultPerNodeInOrder(t *testing.T) {
	catalog := tier.DefaultCatalog()
	g := &plan.TaskGraph{Nodes: []plan.SubTask{
		{ID: 1, Description: "draft"},
		{ID: 2, Description: "polish", Dependencies: []int{1}},
	}}
	execPlan := allocator.ExecutionPlan{Allocations: []allocator.SubTaskAllocation{
		{SubTaskID: 1, Tier: tier.Fast, MaxTokens: catalog.Spec(tier.Fast).DefaultMaxTokens},
		{SubTaskID: 2, Tier: tier.Fast, MaxTokens: catalog.Spec(tier.Fast).DefaultMaxTokens},
	}}
	client := &modelclient.Fake{TextFor: map[string]string{
		catalog.Spec(tier.Fast).ModelID: "fast output",
	}}
	s := NewStatic(client, catalog)

	res, err := s.Run(context.Background(), "write a poem", g, execPlan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(res.Results))
	}
	if res.Results[0].SubTaskID != 1 || res.Results[1].SubTaskID != 2 {
		t.Errorf("results out of graph order: %+v", res.Results)
	}
	if res.Deliverable == "" {
		t.Error("expected a non-empty deliverable")
	}
}

func TestStaticRunSkipsSkippedAllocations(t *testing.T) {
	catalog := tier.DefaultCatalog()
	g := &plan.TaskGraph{Nodes: []plan.SubTask{
		{ID: 1, Description: "draft"},
	}}
	execPlan := allocator.ExecutionPlan{Allocations: []allocator.SubTaskAllocation{
		{SubTaskID: 1, Skipped: true},
	}}
	client := &modelclient.Fake{}
	s := NewStatic(client, catalog)

	res, err := s.Run(context.Background(), "write a poem", g, execPlan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Results[0].Skipped {
		t.Error("expected the node to be marked skipped")
	}
	if len(client.Calls) != 0 {
		t.Errorf("expected no model calls for a skipped node, got %v", client.Calls)
	}
	if res.Deliverable != "" {
		t.Errorf("expected an empty deliverable, got %q", res.Deliverable)
	}
}

func TestStaticRunRedistributesSurplusToDownstreamNodes(t *testing.T) {
	catalog := tier.DefaultCatalog()
	fastDefault := catalog.Spec(tier.Fast).DefaultMaxTokens // 1024
	g := &plan.TaskGraph{Nodes: []plan.SubTask{
		{ID: 1, Description: "draft"},
		{ID: 2, Description: "polish", Dependencies: []int{1}},
	}}
	// Node 1 is allocated its full default (no boost possible); node 2 is
	// allocated half its default, leaving room for node 1's surplus to
	// flow forward.
	execPlan := allocator.ExecutionPlan{Allocations: []allocator.SubTaskAllocation{
		{SubTaskID: 1, Tier: tier.Fast, MaxTokens: fastDefault},
		{SubTaskID: 2, Tier: tier.Fast, MaxTokens: fastDefault / 2},
	}}
	client := &modelclient.Fake{}
	s := NewStatic(client, catalog)

	res, err := s.Run(context.Background(), "write a poem", g, execPlan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// modelclient.Fake always completes at maxTokens/4; node 1 uses its
	// allocated max untouched, so its completion is fastDefault/4.
	wantNode1Completion := fastDefault / 4
	if res.Results[0].CompletionTokens != wantNode1Completion {
		t.Errorf("node 1 completion tokens = %d, want %d", res.Results[0].CompletionTokens, wantNode1Completion)
	}
	// Node 2's starting allocation (fastDefault/2) would complete at
	// fastDefault/8 on its own; surplus from node 1 should boost it back up
	// toward fastDefault/4.
	unboosted := (fastDefault / 2) / 4
	if res.Results[1].CompletionTokens <= unboosted {
		t.Errorf("node 2 completion tokens = %d, want more than the unboosted %d (surplus should have been redistributed)", res.Results[1].CompletionTokens, unboosted)
	}
}

// TestStaticRunCarriesRawTokenSurplusAcrossTierPriceGap pins the pool to raw
// token counts rather than dollars: surplus minted at a cheap tier must carry
// its full token value into an expensive tier's allocation, not a fraction
// shrunk by the price gap.
func TestStaticRunCarriesRawTokenSurplusAcrossTierPriceGap(t *testing.T) {
	catalog := tier.DefaultCatalog()
	fastDefault := catalog.Spec(tier.Fast).DefaultMaxTokens // 1024
	g := &plan.TaskGraph{Nodes: []plan.SubTask{
		{ID: 1, Description: "draft"},
		{ID: 2, Description: "polish", Dependencies: []int{1}},
	}}
	execPlan := allocator.ExecutionPlan{Allocations: []allocator.SubTaskAllocation{
		{SubTaskID: 1, Tier: tier.Fast, MaxTokens: fastDefault},
		{SubTaskID: 2, Tier: tier.Deep, MaxTokens: 100},
	}}
	client := &modelclient.Fake{}
	s := NewStatic(client, catalog)

	res, err := s.Run(context.Background(), "write a poem", g, execPlan)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	wantSurplus := fastDefault - fastDefault/4 // 1024 - 256 = 768 tokens
	if res.Results[0].SurplusTokens != wantSurplus {
		t.Fatalf("node 1 surplus tokens = %d, want %d", res.Results[0].SurplusTokens, wantSurplus)
	}
	// Node 2's starting allocation (100) plus the full raw-token surplus
	// (768) should boost its max_tokens to 868, not some price-adjusted
	// fraction of it.
	wantBoostedMaxTokens := 100 + wantSurplus
	wantCompletion := wantBoostedMaxTokens / 4
	if res.Results[1].CompletionTokens != wantCompletion {
		t.Errorf("node 2 completion tokens = %d, want %d (max_tokens boosted to %d by the full token surplus)", res.Results[1].CompletionTokens, wantCompletion, wantBoostedMaxTokens)
	}
}
