package executor

import (
	"context"
	"testing"

	"github.com/dpushkaran/Pyrrhus/internal/config"
	"github.com/dpushkaran/Pyrrhus/internal/evaluator"
	"github.com/dpushkaran/Pyrrhus/internal/modelclient"
	"github.com/dpushkaran/Pyrrhus/internal/plan"
)

// scriptedJudge returns scores in call order, one per QuickScore invocation.
type scriptedJudge struct {
	scores []float64
	calls  int
}

func (j *scriptedJudge) QuickScore(ctx context.Context, subtaskDesc, output, overallTask string) (evaluator.QualityScore, error) {
	i := j.calls
	j.calls++
	if i >= len(j.scores) {
		return evaluator.QualityScore{Overall: j.scores[len(j.scores)-1]}, nil
	}
	return evaluator.QualityScore{Overall: j.scores[i]}, nil
}

func singleNodeGraph() *plan.TaskGraph {
	return &plan.TaskGraph{Nodes: []plan.SubTask{{ID: 1, Description: "draft"}}}
}

func TestDynamicUpgradesWhenROIJustifiesIt(t *testing.T) {
	cfg := config.Default() // QualityThreshold 6.0, MinROI 50
	client := &modelclient.Fake{}
	judge := &scriptedJudge{scores: []float64{3.0, 9.0}}
	d := NewDynamic(client, judge, cfg)

	res, err := d.Run(context.Background(), "write a report", singleNodeGraph(), 10.0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 1 {
		t.Fatalf("got %d results, want 1", len(res.Results))
	}
	node := res.Results[0]
	if len(node.Attempts) != 2 {
		t.Fatalf("got %d attempts, want 2 (fast then verify)", len(node.Attempts))
	}
	if node.FinalTier != node.Attempts[1].Tier {
		t.Errorf("final tier %v should be the second (verify) attempt %v", node.FinalTier, node.Attempts[1].Tier)
	}
	if len(node.ROIDecisions) != 1 || node.ROIDecisions[0].Decision != DecisionUpgrade {
		t.Errorf("expected a single upgrade decision, got %+v", node.ROIDecisions)
	}
}

func TestDynamicAcceptsWhenROIBelowMinimum(t *testing.T) {
	cfg := config.Default()
	cfg.MinROI = 1e9 // no upgrade can ever clear this bar
	client := &modelclient.Fake{}
	judge := &scriptedJudge{scores: []float64{2.0, 9.0}}
	d := NewDynamic(client, judge, cfg)

	res, err := d.Run(context.Background(), "write a report", singleNodeGraph(), 10.0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node := res.Results[0]
	if len(node.Attempts) != 1 {
		t.Fatalf("got %d attempts, want 1 (no upgrade should be taken)", len(node.Attempts))
	}
	if len(node.ROIDecisions) != 1 || node.ROIDecisions[0].Decision != DecisionAccept {
		t.Errorf("expected a single accept decision, got %+v", node.ROIDecisions)
	}
}

func TestDynamicArgmaxPicksBestAttemptNotLast(t *testing.T) {
	cfg := config.Default()
	cfg.QualityThreshold = 100 // never satisfied by score alone
	cfg.MinROI = 0             // every affordable upgrade clears the bar
	client := &modelclient.Fake{}
	judge := &scriptedJudge{scores: []float64{4.0, 3.0, 2.0}} // quality declines with each escalation
	d := NewDynamic(client, judge, cfg)

	res, err := d.Run(context.Background(), "write a report", singleNodeGraph(), 10.0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node := res.Results[0]
	if len(node.Attempts) != 3 {
		t.Fatalf("got %d attempts, want 3 (fast, verify, deep)", len(node.Attempts))
	}
	if node.FinalAttemptIndex != 0 {
		t.Errorf("FinalAttemptIndex = %d, want 0 (the highest-quality attempt, not the last)", node.FinalAttemptIndex)
	}
	if node.FinalTier != node.Attempts[0].Tier {
		t.Errorf("final tier %v should be the first (best-scoring) attempt's tier %v", node.FinalTier, node.Attempts[0].Tier)
	}
}

func TestDynamicReservesSynthesisFractionForTerminalNode(t *testing.T) {
	cfg := config.Default()
	cfg.SynthesisReserveFrac = 0.99 // starves the upstream node's pool almost entirely
	client := &modelclient.Fake{}
	// Every attempt, at every node, scores low enough to never clear
	// QualityThreshold, so escalation is driven purely by ROI/affordability.
	judge := &scriptedJudge{scores: []float64{1, 1, 1, 1, 1}}
	d := NewDynamic(client, judge, cfg)

	g := &plan.TaskGraph{Nodes: []plan.SubTask{
		{ID: 1},
		{ID: 2, Dependencies: []int{1}},
	}}
	res, err := d.Run(context.Background(), "write a report", g, 1.0, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(res.Results))
	}
	upstream, terminal := res.Results[0], res.Results[1]
	if len(upstream.Attempts) != 2 {
		t.Errorf("upstream node attempts = %d, want 2 (starved of the synthesis reserve, can't reach deep)", len(upstream.Attempts))
	}
	if len(terminal.Attempts) != 3 {
		t.Errorf("terminal node attempts = %d, want 3 (the reserve lets it escalate all the way to deep)", len(terminal.Attempts))
	}
}
