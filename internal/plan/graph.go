// Package plan holds the TaskGraph data model and the planner that produces
// it, grounded on the teacher's DAG validation and Kahn's-algorithm
// scheduling in dag_engine.go, generalized from a workflow-task graph to a
// model-subtask graph.
package plan

import (
	"fmt"
	"sort"

	"github.com/dpushkaran/Pyrrhus/internal/tier"
)

// SubTask is one node of a TaskGraph.
type SubTask struct {
	ID           int             `json:"id"`
	Description  string          `json:"description"`
	Complexity   tier.Complexity `json:"complexity"`
	Dependencies []int           `json:"dependencies"`
}

// TaskGraph is an ordered sequence of SubTasks, insertion order as returned
// by the planner (not necessarily topological).
type TaskGraph struct {
	Nodes []SubTask `json:"nodes"`
}

// ErrInvalidGraph is returned by Validate; wrap with fmt.Errorf("%w: ...")
// for a specific reason.
var ErrInvalidGraph = fmt.Errorf("plan: invalid graph")

// Validate enforces the TaskGraph invariants: every dependency id resolves,
// no self-loop, no cycle, at least one source, at least one sink. It never
// mutates g.
func (g *TaskGraph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: graph has no nodes", ErrInvalidGraph)
	}
	byID := make(map[int]*SubTask, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node id %d", ErrInvalidGraph, n.ID)
		}
		byID[n.ID] = n
	}
	hasDependent := make(map[int]bool, len(g.Nodes))
	for _, n := range g.Nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				return fmt.Errorf("%w: node %d depends on itself", ErrInvalidGraph, n.ID)
			}
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("%w: node %d references non-existent dependency %d", ErrInvalidGraph, n.ID, dep)
			}
			hasDependent[dep] = true
		}
	}
	if err := detectCycle(g.Nodes, byID); err != nil {
		return err
	}
	hasSource := false
	for _, n := range g.Nodes {
		if len(n.Dependencies) == 0 {
			hasSource = true
			break
		}
	}
	if !hasSource {
		return fmt.Errorf("%w: no source node (every node has a dependency)", ErrInvalidGraph)
	}
	hasSink := false
	for _, n := range g.Nodes {
		if !hasDependent[n.ID] {
			hasSink = true
			break
		}
	}
	if !hasSink {
		return fmt.Errorf("%w: no sink node (every node has a dependent)", ErrInvalidGraph)
	}
	return nil
}

const (
	stateUnvisited = iota
	stateOnStack
	stateDone
)

// detectCycle runs DFS with a visited/on-stack flag per node, the same
// two-flag technique the design notes call for.
func detectCycle(nodes []SubTask, byID map[int]*SubTask) error {
	state := make(map[int]int, len(nodes))
	var visit func(id int, path []int) error
	visit = func(id int, path []int) error {
		switch state[id] {
		case stateDone:
			return nil
		case stateOnStack:
			return fmt.Errorf("%w: cycle detected involving node %d", ErrInvalidGraph, id)
		}
		state[id] = stateOnStack
		for _, dep := range byID[id].Dependencies {
			if err := visit(dep, append(path, id)); err != nil {
				return err
			}
		}
		state[id] = stateDone
		return nil
	}
	for _, n := range nodes {
		if state[n.ID] == stateUnvisited {
			if err := visit(n.ID, nil); err != nil {
				return err
			}
		}
	}
	return nil
}

// dependents returns, for every node id, the ids of nodes that depend on it.
func dependents(nodes []SubTask) map[int][]int {
	out := make(map[int][]int, len(nodes))
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			out[dep] = append(out[dep], n.ID)
		}
	}
	return out
}

// TopoOrder returns node ids in Kahn's-algorithm order with ties broken by
// ascending id, the deterministic sequence property tests rely on.
func (g *TaskGraph) TopoOrder() []int {
	byID := make(map[int]*SubTask, len(g.Nodes))
	indegree := make(map[int]int, len(g.Nodes))
	for i := range g.Nodes {
		n := &g.Nodes[i]
		byID[n.ID] = n
		if _, ok := indegree[n.ID]; !ok {
			indegree[n.ID] = 0
		}
	}
	for _, n := range g.Nodes {
		indegree[n.ID] += len(n.Dependencies)
	}
	deps := dependents(g.Nodes)

	ready := make([]int, 0, len(g.Nodes))
	for id, d := range indegree {
		if d == 0 {
			ready = append(ready, id)
		}
	}
	sort.Ints(ready)

	order := make([]int, 0, len(g.Nodes))
	for len(ready) > 0 {
		sort.Ints(ready)
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)
		for _, child := range deps[id] {
			indegree[child]--
			if indegree[child] == 0 {
				ready = append(ready, child)
			}
		}
	}
	return order
}

// CriticalDepths returns, for every node id, the longest path (edge count)
// from that node to any sink; a sink has depth 0.
func (g *TaskGraph) CriticalDepths() map[int]int {
	deps := dependents(g.Nodes)
	memo := make(map[int]int, len(g.Nodes))
	var depth func(id int) int
	depth = func(id int) int {
		if d, ok := memo[id]; ok {
			return d
		}
		children := deps[id]
		if len(children) == 0 {
			memo[id] = 0
			return 0
		}
		best := 0
		for _, c := range children {
			if d := depth(c) + 1; d > best {
				best = d
			}
		}
		memo[id] = best
		return best
	}
	out := make(map[int]int, len(g.Nodes))
	for _, n := range g.Nodes {
		out[n.ID] = depth(n.ID)
	}
	return out
}

// MaxDepth is the longest chain length (edges) through the graph.
func (g *TaskGraph) MaxDepth() int {
	best := 0
	for _, d := range g.CriticalDepths() {
		if d > best {
			best = d
		}
	}
	return best
}

// SourceCount is the number of nodes with no dependencies (the
// "parallelisable" count the report exposes).
func (g *TaskGraph) SourceCount() int {
	n := 0
	for _, node := range g.Nodes {
		if len(node.Dependencies) == 0 {
			n++
		}
	}
	return n
}

// TerminalID returns the id of the last node in topological order, the
// user-visible deliverable node.
func (g *TaskGraph) TerminalID() int {
	order := g.TopoOrder()
	if len(order) == 0 {
		return 0
	}
	return order[len(order)-1]
}

// ByID returns the node with the given id, or false if absent.
func (g *TaskGraph) ByID(id int) (SubTask, bool) {
	for _, n := range g.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return SubTask{}, false
}

// ComplexityDistribution counts nodes per complexity label.
func (g *TaskGraph) ComplexityDistribution() map[tier.Complexity]int {
	dist := map[tier.Complexity]int{tier.Low: 0, tier.Medium: 0, tier.High: 0}
	for _, n := range g.Nodes {
		dist[n.Complexity]++
	}
	return dist
}
