// Package graph builds the dependency DAG from a Plan's flat top-level
// nodes, detects cycles, and computes topological levels (spec.md §4.3).
//
// Grounded on the teacher's cmd/workflow/compiler (the original ir.go's
// terminal/entry/cycle-detection passes), generalized into a full
// level-assignment algorithm matching the original Python system this was
// distilled from (original_source's DependencyGraph /
// executors/level_based.py).
package graph

import (
	"fmt"
	"sort"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
)

// CycleDetectedError names the nodes that could not be assigned a level,
// i.e. the nodes involved in (or downstream of) a cycle.
type CycleDetectedError struct {
	Involved []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("cycle detected involving nodes: %v", e.Involved)
}

// Graph is a compiled view over a Plan's top-level nodes: dependency
// edges, dependents, and topological levels. Nested children of
// condition/loop/parallel nodes are not part of this graph — they are the
// responsibility of those nodes' executors.
type Graph struct {
	plan       *sdk.Plan
	byID       map[string]*sdk.NodeConfig
	dependents map[string][]string
	levels     [][]string
	levelOf    map[string]int
	order      []string // insertion order, for deterministic tie-breaking
}

// Build constructs a Graph from plan, returning *CycleDetectedError if the
// dependency relation is not acyclic.
func Build(plan *sdk.Plan) (*Graph, error) {
	g := &Graph{
		plan:       plan,
		byID:       make(map[string]*sdk.NodeConfig, len(plan.Nodes)),
		dependents: make(map[string][]string),
	}
	for _, n := range plan.Nodes {
		g.byID[n.ID] = n
		g.order = append(g.order, n.ID)
	}
	for _, n := range plan.Nodes {
		for _, dep := range n.Dependencies {
			g.dependents[dep] = append(g.dependents[dep], n.ID)
		}
	}
	if err := g.computeLevels(); err != nil {
		return nil, err
	}
	return g, nil
}

// computeLevels assigns each node a level: 0 for nodes with no
// dependencies, L+1 for nodes all of whose dependencies lie in levels <= L.
// Tie-breaking within a level follows insertion (plan) order. A node left
// unassigned after one full fixed-point pass implies a cycle.
func (g *Graph) computeLevels() error {
	g.levelOf = make(map[string]int, len(g.order))
	remaining := make(map[string]bool, len(g.order))
	for _, id := range g.order {
		remaining[id] = true
	}

	level := 0
	for len(remaining) > 0 {
		var ready []string
		for _, id := range g.order {
			if !remaining[id] {
				continue
			}
			node := g.byID[id]
			allSatisfied := true
			for _, dep := range node.Dependencies {
				if remaining[dep] {
					allSatisfied = false
					break
				}
			}
			if allSatisfied {
				ready = append(ready, id)
			}
		}
		if len(ready) == 0 {
			var involved []string
			for id := range remaining {
				involved = append(involved, id)
			}
			sort.Strings(involved)
			return &CycleDetectedError{Involved: involved}
		}
		g.levels = append(g.levels, ready)
		for _, id := range ready {
			g.levelOf[id] = level
			delete(remaining, id)
		}
		level++
	}
	return nil
}

// TopologicalLevels returns the levels in ascending order, each a list of
// node ids in deterministic (insertion) order.
func (g *Graph) TopologicalLevels() [][]string {
	out := make([][]string, len(g.levels))
	for i, lvl := range g.levels {
		out[i] = append([]string{}, lvl...)
	}
	return out
}

// Dependencies returns the declared dependencies of id.
func (g *Graph) Dependencies(id string) []string {
	node := g.byID[id]
	if node == nil {
		return nil
	}
	return append([]string{}, node.Dependencies...)
}

// Dependents returns the node ids that declare id as a dependency.
func (g *Graph) Dependents(id string) []string {
	return append([]string{}, g.dependents[id]...)
}

// Leaves returns nodes with no dependents.
func (g *Graph) Leaves() []string {
	var out []string
	for _, id := range g.order {
		if len(g.dependents[id]) == 0 {
			out = append(out, id)
		}
	}
	return out
}

// LevelOf returns the topological level of id, or -1 if unknown.
func (g *Graph) LevelOf(id string) int {
	if lvl, ok := g.levelOf[id]; ok {
		return lvl
	}
	return -1
}

// SchemaWarning describes a mismatch found by the advisory alignment check.
type SchemaWarning struct {
	FromNode    string
	ToNode      string
	Placeholder string
	Detail      string
}

// CheckSchemaAlignment is an advisory, non-blocking check: for each
// dependency edge, if the downstream node's input_mappings resolves a
// placeholder into the upstream node's output_schema, verify the declared
// input type is compatible with the declared output type.
func (g *Graph) CheckSchemaAlignment() []SchemaWarning {
	var warnings []SchemaWarning
	for _, id := range g.order {
		node := g.byID[id]
		for placeholder, mv := range node.InputMappings {
			if !mv.IsRef {
				continue
			}
			upstream := g.byID[mv.Ref.SourceNodeID]
			if upstream == nil {
				continue
			}
			declaredIn, hasIn := node.InputSchema[placeholder]
			if !hasIn {
				continue
			}
			// The mapping resolves into a (possibly nested) path of the
			// upstream output; only the top-level field name is checked
			// against the mini-type grammar (nested paths are opaque to
			// static schema alignment).
			topField := mv.Ref.SourceOutputPath
			if idx := indexOfDot(topField); idx >= 0 {
				topField = topField[:idx]
			}
			declaredOut, hasOut := upstream.OutputSchema[topField]
			if !hasOut {
				continue
			}
			if declaredIn.String() != declaredOut.String() {
				warnings = append(warnings, SchemaWarning{
					FromNode:    upstream.ID,
					ToNode:      node.ID,
					Placeholder: placeholder,
					Detail: fmt.Sprintf("upstream output %s is %s, downstream input %s expects %s",
						topField, declaredOut.String(), placeholder, declaredIn.String()),
				})
			}
		}
	}
	return warnings
}

func indexOfDot(s string) int {
	for i := 0; i < len(s); i++ {
		if s[i] == '.' {
			return i
		}
	}
	return -1
}
