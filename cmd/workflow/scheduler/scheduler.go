// Package scheduler drives a compiled Graph to completion level by
// level, bounding in-level concurrency and applying the run's failure
// policy between levels (spec.md §4.7).
//
// Grounded on the original Python system's level_based executor
// (original_source's executors/level_based.py: "run a level, gate
// concurrency, consult policy, advance"), reimplemented with the
// teacher's dependency on golang.org/x/sync (promoted here from
// coordination primitives to the scheduler's semaphore-gated worker
// pool) in place of the Python asyncio.Semaphore.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/flowforge/orchestrator/cmd/workflow/executor"
	"github.com/flowforge/orchestrator/cmd/workflow/graph"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"golang.org/x/sync/semaphore"
)

// Options configures one run of the scheduler.
type Options struct {
	MaxParallel   int // 0 or negative means unbounded within a level
	FailurePolicy sdk.FailurePolicy
}

// Run drives every level of g to completion, executing nodes within a
// level concurrently (bounded by opts.MaxParallel) and applying
// opts.FailurePolicy between levels. It returns the per-node results
// collected so far and whether the run as a whole succeeded.
func Run(ctx context.Context, g *graph.Graph, plan *sdk.Plan, deps *executor.Deps, opts Options) *sdk.RunResult {
	start := time.Now()
	results := make(map[string]*sdk.NodeResult)
	attempted := make(map[string]bool)
	cancelled := false

	var sem *semaphore.Weighted
	if opts.MaxParallel > 0 {
		sem = semaphore.NewWeighted(int64(opts.MaxParallel))
	}

	levels := g.TopologicalLevels()

levelLoop:
	for _, level := range levels {
		select {
		case <-ctx.Done():
			cancelled = true
			break levelLoop
		default:
		}

		eligible := eligibleNodes(level, plan, results, attempted)
		if len(eligible) == 0 {
			continue
		}

		levelResults := runLevel(ctx, eligible, deps, sem)
		for id, r := range levelResults {
			results[id] = r
			attempted[id] = true
		}

		if ctx.Err() != nil {
			cancelled = true
			break levelLoop
		}

		if levelFailed(levelResults) {
			switch opts.FailurePolicy {
			case sdk.PolicyHalt:
				break levelLoop
			case sdk.PolicyContinuePossible, sdk.PolicyAlways:
				// keep going; dependents of the failed node(s) become
				// DependencyFailed when their own level is reached.
			}
		}
	}

	success := true
	var firstErr string
	for _, r := range results {
		if !r.Success {
			success = false
			if firstErr == "" {
				firstErr = r.Error
			}
		}
	}
	// Nodes that never ran because an ancestor failed still count against
	// overall success once everything skippable has a result: a plan is
	// fully successful only when every node has a recorded, successful
	// result.
	if len(results) < len(plan.Nodes) && !cancelled {
		success = false
	}

	return &sdk.RunResult{
		Success:   success && !cancelled,
		Outputs:   results,
		Error:     firstErr,
		Duration:  time.Since(start),
		Cancelled: cancelled,
	}
}

// eligibleNodes filters a level down to the nodes that have not been
// attempted yet and that exist in plan. It does not inspect dependency
// outcomes; runLevel synthesizes the DependencyFailed result for a node
// with a failed ancestor.
func eligibleNodes(level []string, plan *sdk.Plan, results map[string]*sdk.NodeResult, attempted map[string]bool) []*sdk.NodeConfig {
	var out []*sdk.NodeConfig
	for _, id := range level {
		if attempted[id] {
			continue
		}
		node := plan.NodeByID(id)
		if node == nil {
			continue
		}
		out = append(out, node)
	}
	return out
}

// runLevel executes every node in a level concurrently, bounded by sem
// when non-nil, skipping (and synthesizing a DependencyFailed result for)
// any node whose dependency already failed.
func runLevel(ctx context.Context, nodes []*sdk.NodeConfig, deps *executor.Deps, sem *semaphore.Weighted) map[string]*sdk.NodeResult {
	out := make(map[string]*sdk.NodeResult, len(nodes))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, node := range nodes {
		if failed, cause := dependencyFailed(node, deps); failed {
			result := &sdk.NodeResult{
				Success: false,
				Error:   "upstream dependency " + cause + " failed",
				Metadata: sdk.NodeMetadata{
					NodeID:    node.ID,
					Kind:      node.Kind,
					ErrorKind: sdk.ErrDependencyFailed,
				},
			}
			// Record in the context store too, so nodes downstream of
			// this one also see a failed dependency when their own
			// level is reached.
			deps.Store.PutOutput(node.ID, nil, false)
			mu.Lock()
			out[node.ID] = result
			mu.Unlock()
			continue
		}

		wg.Add(1)
		go func(n *sdk.NodeConfig) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					mu.Lock()
					out[n.ID] = &sdk.NodeResult{
						Success:  false,
						Error:    err.Error(),
						Metadata: sdk.NodeMetadata{NodeID: n.ID, Kind: n.Kind, ErrorKind: sdk.ErrCancelled},
					}
					mu.Unlock()
					return
				}
				defer sem.Release(1)
			}
			result := executor.Execute(ctx, n, deps)
			mu.Lock()
			out[n.ID] = result
			mu.Unlock()
		}(node)
	}

	wg.Wait()
	return out
}

// dependencyFailed reports whether any of node's declared dependencies
// are recorded (via the context store) as unsuccessful.
func dependencyFailed(node *sdk.NodeConfig, deps *executor.Deps) (bool, string) {
	for _, dep := range node.Dependencies {
		_, success, present := deps.Store.GetOutput(dep)
		if present && !success {
			return true, dep
		}
	}
	return false, ""
}

// levelFailed reports whether any node in a level's results failed.
func levelFailed(levelResults map[string]*sdk.NodeResult) bool {
	for _, r := range levelResults {
		if !r.Success {
			return true
		}
	}
	return false
}
