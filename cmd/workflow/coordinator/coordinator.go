// Package coordinator is the run entry point (spec.md §4.9): it compiles
// a blueprint, builds the dependency graph, wires the shared run
// dependencies, and drives the scheduler to completion.
//
// Grounded on the teacher's cmd/workflow-runner/coordinator package,
// which choreographed the same lifecycle (compile -> route -> run ->
// report) across a Redis stream fleet; this version keeps that lifecycle
// shape but collapses the choreography into a single in-process call,
// since the spec's runtime has one coordinator per run rather than a
// worker pool addressed over a message bus.
package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/flowforge/orchestrator/cmd/workflow/cache"
	"github.com/flowforge/orchestrator/cmd/workflow/condition"
	"github.com/flowforge/orchestrator/cmd/workflow/contextstore"
	"github.com/flowforge/orchestrator/cmd/workflow/events"
	"github.com/flowforge/orchestrator/cmd/workflow/executor"
	"github.com/flowforge/orchestrator/cmd/workflow/graph"
	"github.com/flowforge/orchestrator/cmd/workflow/metrics"
	"github.com/flowforge/orchestrator/cmd/workflow/registry"
	"github.com/flowforge/orchestrator/cmd/workflow/scheduler"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/flowforge/orchestrator/cmd/workflow/validator"
)

// Options configures a Coordinator for its process lifetime: the shared,
// read-mostly pieces every run borrows (spec.md §3 Ownership).
type Options struct {
	Registry             *registry.Registry
	Policy               *registry.PolicyGate
	Cache                cache.Cache
	ArtifactStore        executor.ArtifactStore
	LargeOutputThreshold int
	EnforceOutputSchema  bool
	DefaultMaxParallel   int
	Observers            []events.Observer
	// Workflows resolves `workflow` node workflow_ref values to nested
	// plans (spec.md §6). nil means New installs an empty WorkflowStore,
	// so a workflow_ref resolves only once it is registered there.
	Workflows *WorkflowStore
}

// Coordinator owns the registry, cache, and event dispatcher shared
// across runs, and exposes Run as the single entry point a caller (CLI,
// demo API, test) uses to execute one blueprint. It also implements
// executor.PlanRunner: condition/loop/parallel/workflow node executors
// recurse into RunPlan to drive their children as a nested run.
type Coordinator struct {
	registry             *registry.Registry
	policy               *registry.PolicyGate
	cache                cache.Cache
	artifactStore        executor.ArtifactStore
	largeOutputThreshold int
	enforceOutputSchema  bool
	defaultMaxParallel   int
	dispatcher           *events.Dispatcher
	condition            *condition.Evaluator
	workflows            *WorkflowStore
}

// New constructs a Coordinator. A nil opts.Registry is replaced with an
// empty one; a nil opts.Policy means no policy restrictions.
func New(opts Options) *Coordinator {
	reg := opts.Registry
	if reg == nil {
		reg = registry.New()
	}
	workflows := opts.Workflows
	if workflows == nil {
		workflows = NewWorkflowStore()
	}
	return &Coordinator{
		registry:             reg,
		policy:               opts.Policy,
		cache:                opts.Cache,
		artifactStore:        opts.ArtifactStore,
		largeOutputThreshold: opts.LargeOutputThreshold,
		enforceOutputSchema:  opts.EnforceOutputSchema,
		defaultMaxParallel:   opts.DefaultMaxParallel,
		dispatcher:           events.NewDispatcher(opts.Observers...),
		condition:            condition.NewEvaluator(),
		workflows:            workflows,
	}
}

// Workflows exposes the coordinator's workflow_ref store so callers can
// register nested blueprints before the first Run.
func (c *Coordinator) Workflows() *WorkflowStore { return c.workflows }

// Registry exposes the coordinator's executor catalog so callers can
// register tool/llm/agent/... implementations before the first Run.
func (c *Coordinator) Registry() *registry.Registry { return c.registry }

// Observe registers an additional lifecycle observer.
func (c *Coordinator) Observe(o events.Observer) { c.dispatcher.Register(o) }

// Run compiles bp and drives it to completion under runID. Validation
// and cycle-detection failures are returned as an error without
// attempting any node execution (they are pre-flight, not run-level,
// failures); once compilation succeeds, Run never returns an error —
// all further failure is reported inside the returned RunResult.
func (c *Coordinator) Run(ctx context.Context, bp *validator.Blueprint, runID string) (*sdk.RunResult, error) {
	start := time.Now()
	runtimeMetrics := metrics.CaptureStart(ctx)

	plan, _, err := validator.ValidateWithDeprecations(bp)
	if err != nil {
		return nil, fmt.Errorf("blueprint compilation failed: %w", err)
	}

	g, err := graph.Build(plan)
	if err != nil {
		return nil, fmt.Errorf("graph construction failed: %w", err)
	}

	for _, w := range g.CheckSchemaAlignment() {
		c.dispatcher.Dispatch(events.Event{
			Type:      events.SchemaWarning,
			RunID:     runID,
			NodeID:    w.ToNode,
			Timestamp: time.Now(),
			Data: map[string]interface{}{
				"from_node":   w.FromNode,
				"placeholder": w.Placeholder,
				"detail":      w.Detail,
			},
		})
	}

	policy := sdk.FailurePolicy(bp.FailurePolicy)
	if policy == "" {
		policy = sdk.PolicyHalt
	}
	maxParallel := bp.MaxParallel
	if maxParallel <= 0 {
		maxParallel = c.defaultMaxParallel
	}

	c.dispatcher.Dispatch(events.Event{Type: events.RunStart, RunID: runID, Timestamp: time.Now()})

	result := c.execute(ctx, g, plan, runID, policy, maxParallel)
	result.Duration = time.Since(start)
	if !result.Success && result.Error == "" && result.Cancelled {
		result.Error = "run cancelled"
	}

	runtimeMetrics.Finalize(ctx)

	c.dispatcher.Dispatch(events.Event{
		Type:      events.RunEnd,
		RunID:     runID,
		Timestamp: time.Now(),
		Data: map[string]interface{}{
			"success": result.Success,
			"runtime": runtimeMetrics.ToMap(),
		},
	})

	return result, nil
}

// RunPlan executes an already-compiled plan directly, bypassing blueprint
// validation. This is the nested-run entry point the condition/loop/
// parallel/workflow node executors recurse into for their children
// (spec.md §6: "they recursively invoke a nested coordinator run"); it
// satisfies executor.PlanRunner. Node-level lifecycle events still fan
// out through the shared dispatcher under runID, but no RunStart/RunEnd
// pair is emitted — those bracket only the outer, caller-facing run.
func (c *Coordinator) RunPlan(ctx context.Context, plan *sdk.Plan, runID string) *sdk.RunResult {
	g, err := graph.Build(plan)
	if err != nil {
		return &sdk.RunResult{Success: false, Error: fmt.Sprintf("nested graph construction failed: %v", err)}
	}
	return c.execute(ctx, g, plan, runID, sdk.PolicyHalt, c.defaultMaxParallel)
}

// execute wires one run's Deps and drives the scheduler; shared by Run
// (pre-validated via the blueprint path) and RunPlan (already-compiled
// nested sub-plans).
func (c *Coordinator) execute(ctx context.Context, g *graph.Graph, plan *sdk.Plan, runID string, policy sdk.FailurePolicy, maxParallel int) *sdk.RunResult {
	store := contextstore.New(runID, plan.InitialContext)
	collector := metrics.NewCollector()

	deps := &executor.Deps{
		Registry:             c.registry,
		Policy:               c.policy,
		Store:                store,
		Cache:                c.cache,
		Events:               c.dispatcher,
		Metrics:              collector,
		RunID:                runID,
		EnforceOutputSchema:  c.enforceOutputSchema,
		ArtifactStore:        c.artifactStore,
		LargeOutputThreshold: c.largeOutputThreshold,
		Condition:            c.condition,
		Nested:               c,
		Workflows:            c.workflows,
	}

	result := scheduler.Run(ctx, g, plan, deps, scheduler.Options{
		MaxParallel:   maxParallel,
		FailurePolicy: policy,
	})
	result.TokenStats = collector.Snapshot()
	return result
}
