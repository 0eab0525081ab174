package executor

import (
	"context"
	"fmt"
	"testing"

	"github.com/flowforge/orchestrator/cmd/workflow/condition"
	"github.com/flowforge/orchestrator/cmd/workflow/contextstore"
	"github.com/flowforge/orchestrator/cmd/workflow/metrics"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePlanRunner executes a sub-plan by running each node directly through
// Execute against a fresh Deps sharing the parent's registry, the way
// *coordinator.Coordinator.RunPlan does but without the scheduler's
// level/dependency bookkeeping this test has no need to exercise.
type fakePlanRunner struct {
	deps *Deps
}

func (f *fakePlanRunner) RunPlan(ctx context.Context, plan *sdk.Plan, runID string) *sdk.RunResult {
	outputs := make(map[string]*sdk.NodeResult, len(plan.Nodes))
	success := true
	var failMsg string
	nested := *f.deps
	nested.RunID = runID
	nested.Store = contextstore.New(runID, plan.InitialContext)
	for _, n := range plan.Nodes {
		r := Execute(ctx, n, &nested)
		outputs[n.ID] = r
		if !r.Success {
			success = false
			failMsg = r.Error
		}
	}
	return &sdk.RunResult{Success: success, Outputs: outputs, Error: failMsg}
}

func conditionNode(id, expr string, trueBranch, falseBranch []*sdk.NodeConfig) *sdk.NodeConfig {
	return &sdk.NodeConfig{
		ID:             id,
		Kind:           sdk.KindCondition,
		InputMappings:  map[string]sdk.MappingValue{"ok": {Literal: true}},
		OutputMappings: map[string]string{},
		Condition:      &sdk.ConditionSpec{Expression: expr, TrueBranch: trueBranch, FalseBranch: falseBranch},
	}
}

func childTool(id string, run func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error)) (*sdk.NodeConfig, *fakeExecutor) {
	fe := &fakeExecutor{run: run}
	node := &sdk.NodeConfig{
		ID:             id,
		Kind:           sdk.KindTool,
		InputMappings:  map[string]sdk.MappingValue{},
		OutputMappings: map[string]string{},
		Tool:           &sdk.ToolSpec{ToolName: id},
	}
	return node, fe
}

func TestExecuteConditionTakesTrueBranch(t *testing.T) {
	deps := baseDeps()
	deps.Condition = condition.NewEvaluator()
	child, fe := childTool("route.ack", func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
		return map[string]interface{}{"acked": true}, nil
	})
	deps.Registry.RegisterInstance(sdk.KindTool, "route.ack", fe)
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"

	node := conditionNode("route", "input.ok == true", []*sdk.NodeConfig{child}, nil)

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	assert.Equal(t, true, result.Output["branch_taken"])
	branchOutputs, ok := result.Output["branch_outputs"].(map[string]interface{})
	require.True(t, ok)
	ackOut, ok := branchOutputs["route.ack"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, ackOut["acked"])
}

func TestExecuteConditionTakesFalseBranchWhenEmpty(t *testing.T) {
	deps := baseDeps()
	deps.Condition = condition.NewEvaluator()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"

	node := conditionNode("route", "input.ok == false", nil, nil)

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	assert.Equal(t, false, result.Output["branch_taken"])
}

func TestExecuteConditionWithoutEvaluatorFails(t *testing.T) {
	deps := baseDeps()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"

	node := conditionNode("route", "input.ok == true", nil, nil)

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrExecutorError, result.Metadata.ErrorKind)
}

func TestExecuteLoopSequentialIteratesItems(t *testing.T) {
	deps := baseDeps()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"
	child, fe := childTool("loop.body", func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
		item, _ := p["item"].(string)
		return map[string]interface{}{"upper": item}, nil
	})
	deps.Registry.RegisterInstance(sdk.KindTool, "loop.body", fe)

	node := &sdk.NodeConfig{
		ID:             "loop",
		Kind:           sdk.KindLoop,
		InputMappings:  map[string]sdk.MappingValue{"items": {Literal: []interface{}{"a", "b", "c"}}},
		OutputMappings: map[string]string{},
		Loop: &sdk.LoopSpec{
			ItemsSource: "items",
			ItemVar:     "item",
			Body:        []*sdk.NodeConfig{child},
		},
	}

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	assert.Equal(t, 3, result.Output["iterations"])
	results, ok := result.Output["results"].([]interface{})
	require.True(t, ok)
	assert.Len(t, results, 3)
}

func TestExecuteLoopRespectsMaxIterations(t *testing.T) {
	deps := baseDeps()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"
	child, fe := childTool("loop.body", func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
		return map[string]interface{}{}, nil
	})
	deps.Registry.RegisterInstance(sdk.KindTool, "loop.body", fe)

	node := &sdk.NodeConfig{
		ID:             "loop",
		Kind:           sdk.KindLoop,
		InputMappings:  map[string]sdk.MappingValue{"items": {Literal: []interface{}{"a", "b", "c", "d"}}},
		OutputMappings: map[string]string{},
		Loop: &sdk.LoopSpec{
			ItemsSource:   "items",
			ItemVar:       "item",
			Body:          []*sdk.NodeConfig{child},
			MaxIterations: 2,
		},
	}

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	assert.Equal(t, 2, result.Output["iterations"])
}

func TestExecuteLoopParallelPropagatesIterationFailure(t *testing.T) {
	deps := baseDeps()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"
	child, fe := childTool("loop.body", func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
		return nil, fmt.Errorf("boom")
	})
	deps.Registry.RegisterInstance(sdk.KindTool, "loop.body", fe)

	node := &sdk.NodeConfig{
		ID:             "loop",
		Kind:           sdk.KindLoop,
		InputMappings:  map[string]sdk.MappingValue{"items": {Literal: []interface{}{"a", "b"}}},
		OutputMappings: map[string]string{},
		Loop: &sdk.LoopSpec{
			ItemsSource: "items",
			ItemVar:     "item",
			Body:        []*sdk.NodeConfig{child},
			Parallel:    true,
		},
	}

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrExecutorError, result.Metadata.ErrorKind)
}

func TestExecuteParallelRunsEveryBranch(t *testing.T) {
	deps := baseDeps()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"
	left, leftExec := childTool("left", func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
		return map[string]interface{}{"branch": "left"}, nil
	})
	right, rightExec := childTool("right", func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
		return map[string]interface{}{"branch": "right"}, nil
	})
	deps.Registry.RegisterInstance(sdk.KindTool, "left", leftExec)
	deps.Registry.RegisterInstance(sdk.KindTool, "right", rightExec)

	node := &sdk.NodeConfig{
		ID:             "fanout",
		Kind:           sdk.KindParallel,
		InputMappings:  map[string]sdk.MappingValue{},
		OutputMappings: map[string]string{},
		Parallel: &sdk.ParallelSpec{
			Branches: [][]*sdk.NodeConfig{
				{left},
				{right},
			},
		},
	}

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	branches, ok := result.Output["branches"].([]interface{})
	require.True(t, ok)
	require.Len(t, branches, 2)
}

func TestExecuteWorkflowResolvesAndProjectsExposedOutputs(t *testing.T) {
	deps := baseDeps()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"
	inner, innerExec := childTool("inner", func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
		return map[string]interface{}{"total": 42}, nil
	})
	deps.Registry.RegisterInstance(sdk.KindTool, "inner", innerExec)

	deps.Workflows = fakeWorkflowResolver{
		"billing": &sdk.Plan{Nodes: []*sdk.NodeConfig{inner}},
	}

	node := &sdk.NodeConfig{
		ID:             "sub",
		Kind:           sdk.KindWorkflow,
		InputMappings:  map[string]sdk.MappingValue{},
		OutputMappings: map[string]string{},
		Workflow:       &sdk.WorkflowSpec{WorkflowRef: "billing", ExposedOutputs: []string{"inner"}},
	}

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	innerOut, ok := result.Output["inner"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, 42, innerOut["total"])
}

func TestExecuteWorkflowUnknownRefFails(t *testing.T) {
	deps := baseDeps()
	deps.Nested = &fakePlanRunner{deps: deps}
	deps.RunID = "run-1"
	deps.Workflows = fakeWorkflowResolver{}

	node := &sdk.NodeConfig{
		ID:             "sub",
		Kind:           sdk.KindWorkflow,
		InputMappings:  map[string]sdk.MappingValue{},
		OutputMappings: map[string]string{},
		Workflow:       &sdk.WorkflowSpec{WorkflowRef: "missing"},
	}

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrExecutorError, result.Metadata.ErrorKind)
}

func TestRecordNestedMetricsKeysUnderParentLabel(t *testing.T) {
	collector := metrics.NewCollector()
	sub := &sdk.RunResult{
		Outputs: map[string]*sdk.NodeResult{
			"child": {
				Usage:    &sdk.Usage{TotalTokens: 10},
				Metadata: sdk.NodeMetadata{Kind: sdk.KindTool},
			},
		},
	}
	recordNestedMetrics(collector, "route", sub)

	totalTokens, _ := collector.Totals()
	assert.Equal(t, int64(10), totalTokens)
}

type fakeWorkflowResolver map[string]*sdk.Plan

func (f fakeWorkflowResolver) ResolvePlan(ref string) (*sdk.Plan, bool) {
	p, ok := f[ref]
	return p, ok
}

// fakeArtifactStore is an in-memory ArtifactStore that also implements
// ArtifactFetcher, the way artifactstore.RedisStore does, so
// resolveFromArtifact has something to rehydrate from.
type fakeArtifactStore struct {
	values map[string]map[string]interface{}
}

func (f *fakeArtifactStore) Put(ctx context.Context, nodeID string, value map[string]interface{}) (string, error) {
	ref := "artifact://" + nodeID
	f.values[ref] = value
	return ref, nil
}

func (f *fakeArtifactStore) Get(ctx context.Context, ref string) (map[string]interface{}, error) {
	v, ok := f.values[ref]
	if !ok {
		return nil, fmt.Errorf("no artifact at %s", ref)
	}
	return v, nil
}

func TestExecuteRehydratesOffloadedUpstreamOutputOnPathMiss(t *testing.T) {
	deps := baseDeps()
	store := &fakeArtifactStore{values: map[string]map[string]interface{}{}}
	deps.ArtifactStore = store
	deps.LargeOutputThreshold = 1 // force offload on any non-empty output

	upstream := newNode("upstream", sdk.KindTool)
	deps.Registry.RegisterInstance(sdk.KindTool, "upstream", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{"address": map[string]interface{}{"city": "Austin"}}, nil
		},
	})
	upstreamResult := Execute(context.Background(), upstream, deps)
	require.True(t, upstreamResult.Success)

	// The context store now only holds {"artifact_ref": ...} for "upstream"
	// since its output exceeded LargeOutputThreshold.
	persisted, _, _ := deps.Store.GetOutput("upstream")
	_, offloaded := persisted["artifact_ref"]
	require.True(t, offloaded, "expected upstream output to be offloaded")

	downstream := newNode("downstream", sdk.KindTool)
	downstream.Dependencies = []string{"upstream"}
	downstream.InputMappings = map[string]sdk.MappingValue{
		"city": {IsRef: true, Ref: sdk.Reference{SourceNodeID: "upstream", SourceOutputPath: "address.city"}},
	}
	deps.Registry.RegisterInstance(sdk.KindTool, "downstream", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{"echo": p["city"]}, nil
		},
	})

	result := Execute(context.Background(), downstream, deps)
	require.True(t, result.Success)
	assert.Equal(t, "Austin", result.Output["echo"])
}
