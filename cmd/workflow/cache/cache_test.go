package cache

import (
	"context"
	"testing"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFingerprintStableUnderKeyPermutation(t *testing.T) {
	a := map[string]interface{}{"x": 1, "y": 2}
	b := map[string]interface{}{"y": 2, "x": 1}
	fpA, err := Fingerprint("n1", a, map[string]interface{}{})
	require.NoError(t, err)
	fpB, err := Fingerprint("n1", b, map[string]interface{}{})
	require.NoError(t, err)
	assert.Equal(t, fpA, fpB)
}

func TestFingerprintDiffersOnNodeID(t *testing.T) {
	cfg := map[string]interface{}{"x": 1}
	fpA, _ := Fingerprint("n1", cfg, nil)
	fpB, _ := Fingerprint("n2", cfg, nil)
	assert.NotEqual(t, fpA, fpB)
}

func TestMemoryCacheOnlyStoresSuccess(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()
	ctx := context.Background()
	c.Set(ctx, "k", &sdk.NodeResult{Success: false})
	_, ok := c.Get(ctx, "k")
	assert.False(t, ok)

	c.Set(ctx, "k", &sdk.NodeResult{Success: true, Output: map[string]interface{}{"a": 1}})
	got, ok := c.Get(ctx, "k")
	require.True(t, ok)
	assert.Equal(t, 1, got.Output["a"])
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()
	_, ok := c.Get(context.Background(), "nope")
	assert.False(t, ok)
}

func TestNormalizeConfigConditionCapturesExpressionAndBranchShape(t *testing.T) {
	n := &sdk.NodeConfig{
		Kind: sdk.KindCondition,
		Condition: &sdk.ConditionSpec{
			Expression:  "input.ok == true",
			TrueBranch:  []*sdk.NodeConfig{{ID: "a"}},
			FalseBranch: []*sdk.NodeConfig{{ID: "b"}, {ID: "c"}},
		},
	}
	m := NormalizeConfig(n)
	assert.Equal(t, "input.ok == true", m["expression"])
	assert.Equal(t, 1, m["true_branch"])
	assert.Equal(t, 2, m["false_branch"])
}

func TestNormalizeConfigLoopCapturesIterationShape(t *testing.T) {
	n := &sdk.NodeConfig{
		Kind: sdk.KindLoop,
		Loop: &sdk.LoopSpec{
			ItemsSource:   "items",
			ItemVar:       "item",
			Body:          []*sdk.NodeConfig{{ID: "a"}},
			Parallel:      true,
			MaxIterations: 5,
		},
	}
	m := NormalizeConfig(n)
	assert.Equal(t, "items", m["items_source"])
	assert.Equal(t, "item", m["item_var"])
	assert.Equal(t, true, m["parallel"])
	assert.Equal(t, 5, m["max_iterations"])
	assert.Equal(t, 1, m["body"])
}

func TestNormalizeConfigParallelAndWorkflowCaptureIdentity(t *testing.T) {
	parallel := &sdk.NodeConfig{
		Kind: sdk.KindParallel,
		Parallel: &sdk.ParallelSpec{
			Branches:       [][]*sdk.NodeConfig{{{ID: "a"}}, {{ID: "b"}}},
			MaxConcurrency: 2,
		},
	}
	pm := NormalizeConfig(parallel)
	assert.Equal(t, 2, pm["max_concurrency"])
	assert.Equal(t, 2, pm["branches"])

	workflow := &sdk.NodeConfig{
		Kind:     sdk.KindWorkflow,
		Workflow: &sdk.WorkflowSpec{WorkflowRef: "billing", ExposedOutputs: []string{"total"}},
	}
	wm := NormalizeConfig(workflow)
	assert.Equal(t, "billing", wm["workflow_ref"])
	assert.Equal(t, []string{"total"}, wm["exposed_outputs"])
}

func TestFingerprintDistinguishesConditionBranches(t *testing.T) {
	trueHeavy := NormalizeConfig(&sdk.NodeConfig{
		Kind:      sdk.KindCondition,
		Condition: &sdk.ConditionSpec{Expression: "input.ok", TrueBranch: []*sdk.NodeConfig{{ID: "a"}, {ID: "b"}}},
	})
	trueLight := NormalizeConfig(&sdk.NodeConfig{
		Kind:      sdk.KindCondition,
		Condition: &sdk.ConditionSpec{Expression: "input.ok", TrueBranch: []*sdk.NodeConfig{{ID: "a"}}},
	})
	fpA, err := Fingerprint("route", trueHeavy, nil)
	require.NoError(t, err)
	fpB, err := Fingerprint("route", trueLight, nil)
	require.NoError(t, err)
	assert.NotEqual(t, fpA, fpB)
}
