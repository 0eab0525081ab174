package coordinator

import (
	"context"
	"fmt"
	"testing"

	"github.com/flowforge/orchestrator/cmd/workflow/registry"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/flowforge/orchestrator/cmd/workflow/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echoExecutor struct{ fail bool }

func (e *echoExecutor) Validate() error { return nil }
func (e *echoExecutor) Execute(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
	if e.fail {
		return nil, fmt.Errorf("forced failure")
	}
	return map[string]interface{}{"echoed": p["text"]}, nil
}

func linearBlueprint() *validator.Blueprint {
	return &validator.Blueprint{
		Nodes: []validator.NodeSpec{
			{
				ID: "A", Kind: "tool", ToolName: "echo",
				InputSchema:  map[string]string{"text": "str"},
				OutputSchema: map[string]string{"echoed": "str"},
				InputMappings: map[string]interface{}{
					"text": "hello",
				},
			},
			{
				ID: "B", Kind: "tool", ToolName: "echo", Dependencies: []string{"A"},
				InputSchema:  map[string]string{"text": "str"},
				OutputSchema: map[string]string{"echoed": "str"},
				InputMappings: map[string]interface{}{
					"text": map[string]interface{}{"source_node_id": "A", "source_output_path": "echoed"},
				},
			},
		},
	}
}

func TestCoordinatorRunLinearSuccess(t *testing.T) {
	reg := registry.New()
	reg.RegisterInstance(sdk.KindTool, "echo", &echoExecutor{})
	c := New(Options{Registry: reg})

	result, err := c.Run(context.Background(), linearBlueprint(), "run-1")
	require.NoError(t, err)
	require.True(t, result.Success)
	require.Len(t, result.Outputs, 2)
	assert.Equal(t, "hello", result.Outputs["B"].Output["echoed"])
}

func TestCoordinatorRunRejectsInvalidBlueprint(t *testing.T) {
	c := New(Options{})
	bp := &validator.Blueprint{Nodes: []validator.NodeSpec{{ID: "A", Kind: "bogus"}}}

	_, err := c.Run(context.Background(), bp, "run-bad")
	require.Error(t, err)
}

func TestCoordinatorRunRejectsCycle(t *testing.T) {
	c := New(Options{})
	bp := &validator.Blueprint{Nodes: []validator.NodeSpec{
		{ID: "A", Kind: "tool", Dependencies: []string{"B"},
			InputSchema: map[string]string{"x": "str"}, OutputSchema: map[string]string{"x": "str"}},
		{ID: "B", Kind: "tool", Dependencies: []string{"A"},
			InputSchema: map[string]string{"x": "str"}, OutputSchema: map[string]string{"x": "str"}},
	}}

	_, err := c.Run(context.Background(), bp, "run-cycle")
	require.Error(t, err)
}

func TestCoordinatorRunHaltPropagatesFailure(t *testing.T) {
	reg := registry.New()
	reg.RegisterInstance(sdk.KindTool, "echo", &echoExecutor{fail: true})
	c := New(Options{Registry: reg})

	result, err := c.Run(context.Background(), linearBlueprint(), "run-fail")
	require.NoError(t, err)
	require.False(t, result.Success)
}
