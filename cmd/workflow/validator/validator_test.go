package validator

import (
	"strings"
	"testing"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateLinearPlan(t *testing.T) {
	bp := &Blueprint{
		Nodes: []NodeSpec{
			{
				ID: "A", Kind: "tool",
				InputSchema:  map[string]string{"x": "str"},
				OutputSchema: map[string]string{"x": "str"},
				ToolName:     "echo",
			},
			{
				ID: "B", Kind: "tool", Dependencies: []string{"A"},
				InputSchema:  map[string]string{"s": "str"},
				OutputSchema: map[string]string{"s": "str"},
				ToolName:     "upper",
				InputMappings: map[string]interface{}{
					"s": map[string]interface{}{"source_node_id": "A", "source_output_path": "x"},
				},
			},
		},
	}
	plan, err := Validate(bp)
	require.NoError(t, err)
	require.Len(t, plan.Nodes, 2)
	b := plan.NodeByID("B")
	require.NotNil(t, b)
	mv := b.InputMappings["s"]
	assert.True(t, mv.IsRef)
	assert.Equal(t, "A", mv.Ref.SourceNodeID)
}

func TestValidateRejectsUnknownKind(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{{ID: "A", Kind: "bogus"}}}
	_, err := Validate(bp)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Issues[0], "unknown kind")
}

func TestValidateRejectsMissingDependency(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{
		{ID: "A", Kind: "tool", Dependencies: []string{"ghost"},
			InputSchema: map[string]string{"x": "str"}, OutputSchema: map[string]string{"x": "str"}},
	}}
	_, err := Validate(bp)
	require.Error(t, err)
}

func TestValidateRejectsSelfReference(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{
		{ID: "A", Kind: "tool", Dependencies: []string{"A"},
			InputSchema: map[string]string{"x": "str"}, OutputSchema: map[string]string{"x": "str"}},
	}}
	_, err := Validate(bp)
	require.Error(t, err)
}

func TestValidateToolRequiresSchemas(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{{ID: "A", Kind: "tool"}}}
	_, err := Validate(bp)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Issues[0], "require non-empty")
}

func TestValidateLLMDefaultsOutputSchema(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{{ID: "A", Kind: "llm", Prompt: "hi"}}}
	plan, notices, err := ValidateWithDeprecations(bp)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	a := plan.NodeByID("A")
	require.NotNil(t, a)
	assert.Equal(t, sdk.FieldType{Scalar: "str"}, a.OutputSchema["text"])
}

func TestValidateAccumulatesMultipleIssues(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{
		{ID: "A", Kind: "bogus"},
		{ID: "B", Kind: "tool", OutputSchema: map[string]string{"y": "not_a_type"}},
	}}
	_, err := Validate(bp)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.GreaterOrEqual(t, len(verr.Issues), 2)
}

func TestValidateMalformedSchemaEnumeratesField(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{
		{ID: "A", Kind: "tool",
			InputSchema:  map[string]string{"x": "str"},
			OutputSchema: map[string]string{"y": "invalid_type"},
		},
	}}
	_, err := Validate(bp)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	found := false
	for _, issue := range verr.Issues {
		if strings.Contains(issue, "field \"y\"") {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateDuplicateID(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{
		{ID: "A", Kind: "tool", InputSchema: map[string]string{"x": "str"}, OutputSchema: map[string]string{"x": "str"}},
		{ID: "A", Kind: "tool", InputSchema: map[string]string{"x": "str"}, OutputSchema: map[string]string{"x": "str"}},
	}}
	_, err := Validate(bp)
	require.Error(t, err)
}

func TestValidateIdempotent(t *testing.T) {
	bp := &Blueprint{Nodes: []NodeSpec{
		{ID: "A", Kind: "tool", InputSchema: map[string]string{"x": "str"}, OutputSchema: map[string]string{"x": "str"}, ToolName: "echo"},
	}}
	plan1, err := Validate(bp)
	require.NoError(t, err)
	plan2, err := Validate(bp)
	require.NoError(t, err)
	assert.Equal(t, plan1.Nodes[0].ID, plan2.Nodes[0].ID)
	assert.Equal(t, plan1.Nodes[0].Kind, plan2.Nodes[0].Kind)
}
