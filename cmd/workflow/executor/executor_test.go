package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/flowforge/orchestrator/cmd/workflow/cache"
	"github.com/flowforge/orchestrator/cmd/workflow/contextstore"
	"github.com/flowforge/orchestrator/cmd/workflow/registry"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeExecutor struct {
	validateErr error
	run         func(ctx context.Context, placeholder sdk.PlaceholderContext) (interface{}, error)
}

func (f *fakeExecutor) Validate() error { return f.validateErr }
func (f *fakeExecutor) Execute(ctx context.Context, placeholder sdk.PlaceholderContext) (interface{}, error) {
	return f.run(ctx, placeholder)
}

func newNode(id string, kind sdk.NodeKind) *sdk.NodeConfig {
	return &sdk.NodeConfig{
		ID:             id,
		Kind:           kind,
		InputMappings:  map[string]sdk.MappingValue{},
		OutputMappings: map[string]string{},
		Tool:           &sdk.ToolSpec{ToolName: id},
	}
}

func baseDeps() *Deps {
	return &Deps{
		Registry: registry.New(),
		Policy:   registry.NewPolicyGate(),
		Store:    contextstore.New("run-1", map[string]interface{}{}),
	}
}

func TestExecuteSuccessPath(t *testing.T) {
	deps := baseDeps()
	node := newNode("A", sdk.KindTool)
	deps.Registry.RegisterInstance(sdk.KindTool, "A", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{"greeting": "hi"}, nil
		},
	})

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	assert.Equal(t, "hi", result.Output["greeting"])
	assert.Equal(t, 0, result.Metadata.AttemptCount)
}

func TestExecuteRetryExhaustionSetsAttemptCount(t *testing.T) {
	deps := baseDeps()
	node := newNode("B", sdk.KindTool)
	node.Retry = sdk.RetryPolicy{Retries: 2, BackoffSeconds: 0}
	calls := 0
	deps.Registry.RegisterInstance(sdk.KindTool, "B", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			calls++
			return nil, fmt.Errorf("boom")
		},
	})

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrExecutorError, result.Metadata.ErrorKind)
	assert.Equal(t, 2, result.Metadata.AttemptCount)
	assert.Equal(t, 3, calls) // retries=2 => 3 total invocations
}

func TestExecuteTimeoutProducesTimeoutKind(t *testing.T) {
	deps := baseDeps()
	node := newNode("C", sdk.KindTool)
	timeout := 0.01
	node.TimeoutSeconds = &timeout
	deps.Registry.RegisterInstance(sdk.KindTool, "C", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			select {
			case <-time.After(200 * time.Millisecond):
				return map[string]interface{}{}, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	})

	start := time.Now()
	result := Execute(context.Background(), node, deps)
	elapsed := time.Since(start)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrTimeout, result.Metadata.ErrorKind)
	assert.Less(t, elapsed, 150*time.Millisecond)
}

func TestExecuteCacheHitSkipsReinvocation(t *testing.T) {
	deps := baseDeps()
	deps.Cache = cache.NewMemoryCache(0)
	node := newNode("D", sdk.KindTool)
	node.UseCache = true
	calls := 0
	deps.Registry.RegisterInstance(sdk.KindTool, "D", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			calls++
			return map[string]interface{}{"n": calls}, nil
		},
	})

	first := Execute(context.Background(), node, deps)
	require.True(t, first.Success)
	assert.False(t, first.Metadata.CacheHit)

	second := Execute(context.Background(), node, deps)
	require.True(t, second.Success)
	assert.True(t, second.Metadata.CacheHit)
	assert.Equal(t, 1, calls) // second run never invoked the executor
	assert.Equal(t, first.Output["n"], second.Output["n"])
}

func TestExecuteRegistryMiss(t *testing.T) {
	deps := baseDeps()
	node := newNode("E", sdk.KindTool)

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrRegistryMiss, result.Metadata.ErrorKind)
}

func TestExecutePolicyDenied(t *testing.T) {
	t.Setenv("ORCH_DENY_TOOL", "F")
	deps := baseDeps()
	node := newNode("F", sdk.KindTool)
	deps.Registry.RegisterInstance(sdk.KindTool, "F", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{}, nil
		},
	})

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrPolicyDenied, result.Metadata.ErrorKind)
}

func TestExecuteOutputSchemaValidationFailure(t *testing.T) {
	deps := baseDeps()
	deps.EnforceOutputSchema = true
	node := newNode("G", sdk.KindTool)
	node.OutputSchema = map[string]sdk.FieldType{"count": {Scalar: "int"}}
	deps.Registry.RegisterInstance(sdk.KindTool, "G", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{"count": "not-a-number"}, nil
		},
	})

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrSchemaValidation, result.Metadata.ErrorKind)
}

func TestExecuteOutputSchemaCoercionSuccess(t *testing.T) {
	deps := baseDeps()
	deps.EnforceOutputSchema = true
	node := newNode("H", sdk.KindTool)
	node.OutputSchema = map[string]sdk.FieldType{"count": {Scalar: "int"}}
	deps.Registry.RegisterInstance(sdk.KindTool, "H", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{"count": "42"}, nil
		},
	})

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	assert.Equal(t, 42, result.Output["count"])
}

func TestExecuteJSONRepairParsesFencedString(t *testing.T) {
	deps := baseDeps()
	node := newNode("I", sdk.KindLLM)
	node.LLM = &sdk.LLMSpec{LLMConfig: map[string]interface{}{"provider": "stub"}}
	node.OutputSchema = map[string]sdk.FieldType{"payload": {Scalar: "dict"}}
	deps.Registry.RegisterInstance(sdk.KindLLM, "stub", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{"payload": "```json\n{\"ok\":true}\n```"}, nil
		},
	})

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	parsed, ok := result.Output["payload"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, parsed["ok"])
}

func TestExecuteOutputMappingResolvesDottedPath(t *testing.T) {
	deps := baseDeps()
	node := newNode("J", sdk.KindTool)
	node.OutputMappings = map[string]string{"city": "address.city"}
	deps.Registry.RegisterInstance(sdk.KindTool, "J", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{"address": map[string]interface{}{"city": "Austin"}}, nil
		},
	})

	result := Execute(context.Background(), node, deps)
	require.True(t, result.Success)
	assert.Equal(t, "Austin", result.Output["city"])
}

func TestExecuteDependencyUnreadyWhenUpstreamMissing(t *testing.T) {
	deps := baseDeps()
	node := newNode("K", sdk.KindTool)
	node.Dependencies = []string{"upstream"}
	node.InputMappings = map[string]sdk.MappingValue{
		"x": {IsRef: true, Ref: sdk.Reference{SourceNodeID: "upstream", SourceOutputPath: "y"}},
	}
	deps.Registry.RegisterInstance(sdk.KindTool, "K", &fakeExecutor{
		run: func(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
			return map[string]interface{}{}, nil
		},
	})

	result := Execute(context.Background(), node, deps)
	require.False(t, result.Success)
	assert.Equal(t, sdk.ErrDependencyUnready, result.Metadata.ErrorKind)
}
