package tools

import (
	"context"
	"testing"
	"time"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEchoPassesThroughPlaceholder(t *testing.T) {
	out, err := Echo{}.Execute(context.Background(), sdk.PlaceholderContext{"x": "v"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"x": "v"}, out)
}

func TestUpperUppercases(t *testing.T) {
	out, err := Upper{}.Execute(context.Background(), sdk.PlaceholderContext{"s": "hello"})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"s": "HELLO"}, out)
}

func TestFailAlwaysErrors(t *testing.T) {
	_, err := Fail{}.Execute(context.Background(), sdk.PlaceholderContext{})
	require.Error(t, err)
}

func TestFlakySucceedsAfterFailCount(t *testing.T) {
	f := &Flaky{FailCount: 2}
	_, err := f.Execute(context.Background(), sdk.PlaceholderContext{})
	require.Error(t, err)
	_, err = f.Execute(context.Background(), sdk.PlaceholderContext{})
	require.Error(t, err)
	out, err := f.Execute(context.Background(), sdk.PlaceholderContext{})
	require.NoError(t, err)
	assert.Equal(t, int32(3), out.(map[string]interface{})["attempts"])
	assert.Equal(t, int32(3), f.Attempts())
}

func TestFlakyNegativeFailCountAlwaysFails(t *testing.T) {
	f := &Flaky{FailCount: -1}
	for i := 0; i < 5; i++ {
		_, err := f.Execute(context.Background(), sdk.PlaceholderContext{})
		require.Error(t, err)
	}
}

func TestSleepHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := Sleep{Duration: time.Second}.Execute(ctx, sdk.PlaceholderContext{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestLLMStubEchoesPromptWithUsage(t *testing.T) {
	stub := LLMStub{ReportsUsage: true}
	raw, err := stub.Execute(context.Background(), sdk.PlaceholderContext{"prompt": "hi"})
	require.NoError(t, err)
	result, ok := raw.(*sdk.NodeResult)
	require.True(t, ok)
	assert.Equal(t, "hi", result.Output["text"])
	require.NotNil(t, result.Usage)
	assert.Equal(t, int64(2), result.Usage.TotalTokens)
}
