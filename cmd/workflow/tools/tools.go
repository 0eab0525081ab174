// Package tools provides reference executors used by the demo entry
// point and exercised by this package's own tests: echo, upper, fail,
// flaky, sleep, and a deterministic llm stub.
//
// Grounded on the teacher's cmd/workflow-runner/worker/http_worker.go
// (executeHTTPRequest: a config-driven function returning a result map or
// an error, no broader worker-loop machinery needed once there is no
// message bus to poll).
package tools

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
)

// Echo returns its "x" placeholder unchanged under the "x" output key,
// the simplest possible tool executor (Scenario 1's node A).
type Echo struct{}

func (Echo) Validate() error { return nil }
func (Echo) Execute(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
	out := make(map[string]interface{}, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out, nil
}

// Upper uppercases its "s" placeholder into "s" (Scenario 1's node B).
type Upper struct{}

func (Upper) Validate() error { return nil }
func (Upper) Execute(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
	s, _ := p["s"].(string)
	return map[string]interface{}{"s": strings.ToUpper(s)}, nil
}

// Fail always fails, used to exercise DependencyFailed propagation
// (Scenario 2).
type Fail struct{}

func (Fail) Validate() error { return nil }
func (Fail) Execute(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
	return nil, fmt.Errorf("fail: unconditional failure")
}

// Flaky fails its first FailCount invocations (0-indexed) and succeeds
// from the (FailCount+1)th onward, letting the same executor back both
// the "always fails" retry-exhaustion scenario (FailCount < 0, or large)
// and the "succeeds on attempt k+1" property test. Safe for concurrent
// use; state resets are not supported mid-run by design — construct a
// fresh Flaky per scenario.
type Flaky struct {
	FailCount int32
	attempts  int32
}

func (f *Flaky) Validate() error { return nil }
func (f *Flaky) Execute(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
	n := atomic.AddInt32(&f.attempts, 1)
	if n <= f.FailCount || f.FailCount < 0 {
		return nil, fmt.Errorf("flaky: induced failure on attempt %d", n)
	}
	return map[string]interface{}{"attempts": n}, nil
}

// Attempts reports how many times Execute has run so far.
func (f *Flaky) Attempts() int32 { return atomic.LoadInt32(&f.attempts) }

// Sleep blocks for Duration (or until ctx is cancelled, whichever comes
// first), used to exercise timeout handling (Scenario 4's "sleep_10").
type Sleep struct {
	Duration time.Duration
}

func (s Sleep) Validate() error { return nil }
func (s Sleep) Execute(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
	select {
	case <-time.After(s.Duration):
		return map[string]interface{}{"slept_ms": s.Duration.Milliseconds()}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// LLMStub is a deterministic stand-in for a real provider adapter: it
// echoes its prompt back wrapped in the shape an llm node's default
// output_schema ({text: str}) expects, optionally emitting usage
// accounting so the metrics collector has something to aggregate.
type LLMStub struct {
	Reply        string
	ReportsUsage bool
}

func (s LLMStub) Validate() error { return nil }
func (s LLMStub) Execute(ctx context.Context, p sdk.PlaceholderContext) (interface{}, error) {
	reply := s.Reply
	if reply == "" {
		if prompt, ok := p["prompt"].(string); ok {
			reply = prompt
		}
	}
	result := &sdk.NodeResult{
		Success: true,
		Output:  map[string]interface{}{"text": reply},
	}
	if s.ReportsUsage {
		result.Usage = &sdk.Usage{TotalTokens: int64(len(reply)), TotalCost: float64(len(reply)) * 0.0001}
	}
	return result, nil
}
