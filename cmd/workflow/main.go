// Command workflow is the demo entry point for the DAG orchestration
// runtime: it wires a Coordinator with the in-memory cache and reference
// tool executors, loads a blueprint (embedded sample, or a path given as
// the first argument), and drives one run to completion.
//
// Grounded on the teacher's cmd/workflow-runner/main.go bootstrap and
// signal-handling idiom (bootstrap.Setup -> defer Shutdown -> run body
// under a cancellable context -> SIGTERM/SIGINT triggers graceful
// cancellation), collapsed from a long-running worker-fleet process into
// a single run-and-report CLI since this runtime has no message bus to
// poll.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/flowforge/orchestrator/cmd/workflow/cache"
	"github.com/flowforge/orchestrator/cmd/workflow/coordinator"
	"github.com/flowforge/orchestrator/cmd/workflow/events"
	"github.com/flowforge/orchestrator/cmd/workflow/registry"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/flowforge/orchestrator/cmd/workflow/tools"
	"github.com/flowforge/orchestrator/cmd/workflow/validator"
	"github.com/flowforge/orchestrator/common/bootstrap"
	"github.com/google/uuid"
)

// sampleBlueprint is a linear plan (fetch text, uppercase it, then a
// condition node whose true branch runs an echo) used when no blueprint
// path is given on the command line.
const sampleBlueprint = `{
  "schema_version": "1",
  "failure_policy": "HALT",
  "max_parallel": 4,
  "initial_context": {"x": "hello from the orchestrator"},
  "nodes": [
    {
      "id": "fetch",
      "kind": "tool",
      "tool_name": "echo",
      "input_schema": {"x": "str"},
      "output_schema": {"x": "str"}
    },
    {
      "id": "shout",
      "kind": "tool",
      "tool_name": "upper",
      "dependencies": ["fetch"],
      "input_schema": {"s": "str"},
      "output_schema": {"s": "str"},
      "input_mappings": {"s": {"source_node_id": "fetch", "source_output_path": "x"}}
    },
    {
      "id": "route",
      "kind": "condition",
      "dependencies": ["shout"],
      "input_schema": {"s": "str", "ok": "bool"},
      "output_schema": {"branch_taken": "bool"},
      "input_mappings": {
        "s": {"source_node_id": "shout", "source_output_path": "s"},
        "ok": true
      },
      "expression": "input.ok == true",
      "true_branch": [
        {
          "id": "route.ack",
          "kind": "tool",
          "tool_name": "echo",
          "input_schema": {"x": "str"},
          "output_schema": {"x": "str"},
          "input_mappings": {"x": "shouted text was non-empty"}
        }
      ],
      "false_branch": []
    }
  ]
}`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	components, err := bootstrap.Setup(ctx, "workflow",
		bootstrap.WithoutDB(),
		bootstrap.WithoutTelemetry(),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(context.Background())

	log := components.Logger

	bp, err := loadBlueprint()
	if err != nil {
		log.Error("failed to load blueprint", "error", err)
		os.Exit(1)
	}

	reg := registry.New()
	reg.RegisterInstance(sdk.KindTool, "echo", tools.Echo{})
	reg.RegisterInstance(sdk.KindTool, "upper", tools.Upper{})
	reg.RegisterInstance(sdk.KindTool, "fail", tools.Fail{})
	reg.RegisterInstance(sdk.KindTool, "sleep", tools.Sleep{Duration: 10 * time.Second})
	reg.RegisterInstance(sdk.KindLLM, "stub", tools.LLMStub{ReportsUsage: true})

	coord := coordinator.New(coordinator.Options{
		Registry:             reg,
		Cache:                cache.NewMemoryCache(10 * time.Minute),
		LargeOutputThreshold: 1 << 20,
		DefaultMaxParallel:   4,
		Observers: []events.Observer{
			events.ObserverFunc(func(e events.Event) {
				log.Debug("event", "type", e.Type, "run_id", e.RunID, "node_id", e.NodeID)
			}),
		},
	})

	runID := uuid.New().String()
	log.Info("starting run", "run_id", runID)

	result, err := coord.Run(ctx, bp, runID)
	if err != nil {
		log.Error("run failed to start", "error", err)
		os.Exit(1)
	}

	report(log, result)
	if !result.Success {
		os.Exit(1)
	}
}

func loadBlueprint() (*validator.Blueprint, error) {
	raw := []byte(sampleBlueprint)
	if len(os.Args) > 1 {
		b, err := os.ReadFile(os.Args[1])
		if err != nil {
			return nil, fmt.Errorf("read blueprint file: %w", err)
		}
		raw = b
	}

	var bp validator.Blueprint
	if err := json.Unmarshal(raw, &bp); err != nil {
		return nil, fmt.Errorf("parse blueprint: %w", err)
	}
	return &bp, nil
}

func report(log interface{ Info(string, ...any) }, result *sdk.RunResult) {
	log.Info("run finished", "success", result.Success, "duration", result.Duration, "cancelled", result.Cancelled)
	for id, n := range result.Outputs {
		log.Info("node result", "node_id", id, "success", n.Success, "error", n.Error, "output", n.Output)
	}
}
