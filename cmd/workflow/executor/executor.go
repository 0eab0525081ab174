// Package executor implements the per-node execution machinery: context
// assembly, cache keying, retry/backoff, timeout enforcement, result
// normalization, output schema validation, and structured failure
// reporting (spec.md §4.6). This is the thirteen-step algorithm the
// spec enumerates, grounded on the teacher's worker/http_worker.go
// (timing capture, error-to-result mapping, retry-on-error backoff) and
// condition/resolver packages for the CEL and dotted-path sub-steps.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/flowforge/orchestrator/cmd/workflow/cache"
	"github.com/flowforge/orchestrator/cmd/workflow/condition"
	"github.com/flowforge/orchestrator/cmd/workflow/contextstore"
	"github.com/flowforge/orchestrator/cmd/workflow/events"
	"github.com/flowforge/orchestrator/cmd/workflow/metrics"
	"github.com/flowforge/orchestrator/cmd/workflow/registry"
	"github.com/flowforge/orchestrator/cmd/workflow/resolver"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"golang.org/x/sync/semaphore"
)

// ArtifactStore offloads large outputs to external storage, returning an
// opaque reference substituted into the context store in the output's
// place (spec.md §4.6 step 11). Offload failures degrade to best-effort:
// the raw output is persisted instead.
type ArtifactStore interface {
	Put(ctx context.Context, nodeID string, value map[string]interface{}) (ref string, err error)
}

// ArtifactFetcher is an optional extension of ArtifactStore: a downstream
// node's input_mappings can reference a dotted path into an upstream
// output that was large enough to be offloaded, at which point the
// context store only holds that output's {"artifact_ref": ...}
// placeholder. An ArtifactStore that also implements ArtifactFetcher lets
// buildPlaceholderContext rehydrate the original output and resolve the
// path against it instead of failing with a path miss.
type ArtifactFetcher interface {
	Get(ctx context.Context, ref string) (map[string]interface{}, error)
}

// PlanRunner executes an already-compiled sub-plan as a nested run. The
// condition/loop/parallel/workflow node kinds are "handled inside the
// core" (spec.md §6): their children never go through the registry, they
// recurse into a fresh run of this same machinery instead. Implemented by
// *coordinator.Coordinator; injected here to avoid executor importing
// coordinator (which itself imports executor).
type PlanRunner interface {
	RunPlan(ctx context.Context, plan *sdk.Plan, runID string) *sdk.RunResult
}

// WorkflowResolver resolves a `workflow` node's workflow_ref to the
// compiled nested plan it names (spec.md §6: "resolves workflow_ref to a
// nested plan").
type WorkflowResolver interface {
	ResolvePlan(ref string) (*sdk.Plan, bool)
}

// Deps bundles everything the executor borrows from the rest of the
// runtime to run one node (spec.md §3 Ownership: "the node executor...
// borrows references to the graph, context store, cache, and registry").
type Deps struct {
	Registry             *registry.Registry
	Policy               *registry.PolicyGate
	Store                *contextstore.Store
	Cache                cache.Cache
	Events               *events.Dispatcher
	Metrics              *metrics.Collector
	RunID                string
	EnforceOutputSchema  bool
	ArtifactStore        ArtifactStore
	LargeOutputThreshold int // bytes; 0 disables artifact offload

	// Condition evaluates `condition` node expressions. Required for
	// blueprints containing a condition node; nil otherwise is fine.
	Condition *condition.Evaluator
	// Nested recurses into condition/loop/parallel/workflow children.
	Nested PlanRunner
	// Workflows resolves `workflow` node workflow_ref values. nil means
	// workflow nodes cannot be executed.
	Workflows WorkflowResolver
}

// Execute runs exactly one node to completion and never raises in normal
// operation — failures become a NodeResult with success=false and a
// populated Metadata.ErrorKind (spec.md §4.6 Contract).
func Execute(ctx context.Context, node *sdk.NodeConfig, deps *Deps) *sdk.NodeResult {
	start := time.Now()
	meta := sdk.NodeMetadata{NodeID: node.ID, Kind: node.Kind, StartedAt: start}

	fail := func(errMsg string, kind sdk.ErrorKind) *sdk.NodeResult {
		meta.EndedAt = time.Now()
		meta.Duration = meta.EndedAt.Sub(start)
		meta.ErrorKind = kind
		// Record the failure in the context store too, so dependents
		// reached in a later level see this node as unready/failed
		// without re-deriving it from the returned NodeResult.
		deps.Store.PutOutput(node.ID, nil, false)
		return &sdk.NodeResult{Success: false, Error: errMsg, Metadata: meta}
	}

	// Step 1 (resolve executor) + Step 2 (pre-validate). condition/loop/
	// parallel/workflow never reach the registry: they are handled inside
	// the core itself (spec.md §6), so ex stays nil for them and the
	// retry loop below dispatches to invokeCoreKind instead of invoke.
	core := isCoreKind(node.Kind)
	var ex sdk.Executor
	if !core {
		execName, execConfig := executorIdentity(node)
		var err error
		ex, err = deps.Registry.Resolve(deps.Policy, node.Kind, execName, execConfig)
		if err != nil {
			var denied *registry.PolicyDeniedError
			if errors.As(err, &denied) {
				return fail(err.Error(), sdk.ErrPolicyDenied)
			}
			return fail(err.Error(), sdk.ErrRegistryMiss)
		}
		if err := ex.Validate(); err != nil {
			return fail(fmt.Sprintf("validate: %v", err), sdk.ErrValidation)
		}
	}

	// Step 3: build placeholder context.
	placeholder, ctxErr := buildPlaceholderContext(ctx, node, deps)
	if ctxErr != nil {
		return fail(ctxErr.Error(), ctxErr.kind)
	}

	// Step 4: persist input snapshot.
	deps.Store.PutInput(node.ID, placeholder)

	// Step 5: cache lookup.
	var fingerprint string
	cacheable := node.UseCache && deps.Cache != nil
	if cacheable {
		fp, err := cache.Fingerprint(node.ID, cache.NormalizeConfig(node), placeholder)
		if err == nil {
			fingerprint = fp
			if cached, ok := deps.Cache.Get(ctx, fingerprint); ok {
				result := *cached
				result.Metadata.CacheHit = true
				result.Metadata.StartedAt = start
				result.Metadata.EndedAt = time.Now()
				result.Metadata.Duration = result.Metadata.EndedAt.Sub(start)
				deps.emit(events.NodeStart, node.ID, map[string]interface{}{"cache": "hit"})
				deps.Store.PutOutput(node.ID, result.Output, result.Success)
				deps.emit(events.NodeEnd, node.ID, map[string]interface{}{"cache": "hit"})
				return &result
			}
		}
		// Hash errors are never fatal: caching degrades to a no-op.
	}

	// Step 6: retry loop.
	attempt := 0
	var output map[string]interface{}
	var usage *sdk.Usage
	var execErr error
	var execErrKind sdk.ErrorKind
	for {
		deps.emit(events.NodeStart, node.ID, nil)

		execCtx := ctx
		var cancel context.CancelFunc
		if node.TimeoutSeconds != nil {
			execCtx, cancel = context.WithTimeout(ctx, time.Duration(*node.TimeoutSeconds*float64(time.Second)))
		}

		var raw interface{}
		var runErr error
		if core {
			raw, runErr = invokeCoreKind(execCtx, node, deps, placeholder)
		} else {
			raw, runErr = invoke(execCtx, ex, placeholder)
		}
		if cancel != nil {
			cancel()
		}

		if node.TimeoutSeconds != nil && execCtx.Err() == context.DeadlineExceeded {
			execErr = fmt.Errorf("node %s exceeded timeout of %.3fs", node.ID, *node.TimeoutSeconds)
			execErrKind = sdk.ErrTimeout
			output = nil
		} else if runErr != nil {
			execErr = runErr
			execErrKind = sdk.ErrExecutorError
			output = nil
		} else {
			normalized, normUsage, normErr := normalizeResult(raw)
			if normErr != nil {
				execErr = normErr
				execErrKind = sdk.ErrUnexpectedResultType
				output = nil
			} else {
				output = normalized
				usage = normUsage
				execErr = nil
			}
		}

		if execErr == nil {
			break
		}
		if attempt < node.Retry.Retries && execErrKind != sdk.ErrUnexpectedResultType {
			if node.Retry.BackoffSeconds > 0 {
				wait := time.Duration(node.Retry.BackoffSeconds * pow2(attempt) * float64(time.Second))
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					execErrKind = sdk.ErrCancelled
					attempt++
					goto retriesExhausted
				}
			}
			attempt++
			continue
		}
		break
	}
retriesExhausted:
	meta.AttemptCount = attempt

	if execErr != nil {
		deps.emit(events.NodeError, node.ID, map[string]interface{}{"error": execErr.Error()})
		return fail(execErr.Error(), execErrKind)
	}

	// Step 8: opportunistic JSON repair for LLM leniency.
	if len(node.OutputSchema) > 0 {
		output = repairJSONStrings(output, node.OutputSchema)
	}

	// Step 9: output mappings.
	for alias, path := range node.OutputMappings {
		resolved, err := resolver.ResolvePath(map[string]interface{}(output), path)
		if err == nil {
			output[alias] = resolved
		}
		// path-miss does not fail the node (spec.md §4.6 step 9).
	}

	result := &sdk.NodeResult{Success: true, Output: output, Usage: usage}

	// Step 10: cache store.
	if cacheable && fingerprint != "" {
		deps.Cache.Set(ctx, fingerprint, result)
	}

	// Step 11: persist output, offloading large payloads to the artifact
	// store when available.
	persisted := output
	if deps.ArtifactStore != nil && deps.LargeOutputThreshold > 0 && approxSize(output) > deps.LargeOutputThreshold {
		if ref, err := deps.ArtifactStore.Put(ctx, node.ID, output); err == nil {
			persisted = map[string]interface{}{"artifact_ref": ref}
		}
		// Offload failure degrades to best-effort: persist the raw output.
	}
	deps.Store.PutOutput(node.ID, persisted, true)

	// Step 12: output schema validation.
	if deps.EnforceOutputSchema && len(node.OutputSchema) > 0 {
		coerced, err := coerceOutput(output, node.OutputSchema)
		if err != nil {
			deps.emit(events.NodeError, node.ID, map[string]interface{}{"error": err.Error()})
			return fail(err.Error(), sdk.ErrSchemaValidation)
		}
		output = coerced
		result.Output = coerced
	}

	// Step 13: emit node_end with final metadata.
	meta.EndedAt = time.Now()
	meta.Duration = meta.EndedAt.Sub(start)
	result.Metadata = meta
	deps.emit(events.NodeEnd, node.ID, nil)
	if deps.Metrics != nil && result.Usage != nil {
		deps.Metrics.Record(node.Kind, node.ID, result.Usage)
	}
	return result
}

func (d *Deps) emit(t events.Type, nodeID string, data map[string]interface{}) {
	if d.Events == nil {
		return
	}
	d.Events.Dispatch(events.Event{Type: t, RunID: d.RunID, NodeID: nodeID, Timestamp: time.Now(), Data: data})
}

// ctxValidationError carries the error_kind alongside the message so
// buildPlaceholderContext can distinguish DependencyUnready from a
// generic ContextValidationError.
type ctxValidationError struct {
	msg  string
	kind sdk.ErrorKind
}

func (e *ctxValidationError) Error() string { return e.msg }

// buildPlaceholderContext assembles the placeholder context from
// input_mappings (literals and upstream references) plus, for
// dependency-free nodes, initial_context (spec.md §4.6 step 3).
func buildPlaceholderContext(ctx context.Context, node *sdk.NodeConfig, deps *Deps) (sdk.PlaceholderContext, *ctxValidationError) {
	store := deps.Store
	placeholder := make(sdk.PlaceholderContext, len(node.InputMappings))
	var issues []string
	depUnready := false

	for name, mv := range node.InputMappings {
		if !mv.IsRef {
			placeholder[name] = mv.Literal
			continue
		}
		output, success, present := store.GetOutput(mv.Ref.SourceNodeID)
		if !present || !success {
			issues = append(issues, fmt.Sprintf("placeholder %q: upstream node %s is not ready", name, mv.Ref.SourceNodeID))
			depUnready = true
			continue
		}
		resolved, err := resolver.ResolvePath(map[string]interface{}(output), mv.Ref.SourceOutputPath)
		if err != nil {
			if rehydrated, rehydrateErr := resolveFromArtifact(ctx, deps, output, mv.Ref.SourceOutputPath); rehydrateErr == nil {
				placeholder[name] = rehydrated
				continue
			}
			issues = append(issues, fmt.Sprintf("placeholder %q: %v", name, err))
			continue
		}
		placeholder[name] = resolved
	}

	if len(node.Dependencies) == 0 {
		for k, v := range store.InitialContext() {
			if _, exists := placeholder[k]; !exists {
				placeholder[k] = v
			}
		}
	}

	if len(issues) > 0 {
		kind := sdk.ErrContextValidation
		if depUnready {
			kind = sdk.ErrDependencyUnready
		}
		return nil, &ctxValidationError{msg: strings.Join(issues, "; "), kind: kind}
	}
	return placeholder, nil
}

// resolveFromArtifact re-resolves path against the full artifact an
// offloaded output was persisted under (spec.md §4.6 step 11): once a
// large output is replaced in the context store by an
// {"artifact_ref": ...} placeholder, a downstream reference into one of
// its original fields otherwise misses. Only tried as a fallback when the
// direct resolution against the live (possibly-placeholder) output fails.
func resolveFromArtifact(ctx context.Context, deps *Deps, output map[string]interface{}, path string) (interface{}, error) {
	ref, ok := output["artifact_ref"].(string)
	if !ok {
		return nil, fmt.Errorf("output is not an artifact placeholder")
	}
	fetcher, ok := deps.ArtifactStore.(ArtifactFetcher)
	if !ok {
		return nil, fmt.Errorf("artifact store does not support fetching")
	}
	artifact, err := fetcher.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact %s: %w", ref, err)
	}
	return resolver.ResolveJSONPath(artifact, path)
}

// invoke calls the executor, recovering a panic into an error so a single
// misbehaving executor cannot take down the run.
func invoke(ctx context.Context, ex sdk.Executor, placeholder sdk.PlaceholderContext) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("executor panic: %v", r)
		}
	}()
	return ex.Execute(ctx, placeholder)
}

// normalizeResult implements spec.md §4.6 step 7: a returned NodeResult
// is kept as-is (re-wrapped to a map output here so callers uniformly
// deal with map[string]interface{}); a bare mapping is wrapped with
// success defaulting to true; any other shape fails.
func normalizeResult(raw interface{}) (map[string]interface{}, *sdk.Usage, error) {
	switch v := raw.(type) {
	case *sdk.NodeResult:
		if !v.Success {
			return nil, nil, fmt.Errorf("%s", v.Error)
		}
		return v.Output, v.Usage, nil
	case sdk.NodeResult:
		if !v.Success {
			return nil, nil, fmt.Errorf("%s", v.Error)
		}
		return v.Output, v.Usage, nil
	case map[string]interface{}:
		if success, ok := v["success"]; ok {
			if b, ok := success.(bool); ok && !b {
				errMsg, _ := v["error"].(string)
				return nil, nil, fmt.Errorf("%s", errMsg)
			}
		}
		if output, ok := v["output"].(map[string]interface{}); ok {
			return output, nil, nil
		}
		return v, nil, nil
	default:
		return nil, nil, fmt.Errorf("unexpected result type %T: executor must return a NodeResult or mapping", raw)
	}
}

// repairJSONStrings implements spec.md §4.6 step 8: for any output field
// whose schema is declared but whose value is a fenced/plain JSON string,
// attempt to parse it; leave unchanged on failure (the validator catches
// it downstream).
func repairJSONStrings(output map[string]interface{}, schema map[string]sdk.FieldType) map[string]interface{} {
	if output == nil {
		return output
	}
	for field := range schema {
		str, ok := output[field].(string)
		if !ok {
			continue
		}
		stripped := stripCodeFences(str)
		var parsed interface{}
		if err := json.Unmarshal([]byte(stripped), &parsed); err == nil {
			output[field] = parsed
		}
	}
	return output
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(s, "```")
	}
	return strings.TrimSpace(s)
}

func coerceOutput(output map[string]interface{}, schema map[string]sdk.FieldType) (map[string]interface{}, error) {
	if output == nil {
		if len(schema) == 0 {
			return output, nil
		}
		return nil, fmt.Errorf("output is nil but output_schema declares %d field(s)", len(schema))
	}
	out := make(map[string]interface{}, len(output))
	for k, v := range output {
		out[k] = v
	}
	for field, ft := range schema {
		v, ok := out[field]
		if !ok {
			return nil, fmt.Errorf("output missing required field %q", field)
		}
		coerced, err := sdk.Coerce(ft, v)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", field, err)
		}
		out[field] = coerced
	}
	return out, nil
}

func approxSize(m map[string]interface{}) int {
	raw, err := json.Marshal(m)
	if err != nil {
		return 0
	}
	return len(raw)
}

func pow2(n int) float64 {
	result := 1.0
	for i := 0; i < n; i++ {
		result *= 2
	}
	return result
}

// executorIdentity extracts the (name, config) pair the registry uses to
// resolve a node's executor, per the kind-specific delegation rules in
// spec.md §6.
func executorIdentity(node *sdk.NodeConfig) (string, map[string]interface{}) {
	switch node.Kind {
	case sdk.KindTool:
		if node.Tool != nil {
			return node.Tool.ToolName, node.Tool.ToolArgs
		}
	case sdk.KindLLM:
		if node.LLM != nil {
			provider, _ := node.LLM.LLMConfig["provider"].(string)
			return provider, node.LLM.LLMConfig
		}
	case sdk.KindAgent:
		if node.Agent != nil {
			return node.Agent.Package, node.Agent.Memory
		}
	case sdk.KindCode:
		if node.Code != nil {
			return node.Code.Language, node.Code.Sandbox
		}
	}
	return string(node.Kind), nil
}

// isCoreKind reports whether a node kind is dispatched entirely inside
// the core rather than through a registered Executor (spec.md §6:
// "condition/loop/parallel/workflow kinds are handled inside the core").
func isCoreKind(kind sdk.NodeKind) bool {
	switch kind {
	case sdk.KindCondition, sdk.KindLoop, sdk.KindParallel, sdk.KindWorkflow:
		return true
	}
	return false
}

// invokeCoreKind is the core-handled counterpart to invoke: it recovers
// panics the same way, but dispatches by node kind instead of calling a
// registered Executor. Its return shape matches what normalizeResult
// expects from any executor (a plain output mapping).
func invokeCoreKind(ctx context.Context, node *sdk.NodeConfig, deps *Deps, placeholder sdk.PlaceholderContext) (out interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("core executor panic: %v", r)
		}
	}()
	switch node.Kind {
	case sdk.KindCondition:
		return executeCondition(ctx, node, deps, placeholder)
	case sdk.KindLoop:
		return executeLoop(ctx, node, deps, placeholder)
	case sdk.KindParallel:
		return executeParallel(ctx, node, deps, placeholder)
	case sdk.KindWorkflow:
		return executeWorkflow(ctx, node, deps, placeholder)
	default:
		return nil, fmt.Errorf("node %s: %s is not a core-handled kind", node.ID, node.Kind)
	}
}

// executeCondition evaluates the node's CEL expression and recursively
// runs the taken branch as a nested sub-plan (spec.md §6).
func executeCondition(ctx context.Context, node *sdk.NodeConfig, deps *Deps, placeholder sdk.PlaceholderContext) (map[string]interface{}, error) {
	spec := node.Condition
	if spec == nil {
		return nil, fmt.Errorf("condition node %s: missing condition config", node.ID)
	}
	if deps.Condition == nil {
		return nil, fmt.Errorf("condition node %s: no CEL evaluator configured", node.ID)
	}
	taken, err := deps.Condition.Evaluate(spec.Expression, map[string]interface{}(placeholder))
	if err != nil {
		return nil, fmt.Errorf("condition node %s: %w", node.ID, err)
	}

	branch := spec.FalseBranch
	if taken {
		branch = spec.TrueBranch
	}
	sub := runNested(ctx, deps, node.ID, branch, map[string]interface{}(placeholder))
	if !sub.Success && len(branch) > 0 {
		return nil, fmt.Errorf("condition node %s: branch failed: %s", node.ID, sub.Error)
	}
	recordNestedMetrics(deps.Metrics, node.ID, sub)

	return map[string]interface{}{
		"branch_taken":   taken,
		"branch_outputs": outputsToMap(sub.Outputs),
	}, nil
}

// executeLoop resolves items_source to a list and runs body once per
// item, binding item_var, either sequentially or concurrently depending
// on the node's parallel flag (spec.md §6).
func executeLoop(ctx context.Context, node *sdk.NodeConfig, deps *Deps, placeholder sdk.PlaceholderContext) (map[string]interface{}, error) {
	spec := node.Loop
	if spec == nil {
		return nil, fmt.Errorf("loop node %s: missing loop config", node.ID)
	}
	rawItems, ok := placeholder[spec.ItemsSource]
	if !ok {
		return nil, fmt.Errorf("loop node %s: items_source %q not present in placeholder context", node.ID, spec.ItemsSource)
	}
	items, err := toSlice(rawItems)
	if err != nil {
		return nil, fmt.Errorf("loop node %s: %w", node.ID, err)
	}
	if spec.MaxIterations > 0 && len(items) > spec.MaxIterations {
		items = items[:spec.MaxIterations]
	}

	results := make([]interface{}, len(items))
	errs := make([]error, len(items))

	runIteration := func(i int, item interface{}) {
		seed := make(map[string]interface{}, len(placeholder)+1)
		for k, v := range placeholder {
			seed[k] = v
		}
		seed[spec.ItemVar] = item
		label := fmt.Sprintf("%s[%d]", node.ID, i)
		sub := runNested(ctx, deps, label, spec.Body, seed)
		if !sub.Success && len(spec.Body) > 0 {
			errs[i] = fmt.Errorf("iteration %d: %s", i, sub.Error)
			return
		}
		recordNestedMetrics(deps.Metrics, label, sub)
		results[i] = outputsToMap(sub.Outputs)
	}

	if spec.Parallel {
		var wg sync.WaitGroup
		for i, item := range items {
			wg.Add(1)
			go func(i int, item interface{}) {
				defer wg.Done()
				runIteration(i, item)
			}(i, item)
		}
		wg.Wait()
	} else {
		for i, item := range items {
			runIteration(i, item)
		}
	}

	for _, e := range errs {
		if e != nil {
			return nil, fmt.Errorf("loop node %s: %w", node.ID, e)
		}
	}

	return map[string]interface{}{
		"iterations": len(items),
		"results":    results,
	}, nil
}

// executeParallel runs every branch as an independent sub-plan
// concurrently, bounded by max_concurrency (spec.md §6).
func executeParallel(ctx context.Context, node *sdk.NodeConfig, deps *Deps, placeholder sdk.PlaceholderContext) (map[string]interface{}, error) {
	spec := node.Parallel
	if spec == nil {
		return nil, fmt.Errorf("parallel node %s: missing parallel config", node.ID)
	}

	maxConcurrency := spec.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = len(spec.Branches)
	}
	var sem *semaphore.Weighted
	if maxConcurrency > 0 {
		sem = semaphore.NewWeighted(int64(maxConcurrency))
	}

	branchOutputs := make([]interface{}, len(spec.Branches))
	errs := make([]error, len(spec.Branches))
	var wg sync.WaitGroup
	for i, branch := range spec.Branches {
		wg.Add(1)
		go func(i int, branch []*sdk.NodeConfig) {
			defer wg.Done()
			if sem != nil {
				if err := sem.Acquire(ctx, 1); err != nil {
					errs[i] = err
					return
				}
				defer sem.Release(1)
			}
			label := fmt.Sprintf("%s[%d]", node.ID, i)
			sub := runNested(ctx, deps, label, branch, map[string]interface{}(placeholder))
			if !sub.Success && len(branch) > 0 {
				errs[i] = fmt.Errorf("branch %d: %s", i, sub.Error)
				return
			}
			recordNestedMetrics(deps.Metrics, label, sub)
			branchOutputs[i] = outputsToMap(sub.Outputs)
		}(i, branch)
	}
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return nil, fmt.Errorf("parallel node %s: %w", node.ID, e)
		}
	}
	return map[string]interface{}{"branches": branchOutputs}, nil
}

// executeWorkflow resolves workflow_ref to a compiled nested plan and
// runs it with a fresh (nested) coordinator run; only exposed_outputs are
// projected back to the parent (spec.md §6).
func executeWorkflow(ctx context.Context, node *sdk.NodeConfig, deps *Deps, placeholder sdk.PlaceholderContext) (map[string]interface{}, error) {
	spec := node.Workflow
	if spec == nil {
		return nil, fmt.Errorf("workflow node %s: missing workflow config", node.ID)
	}
	if deps.Workflows == nil {
		return nil, fmt.Errorf("workflow node %s: no workflow resolver configured", node.ID)
	}
	plan, ok := deps.Workflows.ResolvePlan(spec.WorkflowRef)
	if !ok {
		return nil, fmt.Errorf("workflow node %s: workflow_ref %q not found", node.ID, spec.WorkflowRef)
	}
	if deps.Nested == nil {
		return nil, fmt.Errorf("workflow node %s: nested plan execution unavailable", node.ID)
	}

	seed := make(map[string]interface{}, len(plan.InitialContext)+len(placeholder))
	for k, v := range plan.InitialContext {
		seed[k] = v
	}
	for k, v := range placeholder {
		seed[k] = v
	}
	nestedPlan := &sdk.Plan{Nodes: plan.Nodes, InitialContext: seed}
	sub := deps.Nested.RunPlan(ctx, nestedPlan, deps.RunID+"/"+node.ID)
	if !sub.Success {
		return nil, fmt.Errorf("workflow node %s: nested run of %q failed: %s", node.ID, spec.WorkflowRef, sub.Error)
	}
	recordNestedMetrics(deps.Metrics, node.ID, sub)

	out := make(map[string]interface{}, len(spec.ExposedOutputs))
	for _, id := range spec.ExposedOutputs {
		if r, ok := sub.Outputs[id]; ok {
			out[id] = r.Output
		}
	}
	return out, nil
}

// runNested drives children as an independent sub-plan under deps.Nested
// (the coordinator), scoping its run id to label so observers and nested
// metrics can be traced back to the parent node. An empty children list
// trivially succeeds.
func runNested(ctx context.Context, deps *Deps, label string, children []*sdk.NodeConfig, seed map[string]interface{}) *sdk.RunResult {
	if len(children) == 0 {
		return &sdk.RunResult{Success: true, Outputs: map[string]*sdk.NodeResult{}}
	}
	if deps.Nested == nil {
		return &sdk.RunResult{Success: false, Error: "nested plan execution unavailable: no PlanRunner configured"}
	}
	plan := &sdk.Plan{Nodes: children, InitialContext: seed}
	return deps.Nested.RunPlan(ctx, plan, deps.RunID+"/"+label)
}

// recordNestedMetrics folds a nested sub-run's per-node usage back into
// the parent run's collector, keyed under parentLabel/childID so interior
// condition/loop/parallel/workflow node executions remain visible in the
// parent's token/cost accounting instead of vanishing into a discarded
// per-sub-run collector.
func recordNestedMetrics(collector *metrics.Collector, parentLabel string, sub *sdk.RunResult) {
	if collector == nil || sub == nil {
		return
	}
	for id, r := range sub.Outputs {
		if r.Usage == nil {
			continue
		}
		collector.Record(r.Metadata.Kind, parentLabel+"/"+id, r.Usage)
	}
}

// outputsToMap projects a sub-run's per-node results down to their output
// mappings, the shape a core node's own output embeds its children under.
func outputsToMap(results map[string]*sdk.NodeResult) map[string]interface{} {
	out := make(map[string]interface{}, len(results))
	for id, r := range results {
		out[id] = r.Output
	}
	return out
}

// toSlice coerces a resolved items_source value into a slice, the only
// shape a loop node can iterate over.
func toSlice(v interface{}) ([]interface{}, error) {
	items, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("items_source value is not a list (got %T)", v)
	}
	return items, nil
}
