// Package validator parses an untyped blueprint node-spec list into a
// typed sdk.Plan, accumulating every issue rather than short-circuiting
// (spec.md §4.2).
//
// Grounded on the teacher's cmd/workflow/compiler (the original ir.go's
// convertWorkflowNode / validate), generalized from the teacher's fixed
// workflow.schema.json shape to the spec's closed NodeKind set and
// mini-type schemas.
package validator

import (
	"fmt"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
)

// NodeSpec is the untyped, as-authored description of one node (§6
// Blueprint format: "a mapping with at minimum id and kind"). JSON tags
// follow the snake_case wire format a blueprint author writes and a
// hot-patch document addresses by path (e.g. "/nodes/0/output_schema").
type NodeSpec struct {
	ID           string   `json:"id"`
	Kind         string   `json:"kind"`
	Dependencies []string `json:"dependencies,omitempty"`

	InputSchema  map[string]string `json:"input_schema,omitempty"`
	OutputSchema map[string]string `json:"output_schema,omitempty"`

	InputMappings  map[string]interface{} `json:"input_mappings,omitempty"` // literal, or {"source_node_id":, "source_output_path":}
	OutputMappings map[string]string      `json:"output_mappings,omitempty"`

	Retries        int      `json:"retries,omitempty"`
	BackoffSeconds float64  `json:"backoff_seconds,omitempty"`
	TimeoutSeconds *float64 `json:"timeout_seconds,omitempty"`
	UseCache       *bool    `json:"use_cache,omitempty"`

	// Kind-specific raw fields, forward-compatible: unknown fields are
	// tolerated but not propagated (spec.md §4.2 step 3).
	ToolName string                 `json:"tool_name,omitempty"`
	ToolArgs map[string]interface{} `json:"tool_args,omitempty"`

	Model     string                 `json:"model,omitempty"`
	Prompt    string                 `json:"prompt,omitempty"`
	LLMConfig map[string]interface{} `json:"llm_config,omitempty"`

	Package       string                 `json:"package,omitempty"`
	Tools         []string               `json:"tools,omitempty"`
	Memory        map[string]interface{} `json:"memory,omitempty"`
	MaxIterations int                    `json:"max_iterations,omitempty"`

	Expression  string     `json:"expression,omitempty"`
	TrueBranch  []NodeSpec `json:"true_branch,omitempty"`
	FalseBranch []NodeSpec `json:"false_branch,omitempty"`

	ItemsSource string     `json:"items_source,omitempty"`
	ItemVar     string     `json:"item_var,omitempty"`
	Body        []NodeSpec `json:"body,omitempty"`
	Parallel    bool       `json:"parallel,omitempty"`

	Branches       [][]NodeSpec `json:"branches,omitempty"`
	MaxConcurrency int          `json:"max_concurrency,omitempty"`

	WorkflowRef    string   `json:"workflow_ref,omitempty"`
	ExposedOutputs []string `json:"exposed_outputs,omitempty"`

	Code     string                 `json:"code,omitempty"`
	Language string                 `json:"language,omitempty"`
	Sandbox  map[string]interface{} `json:"sandbox,omitempty"`
}

// Blueprint is the top-level input to the validator (§6).
type Blueprint struct {
	SchemaVersion  string                 `json:"schema_version,omitempty"`
	Nodes          []NodeSpec             `json:"nodes"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
	InitialContext map[string]interface{} `json:"initial_context,omitempty"`
	// FailurePolicy governs scheduler behavior once a node fails
	// (spec.md §4.7): one of HALT, CONTINUE_POSSIBLE, ALWAYS. Empty
	// defaults to HALT.
	FailurePolicy string `json:"failure_policy,omitempty"`
	MaxParallel   int    `json:"max_parallel,omitempty"`
}

// ValidationError aggregates every issue found across a blueprint.
type ValidationError struct {
	Issues []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("blueprint validation failed with %d issue(s): %v", len(e.Issues), e.Issues)
}

// deprecationSink receives non-fatal deprecation notices (e.g. the llm
// default-output-schema patch). Validate always constructs one internally;
// callers that want to observe it can use ValidateWithDeprecations.
type deprecationSink struct {
	notices []string
}

func (d *deprecationSink) note(msg string) { d.notices = append(d.notices, msg) }

// Validate parses bp into a Plan, or returns *ValidationError with every
// accumulated issue.
func Validate(bp *Blueprint) (*sdk.Plan, error) {
	plan, _, err := ValidateWithDeprecations(bp)
	return plan, err
}

// ValidateWithDeprecations behaves like Validate but also returns any
// deprecation notices recorded during validation (e.g. llm nodes missing
// output_schema).
func ValidateWithDeprecations(bp *Blueprint) (*sdk.Plan, []string, error) {
	var issues []string
	sink := &deprecationSink{}

	seenIDs := make(map[string]bool)
	for _, spec := range bp.Nodes {
		if spec.ID == "" {
			issues = append(issues, "node missing required field 'id'")
			continue
		}
		if seenIDs[spec.ID] {
			issues = append(issues, fmt.Sprintf("duplicate node id: %s", spec.ID))
			continue
		}
		seenIDs[spec.ID] = true
	}

	var nodes []*sdk.NodeConfig
	for _, spec := range bp.Nodes {
		if spec.ID == "" {
			continue
		}
		node, nodeIssues := convertNode(&spec, sink)
		issues = append(issues, nodeIssues...)
		if node != nil {
			nodes = append(nodes, node)
		}
	}

	plan := &sdk.Plan{Nodes: nodes, InitialContext: bp.InitialContext}

	// Cross-node checks.
	byID := make(map[string]*sdk.NodeConfig, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if dep == n.ID {
				issues = append(issues, fmt.Sprintf("node %s: self-reference in dependencies", n.ID))
				continue
			}
			if byID[dep] == nil {
				issues = append(issues, fmt.Sprintf("node %s: dependency %s does not exist", n.ID, dep))
			}
		}
		for placeholder, mv := range n.InputMappings {
			if !mv.IsRef {
				continue
			}
			if !isTransitiveDependency(byID, n, mv.Ref.SourceNodeID, make(map[string]bool)) {
				issues = append(issues, fmt.Sprintf(
					"node %s: input_mappings[%s] references %s which is not a declared dependency",
					n.ID, placeholder, mv.Ref.SourceNodeID))
			}
		}
	}

	if len(issues) > 0 {
		return nil, sink.notices, &ValidationError{Issues: issues}
	}
	return plan, sink.notices, nil
}

func isTransitiveDependency(byID map[string]*sdk.NodeConfig, n *sdk.NodeConfig, target string, visited map[string]bool) bool {
	for _, dep := range n.Dependencies {
		if dep == target {
			return true
		}
		if visited[dep] {
			continue
		}
		visited[dep] = true
		if depNode := byID[dep]; depNode != nil && isTransitiveDependency(byID, depNode, target, visited) {
			return true
		}
	}
	return false
}

func convertNode(spec *NodeSpec, sink *deprecationSink) (*sdk.NodeConfig, []string) {
	var issues []string
	kind := sdk.NodeKind(spec.Kind)
	if !sdk.IsValidKind(kind) {
		issues = append(issues, fmt.Sprintf("node %s: unknown kind %q", spec.ID, spec.Kind))
		return nil, issues
	}

	node := &sdk.NodeConfig{
		ID:           spec.ID,
		Kind:         kind,
		Dependencies: append([]string{}, spec.Dependencies...),
		UseCache:     true,
		Retry: sdk.RetryPolicy{
			Retries:        spec.Retries,
			BackoffSeconds: spec.BackoffSeconds,
		},
		TimeoutSeconds: spec.TimeoutSeconds,
	}
	if spec.UseCache != nil {
		node.UseCache = *spec.UseCache
	}

	inputSchema, schemaErrs := sdk.ParseSchema(spec.InputSchema)
	for _, e := range schemaErrs {
		issues = append(issues, fmt.Sprintf("node %s: input_schema: %v", spec.ID, e))
	}
	outputSchema, schemaErrs := sdk.ParseSchema(spec.OutputSchema)
	for _, e := range schemaErrs {
		issues = append(issues, fmt.Sprintf("node %s: output_schema: %v", spec.ID, e))
	}
	node.InputSchema = inputSchema
	node.OutputSchema = outputSchema

	mappings, mapErrs := convertInputMappings(spec.InputMappings)
	for _, e := range mapErrs {
		issues = append(issues, fmt.Sprintf("node %s: %v", spec.ID, e))
	}
	node.InputMappings = mappings
	node.OutputMappings = spec.OutputMappings

	switch kind {
	case sdk.KindTool:
		if len(spec.InputSchema) == 0 || len(spec.OutputSchema) == 0 {
			issues = append(issues, fmt.Sprintf("node %s: tool nodes require non-empty input_schema and output_schema", spec.ID))
		}
		node.Tool = &sdk.ToolSpec{ToolName: spec.ToolName, ToolArgs: spec.ToolArgs}

	case sdk.KindCondition:
		if len(spec.InputSchema) == 0 || len(spec.OutputSchema) == 0 {
			issues = append(issues, fmt.Sprintf("node %s: condition nodes require non-empty input_schema and output_schema", spec.ID))
		}
		trueBranch, trueIssues := convertChildren(spec.TrueBranch, sink)
		falseBranch, falseIssues := convertChildren(spec.FalseBranch, sink)
		issues = append(issues, trueIssues...)
		issues = append(issues, falseIssues...)
		node.Condition = &sdk.ConditionSpec{
			Expression:  spec.Expression,
			TrueBranch:  trueBranch,
			FalseBranch: falseBranch,
		}

	case sdk.KindLLM:
		if len(spec.OutputSchema) == 0 {
			node.OutputSchema = map[string]sdk.FieldType{"text": {Scalar: "str"}}
			sink.note(fmt.Sprintf("node %s: llm node missing output_schema, defaulted to {text: str}", spec.ID))
		}
		node.LLM = &sdk.LLMSpec{Model: spec.Model, Prompt: spec.Prompt, LLMConfig: spec.LLMConfig}

	case sdk.KindAgent:
		node.Agent = &sdk.AgentSpec{
			Package:       spec.Package,
			Tools:         spec.Tools,
			Memory:        spec.Memory,
			MaxIterations: spec.MaxIterations,
		}

	case sdk.KindLoop:
		body, bodyIssues := convertChildren(spec.Body, sink)
		issues = append(issues, bodyIssues...)
		node.Loop = &sdk.LoopSpec{
			ItemsSource:   spec.ItemsSource,
			ItemVar:       spec.ItemVar,
			Body:          body,
			Parallel:      spec.Parallel,
			MaxIterations: spec.MaxIterations,
		}

	case sdk.KindParallel:
		var branches [][]*sdk.NodeConfig
		for _, branchSpecs := range spec.Branches {
			converted, branchIssues := convertChildren(branchSpecs, sink)
			issues = append(issues, branchIssues...)
			branches = append(branches, converted)
		}
		node.Parallel = &sdk.ParallelSpec{Branches: branches, MaxConcurrency: spec.MaxConcurrency}

	case sdk.KindWorkflow:
		node.Workflow = &sdk.WorkflowSpec{WorkflowRef: spec.WorkflowRef, ExposedOutputs: spec.ExposedOutputs}

	case sdk.KindCode:
		node.Code = &sdk.CodeSpec{Code: spec.Code, Language: spec.Language, Sandbox: spec.Sandbox}

	case sdk.KindHuman, sdk.KindMonitor, sdk.KindRecursive, sdk.KindSwarm:
		// Dispatched entirely to their registered executor; no kind-specific
		// payload beyond the common fields above.
	}

	return node, issues
}

func convertChildren(specs []NodeSpec, sink *deprecationSink) ([]*sdk.NodeConfig, []string) {
	var out []*sdk.NodeConfig
	var issues []string
	for i := range specs {
		node, nodeIssues := convertNode(&specs[i], sink)
		issues = append(issues, nodeIssues...)
		if node != nil {
			out = append(out, node)
		}
	}
	return out, issues
}

func convertInputMappings(raw map[string]interface{}) (map[string]sdk.MappingValue, []string) {
	out := make(map[string]sdk.MappingValue, len(raw))
	var issues []string
	for placeholder, v := range raw {
		m, ok := v.(map[string]interface{})
		if !ok {
			out[placeholder] = sdk.MappingValue{Literal: v}
			continue
		}
		sourceNodeID, hasSource := m["source_node_id"].(string)
		if !hasSource {
			// Not a reference shape; treat the whole map as a literal dict.
			out[placeholder] = sdk.MappingValue{Literal: v}
			continue
		}
		path, _ := m["source_output_path"].(string)
		out[placeholder] = sdk.MappingValue{
			IsRef: true,
			Ref:   sdk.Reference{SourceNodeID: sourceNodeID, SourceOutputPath: path},
		}
	}
	return out, issues
}
