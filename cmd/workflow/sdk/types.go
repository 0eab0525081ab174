// Package sdk holds the data model shared by every core package: node
// kinds, the validated Plan, per-node results, and the Executor contract
// that registered node implementations satisfy.
package sdk

import (
	"context"
	"time"
)

// NodeKind is the closed set of node families the runtime understands.
// Kind-specific behavior always lives behind the Executor interface; the
// scheduler and graph packages treat all kinds uniformly.
type NodeKind string

const (
	KindTool      NodeKind = "tool"
	KindLLM       NodeKind = "llm"
	KindAgent     NodeKind = "agent"
	KindCondition NodeKind = "condition"
	KindLoop      NodeKind = "loop"
	KindParallel  NodeKind = "parallel"
	KindCode      NodeKind = "code"
	KindWorkflow  NodeKind = "workflow"
	KindHuman     NodeKind = "human"
	KindMonitor   NodeKind = "monitor"
	KindRecursive NodeKind = "recursive"
	KindSwarm     NodeKind = "swarm"
)

// validKinds is consulted by the validator when rejecting UnknownKind specs.
var validKinds = map[NodeKind]bool{
	KindTool: true, KindLLM: true, KindAgent: true, KindCondition: true,
	KindLoop: true, KindParallel: true, KindCode: true, KindWorkflow: true,
	KindHuman: true, KindMonitor: true, KindRecursive: true, KindSwarm: true,
}

// IsValidKind reports whether kind is one of the closed NodeKind variants.
func IsValidKind(kind NodeKind) bool {
	return validKinds[kind]
}

// FieldType is one of the mini-type grammar's scalar or list-of-scalar
// descriptors used for input_schema/output_schema entries.
type FieldType struct {
	// Scalar is one of "str", "int", "float", "bool", "dict". Empty when
	// IsList is true and the element type is recorded in Elem.
	Scalar string
	IsList bool
	// Elem is the scalar element type for list[<scalar>] descriptors.
	Elem string
}

// Reference points at an upstream node's output, resolved by dotted path.
type Reference struct {
	SourceNodeID     string
	SourceOutputPath string
}

// MappingValue is either a literal value or a Reference. Exactly one of
// IsRef/Literal is meaningful at a time.
type MappingValue struct {
	IsRef     bool
	Ref       Reference
	Literal   interface{}
}

// RetryPolicy groups a node's retry/backoff configuration.
type RetryPolicy struct {
	Retries        int
	BackoffSeconds float64
}

// ConditionSpec configures a `condition` node.
type ConditionSpec struct {
	Expression  string
	TrueBranch  []*NodeConfig
	FalseBranch []*NodeConfig
}

// LoopSpec configures a `loop` node.
type LoopSpec struct {
	ItemsSource   string
	ItemVar       string
	Body          []*NodeConfig
	Parallel      bool
	MaxIterations int
}

// ParallelSpec configures a `parallel` node.
type ParallelSpec struct {
	Branches       [][]*NodeConfig
	MaxConcurrency int
}

// WorkflowSpec configures a nested `workflow` node.
type WorkflowSpec struct {
	WorkflowRef    string
	ExposedOutputs []string
}

// ToolSpec configures a `tool` node.
type ToolSpec struct {
	ToolName string
	ToolArgs map[string]interface{}
}

// LLMSpec configures an `llm` node.
type LLMSpec struct {
	Model      string
	Prompt     string
	LLMConfig  map[string]interface{}
}

// AgentSpec configures an `agent` node.
type AgentSpec struct {
	Package       string
	Tools         []string
	Memory        map[string]interface{}
	MaxIterations int
}

// CodeSpec configures a `code` node.
type CodeSpec struct {
	Code     string
	Language string
	Sandbox  map[string]interface{}
}

// NodeConfig is the validated, typed description of one node. It is
// immutable after plan compilation (§3 Lifecycle).
type NodeConfig struct {
	ID           string
	Kind         NodeKind
	Dependencies []string

	InputSchema  map[string]FieldType
	OutputSchema map[string]FieldType

	InputMappings  map[string]MappingValue
	OutputMappings map[string]string // alias -> dotted path into own output

	Retry          RetryPolicy
	TimeoutSeconds *float64 // nil == no timeout
	UseCache       bool

	Tool      *ToolSpec
	LLM       *LLMSpec
	Agent     *AgentSpec
	Condition *ConditionSpec
	Loop      *LoopSpec
	Parallel  *ParallelSpec
	Workflow  *WorkflowSpec
	Code      *CodeSpec
}

// Plan is the validated, typed internal representation of a blueprint.
type Plan struct {
	Nodes          []*NodeConfig
	InitialContext map[string]interface{}
}

// NodeByID returns the node with the given id, or nil.
func (p *Plan) NodeByID(id string) *NodeConfig {
	for _, n := range p.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// ErrorKind enumerates the taxonomy surfaced in NodeResult.Metadata and
// raised synchronously for fatal, run-level failures (spec.md §7).
type ErrorKind string

const (
	ErrValidation           ErrorKind = "ValidationError"
	ErrCycleDetected        ErrorKind = "CycleDetected"
	ErrUnknownKind          ErrorKind = "UnknownKind"
	ErrConfigMissing        ErrorKind = "ConfigMissing"
	ErrRegistryMiss         ErrorKind = "RegistryMiss"
	ErrPolicyDenied         ErrorKind = "PolicyDenied"
	ErrContextValidation    ErrorKind = "ContextValidationError"
	ErrDependencyUnready    ErrorKind = "DependencyUnready"
	ErrDependencyFailed     ErrorKind = "DependencyFailed"
	ErrTimeout              ErrorKind = "Timeout"
	ErrExecutorError        ErrorKind = "ExecutorError"
	ErrUnexpectedResultType ErrorKind = "UnexpectedResultType"
	ErrSchemaValidation     ErrorKind = "SchemaValidationError"
	ErrCancelled            ErrorKind = "Cancelled"
)

// Usage is the optional accounting record a node's executor may return.
type Usage struct {
	TotalTokens int64
	TotalCost   float64
	Provider    map[string]interface{}
}

// NodeMetadata carries observability fields for one node execution.
type NodeMetadata struct {
	NodeID       string
	Kind         NodeKind
	StartedAt    time.Time
	EndedAt      time.Time
	Duration     time.Duration
	AttemptCount int
	ErrorKind    ErrorKind
	Provider     string
	CacheHit     bool
}

// NodeResult is the outcome of executing one node.
type NodeResult struct {
	Success  bool
	Output   map[string]interface{}
	Error    string
	Usage    *Usage
	Metadata NodeMetadata
}

// RunResult is the outcome of driving a whole Plan to completion.
type RunResult struct {
	Success    bool
	Outputs    map[string]*NodeResult
	Error      string
	Duration   time.Duration
	TokenStats map[NodeKind]map[string]*Usage
	Cancelled  bool
}

// PlaceholderContext is the assembled input a node's executor receives:
// resolved input_mappings plus, for dependency-free nodes, initial_context.
type PlaceholderContext map[string]interface{}

// Executor is the contract a registered node implementation satisfies
// (spec.md §6). Execute must observe ctx cancellation promptly and must
// not mutate the placeholder context it is given.
type Executor interface {
	Validate() error
	Execute(ctx context.Context, placeholder PlaceholderContext) (interface{}, error)
}

// Introspectable is an optional extension surface for executors that can
// describe their own schema.
type Introspectable interface {
	InputSchema() map[string]FieldType
	OutputSchema() map[string]FieldType
	Description() string
}

// FailurePolicy governs whether the scheduler continues past a failed
// level (spec.md §4.7).
type FailurePolicy string

const (
	PolicyHalt             FailurePolicy = "HALT"
	PolicyContinuePossible FailurePolicy = "CONTINUE_POSSIBLE"
	PolicyAlways           FailurePolicy = "ALWAYS"
)
