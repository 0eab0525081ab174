// Package registry holds executor factories and instances keyed by
// (node_kind, name), and applies policy-gated resolution (spec.md §4.1).
//
// Grounded on the teacher's type-mapping and dispatch conventions in
// cmd/workflow/compiler (the original ir.go) and common/config's
// env-driven toggle style, generalized from compile-time type mapping to
// a runtime executor lookup.
package registry

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
)

// Factory lazily constructs an Executor for one (kind, name) entry.
type Factory func(config map[string]interface{}) (sdk.Executor, error)

type key struct {
	kind sdk.NodeKind
	name string
}

// Registry is the process-wide, read-mostly executor catalog. It is
// populated at process start; runtime re-registration is supported but is
// not guaranteed to be observed by in-flight runs (spec.md §4.1).
type Registry struct {
	mu        sync.RWMutex
	instances map[key]sdk.Executor
	factories map[key]Factory
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		instances: make(map[key]sdk.Executor),
		factories: make(map[key]Factory),
	}
}

// RegisterInstance registers a ready-made executor instance.
func (r *Registry) RegisterInstance(kind sdk.NodeKind, name string, ex sdk.Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.instances[key{kind, name}] = ex
}

// RegisterFactory registers a factory invoked on demand at GetExecutor time.
func (r *Registry) RegisterFactory(kind sdk.NodeKind, name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[key{kind, name}] = f
}

// RegistryMissError is returned when no entry is registered for (kind, name).
type RegistryMissError struct {
	Kind sdk.NodeKind
	Name string
}

func (e *RegistryMissError) Error() string {
	return fmt.Sprintf("registry miss: no executor registered for kind=%s name=%s", e.Kind, e.Name)
}

// PolicyDeniedError is returned when an allow/deny list rejects (kind, name).
type PolicyDeniedError struct {
	Kind sdk.NodeKind
	Name string
}

func (e *PolicyDeniedError) Error() string {
	return fmt.Sprintf("policy denied: kind=%s name=%s is not permitted", e.Kind, e.Name)
}

// GetExecutor resolves (kind, name) to an Executor, instantiating via
// factory if needed. Fails with *RegistryMissError when absent.
func (r *Registry) GetExecutor(kind sdk.NodeKind, name string, config map[string]interface{}) (sdk.Executor, error) {
	r.mu.RLock()
	if ex, ok := r.instances[key{kind, name}]; ok {
		r.mu.RUnlock()
		return ex, nil
	}
	factory, ok := r.factories[key{kind, name}]
	r.mu.RUnlock()
	if !ok {
		return nil, &RegistryMissError{Kind: kind, Name: name}
	}
	return factory(config)
}

// List returns the names registered (instance or factory) for kind.
func (r *Registry) List(kind sdk.NodeKind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var names []string
	for k := range r.instances {
		if k.kind == kind && !seen[k.name] {
			names = append(names, k.name)
			seen[k.name] = true
		}
	}
	for k := range r.factories {
		if k.kind == kind && !seen[k.name] {
			names = append(names, k.name)
			seen[k.name] = true
		}
	}
	return names
}

// PolicyGate applies two optional environment-driven allow/deny sets per
// kind: ORCH_ALLOW_<KIND> and ORCH_DENY_<KIND>, comma-separated names.
// An empty allow-list means "no restriction"; deny always wins.
type PolicyGate struct {
	envLookup func(string) string
}

// NewPolicyGate builds a PolicyGate reading from the process environment.
func NewPolicyGate() *PolicyGate {
	return &PolicyGate{envLookup: os.Getenv}
}

func (p *PolicyGate) namesFor(kind sdk.NodeKind, prefix string) map[string]bool {
	raw := p.envLookup(fmt.Sprintf("ORCH_%s_%s", prefix, strings.ToUpper(string(kind))))
	if raw == "" {
		return nil
	}
	set := make(map[string]bool)
	for _, n := range strings.Split(raw, ",") {
		n = strings.TrimSpace(n)
		if n != "" {
			set[n] = true
		}
	}
	return set
}

func (p *PolicyGate) allowed(kind sdk.NodeKind, name string) bool {
	deny := p.namesFor(kind, "DENY")
	if deny != nil && deny[name] {
		return false
	}
	allow := p.namesFor(kind, "ALLOW")
	if allow == nil {
		return true
	}
	return allow[name]
}

// Resolve consults the policy gate before delegating to GetExecutor.
func (r *Registry) Resolve(gate *PolicyGate, kind sdk.NodeKind, name string, config map[string]interface{}) (sdk.Executor, error) {
	if gate != nil && !gate.allowed(kind, name) {
		return nil, &PolicyDeniedError{Kind: kind, Name: name}
	}
	return r.GetExecutor(kind, name, config)
}
