package coordinator

import (
	"sync"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
	"github.com/flowforge/orchestrator/cmd/workflow/validator"
)

// WorkflowStore resolves a `workflow` node's workflow_ref to the compiled
// plan it names (spec.md §6: "resolves workflow_ref to a nested plan").
// Registration happens out-of-band before a run starts; it satisfies
// executor.WorkflowResolver.
type WorkflowStore struct {
	mu    sync.RWMutex
	plans map[string]*sdk.Plan
}

// NewWorkflowStore creates an empty WorkflowStore.
func NewWorkflowStore() *WorkflowStore {
	return &WorkflowStore{plans: make(map[string]*sdk.Plan)}
}

// Register validates bp and stores its compiled plan under ref, available
// to any later `workflow` node whose workflow_ref equals ref.
func (s *WorkflowStore) Register(ref string, bp *validator.Blueprint) error {
	plan, _, err := validator.ValidateWithDeprecations(bp)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[ref] = plan
	return nil
}

// RegisterPlan stores an already-compiled plan under ref directly,
// bypassing validation (e.g. a plan assembled in-process rather than
// parsed from a blueprint document).
func (s *WorkflowStore) RegisterPlan(ref string, plan *sdk.Plan) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plans[ref] = plan
}

// ResolvePlan returns the plan registered under ref, if any.
func (s *WorkflowStore) ResolvePlan(ref string) (*sdk.Plan, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	plan, ok := s.plans[ref]
	return plan, ok
}
