// Package contextstore implements the per-run, per-node input/output
// store (spec.md §4.4). Keyed by (run_id, node_id), written only by the
// node executor for the node it is executing.
package contextstore

import (
	"fmt"
	"sync"

	"github.com/flowforge/orchestrator/cmd/workflow/resolver"
)

// entry holds what was written for one node: its assembled input snapshot
// and, once execution completes, its output.
type entry struct {
	input   map[string]interface{}
	output  map[string]interface{}
	hasOut  bool
	success bool
}

// Store holds node inputs/outputs for the duration of one run. Discarded
// at run completion — it carries no cross-run state.
type Store struct {
	mu             sync.RWMutex
	runID          string
	initialContext map[string]interface{}
	entries        map[string]*entry
}

// New creates a Store scoped to one run.
func New(runID string, initialContext map[string]interface{}) *Store {
	return &Store{
		runID:          runID,
		initialContext: initialContext,
		entries:        make(map[string]*entry),
	}
}

// PutInput records the assembled placeholder context for nodeID (§4.6 step 4).
func (s *Store) PutInput(nodeID string, value map[string]interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[nodeID]
	if e == nil {
		e = &entry{}
		s.entries[nodeID] = e
	}
	e.input = value
}

// PutOutput records the final output for nodeID, once, at finalization
// (§4.4: "overwrite only by the node executor, once, at finalization").
func (s *Store) PutOutput(nodeID string, value map[string]interface{}, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := s.entries[nodeID]
	if e == nil {
		e = &entry{}
		s.entries[nodeID] = e
	}
	e.output = value
	e.hasOut = true
	e.success = success
}

// GetOutput returns the output recorded for nodeID, and whether that node
// succeeded. The second return is false if nodeID has no output yet.
func (s *Store) GetOutput(nodeID string) (value map[string]interface{}, success bool, present bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[nodeID]
	if e == nil || !e.hasOut {
		return nil, false, false
	}
	return e.output, e.success, true
}

// GetInput returns the input snapshot recorded for nodeID.
func (s *Store) GetInput(nodeID string) (map[string]interface{}, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e := s.entries[nodeID]
	if e == nil {
		return nil, false
	}
	return e.input, true
}

// InitialContext returns the run's initial_context, exposed to nodes with
// no dependencies.
func (s *Store) InitialContext() map[string]interface{} {
	return s.initialContext
}

// ResolvePath resolves a dotted path against the recorded output of
// nodeID. Returns *resolver.PathMissError on failure.
func (s *Store) ResolvePath(nodeID, path string) (interface{}, error) {
	output, success, present := s.GetOutput(nodeID)
	if !present {
		return nil, fmt.Errorf("no output recorded for node %s", nodeID)
	}
	if !success {
		return nil, fmt.Errorf("node %s did not succeed", nodeID)
	}
	return resolver.ResolvePath(output, path)
}
