package coordinator

import (
	"encoding/json"
	"fmt"
	"sync"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/flowforge/orchestrator/cmd/workflow/validator"
	"github.com/flowforge/orchestrator/common/models"
	"github.com/flowforge/orchestrator/common/validation"
	"github.com/google/uuid"
)

// PatchLoader applies RFC 6902 JSON Patch documents to a blueprint and
// returns the patched copy (the "hot-patch" path §6 alludes to for
// in-flight workflow edits). It keeps a per-blueprint chain that records
// the sequence number and a member id for every patch applied; the patch
// documents themselves are not stored in the chain.
//
// Grounded on the teacher's run-patch materialization flow
// (cmd/workflow-runner/coordinator's patch_loader.go fetched patches from
// an orchestrator service and replayed them over a base artifact); this
// version collapses "fetch + replay" into a direct apply against an
// in-memory blueprint document, using the teacher's
// common/validation.PatchValidator for operation-shape checks and
// common/models.PatchChainMember for the chain bookkeeping, with
// evanphx/json-patch/v5 (a teacher dependency previously wired only for
// outbound materialization calls) doing the actual patch application.
type PatchLoader struct {
	validator *validation.PatchValidator

	mu     sync.Mutex
	chains map[string][]models.PatchChainMember // blueprint id -> applied chain
}

// NewPatchLoader creates an empty PatchLoader.
func NewPatchLoader() *PatchLoader {
	return &PatchLoader{
		validator: validation.NewPatchValidator(),
		chains:    make(map[string][]models.PatchChainMember),
	}
}

// Apply validates and applies one JSON Patch document (a JSON array of
// {op, path, value?} operations) against bp, returning the patched
// blueprint. The original bp is left untouched. blueprintID identifies
// the chain to append to.
func (p *PatchLoader) Apply(blueprintID string, bp *validator.Blueprint, patchDoc []byte) (*validator.Blueprint, error) {
	var rawOps []map[string]interface{}
	if err := json.Unmarshal(patchDoc, &rawOps); err != nil {
		return nil, fmt.Errorf("patch document is not a valid JSON Patch array: %w", err)
	}
	if err := p.validator.ValidateOperations(rawOps); err != nil {
		return nil, err
	}

	patch, err := jsonpatch.DecodePatch(patchDoc)
	if err != nil {
		return nil, fmt.Errorf("decode patch: %w", err)
	}

	original, err := json.Marshal(bp)
	if err != nil {
		return nil, fmt.Errorf("marshal base blueprint: %w", err)
	}
	patched, err := patch.Apply(original)
	if err != nil {
		return nil, fmt.Errorf("apply patch: %w", err)
	}

	var result validator.Blueprint
	if err := json.Unmarshal(patched, &result); err != nil {
		return nil, fmt.Errorf("unmarshal patched blueprint: %w", err)
	}

	// A patched blueprint must still pass compilation; a structurally
	// valid JSON Patch can still produce a semantically broken plan (a
	// dangling dependency, an unknown kind).
	if _, _, err := validator.ValidateWithDeprecations(&result); err != nil {
		return nil, fmt.Errorf("patched blueprint failed validation: %w", err)
	}

	p.record(blueprintID)
	return &result, nil
}

// record appends one link to blueprintID's patch chain.
func (p *PatchLoader) record(blueprintID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	chain := p.chains[blueprintID]
	member := models.PatchChainMember{
		HeadID:   uuid.New(),
		Seq:      len(chain) + 1,
		MemberID: uuid.New(),
	}
	p.chains[blueprintID] = append(chain, member)
}

// Chain returns the ordered patch history recorded for blueprintID.
func (p *PatchLoader) Chain(blueprintID string) []models.PatchChainMember {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]models.PatchChainMember{}, p.chains[blueprintID]...)
}
