// Package ratelimit classifies a submitted blueprint by its resource
// cost (agent/swarm nodes are far costlier than tool/condition nodes)
// and rate-limits submissions per tier, grounded on the teacher's
// workflow_inspector/limiter pair.
package ratelimit

// WorkflowTier represents the rate limit tier based on workflow complexity
type WorkflowTier string

const (
	TierSimple   WorkflowTier = "simple"   // no agent/swarm nodes
	TierStandard WorkflowTier = "standard" // 1-2 agent/swarm nodes
	TierHeavy    WorkflowTier = "heavy"    // 3+ agent/swarm nodes
)

// WorkflowProfile contains analysis of a workflow's complexity
type WorkflowProfile struct {
	Tier          WorkflowTier
	AgentCount    int // agent or swarm nodes
	HasAgentNodes bool
	TotalNodes    int
}

// InspectWorkflow analyzes a decoded blueprint (as a raw map, the shape
// a submission endpoint receives before validation) and determines its
// complexity tier. Blueprints are always wire-encoded with "nodes" as a
// JSON array (validator.Blueprint.Nodes), never a map.
func InspectWorkflow(blueprint map[string]interface{}) WorkflowProfile {
	profile := WorkflowProfile{Tier: TierSimple}

	nodesList, ok := blueprint["nodes"].([]interface{})
	if !ok {
		return profile
	}
	profile.TotalNodes = len(nodesList)

	for _, nodeInterface := range nodesList {
		node, ok := nodeInterface.(map[string]interface{})
		if !ok {
			continue
		}
		kind, _ := node["kind"].(string)
		if kind == "agent" || kind == "swarm" {
			profile.AgentCount++
			profile.HasAgentNodes = true
		}
	}

	profile.Tier = determineTier(profile.AgentCount)
	return profile
}

// determineTier returns the appropriate tier based on agent count
func determineTier(agentCount int) WorkflowTier {
	switch {
	case agentCount == 0:
		return TierSimple
	case agentCount <= 2:
		return TierStandard
	default: // 3+
		return TierHeavy
	}
}

// String returns a human-readable description of the tier
func (t WorkflowTier) String() string {
	switch t {
	case TierSimple:
		return "simple"
	case TierStandard:
		return "standard"
	case TierHeavy:
		return "heavy"
	default:
		return "unknown"
	}
}
