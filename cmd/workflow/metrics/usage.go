// usage.go implements the token/cost accounting facility from spec.md
// §4.8 ("Metrics"), distinct from the runtime/system capture in
// runtime.go (kept from the teacher almost verbatim — see package doc in
// that file's header comment above).
package metrics

import (
	"sync"

	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
)

// KindSummary aggregates usage across every node of one NodeKind.
type KindSummary struct {
	Count       int
	TotalTokens int64
	TotalCost   float64
}

// Average returns the per-node average token count for this kind.
func (s KindSummary) Average() float64 {
	if s.Count == 0 {
		return 0
	}
	return float64(s.TotalTokens) / float64(s.Count)
}

// Collector accumulates per-node usage records keyed by NodeKind then
// node_id, and serves totals/per-kind summaries. Safe for concurrent use
// from multiple nodes executing within the same level.
type Collector struct {
	mu      sync.Mutex
	perNode map[sdk.NodeKind]map[string]*sdk.Usage
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{perNode: make(map[sdk.NodeKind]map[string]*sdk.Usage)}
}

// Record stores nodeID's usage under kind. A nil usage is a no-op (not
// every node kind reports usage).
func (c *Collector) Record(kind sdk.NodeKind, nodeID string, usage *sdk.Usage) {
	if usage == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.perNode[kind] == nil {
		c.perNode[kind] = make(map[string]*sdk.Usage)
	}
	c.perNode[kind][nodeID] = usage
}

// Totals returns the sum of total_tokens and total_cost across every
// recorded node.
func (c *Collector) Totals() (totalTokens int64, totalCost float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, byNode := range c.perNode {
		for _, u := range byNode {
			totalTokens += u.TotalTokens
			totalCost += u.TotalCost
		}
	}
	return
}

// KindSummaries returns a count/sum/average summary per NodeKind.
func (c *Collector) KindSummaries() map[sdk.NodeKind]KindSummary {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[sdk.NodeKind]KindSummary, len(c.perNode))
	for kind, byNode := range c.perNode {
		var s KindSummary
		for _, u := range byNode {
			s.Count++
			s.TotalTokens += u.TotalTokens
			s.TotalCost += u.TotalCost
		}
		out[kind] = s
	}
	return out
}

// Snapshot returns a serializable copy of the kind -> node_id -> usage
// table, suitable for RunResult.TokenStats.
func (c *Collector) Snapshot() map[sdk.NodeKind]map[string]*sdk.Usage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[sdk.NodeKind]map[string]*sdk.Usage, len(c.perNode))
	for kind, byNode := range c.perNode {
		copied := make(map[string]*sdk.Usage, len(byNode))
		for id, u := range byNode {
			copied[id] = u
		}
		out[kind] = copied
	}
	return out
}
