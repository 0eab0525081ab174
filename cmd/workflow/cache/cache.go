// Package cache implements the content-addressed, per-process node
// result cache (spec.md §4.5). The in-memory implementation is grounded
// on the teacher's common/cache/cache.go MemoryCache (TTL map + periodic
// cleanup goroutine); fingerprinting is new, built on the teacher's
// cespare/xxhash/v2 indirect dependency promoted to direct use here.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/flowforge/orchestrator/cmd/workflow/sdk"
)

// Cache is the interface the node executor consults. Lookup failures and
// internal errors degrade to a no-op (never fatal) per spec.md §4.5.
type Cache interface {
	Get(ctx context.Context, key string) (*sdk.NodeResult, bool)
	Set(ctx context.Context, key string, result *sdk.NodeResult)
	Close() error
}

// Fingerprint computes the stable, content-addressed cache key for one
// node invocation: a hash over {node_id, normalized_config,
// resolved_input_context}. Normalization excludes observability fields
// (this is the canonical choice for the open question in spec.md §9 —
// the source sometimes included the full config including metadata; here
// metadata never participates in the hash). The hash is invariant under
// key-order permutation of maps because canonicalJSON sorts map keys
// recursively before hashing.
func Fingerprint(nodeID string, normalizedConfig map[string]interface{}, resolvedInput map[string]interface{}) (string, error) {
	payload := map[string]interface{}{
		"node_id": nodeID,
		"config":  normalizedConfig,
		"input":   resolvedInput,
	}
	canon, err := canonicalJSON(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}
	h := xxhash.Sum64(canon)
	return fmt.Sprintf("%016x", h), nil
}

// canonicalJSON renders v to JSON with map keys sorted at every level, so
// the byte output (and therefore the hash) does not depend on map
// iteration order.
func canonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalize(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}

func normalize(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]orderedField, 0, len(keys))
		for _, k := range keys {
			nv, err := normalize(val[k])
			if err != nil {
				return nil, err
			}
			out = append(out, orderedField{Key: k, Value: nv})
		}
		return orderedMap(out), nil
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			nv, err := normalize(item)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		return val, nil
	}
}

type orderedField struct {
	Key   string
	Value interface{}
}

// orderedMap marshals as a JSON object preserving the sorted field order
// computed in normalize, rather than re-sorting via encoding/json's own
// (already-sorted, but we avoid relying on that implementation detail).
type orderedMap []orderedField

func (m orderedMap) MarshalJSON() ([]byte, error) {
	buf := []byte{'{'}
	for i, f := range m {
		if i > 0 {
			buf = append(buf, ',')
		}
		keyJSON, err := json.Marshal(f.Key)
		if err != nil {
			return nil, err
		}
		valJSON, err := json.Marshal(f.Value)
		if err != nil {
			return nil, err
		}
		buf = append(buf, keyJSON...)
		buf = append(buf, ':')
		buf = append(buf, valJSON...)
	}
	buf = append(buf, '}')
	return buf, nil
}

// NormalizeConfig strips observability-only fields from a NodeConfig
// before it participates in a fingerprint: only the fields that affect
// what the executor actually does are retained.
func NormalizeConfig(n *sdk.NodeConfig) map[string]interface{} {
	m := map[string]interface{}{
		"kind":            string(n.Kind),
		"input_schema":    schemaToMap(n.InputSchema),
		"output_schema":   schemaToMap(n.OutputSchema),
		"output_mappings": n.OutputMappings,
	}
	switch n.Kind {
	case sdk.KindTool:
		if n.Tool != nil {
			m["tool_name"] = n.Tool.ToolName
			m["tool_args"] = n.Tool.ToolArgs
		}
	case sdk.KindLLM:
		if n.LLM != nil {
			m["model"] = n.LLM.Model
			m["prompt"] = n.LLM.Prompt
			m["llm_config"] = n.LLM.LLMConfig
		}
	case sdk.KindCode:
		if n.Code != nil {
			m["code"] = n.Code.Code
			m["language"] = n.Code.Language
		}
	case sdk.KindCondition:
		if n.Condition != nil {
			m["expression"] = n.Condition.Expression
			m["true_branch"] = len(n.Condition.TrueBranch)
			m["false_branch"] = len(n.Condition.FalseBranch)
		}
	case sdk.KindLoop:
		if n.Loop != nil {
			m["items_source"] = n.Loop.ItemsSource
			m["item_var"] = n.Loop.ItemVar
			m["parallel"] = n.Loop.Parallel
			m["max_iterations"] = n.Loop.MaxIterations
			m["body"] = len(n.Loop.Body)
		}
	case sdk.KindParallel:
		if n.Parallel != nil {
			m["max_concurrency"] = n.Parallel.MaxConcurrency
			m["branches"] = len(n.Parallel.Branches)
		}
	case sdk.KindWorkflow:
		if n.Workflow != nil {
			m["workflow_ref"] = n.Workflow.WorkflowRef
			m["exposed_outputs"] = n.Workflow.ExposedOutputs
		}
	}
	return m
}

func schemaToMap(schema map[string]sdk.FieldType) map[string]string {
	out := make(map[string]string, len(schema))
	for k, ft := range schema {
		out[k] = ft.String()
	}
	return out
}

// MemoryCache is the default in-memory, process-lifetime cache
// implementation, grounded on the teacher's MemoryCache (map + RWMutex +
// periodic TTL cleanup goroutine), adapted to store NodeResult instead of
// opaque bytes and to interpret ttl<=0 as "never expires" (cache entries
// live for the process lifetime per spec.md §3 Lifecycle).
type MemoryCache struct {
	mu     sync.RWMutex
	data   map[string]*cacheEntry
	ttl    time.Duration
	stopCh chan struct{}
}

type cacheEntry struct {
	result    *sdk.NodeResult
	expiresAt time.Time
}

// NewMemoryCache creates a cache whose entries expire after ttl (0 means
// they never expire).
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	c := &MemoryCache{
		data:   make(map[string]*cacheEntry),
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	if ttl > 0 {
		go c.cleanupLoop()
	}
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) (*sdk.NodeResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.data[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		return nil, false
	}
	return e.result, true
}

func (c *MemoryCache) Set(ctx context.Context, key string, result *sdk.NodeResult) {
	if result == nil || !result.Success {
		return // only successful NodeResults are stored
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}
	c.data[key] = &cacheEntry{result: result, expiresAt: expiresAt}
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	c.data = nil
	return nil
}

func (c *MemoryCache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for k, e := range c.data {
				if now.After(e.expiresAt) {
					delete(c.data, k)
				}
			}
			c.mu.Unlock()
		}
	}
}

// Size returns the number of live entries (test/introspection helper).
func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}
