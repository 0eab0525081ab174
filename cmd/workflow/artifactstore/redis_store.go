// Package artifactstore offloads oversized node outputs (spec.md §4.6
// step 11) to content-addressed storage so the context store only ever
// carries an {"artifact_ref": ...} placeholder for them.
//
// Grounded on the teacher's common/clients/redis_cas.go RedisCASClient
// (SHA256 content hash as key, stored verbatim in Redis with no expiry,
// "always fresh, never cached" read path); narrowed here from a
// CASClient's Get/Put/Store trio down to the Put/Get pair the executor
// uses (as its ArtifactStore and ArtifactFetcher).
package artifactstore

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	redisclient "github.com/flowforge/orchestrator/common/redis"
)

// RedisStore implements executor.ArtifactStore against a shared Redis
// instance, keyed by the SHA256 content hash of the marshaled output so
// identical outputs from different nodes or runs collapse to one entry.
type RedisStore struct {
	client *redisclient.Client
	prefix string
}

// NewRedisStore wraps an already-connected redis client.
func NewRedisStore(client *redisclient.Client) *RedisStore {
	return &RedisStore{client: client, prefix: "cas:artifact:"}
}

// Put marshals value to JSON, stores it under its content hash, and
// returns a "sha256:<hex>" reference. nodeID is accepted for symmetry
// with the ArtifactStore interface and logging context; it does not
// participate in the key so identical payloads dedupe across nodes.
func (s *RedisStore) Put(ctx context.Context, nodeID string, value map[string]interface{}) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("artifactstore: marshal output for node %s: %w", nodeID, err)
	}

	hash := fmt.Sprintf("sha256:%x", sha256.Sum256(data))
	key := s.prefix + hash

	if err := s.client.SetWithExpiry(ctx, key, string(data), 0); err != nil {
		return "", fmt.Errorf("artifactstore: store output for node %s: %w", nodeID, err)
	}
	return hash, nil
}

// Get retrieves a previously stored artifact by its reference. The
// executor calls it (as its ArtifactFetcher) to pull an offloaded output
// back when an input mapping's path reaches into an {"artifact_ref": ...}
// placeholder.
func (s *RedisStore) Get(ctx context.Context, ref string) (map[string]interface{}, error) {
	raw, err := s.client.Get(ctx, s.prefix+ref)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: artifact %s not found: %w", ref, err)
	}
	var value map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &value); err != nil {
		return nil, fmt.Errorf("artifactstore: decode artifact %s: %w", ref, err)
	}
	return value, nil
}
