// ABOUTME: Query and mutation boundary of the Faros graph.
// ABOUTME: Defines the Client contract and typed decoding of rows keyed by model name.

package graph

import (
	"context"
	"encoding/json"
	"fmt"
)

// Response maps a root field (model name) to its raw rows
type Response map[string]json.RawMessage

// Client abstracts the remote graph; implementations must be safe to call serially
type Client interface {
	Query(ctx context.Context, graph, query string, variables map[string]any) (Response, error)
	Mutate(ctx context.Context, graph, mutation string) error
}

// Rows decodes the rows stored under key. ok is false when the key is absent or null.
func Rows[T any](resp Response, key string) (rows []T, ok bool, err error) {
	raw, exists := resp[key]
	if !exists || len(raw) == 0 || string(raw) == "null" {
		return nil, false, nil
	}
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, true, fmt.Errorf("failed to decode %s rows: %w", key, err)
	}
	return rows, true, nil
}
