// ABOUTME: Serial batching helper for graph lookups.
// ABOUTME: Deduplicates inputs preserving order and concatenates batch results as returned.

package vanta

import "context"

// DefaultBatchSize is the number of names or shas sent per lookup query
const DefaultBatchSize = 100

func runInBatches[T any](ctx context.Context, items []string, size int, fn func(context.Context, []string) ([]T, error)) ([]T, error) {
	if size <= 0 {
		size = DefaultBatchSize
	}

	unique := newStringSet()
	for _, item := range items {
		unique.Add(item)
	}
	all := unique.Items()

	var out []T
	for start := 0; start < len(all); start += size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		end := min(start+size, len(all))
		rows, err := fn(ctx, all[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, rows...)
	}
	return out, nil
}
