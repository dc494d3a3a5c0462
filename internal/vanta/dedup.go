// ABOUTME: Structural deduplication of destination records.
// ABOUTME: Records are keyed by an xxhash of their canonical JSON form.

package vanta

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/DaYuM/airbyte-connectors/internal/types"
)

// canonicalJSON re-encodes a record through a generic value so object keys come out sorted
func canonicalJSON(record types.DestinationRecord) ([]byte, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

// dedupRecords keeps the first occurrence of each structurally distinct record
func dedupRecords(records []types.DestinationRecord) ([]types.DestinationRecord, error) {
	seen := make(map[uint64][][]byte, len(records))
	out := make([]types.DestinationRecord, 0, len(records))

	for _, record := range records {
		canonical, err := canonicalJSON(record)
		if err != nil {
			return nil, fmt.Errorf("failed to canonicalize %s record: %w", record.Model, err)
		}
		sum := xxhash.Sum64(canonical)
		duplicate := false
		for _, prior := range seen[sum] {
			if bytes.Equal(prior, canonical) {
				duplicate = true
				break
			}
		}
		if duplicate {
			continue
		}
		seen[sum] = append(seen[sum], canonical)
		out = append(out, record)
	}
	return out, nil
}
