// Package memory keeps the append-only log of solutions the user accepted.
// Both backends store one JSON array and rewrite it whole on every append.
package memory

import (
	"context"
	"encoding/json"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/mathmentor/pkg/model"
)

// Log is an ordered, append-only list of memory entries
type Log interface {
	Append(ctx context.Context, entry model.MemoryEntry) error
	List(ctx context.Context) ([]model.MemoryEntry, error)
}

// decode treats an empty body as an empty log
func decode(data []byte) ([]model.MemoryEntry, error) {
	if len(data) == 0 {
		return []model.MemoryEntry{}, nil
	}

	var entries []model.MemoryEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, goerr.Wrap(err, "failed to decode memory log")
	}
	if entries == nil {
		entries = []model.MemoryEntry{}
	}
	return entries, nil
}

func encode(entries []model.MemoryEntry) ([]byte, error) {
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode memory log")
	}
	return data, nil
}
