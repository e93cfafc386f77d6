package memorycore

import (
	"context"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// GenealogyNode is one entry in a genealogy walk's result.
type GenealogyNode struct {
	Memory storage.MemoryItem
	Depth  int
}

// Genealogy describes a memory's ancestor and descendant chains.
type Genealogy struct {
	Root        storage.MemoryItem
	Ancestors   []GenealogyNode
	Descendants []GenealogyNode
}

// GetGenealogy walks the parent chain upward to depth ancestors and the
// derived-from chain downward to depth descendants (spec.md §4.5.5). It is
// built exclusively from GetAllMemoriesMetadata, never by reaching into an
// adapter's own indices.
func (c *Core) GetGenealogy(ctx context.Context, workspaceID, memoryID string, depth int) (Genealogy, error) {
	if depth <= 0 || depth > c.cfg.GenealogyMaxDepth {
		depth = c.cfg.GenealogyMaxDepth
	}

	all, err := c.backend.GetAllMemoriesMetadata(ctx, workspaceID)
	if err != nil {
		return Genealogy{}, mnemoerr.Wrap(mnemoerr.Storage, "memorycore: genealogy metadata scan failed", err, nil)
	}

	byID := make(map[string]storage.MemoryItem, len(all))
	derivedFromIndex := make(map[string][]string) // parent_id -> children that list it in derived_from
	for _, m := range all {
		byID[m.ID] = m
		for _, parent := range m.DerivedFrom {
			derivedFromIndex[parent] = append(derivedFromIndex[parent], m.ID)
		}
	}

	root, ok := byID[memoryID]
	if !ok {
		return Genealogy{}, mnemoerr.New(mnemoerr.Storage, "memorycore: memory not found for genealogy", map[string]any{"memory_id": memoryID})
	}

	g := Genealogy{Root: root}

	cur := root
	for i := 0; i < depth && cur.ParentMemoryID != ""; i++ {
		parent, ok := byID[cur.ParentMemoryID]
		if !ok {
			break
		}
		g.Ancestors = append(g.Ancestors, GenealogyNode{Memory: parent, Depth: i + 1})
		cur = parent
	}

	frontier := []string{memoryID}
	seen := map[string]bool{memoryID: true}
	for d := 1; d <= depth && len(frontier) > 0; d++ {
		var next []string
		for _, id := range frontier {
			for _, childID := range derivedFromIndex[id] {
				if seen[childID] {
					continue
				}
				seen[childID] = true
				child := byID[childID]
				g.Descendants = append(g.Descendants, GenealogyNode{Memory: child, Depth: d})
				next = append(next, childID)
			}
		}
		frontier = next
	}

	return g, nil
}

// Statistics delegates to the backend for aggregate counters, success
// rate, and distributions (spec.md §4.5.6).
func (c *Core) Statistics(ctx context.Context, workspaceID string) (storage.Statistics, error) {
	stats, err := c.backend.GetStatistics(ctx, workspaceID)
	if err != nil {
		return storage.Statistics{}, mnemoerr.Wrap(mnemoerr.Storage, "memorycore: statistics query failed", err, nil)
	}
	return stats, nil
}

// Retain applies the retention policy, delegating the actual deletion to
// the adapter; freed_bytes_estimate is adapter-best-effort.
func (c *Core) Retain(ctx context.Context, retentionDays int, workspaceID string) (storage.RetentionResult, error) {
	result, err := c.backend.DeleteOldTraces(ctx, retentionDays, workspaceID)
	if err != nil {
		return storage.RetentionResult{}, mnemoerr.Wrap(mnemoerr.Storage, "memorycore: retention delete failed", err, nil)
	}
	return result, nil
}
