package memorycore

import (
	"context"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// StoreResult persists a completed reasoning trace and its extracted
// memory items via the Storage Backend Interface. This is the reasoning
// engine's only store_trace call site (spec.md §4.6); Capture writes its
// single-memory trace through the backend directly. On failure the caller
// must not retry storage itself.
func (c *Core) StoreResult(ctx context.Context, trace storage.ReasoningTrace, items []storage.MemoryItem) (string, error) {
	for i := range items {
		if len(items[i].ContentEmbedding) == 0 && items[i].Content != "" {
			vecs, err := c.encoder.EncodeBatch(ctx, []string{items[i].Content})
			if err != nil {
				return "", mnemoerr.Wrap(mnemoerr.Embedding, "memorycore: embed memory content failed", err, nil)
			}
			items[i].ContentEmbedding = vecs[0]
		}
	}

	traceID, err := c.backend.StoreTrace(ctx, trace, items)
	if err != nil {
		return "", mnemoerr.Wrap(mnemoerr.Storage, "memorycore: store trace failed", err, nil)
	}
	return traceID, nil
}
