package memorycore

import (
	"context"

	"github.com/google/uuid"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// CaptureParams mirrors the capture_knowledge tool's inputs (spec.md §6).
type CaptureParams struct {
	Question    string
	Answer      string
	ForceStore  bool
	WorkspaceID string
}

// CaptureResult reports what capture_knowledge decided and, if it stored
// anything, the new memory's id.
type CaptureResult struct {
	Quality   float64
	Stored    bool
	MemoryID  string
	Reasoning string
}

const captureQualityThreshold = 0.5

// Capture judges a standalone question/answer pair the same way a
// trajectory's final output is judged, then stores it as a memory item when
// either the judged quality clears the threshold or the caller forces it.
func (c *Core) Capture(ctx context.Context, p CaptureParams) (CaptureResult, error) {
	verdict, err := c.Judge(ctx, p.Question, p.Answer)
	if err != nil {
		if !p.ForceStore {
			return CaptureResult{}, err
		}
		verdict = Verdict{Outcome: storage.OutcomePartial, Score: 0, Reasoning: "judging failed; stored because force_store was set"}
	}

	if !p.ForceStore && verdict.Score < captureQualityThreshold {
		return CaptureResult{Quality: verdict.Score, Stored: false, Reasoning: verdict.Reasoning}, nil
	}

	title := p.Question
	if len(title) > 80 {
		title = title[:80] + "..."
	}
	item := storage.MemoryItem{
		ID:          uuid.NewString(),
		Title:       title,
		Description: "captured knowledge",
		Content:     p.Answer,
		WorkspaceID: p.WorkspaceID,
	}
	if verdict.Outcome != storage.OutcomeSuccess {
		item.ErrorContext = verdict.ErrorContext
	}

	vecs, err := c.encoder.EncodeBatch(ctx, []string{item.Content})
	if err != nil {
		return CaptureResult{}, mnemoerr.Wrap(mnemoerr.Embedding, "memorycore: capture embed failed", err, nil)
	}
	item.ContentEmbedding = vecs[0]

	if _, err := c.backend.StoreTrace(ctx, storage.ReasoningTrace{
		Task:        p.Question,
		Outcome:     verdict.Outcome,
		WorkspaceID: p.WorkspaceID,
	}, []storage.MemoryItem{item}); err != nil {
		return CaptureResult{}, mnemoerr.Wrap(mnemoerr.Storage, "memorycore: capture store failed", err, nil)
	}

	return CaptureResult{Quality: verdict.Score, Stored: true, MemoryID: item.ID, Reasoning: verdict.Reasoning}, nil
}
