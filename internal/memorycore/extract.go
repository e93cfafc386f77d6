package memorycore

import (
	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

// ExtractParams is the input to Extract.
type ExtractParams struct {
	TraceID        string
	WorkspaceID    string
	Verdict        Verdict
	TopRetrieved   *Retrieved // highest-ranked memory used during generation, if any
}

// Extract turns a Judge verdict's learnings into 1-3 persisted memory
// items (spec.md §4.5.4). Only a failure outcome requires at least one item
// to carry the verdict's error_context; partial outcomes persist whatever
// learnings the judge produced, possibly none with an error_context. Items
// inherit workspace_id/trace_id; the genealogy chain is seeded from the top
// retrieved memory when it was itself a root (no parent).
func Extract(p ExtractParams) ([]storage.MemoryItem, error) {
	stubs := p.Verdict.Learnings
	if len(stubs) == 0 {
		stubs = []LearningStub{{
			Title:       "Outcome: " + string(p.Verdict.Outcome),
			Description: "Auto-generated from judge reasoning",
			Content:     p.Verdict.Reasoning,
		}}
	}
	if len(stubs) > 3 {
		stubs = stubs[:3]
	}

	needsError := p.Verdict.Outcome == storage.OutcomeFailure
	assignedError := false

	var parentID string
	if p.TopRetrieved != nil && p.TopRetrieved.Memory.ParentMemoryID == "" {
		parentID = p.TopRetrieved.Memory.ID
	}

	items := make([]storage.MemoryItem, 0, len(stubs))
	for _, stub := range stubs {
		item := storage.MemoryItem{
			TraceID:        p.TraceID,
			Title:          stub.Title,
			Description:    stub.Description,
			Content:        stub.Content,
			WorkspaceID:    p.WorkspaceID,
			ParentMemoryID: parentID,
			EvolutionStage: 0,
		}
		if p.TopRetrieved != nil {
			item.EvolutionStage = p.TopRetrieved.Memory.EvolutionStage + 1
		}
		if needsError && !assignedError && p.Verdict.ErrorContext != nil {
			item.ErrorContext = p.Verdict.ErrorContext
			assignedError = true
		}
		items = append(items, item)
	}

	if needsError && !assignedError {
		return nil, mnemoerr.New(mnemoerr.Validation, "memorycore: failure outcome requires an error_context on at least one extracted item", map[string]any{"trace_id": p.TraceID})
	}

	return items, nil
}
