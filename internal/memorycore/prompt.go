package memorycore

import (
	"fmt"
	"strings"

	"mnemo/internal/storage"
	"mnemo/internal/util"
)

// RenderPrompt formats retrieved memories into a labeled system-prompt
// block, following the teacher's formatExperience template, then appends
// the current task. Memories with error_context get a warning marker.
// Overflow past the token budget truncates lowest-ranked entries first.
func RenderPrompt(task string, retrieved []Retrieved, tokenBudget int) string {
	if len(retrieved) == 0 {
		return task
	}

	var b strings.Builder
	b.WriteString("## Past Relevant Experiences\n\n")
	b.WriteString("Below are similar tasks from memory, ranked by relevance. Use them to avoid repeat mistakes and reuse successful strategies.\n\n")

	used := util.CountTokens(b.String())
	taskTokens := util.CountTokens(task) + util.CountTokens("## Current Task\n\n")
	budgetForMemories := tokenBudget - taskTokens

	var blocks []string
	for i, r := range retrieved {
		block := formatMemory(i+1, r.Memory)
		blockTokens := util.CountTokens(block)
		if used+blockTokens > budgetForMemories && len(blocks) > 0 {
			break
		}
		blocks = append(blocks, block)
		used += blockTokens
	}

	for _, block := range blocks {
		b.WriteString(block)
		b.WriteString("\n\n")
	}

	b.WriteString("## Current Task\n\n")
	b.WriteString(task)
	b.WriteString("\n")
	return b.String()
}

func formatMemory(rank int, m storage.MemoryItem) string {
	var s strings.Builder
	fmt.Fprintf(&s, "### Memory %d: %s\n", rank, m.Title)
	if m.ErrorContext != nil {
		s.WriteString("**⚠ WARNING — prior failure**\n")
		fmt.Fprintf(&s, "**Error type:** %s\n", m.ErrorContext.ErrorType)
		fmt.Fprintf(&s, "**Failure pattern:** %s\n", m.ErrorContext.FailurePattern)
		fmt.Fprintf(&s, "**Corrective guidance:** %s\n", m.ErrorContext.CorrectiveGuidance)
	}
	if m.Description != "" {
		fmt.Fprintf(&s, "%s\n", m.Description)
	}
	fmt.Fprintf(&s, "%s", m.Content)
	return s.String()
}
