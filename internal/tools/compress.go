package tools

import (
	"strings"

	"mnemo/internal/util"
)

// compressPrompt keeps at most maxTokens (if positive) and/or
// compressionRatio (if in (0,1)) of the prompt's whitespace-separated words
// by dropping whole words from the middle, keeping a head and tail slice so
// surrounding context survives. The budget is counted in words; the returned
// token counts come from util.CountTokens, which also counts punctuation and
// the "[…]" marker, so tokensAfter can exceed maxTokens.
func compressPrompt(prompt string, maxTokens int, compressionRatio float64) (compressed string, tokensBefore int, tokensAfter int) {
	words := strings.Fields(prompt)
	tokensBefore = util.CountTokens(prompt)

	target := len(words)
	if compressionRatio > 0 && compressionRatio < 1 {
		target = int(float64(len(words)) * compressionRatio)
	}
	if maxTokens > 0 && maxTokens < target {
		target = maxTokens
	}
	if target >= len(words) || target <= 0 {
		return prompt, tokensBefore, tokensBefore
	}

	headLen := target / 2
	tailLen := target - headLen
	head := words[:headLen]
	tail := words[len(words)-tailLen:]

	var b strings.Builder
	b.WriteString(strings.Join(head, " "))
	b.WriteString(" […] ")
	b.WriteString(strings.Join(tail, " "))
	compressed = b.String()
	tokensAfter = util.CountTokens(compressed)
	return compressed, tokensBefore, tokensAfter
}
