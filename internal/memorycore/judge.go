package memorycore

import (
	"context"
	"encoding/json"
	"strings"

	"mnemo/internal/llmx"
	"mnemo/internal/mnemoerr"
	"mnemo/internal/observability"
	"mnemo/internal/storage"
)

// Verdict is the Judging pass' parsed result (spec.md §4.5.3).
type Verdict struct {
	Outcome      storage.Outcome
	Score        float64
	Reasoning    string
	Learnings    []LearningStub
	ErrorContext *storage.ErrorContext
}

// LearningStub is a candidate memory item the judge proposes, refined
// further during Extraction.
type LearningStub struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Content     string `json:"content"`
}

type rawVerdict struct {
	Verdict      string                 `json:"verdict"`
	Score        json.Number            `json:"score"`
	Reasoning    string                 `json:"reasoning"`
	Learnings    []LearningStub         `json:"learnings"`
	ErrorContext *storage.ErrorContext `json:"error_context"`
}

const judgeSystemPrompt = `You are a strict judge of coding-task trajectories. Given the task and the final output, respond with a single JSON object with fields: verdict ("success", "failure", or "partial"), score (0 to 1), reasoning (string), learnings (array of {title, description, content}), and when verdict is "failure", error_context ({error_type, failure_pattern, corrective_guidance}). Respond with JSON only, no prose, no markdown fences.`

// Judge runs the LLM-as-judge pass over a task and its final trajectory
// output, parsing the response with the coercion rules spec.md §4.5.3
// requires: fence stripping, score clamped to [0,1], unknown verdicts
// coerced to "partial", learnings defaulted to an empty list.
func (c *Core) Judge(ctx context.Context, task, output string) (Verdict, error) {
	resp, err := c.oracle.Create(ctx, llmx.Request{
		Model:       c.cfg.JudgeModel,
		Temperature: 0,
		Messages: []llmx.Message{
			{Role: "system", Content: judgeSystemPrompt},
			{Role: "user", Content: "Task:\n" + task + "\n\nFinal output:\n" + output},
		},
	})
	if err != nil {
		return Verdict{}, mnemoerr.Wrap(mnemoerr.LLMGeneration, "memorycore: judge call failed", err, nil)
	}
	v, err := parseVerdict(resp.Content)
	if err != nil {
		log := observability.LoggerWithTrace(ctx)
		log.Warn().Str("raw_judge_output_redacted", observability.RedactString(resp.Content, 300)).Msg("memorycore_judge_parse_failed")
	}
	return v, err
}

func parseVerdict(raw string) (Verdict, error) {
	cleaned := stripCodeFences(raw)

	var rv rawVerdict
	if err := json.Unmarshal([]byte(cleaned), &rv); err != nil {
		return Verdict{}, mnemoerr.Wrap(mnemoerr.JSONParse, "memorycore: judge response is not a JSON object", err, map[string]any{"raw": truncateForLog(raw)})
	}

	v := Verdict{
		Reasoning: rv.Reasoning,
		Learnings: rv.Learnings,
	}

	switch storage.Outcome(rv.Verdict) {
	case storage.OutcomeSuccess, storage.OutcomeFailure, storage.OutcomePartial:
		v.Outcome = storage.Outcome(rv.Verdict)
	default:
		v.Outcome = storage.OutcomePartial
	}

	if score, err := rv.Score.Float64(); err == nil {
		v.Score = clamp01(score)
	}

	if v.Learnings == nil {
		v.Learnings = []LearningStub{}
	}

	if v.Outcome == storage.OutcomeFailure {
		v.ErrorContext = rv.ErrorContext
	}

	return v, nil
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func truncateForLog(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
