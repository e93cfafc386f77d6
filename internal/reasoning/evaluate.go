package reasoning

import (
	"encoding/json"
	"strings"

	"mnemo/internal/mnemoerr"
)

type rawEvaluation struct {
	Score    json.Number `json:"score"`
	Feedback string      `json:"feedback"`
}

// parseEvaluation parses the EVALUATE step's deterministic JSON response,
// clamping score into [0,1] the same way Judge's verdict parsing does.
func parseEvaluation(raw string) (score float64, feedback string, err error) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var rv rawEvaluation
	if jsonErr := json.Unmarshal([]byte(cleaned), &rv); jsonErr != nil {
		return 0, "", mnemoerr.Wrap(mnemoerr.JSONParse, "reasoning: evaluate response is not a JSON object", jsonErr, nil)
	}

	s, _ := rv.Score.Float64()
	if s < 0 {
		s = 0
	}
	if s > 1 {
		s = 1
	}
	return s, rv.Feedback, nil
}
