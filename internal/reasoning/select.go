package reasoning

import (
	"encoding/json"
	"strings"
)

type rawSelection struct {
	SelectedIndex json.Number `json:"selected_index"`
	Reasoning     string      `json:"reasoning"`
}

// parseSelection parses the self-contrast SELECT step's response, the same
// way parseEvaluation coerces the EVALUATE step's JSON. Returns ok=false
// (never an error) on anything unparseable or out of [0, n) range, since
// self-contrast selection is advisory and the caller falls back to the
// algorithmic score-max index in that case.
func parseSelection(raw string, n int) (index int, ok bool) {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var rs rawSelection
	if err := json.Unmarshal([]byte(cleaned), &rs); err != nil {
		return 0, false
	}
	idx, err := rs.SelectedIndex.Int64()
	if err != nil || idx < 0 || int(idx) >= n {
		return 0, false
	}
	return int(idx), true
}
