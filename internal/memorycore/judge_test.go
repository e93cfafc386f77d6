package memorycore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

func TestParseVerdictStripsCodeFences(t *testing.T) {
	raw := "```json\n{\"verdict\":\"success\",\"score\":0.9,\"reasoning\":\"ok\",\"learnings\":[]}\n```"
	v, err := parseVerdict(raw)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomeSuccess, v.Outcome)
	assert.InDelta(t, 0.9, v.Score, 0.0001)
}

func TestParseVerdictCoercesUnknownVerdictToPartial(t *testing.T) {
	v, err := parseVerdict(`{"verdict":"maybe","score":0.5,"learnings":[]}`)
	require.NoError(t, err)
	assert.Equal(t, storage.OutcomePartial, v.Outcome)
}

func TestParseVerdictClampsScore(t *testing.T) {
	v, err := parseVerdict(`{"verdict":"success","score":5,"learnings":[]}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, v.Score)
}

func TestParseVerdictDefaultsLearningsToEmptyList(t *testing.T) {
	v, err := parseVerdict(`{"verdict":"success","score":1}`)
	require.NoError(t, err)
	assert.NotNil(t, v.Learnings)
	assert.Len(t, v.Learnings, 0)
}

func TestParseVerdictRejectsNonObjectPayload(t *testing.T) {
	_, err := parseVerdict(`not json at all`)
	require.Error(t, err)
	var mErr *mnemoerr.Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, mnemoerr.JSONParse, mErr.Kind)
}

func TestExtractRequiresErrorContextOnFailure(t *testing.T) {
	_, err := Extract(ExtractParams{
		TraceID:     "t1",
		WorkspaceID: "w1",
		Verdict:     Verdict{Outcome: storage.OutcomeFailure},
	})
	require.Error(t, err)
}

func TestExtractSeedsParentFromTopRetrieved(t *testing.T) {
	top := Retrieved{Memory: storage.MemoryItem{ID: "root-mem", ParentMemoryID: ""}}
	items, err := Extract(ExtractParams{
		TraceID:      "t1",
		WorkspaceID:  "w1",
		Verdict:      Verdict{Outcome: storage.OutcomeSuccess, Learnings: []LearningStub{{Title: "a", Content: "b"}}},
		TopRetrieved: &top,
	})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "root-mem", items[0].ParentMemoryID)
}

func TestExtractCapsAtThreeItems(t *testing.T) {
	learnings := []LearningStub{{Title: "a"}, {Title: "b"}, {Title: "c"}, {Title: "d"}}
	items, err := Extract(ExtractParams{
		TraceID:     "t1",
		WorkspaceID: "w1",
		Verdict:     Verdict{Outcome: storage.OutcomeSuccess, Learnings: learnings},
	})
	require.NoError(t, err)
	assert.Len(t, items, 3)
}
