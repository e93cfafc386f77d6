package reasoning

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/llmx"
)

func TestParseEvaluationClampsScore(t *testing.T) {
	s, feedback, err := parseEvaluation(`{"score": 3, "feedback": "too verbose"}`)
	require.NoError(t, err)
	assert.Equal(t, 1.0, s)
	assert.Equal(t, "too verbose", feedback)
}

func TestParseEvaluationStripsFences(t *testing.T) {
	s, _, err := parseEvaluation("```json\n{\"score\":0.4,\"feedback\":\"ok\"}\n```")
	require.NoError(t, err)
	assert.InDelta(t, 0.4, s, 0.0001)
}

func TestSplitThoughtOutputSeparatesOnMarker(t *testing.T) {
	thought, output, err := splitThoughtOutput("reasoning here\n---\nfinal answer")
	require.NoError(t, err)
	assert.Equal(t, "reasoning here", thought)
	assert.Equal(t, "final answer", output)
}

func TestSplitThoughtOutputNoMarkerIsAllOutput(t *testing.T) {
	_, output, err := splitThoughtOutput("just the answer")
	require.NoError(t, err)
	assert.Equal(t, "just the answer", output)
}

type stubOracle struct {
	responses []string
	calls     int
}

func (s *stubOracle) Create(ctx context.Context, req llmx.Request) (llmx.Response, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return llmx.Response{Content: s.responses[i]}, nil
}

func TestRunSingleTrajectoryDetectsLoop(t *testing.T) {
	oracle := &stubOracle{responses: []string{
		"thought1\n---\nsame output",             // generate
		`{"score":0.1,"feedback":"try again"}`,    // evaluate (iter 1)
		"same output",                             // refine -> identical hash
	}}
	e := New(oracle, nil, Config{MaxIterations: 5, SuccessThreshold: 0.8})

	steps, output, _, err := e.runSingleTrajectory(context.Background(), "sys", "task", 0)
	require.NoError(t, err)
	assert.Equal(t, "same output", output)

	var refineCount int
	for _, st := range steps {
		if st.Action == "refine" {
			refineCount++
		}
	}
	assert.Equal(t, 1, refineCount, "loop detection must stop further refinement after the repeated hash")
}

func TestSelectBestTieBreaksOnLowestTrajectoryID(t *testing.T) {
	e := New(&stubOracle{responses: []string{"0"}}, nil, Config{})
	results := []candidateResult{
		{trajectoryID: 0, score: 0.7, output: "a"},
		{trajectoryID: 1, score: 0.7, output: "b"},
		{trajectoryID: 2, score: 0.5, output: "c"},
	}
	idx, err := e.selectBest(context.Background(), "task", results)
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}
