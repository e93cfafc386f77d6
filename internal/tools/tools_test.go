package tools

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/mnemoerr"
)

func TestFailureOfTranslatesMnemoError(t *testing.T) {
	err := mnemoerr.New(mnemoerr.Validation, "task too short", map[string]any{"task": "hi"})
	env := failureOf(err)

	assert.False(t, env.Success)
	assert.Equal(t, string(mnemoerr.Validation), env.ErrorKind)
	assert.Equal(t, "task too short", env.Message)
	assert.Equal(t, "hi", env.Context["task"])
}

func TestFailureOfFallsBackOnPlainError(t *testing.T) {
	env := failureOf(assertErr("boom"))
	assert.False(t, env.Success)
	assert.Equal(t, string(mnemoerr.Storage), env.ErrorKind)
	assert.Equal(t, "boom", env.Message)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestValidWorkspaceIDAllowsEmpty(t *testing.T) {
	id, err := validWorkspaceID("")
	require.NoError(t, err)
	assert.Equal(t, "", id)
}

func TestValidWorkspaceIDRejectsTraversal(t *testing.T) {
	_, err := validWorkspaceID("../etc")
	require.Error(t, err)
	mErr, ok := mnemoerr.As(err)
	require.True(t, ok)
	assert.Equal(t, mnemoerr.Validation, mErr.Kind)
}

func TestCompressPromptNoopBelowTarget(t *testing.T) {
	compressed, before, after := compressPrompt("short prompt", 100, 0)
	assert.Equal(t, "short prompt", compressed)
	assert.Equal(t, before, after)
}

func TestCompressPromptHonorsRatio(t *testing.T) {
	words := make([]string, 0, 40)
	for i := 0; i < 40; i++ {
		words = append(words, "word")
	}
	var prompt string
	for _, w := range words {
		prompt += w + " "
	}

	compressed, before, after := compressPrompt(prompt, 0, 0.25)
	assert.Less(t, after, before)
	assert.Contains(t, compressed, "[…]")
}

func TestCompressPromptHonorsMaxTokens(t *testing.T) {
	prompt := "one two three four five six seven eight nine ten"
	_, before, after := compressPrompt(prompt, 3, 0)
	assert.Less(t, after, before)
}

func TestRecorderAccumulatesAndResets(t *testing.T) {
	r := NewRecorder()
	r.Record("solve_coding_task", 10)
	r.Record("solve_coding_task", 20)
	r.RecordError("solve_coding_task", 5)

	snap := r.Snapshot(false)
	m := snap["solve_coding_task"]
	assert.EqualValues(t, 3, m.Calls)
	assert.EqualValues(t, 1, m.Errors)
	assert.EqualValues(t, 35, m.TotalLatency)
	assert.EqualValues(t, 20, m.MaxLatency)

	snap2 := r.Snapshot(true)
	assert.Len(t, snap2, 1)
	assert.Empty(t, r.Snapshot(false))
}
