package workspace

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

type fakeBackend struct {
	storage.Backend
	deleted string
}

func (f *fakeBackend) DeleteWorkspace(ctx context.Context, workspaceID string) (storage.WorkspaceDeletionResult, error) {
	f.deleted = workspaceID
	return storage.WorkspaceDeletionResult{DeletedTraces: 2, DeletedMemories: 5}, nil
}

func TestDeriveIDIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	id1, err := DeriveID(dir)
	require.NoError(t, err)
	id2, err := DeriveID(dir + string(os.PathSeparator))
	require.NoError(t, err)
	assert.Equal(t, id1, id2)
}

func TestSetRejectsNonDirectory(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "file")
	require.NoError(t, err)
	defer f.Close()

	m := New(nil)
	_, err = m.Set(f.Name())
	require.Error(t, err)
	var mErr *mnemoerr.Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, mnemoerr.Validation, mErr.Kind)
}

func TestDeleteRequiresConfirmation(t *testing.T) {
	m := New(&fakeBackend{})
	_, err := m.Delete(context.Background(), "ws1", false)
	require.Error(t, err)
	var mErr *mnemoerr.Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, mnemoerr.ConfirmationReq, mErr.Kind)
}

func TestDeleteClearsMatchingCurrentWorkspace(t *testing.T) {
	dir := t.TempDir()
	backend := &fakeBackend{}
	m := New(backend)
	s, err := m.Set(dir)
	require.NoError(t, err)

	_, err = m.Delete(context.Background(), s.ID, true)
	require.NoError(t, err)

	_, ok := m.Get()
	assert.False(t, ok)
	assert.Equal(t, s.ID, backend.deleted)
}
