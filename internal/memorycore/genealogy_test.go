package memorycore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/storage"
)

type fakeBackend struct {
	storage.Backend
	memories []storage.MemoryItem
}

func (f *fakeBackend) GetAllMemoriesMetadata(ctx context.Context, workspaceID string) ([]storage.MemoryItem, error) {
	return f.memories, nil
}

func TestGetGenealogyWalksAncestorsAndDescendants(t *testing.T) {
	now := time.Now().UTC()
	grandparent := storage.MemoryItem{ID: "gp", CreatedAt: now}
	parent := storage.MemoryItem{ID: "p", ParentMemoryID: "gp", CreatedAt: now}
	root := storage.MemoryItem{ID: "root", ParentMemoryID: "p", CreatedAt: now}
	child := storage.MemoryItem{ID: "child", DerivedFrom: []string{"root"}, CreatedAt: now}

	backend := &fakeBackend{memories: []storage.MemoryItem{grandparent, parent, root, child}}
	core := New(backend, nil, nil, Config{})

	g, err := core.GetGenealogy(context.Background(), "", "root", 5)
	require.NoError(t, err)
	assert.Equal(t, "root", g.Root.ID)
	require.Len(t, g.Ancestors, 2)
	assert.Equal(t, "p", g.Ancestors[0].Memory.ID)
	assert.Equal(t, "gp", g.Ancestors[1].Memory.ID)
	require.Len(t, g.Descendants, 1)
	assert.Equal(t, "child", g.Descendants[0].Memory.ID)
}

func TestGetGenealogyRespectsDepthLimit(t *testing.T) {
	now := time.Now().UTC()
	a := storage.MemoryItem{ID: "a", CreatedAt: now}
	b := storage.MemoryItem{ID: "b", ParentMemoryID: "a", CreatedAt: now}
	c := storage.MemoryItem{ID: "c", ParentMemoryID: "b", CreatedAt: now}

	backend := &fakeBackend{memories: []storage.MemoryItem{a, b, c}}
	core := New(backend, nil, nil, Config{GenealogyMaxDepth: 5})

	g, err := core.GetGenealogy(context.Background(), "", "c", 1)
	require.NoError(t, err)
	require.Len(t, g.Ancestors, 1)
	assert.Equal(t, "b", g.Ancestors[0].Memory.ID)
}
