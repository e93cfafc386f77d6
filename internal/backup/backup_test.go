package backup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mnemo/internal/mnemoerr"
	"mnemo/internal/storage"
)

type fakeBackend struct {
	storage.Backend
	traces    []storage.ReasoningTrace
	memories  []storage.MemoryItem
	inserted  bool
	overwrite bool
}

func (f *fakeBackend) ListAllForBackup(ctx context.Context, workspaceID string, since time.Time) ([]storage.ReasoningTrace, []storage.MemoryItem, error) {
	return f.traces, f.memories, nil
}

func (f *fakeBackend) InsertRaw(ctx context.Context, traces []storage.ReasoningTrace, memories []storage.MemoryItem, overwrite bool) error {
	f.inserted = true
	f.overwrite = overwrite
	f.traces = traces
	f.memories = memories
	return nil
}

func sampleBackend() *fakeBackend {
	return &fakeBackend{
		traces: []storage.ReasoningTrace{
			{ID: "t1", Task: "solve it", Outcome: storage.OutcomeSuccess, WorkspaceID: "ws1"},
		},
		memories: []storage.MemoryItem{
			{ID: "m1", TraceID: "t1", Title: "lesson", WorkspaceID: "ws1"},
		},
	}
}

func TestCreateThenValidateRoundTrips(t *testing.T) {
	backend := sampleBackend()
	mgr := New(backend)

	raw, manifest, err := mgr.Create(context.Background(), "ws1", time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, manifest.TraceCount)
	assert.Equal(t, 1, manifest.MemoryCount)

	archive, err := Validate(raw)
	require.NoError(t, err)
	assert.Equal(t, manifest.Checksum, archive.Manifest.Checksum)
	require.Len(t, archive.Traces, 1)
	assert.Equal(t, "t1", archive.Traces[0].ID)
	require.Len(t, archive.Memories, 1)
	assert.Equal(t, "m1", archive.Memories[0].ID)
}

func TestValidateRejectsTamperedChecksum(t *testing.T) {
	backend := sampleBackend()
	mgr := New(backend)

	raw, _, err := mgr.Create(context.Background(), "ws1", time.Time{})
	require.NoError(t, err)

	raw[len(raw)-1] ^= 0xFF

	_, err = Validate(raw)
	require.Error(t, err)
}

func TestRestoreRemapsWorkspaceID(t *testing.T) {
	src := sampleBackend()
	mgr := New(src)
	raw, _, err := mgr.Create(context.Background(), "ws1", time.Time{})
	require.NoError(t, err)

	dst := &fakeBackend{}
	dstMgr := New(dst)
	_, err = dstMgr.Restore(context.Background(), raw, "ws2", true)
	require.NoError(t, err)

	require.True(t, dst.inserted)
	assert.True(t, dst.overwrite)
	require.Len(t, dst.memories, 1)
	assert.Equal(t, "ws2", dst.memories[0].WorkspaceID)
	assert.Equal(t, "ws2", dst.traces[0].WorkspaceID)
}

func TestMigrateDryRunDoesNotWrite(t *testing.T) {
	src := sampleBackend()
	dst := &fakeBackend{}

	result, err := Migrate(context.Background(), src, dst, "ws1", true)
	require.NoError(t, err)
	assert.True(t, result.DryRun)
	assert.Equal(t, 1, result.TracesMigrated)
	assert.False(t, dst.inserted)
}

func TestMigrateLiveWritesToDestination(t *testing.T) {
	src := sampleBackend()
	dst := &fakeBackend{}

	result, err := Migrate(context.Background(), src, dst, "ws1", false)
	require.NoError(t, err)
	assert.False(t, result.DryRun)
	assert.True(t, dst.inserted)
	assert.False(t, dst.overwrite)
}

func TestValidateRejectsNonArchivePayload(t *testing.T) {
	_, err := Validate([]byte("not a gzip archive"))
	require.Error(t, err)
	var mErr *mnemoerr.Error
	require.ErrorAs(t, err, &mErr)
	assert.Equal(t, mnemoerr.Storage, mErr.Kind)
}
