package scratch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/s3client"
)

func sampleState() State {
	return State{
		InstanceName: "testInstance1700000000000",
		ScriptName:   "testScript1700000000000",
		ScriptID:     7,
		RunID:        "0b6f0b9c-5a34-4f57-9b1e-3c0f1f4b9e11",
		CreatedAt:    time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
	}
}

func TestDecode_LegacyArtifact(t *testing.T) {
	t.Parallel()

	legacy := `export default {"email":"e2e@example.com","instanceName":"testInstance1","scriptName":"testScript1"};`
	s, err := Decode([]byte(legacy))
	require.NoError(t, err)
	require.Equal(t, "testInstance1", s.InstanceName)
	require.Equal(t, "testScript1", s.ScriptName)
	require.Equal(t, "e2e@example.com", s.Email)
}

func TestDecode_RejectsTruncatedAndIncomplete(t *testing.T) {
	t.Parallel()

	for name, in := range map[string]string{
		"truncated":      `export default {"instanceName":"testInst`,
		"no script name": `{"instanceName":"testInstance1"}`,
		"empty":          ``,
	} {
		_, err := Decode([]byte(in))
		require.Error(t, err, name)
		require.Equal(t, errs.InvalidArgument, errs.CodeOf(err), name)
	}
}

func TestFileStore_SaveLoadDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tempInstance.json")
	store := NewFileStore(path)

	_, err := store.Load(ctx)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))

	want := sampleState()
	require.NoError(t, store.Save(ctx, want))

	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1, "temp files must not be left behind")

	require.NoError(t, store.Delete(ctx))
	require.NoError(t, store.Delete(ctx))
	_, err = os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestFileStore_SaveRefusesIncompleteState(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "tempInstance.json")
	err := NewFileStore(path).Save(context.Background(), State{InstanceName: "only"})
	require.Error(t, err)
	_, statErr := os.Stat(path)
	require.True(t, os.IsNotExist(statErr))
}

func TestS3Store_SaveLoadDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := s3client.TestServer(t, "e2e-scratch")

	store, err := Open(ctx, "s3://e2e-scratch/runs/current.json", s3client.TestConfig(endpoint, ""))
	require.NoError(t, err)
	require.Equal(t, "s3://e2e-scratch/runs/current.json", store.Location())

	_, err = store.Load(ctx)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))

	want := sampleState()
	require.NoError(t, store.Save(ctx, want))
	got, err := store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, want, got)

	require.NoError(t, store.Delete(ctx))
	_, err = store.Load(ctx)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
}

func TestOpen_Validation(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	_, err := Open(ctx, "", s3client.Config{})
	require.Error(t, err)
	_, err = Open(ctx, "s3://bucket-only", s3client.Config{})
	require.Error(t, err)

	store, err := Open(ctx, "tempInstance.json", s3client.Config{})
	require.NoError(t, err)
	require.IsType(t, &FileStore{}, store)
}
