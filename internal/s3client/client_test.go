package s3client

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/dashboard-e2e/internal/errs"
)

func TestClient_PutGetDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	c := TestClient(t, "scratch-test")
	require.Equal(t, "scratch-test", c.Bucket())

	body := []byte(`{"instanceName":"testInstance1","scriptName":"testScript1"}`)
	require.NoError(t, c.Put(ctx, "runs/a.json", body, map[string]string{"run-id": "r1"}))

	obj, err := c.Get(ctx, "runs/a.json")
	require.NoError(t, err)
	require.JSONEq(t, string(body), string(obj.Body))
	require.Equal(t, "r1", obj.Metadata["run-id"])
	require.False(t, obj.LastModified.IsZero())

	require.NoError(t, c.Delete(ctx, "runs/a.json"))
	require.NoError(t, c.Delete(ctx, "runs/a.json"))

	_, err = c.Get(ctx, "runs/a.json")
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
	require.Contains(t, err.Error(), "s3://scratch-test/runs/a.json")
}

func TestNew_WithTestConfig(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := TestServer(t, "scratch-cfg")

	c, err := New(ctx, TestConfig(endpoint, "scratch-cfg"))
	require.NoError(t, err)
	require.NoError(t, c.Put(ctx, "k", []byte("{}"), nil))
	obj, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, "{}", string(obj.Body))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{Region: "us-east-1"})
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
}

func TestClient_MissingBucketIsUnavailable(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	endpoint := TestServer(t, "scratch-present")

	c, err := New(ctx, TestConfig(endpoint, "scratch-absent"))
	require.NoError(t, err)
	err = c.Put(ctx, "k", []byte("{}"), nil)
	require.Equal(t, errs.Unavailable, errs.CodeOf(err))
}
