package provision_test

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/provision"
	"github.com/kuitang/dashboard-e2e/internal/scratch"
	"github.com/kuitang/dashboard-e2e/internal/syncano"
	"github.com/kuitang/dashboard-e2e/internal/syncano/syncanotest"
)

const (
	testEmail    = "e2e@example.com"
	testPassword = "correct-horse"
)

var (
	creds   = syncano.Credentials{Email: testEmail, Password: testPassword}
	fixedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type env struct {
	srv   *syncanotest.Server
	api   *syncano.Client
	store *scratch.FileStore
}

func setup(t *testing.T) env {
	t.Helper()
	srv := syncanotest.Start(t, testEmail, testPassword)
	return env{
		srv:   srv,
		api:   syncano.New(srv.URL(), syncano.Options{}),
		store: scratch.NewFileStore(filepath.Join(t.TempDir(), "tempState.json")),
	}
}

func fixedClock() time.Time { return fixedAt }

func TestProvision_CreatesInstanceAndScript(t *testing.T) {
	t.Parallel()
	e := setup(t)
	ctx := context.Background()

	state, err := provision.Provision(ctx, e.api, creds, e.store, provision.Options{Now: fixedClock, RunID: "run-7"})
	require.NoError(t, err)

	wantInstance, wantScript := provision.Names(fixedAt)
	require.Equal(t, wantInstance, state.InstanceName)
	require.Equal(t, wantScript, state.ScriptName)
	require.Equal(t, "run-7", state.RunID)
	require.Equal(t, testEmail, state.Email)
	require.NotZero(t, state.ScriptID)

	require.True(t, e.srv.HasInstance(state.InstanceName))
	scripts := e.srv.Scripts(state.InstanceName)
	require.Len(t, scripts, 1)
	require.Equal(t, state.ScriptName, scripts[0].Label)
	require.Equal(t, provision.ScriptRuntime, scripts[0].RuntimeName)
	require.Equal(t, provision.ScriptSource, scripts[0].Source)

	saved, err := e.store.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, state.InstanceName, saved.InstanceName)
	require.Equal(t, state.ScriptName, saved.ScriptName)
}

func TestCleanup_DeletesInstanceExactlyOnce(t *testing.T) {
	t.Parallel()
	e := setup(t)
	ctx := context.Background()

	state, err := provision.Provision(ctx, e.api, creds, e.store, provision.Options{Now: fixedClock})
	require.NoError(t, err)

	// Cleanup runs as a separate process in CI; use a fresh client.
	cleaned, err := provision.Cleanup(ctx, syncano.New(e.srv.URL(), syncano.Options{}), creds, e.store)
	require.NoError(t, err)
	require.Equal(t, state.InstanceName, cleaned.InstanceName)

	require.Equal(t, 1, e.srv.DeleteCalls(state.InstanceName))
	require.False(t, e.srv.HasInstance(state.InstanceName))
	_, err = os.Stat(e.store.Path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestProvision_FailedStepSavesNothing(t *testing.T) {
	t.Parallel()
	e := setup(t)
	e.srv.FailNext("create_script", http.StatusServiceUnavailable)

	_, err := provision.Provision(context.Background(), e.api, creds, e.store, provision.Options{Now: fixedClock})
	require.Error(t, err)
	require.Equal(t, errs.Unavailable, errs.CodeOf(err))
	require.True(t, strings.HasPrefix(err.Error(), provision.StepCreateScript+": "), err.Error())

	_, statErr := os.Stat(e.store.Path)
	require.ErrorIs(t, statErr, os.ErrNotExist)

	instance, _ := provision.Names(fixedAt)
	require.False(t, e.srv.HasInstance(instance), "instance should be rolled back")
	require.Equal(t, 1, e.srv.DeleteCalls(instance))
}

func TestProvision_KeepOnFailureLeavesInstance(t *testing.T) {
	t.Parallel()
	e := setup(t)
	e.srv.FailNext("create_script", http.StatusBadRequest)

	_, err := provision.Provision(context.Background(), e.api, creds, e.store,
		provision.Options{Now: fixedClock, KeepOnFailure: true})
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))

	instance, _ := provision.Names(fixedAt)
	require.True(t, e.srv.HasInstance(instance))
	require.Zero(t, e.srv.DeleteCalls(instance))
}

func TestProvision_BadCredentials(t *testing.T) {
	t.Parallel()
	e := setup(t)

	_, err := provision.Provision(context.Background(), e.api,
		syncano.Credentials{Email: testEmail, Password: "wrong"}, e.store, provision.Options{Now: fixedClock})
	require.Equal(t, errs.Unauthenticated, errs.CodeOf(err))
	require.Contains(t, err.Error(), provision.StepLogin)
	require.Contains(t, err.Error(), "Invalid email or password.")
	require.Empty(t, e.srv.Instances())
}

func TestProvision_DuplicateInstanceName(t *testing.T) {
	t.Parallel()
	e := setup(t)
	instance, _ := provision.Names(fixedAt)
	e.srv.SeedInstance(testEmail, instance)

	_, err := provision.Provision(context.Background(), e.api, creds, e.store, provision.Options{Now: fixedClock})
	require.Equal(t, errs.InvalidArgument, errs.CodeOf(err))
	require.Contains(t, err.Error(), provision.StepCreateInstance)
	require.Zero(t, e.srv.DeleteCalls(instance), "an instance this run did not create must not be deleted")
}

func TestCleanup_MissingStateSkipsAPI(t *testing.T) {
	t.Parallel()
	e := setup(t)

	_, err := provision.Cleanup(context.Background(), e.api, creds, e.store)
	require.Equal(t, errs.NotFound, errs.CodeOf(err))
	require.Contains(t, err.Error(), provision.StepLoad)
	require.Zero(t, e.srv.LoginCalls())
}

func TestCleanup_InstanceAlreadyGone(t *testing.T) {
	t.Parallel()
	e := setup(t)
	ctx := context.Background()
	require.NoError(t, e.store.Save(ctx, scratch.State{InstanceName: "testInstance1", ScriptName: "testScript1"}))

	_, err := provision.Cleanup(ctx, e.api, creds, e.store)
	require.NoError(t, err)
	require.Equal(t, 1, e.srv.DeleteCalls("testInstance1"))
	_, err = os.Stat(e.store.Path)
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestCleanup_DeleteFailureKeepsState(t *testing.T) {
	t.Parallel()
	e := setup(t)
	ctx := context.Background()

	state, err := provision.Provision(ctx, e.api, creds, e.store, provision.Options{Now: fixedClock})
	require.NoError(t, err)
	e.srv.FailNext("delete_instance", http.StatusBadGateway)

	_, err = provision.Cleanup(ctx, e.api, creds, e.store)
	require.Equal(t, errs.Unavailable, errs.CodeOf(err))
	require.Contains(t, err.Error(), provision.StepDeleteInstance)
	require.Equal(t, 1, e.srv.DeleteCalls(state.InstanceName))

	saved, err := e.store.Load(ctx)
	require.NoError(t, err, "state must survive so cleanup can be rerun")
	require.Equal(t, state.InstanceName, saved.InstanceName)
}

// ============================================================================
// Property tests
// ============================================================================

func testNames_ShareStampAndValidate(t *rapid.T) {
	ms := rapid.Int64Range(0, 4102444800000).Draw(t, "ms")
	at := time.UnixMilli(ms)

	instance, script := provision.Names(at)
	if strings.TrimPrefix(instance, "testInstance") != strings.TrimPrefix(script, "testScript") {
		t.Fatalf("names carry different stamps: %q %q", instance, script)
	}
	if err := (scratch.State{InstanceName: instance, ScriptName: script}).Validate(); err != nil {
		t.Fatalf("generated names do not validate: %v", err)
	}

	other, _ := provision.Names(at.Add(time.Millisecond))
	if other == instance {
		t.Fatalf("names collide one millisecond apart: %q", instance)
	}
}

func TestNames_Properties(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testNames_ShareStampAndValidate)
}
