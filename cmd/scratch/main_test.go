package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/scratch"
	"github.com/kuitang/dashboard-e2e/internal/syncano/syncanotest"
)

const (
	testEmail    = "ci@example.com"
	testPassword = "ci-password"
)

func setEnv(t *testing.T, apiURL string) string {
	t.Helper()
	for _, key := range []string{"DASHBOARD_URL", "BROWSER_DRIVER", "WAIT_TIMEOUT", "POLL_INTERVAL", "AWS_ACCESS_KEY_ID"} {
		t.Setenv(key, "")
	}
	statePath := filepath.Join(t.TempDir(), "tempInstance.json")
	t.Setenv("SYNCANO_API_URL", apiURL)
	t.Setenv("SCRATCH_STATE", statePath)
	t.Setenv("CREDENTIALS_SOURCE", "")
	t.Setenv("EMAIL", testEmail)
	t.Setenv("PASSWORD", testPassword)
	t.Setenv("API_RATE_LIMIT_RPS", "0")
	t.Setenv("RUN_ID", "test-run")
	return statePath
}

func runCLI(t *testing.T, args ...string) (int, string, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr)
	return code, stdout.String(), stderr.String()
}

func TestRun_ProvisionThenCleanup(t *testing.T) {
	srv := syncanotest.Start(t, testEmail, testPassword)
	statePath := setEnv(t, srv.URL())

	code, out, stderr := runCLI(t, "provision")
	require.Equal(t, 0, code, stderr)
	var state scratch.State
	require.NoError(t, json.Unmarshal([]byte(out), &state))
	require.NoError(t, state.Validate())
	require.Equal(t, "test-run", state.RunID)
	require.True(t, srv.HasInstance(state.InstanceName))

	saved, err := scratch.NewFileStore(statePath).Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, state.ScriptName, saved.ScriptName)

	code, out, _ = runCLI(t, "show")
	require.Equal(t, 0, code)
	require.Contains(t, out, state.InstanceName)
	require.NotContains(t, out, testPassword)

	code, _, stderr = runCLI(t, "cleanup")
	require.Equal(t, 0, code, stderr)
	require.Equal(t, 1, srv.DeleteCalls(state.InstanceName))
	require.False(t, srv.HasInstance(state.InstanceName))
}

func TestRun_StateFlagOverridesEnv(t *testing.T) {
	srv := syncanotest.Start(t, testEmail, testPassword)
	setEnv(t, srv.URL())
	other := filepath.Join(t.TempDir(), "other.json")

	code, _, stderr := runCLI(t, "-state", other, "provision")
	require.Equal(t, 0, code, stderr)
	_, err := scratch.NewFileStore(other).Load(context.Background())
	require.NoError(t, err)
}

func TestRun_ExitCodes(t *testing.T) {
	srv := syncanotest.Start(t, testEmail, testPassword)
	setEnv(t, srv.URL())

	code, _, stderr := runCLI(t)
	require.Equal(t, errs.ExitCode(errs.InvalidArgument), code)
	require.Contains(t, stderr, "usage: scratch")

	code, _, _ = runCLI(t, "deploy")
	require.Equal(t, errs.ExitCode(errs.InvalidArgument), code)

	code, _, stderr = runCLI(t, "cleanup")
	require.Equal(t, errs.ExitCode(errs.NotFound), code, "cleanup without state")
	require.Contains(t, stderr, "load state")

	t.Setenv("PASSWORD", "wrong")
	code, _, stderr = runCLI(t, "provision")
	require.Equal(t, errs.ExitCode(errs.Unauthenticated), code)
	require.Contains(t, stderr, "Invalid email or password.")

	t.Setenv("PASSWORD", "")
	code, _, stderr = runCLI(t, "provision")
	require.Equal(t, errs.ExitCode(errs.InvalidArgument), code)
	require.Contains(t, stderr, "PASSWORD is required")
	require.Equal(t, 1, srv.LoginCalls(), "missing credentials must not reach the API")
}

func TestRun_ShowWithoutState(t *testing.T) {
	srv := syncanotest.Start(t, testEmail, testPassword)
	setEnv(t, srv.URL())
	t.Setenv("PASSWORD", "")

	code, out, _ := runCLI(t, "show")
	require.Equal(t, 0, code)
	require.Contains(t, out, "no scratch state at")
}
