// Package provision creates the scratch resources a suite run depends on and
// tears them down afterwards.
//
// Provision is a straight pipeline: login, create the instance, create the
// script, persist the names. Nothing is retried. The state is written only
// after every step succeeded, so a failed run never leaves a half-filled
// artifact behind.
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/obs"
	"github.com/kuitang/dashboard-e2e/internal/scratch"
	"github.com/kuitang/dashboard-e2e/internal/syncano"
)

// Script defaults for the scratch script endpoint target.
const (
	ScriptRuntime = "python_library_v5.0"
	ScriptSource  = `print "Hellow World!"`
)

// Step names, as they appear in errors and logs.
const (
	StepLogin          = "login"
	StepCreateInstance = "create instance"
	StepCreateScript   = "create script"
	StepSave           = "save state"
	StepLoad           = "load state"
	StepDeleteInstance = "delete instance"
	StepDeleteState    = "delete state"
)

// API is the slice of the management API provisioning needs.
// *syncano.Client satisfies it.
type API interface {
	Login(ctx context.Context, creds syncano.Credentials) (*syncano.Account, error)
	CreateInstance(ctx context.Context, name string) (*syncano.Instance, error)
	DeleteInstance(ctx context.Context, name string) error
	CreateScript(ctx context.Context, instance string, script syncano.Script) (*syncano.Script, error)
}

// Options tune Provision.
type Options struct {
	// Now stamps the resource names. Defaults to time.Now.
	Now func() time.Time
	// RunID is recorded in the state; defaults to the run in the context.
	RunID string
	// KeepOnFailure leaves a created instance in place when a later step
	// fails. By default the instance is deleted again.
	KeepOnFailure bool
}

// Names returns the instance and script names for a run started at t.
func Names(t time.Time) (instance, script string) {
	ms := t.UnixMilli()
	return fmt.Sprintf("testInstance%d", ms), fmt.Sprintf("testScript%d", ms)
}

// Provision logs in, creates a uniquely named instance holding one script,
// and saves their names to store.
func Provision(ctx context.Context, api API, creds syncano.Credentials, store scratch.Store, opts Options) (scratch.State, error) {
	log := obs.From(ctx).With("pkg", "provision")
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	runID := opts.RunID
	if runID == "" {
		runID = obs.RunFromContext(ctx).RunID
	}

	started := now()
	instanceName, scriptName := Names(started)

	if err := step(ctx, log, StepLogin, func() error {
		_, err := api.Login(ctx, creds)
		return err
	}); err != nil {
		return scratch.State{}, err
	}

	if err := step(ctx, log, StepCreateInstance, func() error {
		_, err := api.CreateInstance(ctx, instanceName)
		return err
	}); err != nil {
		return scratch.State{}, err
	}

	state := scratch.State{
		InstanceName: instanceName,
		ScriptName:   scriptName,
		RunID:        runID,
		Email:        creds.Email,
		CreatedAt:    started.UTC(),
	}

	err := step(ctx, log, StepCreateScript, func() error {
		created, err := api.CreateScript(ctx, instanceName, syncano.Script{
			Label:       scriptName,
			Source:      ScriptSource,
			RuntimeName: ScriptRuntime,
		})
		if err != nil {
			return err
		}
		state.ScriptID = created.ID
		return nil
	})
	if err == nil {
		err = step(ctx, log, StepSave, func() error {
			return store.Save(ctx, state)
		})
	}
	if err != nil {
		rollback(ctx, log, api, instanceName, opts.KeepOnFailure)
		return scratch.State{}, err
	}

	log.Info("provision_done",
		"instance", state.InstanceName,
		"script", state.ScriptName,
		"location", store.Location(),
	)
	return state, nil
}

// Cleanup loads the saved state, deletes its instance with exactly one API
// call, and removes the artifact. An instance that is already gone counts as
// deleted.
func Cleanup(ctx context.Context, api API, creds syncano.Credentials, store scratch.Store) (scratch.State, error) {
	log := obs.From(ctx).With("pkg", "provision")

	var state scratch.State
	if err := step(ctx, log, StepLoad, func() error {
		var err error
		state, err = store.Load(ctx)
		return err
	}); err != nil {
		return scratch.State{}, err
	}

	if err := step(ctx, log, StepLogin, func() error {
		_, err := api.Login(ctx, creds)
		return err
	}); err != nil {
		return state, err
	}

	if err := step(ctx, log, StepDeleteInstance, func() error {
		err := api.DeleteInstance(ctx, state.InstanceName)
		if errs.Is(err, errs.NotFound) {
			log.Warn("instance_already_gone", "instance", state.InstanceName)
			return nil
		}
		return err
	}); err != nil {
		return state, err
	}

	if err := step(ctx, log, StepDeleteState, func() error {
		return store.Delete(ctx)
	}); err != nil {
		return state, err
	}

	log.Info("cleanup_done", "instance", state.InstanceName, "location", store.Location())
	return state, nil
}

// step runs fn, logs its outcome and wraps a failure with the step name.
func step(ctx context.Context, log *slog.Logger, name string, fn func() error) error {
	start := time.Now()
	err := fn()
	if err == nil {
		log.Info("provision_step", "step", name, "dur_ms", obs.DurMS(start))
		return nil
	}
	code := errs.CodeOf(err)
	if ctx.Err() != nil {
		code = errs.Timeout
	}
	log.Error("provision_step_failed",
		"step", name,
		"dur_ms", obs.DurMS(start),
		"code", string(code),
		"error", err.Error(),
	)
	return errs.Wrap(code, name, err)
}

func rollback(ctx context.Context, log *slog.Logger, api API, instance string, keep bool) {
	if keep {
		log.Warn("instance_left_behind", "instance", instance)
		return
	}
	// The caller's context may be what failed; give the delete its own budget.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()
	if err := api.DeleteInstance(ctx, instance); err != nil {
		log.Error("rollback_failed", "instance", instance, "error", err.Error())
		return
	}
	log.Info("rollback_done", "instance", instance)
}
