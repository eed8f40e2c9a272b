// Command scratch provisions and tears down the disposable instance and
// script the dashboard scenarios run against.
//
//	scratch [-state path|s3://bucket/key] [-credentials plain|nightwatch] [-api url] provision|cleanup|show
//
// provision logs in, creates the resources and writes their names to the
// scratch state. cleanup deletes the instance named in the state and removes
// the state. show prints the configuration and the saved state. The exit
// status reflects the error code of the first failure.
//
// Credentials default to EMAIL/PASSWORD; set CREDENTIALS_SOURCE=nightwatch
// or pass -credentials nightwatch to use the runner pair instead.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/kuitang/dashboard-e2e/internal/config"
	"github.com/kuitang/dashboard-e2e/internal/errs"
	"github.com/kuitang/dashboard-e2e/internal/obs"
	"github.com/kuitang/dashboard-e2e/internal/provision"
	"github.com/kuitang/dashboard-e2e/internal/scratch"
	"github.com/kuitang/dashboard-e2e/internal/syncano"
)

func main() {
	obs.Init()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("scratch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	flags := config.RegisterFlags(fs)
	flags.DefaultCredentials = config.SourcePlain
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: scratch [flags] provision|cleanup|show")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return errs.ExitCode(errs.InvalidArgument)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return errs.ExitCode(errs.InvalidArgument)
	}
	command := fs.Arg(0)

	ctx = obs.WithRun(ctx, obs.Run{RunID: runID(), Scenario: "scratch " + command})
	log := obs.From(ctx).With("pkg", "scratch")

	err := dispatch(ctx, command, *flags, stdout)
	if err == nil {
		return 0
	}

	var verr *config.ValidationError
	code := errs.CodeOf(err)
	if errors.As(err, &verr) {
		code = errs.InvalidArgument
	}
	log.Error("scratch_failed", "command", command, "code", string(code), "error", err.Error())
	fmt.Fprintf(stderr, "scratch %s: %v\n", command, err)
	return errs.ExitCode(code)
}

func dispatch(ctx context.Context, command string, flags config.Flags, stdout io.Writer) error {
	switch command {
	case "provision", "cleanup", "show":
	default:
		return errs.New(errs.InvalidArgument, fmt.Sprintf("unknown command %q (want provision, cleanup or show)", command))
	}

	cfg, err := config.LoadConfig(flags)
	if err != nil {
		return err
	}
	store, err := scratch.Open(ctx, cfg.ScratchState, cfg.S3)
	if err != nil {
		return err
	}

	if command == "show" {
		cfg.PrintSummary(stdout)
		state, err := store.Load(ctx)
		if errs.Is(err, errs.NotFound) {
			fmt.Fprintf(stdout, "no scratch state at %s\n", store.Location())
			return nil
		}
		if err != nil {
			return err
		}
		return printState(stdout, state)
	}

	if err := cfg.RequireCredentials(); err != nil {
		return err
	}
	api := syncano.New(cfg.APIURL, syncano.Options{RPS: cfg.APIRateLimitRPS})

	var state scratch.State
	if command == "provision" {
		state, err = provision.Provision(ctx, api, cfg.Credentials(), store, provision.Options{})
	} else {
		state, err = provision.Cleanup(ctx, api, cfg.Credentials(), store)
	}
	if err != nil {
		return err
	}
	return printState(stdout, state)
}

func printState(w io.Writer, state scratch.State) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(state); err != nil {
		return errs.Wrap(errs.Internal, "print scratch state", err)
	}
	return nil
}

// runID prefers the CI run identifier so logs of all three stages correlate.
func runID() string {
	for _, key := range []string{"RUN_ID", "GITHUB_RUN_ID"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return uuid.NewString()
}
