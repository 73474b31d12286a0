package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"rem/internal/config"
	"rem/internal/experiment"
	"rem/internal/paths"
	"rem/internal/runner"
	"rem/internal/stamp"
	"rem/internal/sweep"
)

// Result carries the semantic exit code and, for start invocations, the
// group id that was created or resumed.
type Result struct {
	ExitCode int
	GroupID  string
}

// Run is the high-level CLI entrypoint suitable for black-box tests. It
// accepts the argument slice (excluding argv[0]) and the registry of
// executable experiments.
func Run(args []string, experiments *experiment.Registry, stdout io.Writer) (Result, error) {
	inv, err := ParseInvocation(args)
	if err != nil {
		return Result{ExitCode: ExitCodeOf(err)}, err
	}
	return Execute(inv, experiments, stdout)
}

// Execute runs a parsed invocation. The results root comes from REM_ROOT,
// falling back to the current directory.
func Execute(inv Invocation, experiments *experiment.Registry, stdout io.Writer) (Result, error) {
	root, err := paths.ResolveRoot()
	if err != nil {
		return Result{ExitCode: ExitInternalError}, err
	}

	r, err := runner.New(runner.Options{
		Layout:      paths.NewLayout(root, inv.Test),
		Experiments: experiments,
		DryRun:      inv.DryRun,
	})
	if err != nil {
		return Result{ExitCode: ExitInternalError}, err
	}

	// Loading here pins down the exit code: an unreadable or malformed
	// config file is always a config error, never an internal one.
	cfg, err := config.LoadFile(inv.ConfigPath)
	if err != nil {
		return Result{ExitCode: ExitConfigError}, err
	}

	req := runner.StartRequest{
		Config:       cfg,
		Overrides:    inv.Overrides,
		RepsPerSweep: inv.Reps,
		GroupID:      inv.GroupID,
	}

	switch inv.Command {
	case CommandLocal:
		artifacts, err := r.RunLocal(req)
		if err != nil {
			return Result{ExitCode: classify(err)}, err
		}
		out, err := json.MarshalIndent(artifacts, "", "  ")
		if err != nil {
			return Result{ExitCode: ExitInternalError}, err
		}
		fmt.Fprintln(stdout, string(out))
		return Result{ExitCode: ExitSuccess}, nil

	case CommandStart:
		groupID, err := r.Start(req)
		if err != nil {
			return Result{ExitCode: classify(err)}, err
		}
		fmt.Fprintln(stdout, groupID)
		return Result{ExitCode: ExitSuccess, GroupID: groupID}, nil

	default:
		return Result{ExitCode: ExitInvalidInvocation},
			invalidInvocationf("unknown command %q", inv.Command)
	}
}

// classify maps orchestration errors to exit codes: configuration and spec
// problems are the caller's to fix, everything else is a run failure.
func classify(err error) int {
	var fe *stamp.FormatError
	switch {
	case errors.Is(err, config.ErrInvalidConfig),
		errors.Is(err, sweep.ErrInvalidSpec),
		errors.Is(err, sweep.ErrUndefinedParam):
		return ExitConfigError
	case errors.Is(err, runner.ErrGroupNotFound),
		errors.Is(err, experiment.ErrNotRegistered),
		errors.As(err, &fe):
		return ExitRunFailure
	default:
		return ExitInternalError
	}
}
