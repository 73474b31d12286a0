package main

import (
	"errors"
	"fmt"
	"os"
	"time"

	"rem/internal/cli"
	"rem/internal/config"
	"rem/internal/experiment"
)

// main wires the built-in capabilities and hands off to the CLI layer.
// Deployments with their own experiments build their own entrypoint around
// cli.Run with a registry of their capabilities.
func main() {
	experiments := experiment.NewRegistry()
	if err := registerBuiltins(experiments); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.ExitInternalError)
	}

	result, err := cli.Run(os.Args[1:], experiments, os.Stdout)
	if err != nil {
		var invErr *cli.InvocationError
		if errors.As(err, &invErr) {
			fmt.Fprintln(os.Stderr, invErr.Message)
			os.Exit(invErr.ExitCode)
		}
		fmt.Fprintln(os.Stderr, err)
	}
	os.Exit(result.ExitCode)
}

// registerBuiltins provides a sleep capability for smoke-testing a results
// tree without any real workload.
func registerBuiltins(r *experiment.Registry) error {
	return r.Register("builtin/sleep", "Experiment",
		func(cfg *config.Value) (experiment.Experiment, error) {
			seconds := 0.0
			if params, ok := cfg.Get(config.KeyParams); ok {
				if v, ok := params.Get("seconds"); ok {
					switch n := v.ScalarValue().(type) {
					case int:
						seconds = float64(n)
					case float64:
						seconds = n
					}
				}
			}
			return experiment.Func(func() (experiment.Artifacts, error) {
				time.Sleep(time.Duration(seconds * float64(time.Second)))
				return experiment.Artifacts{"slept_seconds": seconds}, nil
			}), nil
		})
}
