package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInvocationStart(t *testing.T) {
	inv, err := ParseInvocation([]string{
		"start", "--config", "exp.yaml", "--reps", "3", "--dryrun", "--test",
		"--set", "lr=0.1", "--set", "model.depth=4", "--set", "tag=baseline",
	})
	require.NoError(t, err)

	assert.Equal(t, CommandStart, inv.Command)
	assert.Equal(t, "exp.yaml", inv.ConfigPath)
	assert.Equal(t, 3, inv.Reps)
	assert.True(t, inv.DryRun)
	assert.True(t, inv.Test)
	assert.Equal(t, map[string]any{
		"lr":          0.1,
		"model.depth": 4,
		"tag":         "baseline",
	}, inv.Overrides)
}

func TestParseInvocationResume(t *testing.T) {
	inv, err := ParseInvocation([]string{
		"start", "--config", "exp.yaml", "--group", "G_0123456789_0123456789ABCDEF",
	})
	require.NoError(t, err)
	assert.Equal(t, "G_0123456789_0123456789ABCDEF", inv.GroupID)
	assert.Equal(t, 1, inv.Reps)
}

func TestParseInvocationLocal(t *testing.T) {
	inv, err := ParseInvocation([]string{"local", "--config", "exp.yaml", "--set", "lr=0.5"})
	require.NoError(t, err)
	assert.Equal(t, CommandLocal, inv.Command)
	assert.Equal(t, map[string]any{"lr": 0.5}, inv.Overrides)
}

func TestParseInvocationErrors(t *testing.T) {
	cases := map[string][]string{
		"no arguments":        {},
		"unknown command":     {"status", "--config", "exp.yaml"},
		"missing config":      {"start"},
		"zero reps":           {"start", "--config", "exp.yaml", "--reps", "0"},
		"group with dryrun":   {"start", "--config", "exp.yaml", "--group", "G_x", "--dryrun"},
		"positional argument": {"start", "--config", "exp.yaml", "extra"},
		"malformed set":       {"start", "--config", "exp.yaml", "--set", "novalue"},
		"unknown flag":        {"local", "--config", "exp.yaml", "--reps", "2"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInvocation(args)
			require.Error(t, err)
			assert.Equal(t, ExitInvalidInvocation, ExitCodeOf(err))
		})
	}
}

func TestExitCodeOf(t *testing.T) {
	assert.Equal(t, ExitSuccess, ExitCodeOf(nil))
	assert.Equal(t, ExitConfigError, ExitCodeOf(&InvocationError{ExitCode: ExitConfigError}))
	assert.Equal(t, ExitInternalError, ExitCodeOf(assert.AnError))
}
