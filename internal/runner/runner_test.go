package runner

import (
	"errors"
	"os"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rem/internal/config"
	"rem/internal/experiment"
	"rem/internal/manifest"
	"rem/internal/paths"
	"rem/internal/registry"
	"rem/internal/stamp"
)

const baseYAML = `experiment_name: demo
experiment_path: demo/exp
params:
  lr: 0.01
  depth: 2
sweep:
  lr: [0.1, 0.2, 0.3]
`

// testCapability counts invocations and can be told to fail or panic for a
// particular lr value.
type testCapability struct {
	calls   atomic.Int64
	failLR  float64
	panicLR float64
}

func (c *testCapability) factory(cfg *config.Value) (experiment.Experiment, error) {
	lr := paramFloat(cfg, "lr")
	return experiment.Func(func() (experiment.Artifacts, error) {
		c.calls.Add(1)
		if c.panicLR != 0 && lr == c.panicLR {
			panic("simulated experiment panic")
		}
		if c.failLR != 0 && lr == c.failLR {
			return nil, errors.New("simulated experiment failure")
		}
		return experiment.Artifacts{"lr": lr}, nil
	}), nil
}

func paramFloat(cfg *config.Value, name string) float64 {
	params, _ := cfg.Get(config.KeyParams)
	v, _ := params.Get(name)
	f, _ := v.ScalarValue().(float64)
	return f
}

func newTestRunner(t *testing.T, root string, cap *testCapability, dryRun bool) *Runner {
	t.Helper()
	reg := experiment.NewRegistry()
	require.NoError(t, reg.Register("demo/exp", "Experiment", cap.factory))
	r, err := New(Options{
		Layout:      paths.NewLayout(root, false),
		Experiments: reg,
		DryRun:      dryRun,
	})
	require.NoError(t, err)
	return r
}

func parseBase(t *testing.T) *config.Value {
	t.Helper()
	cfg, err := config.Parse([]byte(baseYAML))
	require.NoError(t, err)
	return cfg
}

func eventsByType(t *testing.T, r *Runner, groupID string) map[registry.Type][]registry.Event {
	t.Helper()
	history, err := r.Events().History(groupID)
	require.NoError(t, err)
	out := map[registry.Type][]registry.Event{}
	for _, e := range history {
		out[e.Type] = append(out[e.Type], e)
	}
	return out
}

func TestDryRunStagesWithoutExecuting(t *testing.T) {
	root := t.TempDir()
	cap := &testCapability{}
	r := newTestRunner(t, root, cap, true)

	groupID, err := r.Start(StartRequest{Config: parseBase(t), RepsPerSweep: 2})
	require.NoError(t, err)
	require.True(t, stamp.IsValidGroupID(groupID))
	assert.Zero(t, cap.calls.Load())

	created, err := stamp.GroupTime(groupID)
	require.NoError(t, err)
	layout := paths.NewLayout(root, false)

	sweepIDs, err := listSweepIDs(layout.GroupDir(groupID, created))
	require.NoError(t, err)
	require.Equal(t, []string{"S_0001", "S_0002", "S_0003"}, sweepIDs)

	store := manifest.NewStore(nil)
	wantLR := []float64{0.1, 0.2, 0.3}
	for i, sweepID := range sweepIDs {
		repIDs, err := listRepIDs(layout.SweepDir(groupID, created, sweepID))
		require.NoError(t, err)
		require.Equal(t, []string{"R_001", "R_002"}, repIDs)

		sm, err := store.LoadSweep(layout.SweepManifestPath(groupID, created, sweepID))
		require.NoError(t, err)
		assert.Equal(t, manifest.StatusPending, sm.Status)
		assert.Equal(t, wantLR[i], sm.ParameterCombination["lr"])

		for _, repID := range repIDs {
			rm, err := store.LoadRep(layout.RepManifestPath(groupID, created, sweepID, repID))
			require.NoError(t, err)
			assert.Equal(t, manifest.StatusPending, rm.Status)

			snap, err := config.LoadFile(layout.SubconfigPath(groupID, created, sweepID, repID))
			require.NoError(t, err)
			assert.Equal(t, wantLR[i], paramFloat(snap, "lr"))

			_, err = os.Stat(layout.ConfigFlatPath(groupID, created, sweepID, repID))
			assert.NoError(t, err)
		}
	}

	byType := eventsByType(t, r, groupID)
	assert.Len(t, byType[registry.TypeCreateGroup], 1)
	assert.Len(t, byType[registry.TypeSubmitSweep], 3)
	assert.Empty(t, byType[registry.TypeUpdateStatus])
}

func TestFullRunCompletes(t *testing.T) {
	root := t.TempDir()
	cap := &testCapability{}
	r := newTestRunner(t, root, cap, false)

	groupID, err := r.Start(StartRequest{Config: parseBase(t), RepsPerSweep: 2})
	require.NoError(t, err)
	assert.EqualValues(t, 6, cap.calls.Load())

	created, err := stamp.GroupTime(groupID)
	require.NoError(t, err)
	layout := paths.NewLayout(root, false)
	store := manifest.NewStore(nil)

	gm, err := store.LoadGroup(layout.GroupManifestPath(groupID, created))
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusCompleted, gm.Status)

	for _, sweepID := range []string{"S_0001", "S_0002", "S_0003"} {
		sm, err := store.LoadSweep(layout.SweepManifestPath(groupID, created, sweepID))
		require.NoError(t, err)
		assert.Equal(t, manifest.StatusCompleted, sm.Status)
		require.Len(t, sm.Reps, 2)
		for _, rs := range sm.Reps {
			assert.Equal(t, manifest.StatusCompleted, rs.Status)
		}
		for _, repID := range []string{"R_001", "R_002"} {
			rm, err := store.LoadRep(layout.RepManifestPath(groupID, created, sweepID, repID))
			require.NoError(t, err)
			assert.Equal(t, manifest.StatusCompleted, rm.Status)
			require.NotNil(t, rm.TimestampStart)
			require.NotNil(t, rm.TimestampEnd)
			assert.NotEmpty(t, rm.Artifacts)
			assert.NotEmpty(t, rm.SystemInfo["hostname"])
		}
	}

	byType := eventsByType(t, r, groupID)
	assert.Len(t, byType[registry.TypeCreateGroup], 1)
	assert.Len(t, byType[registry.TypeSubmitSweep], 3)

	var groupRunning, groupFinal, sweepScoped int
	for _, e := range byType[registry.TypeUpdateStatus] {
		switch {
		case e.SweepID != "":
			sweepScoped++
			assert.Equal(t, manifest.StatusCompleted, e.Status)
		case e.Status == manifest.StatusRunning:
			groupRunning++
		default:
			groupFinal++
			assert.Equal(t, manifest.StatusCompleted, e.Status)
		}
	}
	assert.Equal(t, 1, groupRunning)
	assert.Equal(t, 1, groupFinal)
	assert.Equal(t, 3, sweepScoped)
}

func TestCrashedRepIsContained(t *testing.T) {
	root := t.TempDir()
	cap := &testCapability{failLR: 0.2, panicLR: 0.3}
	r := newTestRunner(t, root, cap, false)

	groupID, err := r.Start(StartRequest{Config: parseBase(t), RepsPerSweep: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 3, cap.calls.Load())

	created, err := stamp.GroupTime(groupID)
	require.NoError(t, err)
	layout := paths.NewLayout(root, false)
	store := manifest.NewStore(nil)

	wantRep := map[string]manifest.Status{
		"S_0001": manifest.StatusCompleted, // lr 0.1 succeeds
		"S_0002": manifest.StatusCrashed,   // lr 0.2 returns an error
		"S_0003": manifest.StatusCrashed,   // lr 0.3 panics
	}
	for sweepID, want := range wantRep {
		rm, err := store.LoadRep(layout.RepManifestPath(groupID, created, sweepID, "R_001"))
		require.NoError(t, err)
		assert.Equal(t, want, rm.Status, sweepID)
		require.NotNil(t, rm.TimestampEnd)
	}

	wantSweep := map[string]manifest.Status{
		"S_0001": manifest.StatusCompleted,
		"S_0002": manifest.StatusPartialCompletion,
		"S_0003": manifest.StatusPartialCompletion,
	}
	for sweepID, want := range wantSweep {
		sm, err := store.LoadSweep(layout.SweepManifestPath(groupID, created, sweepID))
		require.NoError(t, err)
		assert.Equal(t, want, sm.Status, sweepID)
	}

	// PARTIAL_COMPLETION sweeps are not terminal, so the group reads as
	// still in progress until a resume retries or resolves them.
	gm, err := store.LoadGroup(layout.GroupManifestPath(groupID, created))
	require.NoError(t, err)
	assert.Equal(t, manifest.StatusInProgress, gm.Status)
}

func TestStartRejectsUnknownCapability(t *testing.T) {
	root := t.TempDir()
	r := newTestRunner(t, root, &testCapability{}, false)

	cfg, err := config.Parse([]byte("experiment_name: demo\nexperiment_path: missing/exp\nparams:\n  lr: 0.01\n"))
	require.NoError(t, err)

	_, err = r.Start(StartRequest{Config: cfg})
	require.ErrorIs(t, err, experiment.ErrNotRegistered)

	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	for _, e := range entries {
		assert.NotEqual(t, "results", e.Name(), "nothing may be staged for an unknown capability")
	}
}

func TestStartRejectsSweepOverUndeclaredParam(t *testing.T) {
	root := t.TempDir()
	r := newTestRunner(t, root, &testCapability{}, false)

	cfg, err := config.Parse([]byte("experiment_name: demo\nexperiment_path: demo/exp\nparams:\n  lr: 0.01\nsweep:\n  momentum: [0.9]\n"))
	require.NoError(t, err)

	_, err = r.Start(StartRequest{Config: cfg})
	require.Error(t, err)
}

func TestRunLocal(t *testing.T) {
	root := t.TempDir()
	cap := &testCapability{}
	r := newTestRunner(t, root, cap, false)

	artifacts, err := r.RunLocal(StartRequest{
		Config:    parseBase(t),
		Overrides: map[string]any{"params.lr": 0.5},
	})
	require.NoError(t, err)
	assert.Equal(t, 0.5, artifacts["lr"])
	assert.EqualValues(t, 1, cap.calls.Load())

	// No staging side effects.
	_, err = os.Stat(paths.NewLayout(root, false).ResultsDir())
	assert.True(t, os.IsNotExist(err))
}
