package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func repPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "manifest.json")
}

func TestStore_SaveLoadRep_RoundTrip(t *testing.T) {
	s := NewStore(nil)
	path := repPath(t)

	m := NewRep("R_001", "S_0001", "G_0123456789_0123456789ABCDEF", map[string]any{"lr": 0.1})
	require.NoError(t, s.SaveRep(path, m))
	require.NotNil(t, m.TimestampUpdated, "save must auto-stamp the updated timestamp")

	loaded, err := s.LoadRep(path)
	require.NoError(t, err)
	assert.Equal(t, "R_001", loaded.RepID)
	assert.Equal(t, StatusPending, loaded.Status)
	assert.Equal(t, 1, loaded.Version)
	assert.Equal(t, 0.1, loaded.Parameters["lr"])
	assert.Nil(t, loaded.PatchID)
}

func TestStore_LoadRep_NotFound(t *testing.T) {
	s := NewStore(nil)
	_, err := s.LoadRep(filepath.Join(t.TempDir(), "absent", "manifest.json"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_LoadRep_SchemaErrors(t *testing.T) {
	s := NewStore(nil)

	t.Run("unknown field", func(t *testing.T) {
		path := repPath(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"rep_id":"R_001","bogus":1}`), 0o644))
		_, err := s.LoadRep(path)
		var se *SchemaError
		require.ErrorAs(t, err, &se)
	})

	t.Run("missing required fields", func(t *testing.T) {
		path := repPath(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"rep_id":"R_001"}`), 0o644))
		_, err := s.LoadRep(path)
		var se *SchemaError
		require.ErrorAs(t, err, &se)
	})

	t.Run("mistyped field", func(t *testing.T) {
		path := repPath(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"rep_id":42}`), 0o644))
		_, err := s.LoadRep(path)
		var se *SchemaError
		require.ErrorAs(t, err, &se)
	})
}

func TestStore_UpdateRep_InvalidStatusFailsBeforeWrite(t *testing.T) {
	s := NewStore(nil)
	path := repPath(t)
	m := NewRep("R_001", "S_0001", "G_x", nil)
	require.NoError(t, s.SaveRep(path, m))
	before, err := os.ReadFile(path)
	require.NoError(t, err)

	err = s.UpdateRep(path, RepUpdate{
		Status:       StatusPtr(Status("NOT_A_STATUS")),
		TimestampEnd: StringPtr(NowISO()),
	})
	var stErr *StatusError
	require.ErrorAs(t, err, &stErr)
	assert.Equal(t, Status("NOT_A_STATUS"), stErr.Status)

	after, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "failed update must not write anything")
}

func TestStore_UpdateRep_AppliesFields(t *testing.T) {
	s := NewStore(nil)
	path := repPath(t)
	require.NoError(t, s.SaveRep(path, NewRep("R_001", "S_0001", "G_x", nil)))

	start := NowISO()
	require.NoError(t, s.UpdateRep(path, RepUpdate{
		Status:         StatusPtr(StatusRunning),
		TimestampStart: &start,
	}))
	require.NoError(t, s.UpdateRep(path, RepUpdate{
		Status:       StatusPtr(StatusCompleted),
		TimestampEnd: StringPtr(NowISO()),
		Artifacts:    map[string]any{"loss": 0.5},
	}))

	loaded, err := s.LoadRep(path)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
	assert.Equal(t, start, *loaded.TimestampStart)
	assert.NotNil(t, loaded.TimestampEnd)
	assert.Equal(t, 0.5, loaded.Artifacts["loss"])
}

func TestStore_SweepManifest_PlaceholderReps(t *testing.T) {
	s := NewStore(nil)
	path := repPath(t)

	m := NewSweep("S_0001", map[string]any{"lr": 0.1}, 3)
	require.NoError(t, s.SaveSweep(path, m))

	loaded, err := s.LoadSweep(path)
	require.NoError(t, err)
	require.Len(t, loaded.Reps, 3)
	assert.Equal(t, "R_001", loaded.Reps[0].RepID)
	assert.Equal(t, "R_003", loaded.Reps[2].RepID)
	for _, r := range loaded.Reps {
		assert.Equal(t, StatusPending, r.Status)
		assert.Equal(t, 1, r.Version)
	}
}

func TestStore_GroupManifest_RoundTrip(t *testing.T) {
	s := NewStore(nil)
	path := repPath(t)

	m := NewGroup("G_x", time.Now(), "demo_exp", "DemoExperiment",
		map[string]any{"lr": []any{0.01, 0.1}}, map[string]any{"partition": "gpu"})
	require.NoError(t, s.SaveGroup(path, m))

	loaded, err := s.LoadGroup(path)
	require.NoError(t, err)
	assert.Equal(t, "DemoExperiment", loaded.ExperimentClass)
	assert.Equal(t, "gpu", loaded.Slurm["partition"])
	assert.Empty(t, loaded.Patches)

	require.NoError(t, s.UpdateGroup(path, GroupUpdate{Status: StatusPtr(StatusCompleted)}))
	loaded, err = s.LoadGroup(path)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, loaded.Status)
}

func TestStore_ConcurrentSaves_NoPartialReadsNoTempLeftovers(t *testing.T) {
	s := NewStore(nil)
	dir := t.TempDir()
	path := filepath.Join(dir, "manifest.json")
	require.NoError(t, s.SaveRep(path, NewRep("R_001", "S_0001", "G_x", nil)))

	var writers sync.WaitGroup
	for w := 0; w < 4; w++ {
		writers.Add(1)
		go func() {
			defer writers.Done()
			for i := 0; i < 25; i++ {
				_ = s.UpdateRep(path, RepUpdate{Status: StatusPtr(StatusRunning)})
			}
		}()
	}

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			m, err := s.LoadRep(path)
			if err != nil {
				t.Errorf("reader observed broken manifest: %v", err)
				return
			}
			if m.RepID != "R_001" {
				t.Errorf("reader observed corrupt manifest: %+v", m)
				return
			}
		}
	}()

	writers.Wait()
	close(stop)
	<-readerDone

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), ".tmp."), "temp file left behind: %s", e.Name())
		assert.False(t, strings.HasSuffix(e.Name(), ".lock"), "lock file left behind: %s", e.Name())
	}
}

func TestSummarizePatches(t *testing.T) {
	end := NowISO()
	reps := []*Rep{
		{RepID: "R_001", PatchID: StringPtr("p1"), Replaces: StringPtr("R_000"), TimestampEnd: &end},
		{RepID: "R_002", PatchID: StringPtr("p1"), Replaces: StringPtr("R_001")},
		{RepID: "R_003"},
		{RepID: "R_004", PatchID: StringPtr("p2")},
	}
	got := SummarizePatches(reps)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].PatchID)
	assert.Equal(t, []string{"R_000", "R_001"}, got[0].Replaces)
	assert.Equal(t, "p2", got[1].PatchID)
	assert.Empty(t, got[1].Replaces)
}
