package paths

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayout_HierarchyMirrorsEntities(t *testing.T) {
	l := NewLayout("/data", false)
	created := time.Date(2026, time.March, 7, 12, 0, 0, 0, time.UTC)

	groupDir := l.GroupDir("G_aaa", created)
	assert.Equal(t, filepath.Join("/data", "results", "2026", "03", "07", "G_aaa"), groupDir)

	assert.Equal(t, filepath.Join(groupDir, "manifest.json"), l.GroupManifestPath("G_aaa", created))
	assert.Equal(t, filepath.Join(groupDir, "S_0001"), l.SweepDir("G_aaa", created, "S_0001"))
	assert.Equal(t, filepath.Join(groupDir, "S_0001", "R_001"), l.RepDir("G_aaa", created, "S_0001", "R_001"))
	assert.Equal(t, filepath.Join(groupDir, "S_0001", "R_001", "manifest.json"),
		l.RepManifestPath("G_aaa", created, "S_0001", "R_001"))
	assert.Equal(t, filepath.Join(groupDir, "S_0001", "R_001", "subconfig.yaml"),
		l.SubconfigPath("G_aaa", created, "S_0001", "R_001"))
	assert.Equal(t, filepath.Join("/data", "results", "events.jsonl"), l.EventsPath())
}

func TestLayout_TestSubtree(t *testing.T) {
	l := NewLayout("/data", true)
	assert.Equal(t, filepath.Join("/data", "results", "test"), l.ResultsDir())
	assert.Equal(t, filepath.Join("/data", "results", "test", "events.jsonl"), l.EventsPath())
}

func TestResolveRoot_EnvOverride(t *testing.T) {
	t.Setenv(RootEnv, "/custom/root")
	root, err := ResolveRoot()
	require.NoError(t, err)
	assert.Equal(t, "/custom/root", root)
}

func TestResolveRoot_DefaultsToCwd(t *testing.T) {
	t.Setenv(RootEnv, "")
	root, err := ResolveRoot()
	require.NoError(t, err)
	assert.NotEmpty(t, root)
}
