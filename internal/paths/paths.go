// Package paths centralizes the on-disk layout of the results tree:
//
//	<root>/results[/test]/<YYYY>/<MM>/<DD>/<group_id>/<sweep_id>/<rep_id>/
//
// A Layout is constructed once and injected into every component that
// touches the tree; nothing reads process-global state after construction.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// File names inside the results tree.
const (
	EventsFilename     = "events.jsonl"
	ManifestFilename   = "manifest.json"
	SubconfigFilename  = "subconfig.yaml"
	ConfigFlatFilename = "config_flat.yaml"
)

// RootEnv overrides the tree root location when set; otherwise the current
// working directory is used.
const RootEnv = "REM_ROOT"

// ResolveRoot returns the configured root: $REM_ROOT if set, else the
// current working directory.
func ResolveRoot() (string, error) {
	if root := os.Getenv(RootEnv); root != "" {
		return root, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	return wd, nil
}

// Layout maps entities to paths under one root. Test selects the isolated
// results/test subtree.
type Layout struct {
	Root string
	Test bool
}

// NewLayout returns a layout rooted at root.
func NewLayout(root string, test bool) Layout {
	return Layout{Root: root, Test: test}
}

// ResultsDir returns results/ or results/test/ under the root.
func (l Layout) ResultsDir() string {
	if l.Test {
		return filepath.Join(l.Root, "results", "test")
	}
	return filepath.Join(l.Root, "results")
}

// EventsPath returns the event log location.
func (l Layout) EventsPath() string {
	return filepath.Join(l.ResultsDir(), EventsFilename)
}

// GroupDir returns results/YYYY/MM/DD/<group_id>/ for the group's creation
// date.
func (l Layout) GroupDir(groupID string, created time.Time) string {
	created = created.UTC()
	return filepath.Join(
		l.ResultsDir(),
		fmt.Sprintf("%04d", created.Year()),
		fmt.Sprintf("%02d", int(created.Month())),
		fmt.Sprintf("%02d", created.Day()),
		groupID,
	)
}

// GroupManifestPath returns the group manifest location.
func (l Layout) GroupManifestPath(groupID string, created time.Time) string {
	return filepath.Join(l.GroupDir(groupID, created), ManifestFilename)
}

// SweepDir returns the sweep directory.
func (l Layout) SweepDir(groupID string, created time.Time, sweepID string) string {
	return filepath.Join(l.GroupDir(groupID, created), sweepID)
}

// SweepManifestPath returns the sweep manifest location.
func (l Layout) SweepManifestPath(groupID string, created time.Time, sweepID string) string {
	return filepath.Join(l.SweepDir(groupID, created, sweepID), ManifestFilename)
}

// RepDir returns the rep directory.
func (l Layout) RepDir(groupID string, created time.Time, sweepID, repID string) string {
	return filepath.Join(l.SweepDir(groupID, created, sweepID), repID)
}

// RepManifestPath returns the rep manifest location.
func (l Layout) RepManifestPath(groupID string, created time.Time, sweepID, repID string) string {
	return filepath.Join(l.RepDir(groupID, created, sweepID, repID), ManifestFilename)
}

// SubconfigPath returns the rep's resolved configuration snapshot location.
func (l Layout) SubconfigPath(groupID string, created time.Time, sweepID, repID string) string {
	return filepath.Join(l.RepDir(groupID, created, sweepID, repID), SubconfigFilename)
}

// ConfigFlatPath returns the rep's flattened debug dump location.
func (l Layout) ConfigFlatPath(groupID string, created time.Time, sweepID, repID string) string {
	return filepath.Join(l.RepDir(groupID, created, sweepID, repID), ConfigFlatFilename)
}
