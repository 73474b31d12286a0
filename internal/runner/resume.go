package runner

import (
	"fmt"
	"os"
	"sort"

	"rem/internal/config"
	"rem/internal/stamp"
)

// resume continues an existing group: every staged rep that is not yet
// terminal is executed, everything terminal is left alone. Resuming a fully
// completed group executes nothing and appends no events.
func (r *Runner) resume(cfg *config.Value, groupID string) (string, error) {
	created, err := stamp.GroupTime(groupID)
	if err != nil {
		return "", err
	}
	dir := r.layout.GroupDir(groupID, created)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrGroupNotFound, dir)
		}
		return "", err
	}

	factory, err := r.resolveCapability(cfg)
	if err != nil {
		return "", err
	}
	r.logger.Info("resuming group", "group_id", groupID)

	sweepIDs, err := listSweepIDs(dir)
	if err != nil {
		return "", err
	}

	exec := &execution{runner: r, cfg: cfg, factory: factory, groupID: groupID, created: created}
	for _, sweepID := range sweepIDs {
		sm, err := r.store.LoadSweep(r.layout.SweepManifestPath(groupID, created, sweepID))
		if err != nil {
			return "", err
		}
		repIDs, err := listRepIDs(r.layout.SweepDir(groupID, created, sweepID))
		if err != nil {
			return "", err
		}
		if err := exec.runSweep(sweepID, sm.ParameterCombination, repIDs); err != nil {
			return "", err
		}
	}
	if err := exec.finishGroup(); err != nil {
		return "", err
	}
	return groupID, nil
}

// listSweepIDs returns the sweep subdirectories of a group directory in id
// order. Zero-padded ids make lexical order numeric order.
func listSweepIDs(groupDir string) ([]string, error) {
	return listIDs(groupDir, stamp.IsValidSweepID)
}

// listRepIDs returns the rep subdirectories of a sweep directory in id order.
func listRepIDs(sweepDir string) ([]string, error) {
	return listIDs(sweepDir, stamp.IsValidRepID)
}

func listIDs(dir string, valid func(string) bool) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() && valid(e.Name()) {
			out = append(out, e.Name())
		}
	}
	sort.Strings(out)
	return out, nil
}
