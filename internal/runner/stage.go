package runner

import (
	"fmt"
	"os"
	"time"

	"rem/internal/config"
	"rem/internal/experiment"
	"rem/internal/manifest"
	"rem/internal/registry"
	"rem/internal/stamp"
	"rem/internal/sweep"
)

// startNew mints a group, stages every sweep and rep on disk, then executes
// unless this is a dry run. Staging happens even for dry runs so the staged
// tree can be resumed later.
func (r *Runner) startNew(cfg *config.Value, repsPerSweep int) (string, error) {
	if repsPerSweep < 1 {
		repsPerSweep = 1
	}

	// Resolve the capability up front: an unregistered reference must fail
	// before anything is staged. A dry run skips this so a group can be
	// staged on a host that will never execute it.
	var factory experiment.Factory
	if !r.dryRun {
		f, err := r.resolveCapability(cfg)
		if err != nil {
			return "", err
		}
		factory = f
	}

	spec, _ := cfg.Get(config.KeySweep)
	elements, err := sweep.Elements(spec)
	if err != nil {
		return "", err
	}

	groupID, created := stamp.NewGroupID()
	r.logger.Info("created group", "group_id", groupID, "date", created.Format("2006-01-02"))

	if err := r.stageGroup(cfg, groupID, created); err != nil {
		return "", err
	}
	for _, el := range elements {
		if err := r.stageSweep(groupID, created, el, repsPerSweep); err != nil {
			return "", err
		}
		for i := 1; i <= repsPerSweep; i++ {
			if err := r.stageRep(cfg, groupID, created, el, stamp.FormatRepID(i)); err != nil {
				return "", err
			}
		}
	}

	if r.dryRun {
		r.logger.Info("dry run complete: staged without execution", "group_id", groupID)
		return groupID, nil
	}

	exec := &execution{runner: r, cfg: cfg, factory: factory, groupID: groupID, created: created}
	for _, el := range elements {
		repIDs := make([]string, repsPerSweep)
		for i := range repIDs {
			repIDs[i] = stamp.FormatRepID(i + 1)
		}
		if err := exec.runSweep(el.SweepID, el.Overrides, repIDs); err != nil {
			return "", err
		}
	}
	if err := exec.finishGroup(); err != nil {
		return "", err
	}
	return groupID, nil
}

func (r *Runner) stageGroup(cfg *config.Value, groupID string, created time.Time) error {
	dir := r.layout.GroupDir(groupID, created)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage group %s: %w", groupID, err)
	}

	expPath, expClass := capabilityRef(cfg)
	gm := manifest.NewGroup(groupID, created, expPath, expClass,
		subtreeAsMap(cfg, config.KeySweep), subtreeAsMap(cfg, config.KeySlurm))
	if err := r.store.SaveGroup(r.layout.GroupManifestPath(groupID, created), gm); err != nil {
		return err
	}
	return r.events.Append(registry.Event{
		Type:      registry.TypeCreateGroup,
		GroupID:   groupID,
		Timestamp: manifest.NowISO(),
	})
}

func (r *Runner) stageSweep(groupID string, created time.Time, el sweep.Element, numReps int) error {
	dir := r.layout.SweepDir(groupID, created, el.SweepID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage sweep %s: %w", el.SweepID, err)
	}

	sm := manifest.NewSweep(el.SweepID, el.Overrides, numReps)
	if err := r.store.SaveSweep(r.layout.SweepManifestPath(groupID, created, el.SweepID), sm); err != nil {
		return err
	}
	return r.events.Append(registry.Event{
		Type:       registry.TypeSubmitSweep,
		GroupID:    groupID,
		SweepID:    el.SweepID,
		Timestamp:  manifest.NowISO(),
		NumReps:    sm.NumReps,
		Parameters: el.Overrides,
	})
}

func (r *Runner) stageRep(cfg *config.Value, groupID string, created time.Time, el sweep.Element, repID string) error {
	dir := r.layout.RepDir(groupID, created, el.SweepID, repID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("stage rep %s: %w", repID, err)
	}

	resolved, err := resolvedRepConfig(cfg, el.Overrides)
	if err != nil {
		return err
	}
	if err := config.SaveFile(resolved, r.layout.SubconfigPath(groupID, created, el.SweepID, repID)); err != nil {
		return err
	}
	// Flat dump is a debugging aid only; losing it never fails staging.
	if err := r.writeFlatDump(resolved, groupID, created, el.SweepID, repID); err != nil {
		r.logger.Warn("failed to write flat config dump", "rep_id", repID, "error", err)
	}

	rm := manifest.NewRep(repID, el.SweepID, groupID, el.Overrides)
	return r.store.SaveRep(r.layout.RepManifestPath(groupID, created, el.SweepID, repID), rm)
}

// subtreeAsMap extracts a top-level config subtree as plain data for
// manifest persistence. Absent or non-map subtrees become empty maps.
func subtreeAsMap(cfg *config.Value, key string) map[string]any {
	v, ok := cfg.Get(key)
	if !ok {
		return map[string]any{}
	}
	if m, isMap := v.Interface().(map[string]any); isMap {
		return m
	}
	return map[string]any{}
}

// writeFlatDump renders the resolved config as a single-level map keyed by
// dotted paths, in declaration order.
func (r *Runner) writeFlatDump(resolved *config.Value, groupID string, created time.Time, sweepID, repID string) error {
	dump := config.NewMap()
	for _, e := range config.Flatten(resolved) {
		dump.Set(e.Key, e.Value)
	}
	return config.SaveFile(dump, r.layout.ConfigFlatPath(groupID, created, sweepID, repID))
}
