package runner

import (
	"fmt"
	"os"
	"time"

	"rem/internal/config"
	"rem/internal/experiment"
	"rem/internal/manifest"
	"rem/internal/registry"
)

// execution is the per-invocation state of the execute phase, shared by
// fresh starts and resumes.
type execution struct {
	runner  *Runner
	cfg     *config.Value
	factory experiment.Factory
	groupID string
	created time.Time

	groupRunning bool // one-shot RUNNING transition emitted
	executed     int  // reps actually invoked this run
}

// runSweep executes every listed rep that is not already terminal, then
// re-aggregates the sweep from fresh rep manifests. On resume, a sweep whose
// status already matches the aggregate and ran nothing is left untouched so
// repeated resumes stay silent.
func (x *execution) runSweep(sweepID string, overrides map[string]any, repIDs []string) error {
	r := x.runner
	sweepPath := r.layout.SweepManifestPath(x.groupID, x.created, sweepID)

	sweepRunning := false
	for _, repID := range repIDs {
		repPath := r.layout.RepManifestPath(x.groupID, x.created, sweepID, repID)
		rm, err := r.store.LoadRep(repPath)
		if err != nil {
			return err
		}
		if rm.Status.Terminal() {
			r.logger.Debug("rep already terminal, skipping",
				"sweep_id", sweepID, "rep_id", repID, "status", rm.Status)
			continue
		}

		if !sweepRunning {
			if err := r.store.UpdateSweep(sweepPath, manifest.SweepUpdate{
				Status: manifest.StatusPtr(manifest.StatusRunning),
			}); err != nil {
				return err
			}
			sweepRunning = true
		}
		if err := x.markGroupRunning(); err != nil {
			return err
		}

		if err := x.runRep(sweepID, repID, overrides, repPath); err != nil {
			return err
		}
		x.executed++
	}

	return x.aggregateSweep(sweepID, sweepPath, repIDs, sweepRunning)
}

// markGroupRunning performs the one-shot group RUNNING transition: once per
// invocation, the first time any rep is about to execute.
func (x *execution) markGroupRunning() error {
	if x.groupRunning {
		return nil
	}
	r := x.runner
	if err := r.store.UpdateGroup(r.layout.GroupManifestPath(x.groupID, x.created), manifest.GroupUpdate{
		Status: manifest.StatusPtr(manifest.StatusRunning),
	}); err != nil {
		return err
	}
	if err := r.events.Append(registry.Event{
		Type:      registry.TypeUpdateStatus,
		GroupID:   x.groupID,
		Timestamp: manifest.NowISO(),
		Status:    manifest.StatusRunning,
	}); err != nil {
		return err
	}
	x.groupRunning = true
	return nil
}

// runRep invokes the capability for one rep. Capability failures, including
// panics, become a CRASHED status and never propagate; only persistence
// errors are returned.
func (x *execution) runRep(sweepID, repID string, overrides map[string]any, repPath string) error {
	r := x.runner

	resolved, err := x.repConfig(sweepID, repID, overrides)
	if err != nil {
		return err
	}

	start := manifest.NowISO()
	if err := r.store.UpdateRep(repPath, manifest.RepUpdate{
		Status:         manifest.StatusPtr(manifest.StatusRunning),
		TimestampStart: manifest.StringPtr(start),
		SystemInfo:     systemInfo(),
	}); err != nil {
		return err
	}
	r.logger.Info("rep started", "group_id", x.groupID, "sweep_id", sweepID, "rep_id", repID)

	artifacts, runErr := invokeCapability(x.factory, resolved)

	final := manifest.StatusCompleted
	if runErr != nil {
		final = manifest.StatusCrashed
		r.logger.Error("rep crashed",
			"group_id", x.groupID, "sweep_id", sweepID, "rep_id", repID, "error", runErr)
	}
	upd := manifest.RepUpdate{
		Status:       manifest.StatusPtr(final),
		TimestampEnd: manifest.StringPtr(manifest.NowISO()),
	}
	if artifacts != nil {
		upd.Artifacts = artifacts
	}
	if err := r.store.UpdateRep(repPath, upd); err != nil {
		return err
	}
	r.logger.Info("rep finished",
		"group_id", x.groupID, "sweep_id", sweepID, "rep_id", repID, "status", final)
	return nil
}

// repConfig prefers the rep's staged configuration snapshot; when the
// snapshot is missing it recomputes the resolved config from the base plus
// the sweep's parameter combination.
func (x *execution) repConfig(sweepID, repID string, overrides map[string]any) (*config.Value, error) {
	path := x.runner.layout.SubconfigPath(x.groupID, x.created, sweepID, repID)
	if _, err := os.Stat(path); err == nil {
		return config.LoadFile(path)
	}
	return resolvedRepConfig(x.cfg, overrides)
}

// invokeCapability runs the experiment, converting a panic into an error so
// a misbehaving capability cannot take down the orchestrator.
func invokeCapability(factory experiment.Factory, cfg *config.Value) (artifacts experiment.Artifacts, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			artifacts = nil
			err = fmt.Errorf("experiment panicked: %v", rec)
		}
	}()
	exp, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	return exp.Run()
}

// aggregateSweep recomputes the sweep's status from fresh rep manifests,
// persists it together with refreshed rep summaries, and appends the
// sweep-scoped status event. When the sweep ran nothing and its persisted
// status already matches, nothing is written.
func (x *execution) aggregateSweep(sweepID, sweepPath string, repIDs []string, ranAny bool) error {
	r := x.runner

	summaries := make([]manifest.RepSummary, 0, len(repIDs))
	statuses := make([]manifest.Status, 0, len(repIDs))
	for _, repID := range repIDs {
		rm, err := r.store.LoadRep(r.layout.RepManifestPath(x.groupID, x.created, sweepID, repID))
		if err != nil {
			return err
		}
		summaries = append(summaries, manifest.RepSummary{
			RepID: rm.RepID, Status: rm.Status, Version: rm.Version,
		})
		statuses = append(statuses, rm.Status)
	}
	agg := manifest.Aggregate(statuses)

	if !ranAny {
		current, err := r.store.LoadSweep(sweepPath)
		if err != nil {
			return err
		}
		if current.Status == agg {
			return nil
		}
	}

	if err := r.store.UpdateSweep(sweepPath, manifest.SweepUpdate{
		Status: manifest.StatusPtr(agg),
		Reps:   summaries,
	}); err != nil {
		return err
	}
	return r.events.Append(registry.Event{
		Type:      registry.TypeUpdateStatus,
		GroupID:   x.groupID,
		SweepID:   sweepID,
		Timestamp: manifest.NowISO(),
		Status:    agg,
	})
}

// finishGroup recomputes the group's status from fresh sweep manifests and
// appends the group-scoped status event. A resume that executed nothing and
// changed nothing stays silent.
func (x *execution) finishGroup() error {
	r := x.runner
	groupPath := r.layout.GroupManifestPath(x.groupID, x.created)

	sweepIDs, err := listSweepIDs(r.layout.GroupDir(x.groupID, x.created))
	if err != nil {
		return err
	}
	statuses := make([]manifest.Status, 0, len(sweepIDs))
	for _, sweepID := range sweepIDs {
		sm, err := r.store.LoadSweep(r.layout.SweepManifestPath(x.groupID, x.created, sweepID))
		if err != nil {
			return err
		}
		statuses = append(statuses, sm.Status)
	}
	agg := manifest.Aggregate(statuses)

	if x.executed == 0 {
		current, err := r.store.LoadGroup(groupPath)
		if err != nil {
			return err
		}
		if current.Status == agg {
			r.logger.Info("group unchanged", "group_id", x.groupID, "status", agg)
			return nil
		}
	}

	if err := r.store.UpdateGroup(groupPath, manifest.GroupUpdate{
		Status: manifest.StatusPtr(agg),
	}); err != nil {
		return err
	}
	if err := r.events.Append(registry.Event{
		Type:      registry.TypeUpdateStatus,
		GroupID:   x.groupID,
		Timestamp: manifest.NowISO(),
		Status:    agg,
	}); err != nil {
		return err
	}
	r.logger.Info("group finished", "group_id", x.groupID, "status", agg)
	return nil
}
