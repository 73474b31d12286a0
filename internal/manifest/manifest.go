// Package manifest defines the persisted records for groups, sweeps and reps,
// and the store that reads and writes them safely under concurrent access.
//
// Every save acquires a path-scoped file lock and writes atomically (temp
// file, fsync, rename), so a concurrent loader never observes a partial
// manifest. Reads are unlocked; the design expects a single writer per rep.
package manifest

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"rem/internal/stamp"
)

// NowISO returns the current UTC time in the timestamp format used across
// manifests and events.
func NowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

// RepSummary is the per-rep placeholder embedded in a sweep manifest at
// staging time.
type RepSummary struct {
	RepID   string `json:"rep_id"`
	Status  Status `json:"status"`
	Version int    `json:"version"`
}

// PatchSummary records one applied patch at group level, derived from rep
// patch lineage.
type PatchSummary struct {
	PatchID   string   `json:"patch_id"`
	Replaces  []string `json:"replaces"`
	Timestamp *string  `json:"timestamp"`
}

// Rep is the manifest of a single execution attempt.
type Rep struct {
	RepID   string `json:"rep_id"`
	SweepID string `json:"sweep_id"`
	GroupID string `json:"group_id"`

	// Version and patch lineage support future re-execution; version starts
	// at 1 and patch fields stay null until a patch replaces this rep.
	Version  int     `json:"version"`
	PatchID  *string `json:"patch_id"`
	Replaces *string `json:"replaces"`

	TimestampCreated string  `json:"timestamp_created"`
	TimestampUpdated *string `json:"timestamp_updated"`
	TimestampStart   *string `json:"timestamp_start"`
	TimestampEnd     *string `json:"timestamp_end"`

	Status     Status            `json:"status"`
	Artifacts  map[string]any    `json:"artifacts"`
	Parameters map[string]any    `json:"parameters"`
	SystemInfo map[string]string `json:"system_info"`
}

// Sweep is the manifest of one concrete parameter combination.
type Sweep struct {
	SweepID              string         `json:"sweep_id"`
	ParameterCombination map[string]any `json:"parameter_combination"`
	NumReps              int            `json:"num_reps"`
	Reps                 []RepSummary   `json:"reps"`
	Status               Status         `json:"status"`
	TimestampCreated     string         `json:"timestamp_created"`
	TimestampUpdated     *string        `json:"timestamp_updated"`
}

// Group is the manifest of one top-level invocation.
type Group struct {
	Stamp            string         `json:"stamp"`
	GroupID          string         `json:"group_id"`
	ExperimentClass  string         `json:"experiment_class"`
	ExperimentPath   string         `json:"experiment_path"`
	Sweep            map[string]any `json:"sweep"`
	Slurm            map[string]any `json:"slurm"`
	TimestampCreated string         `json:"timestamp_created"`
	TimestampUpdated *string        `json:"timestamp_updated"`
	Patches          []PatchSummary `json:"patches"`
	Status           Status         `json:"status"`
}

// NewRep returns a PENDING rep manifest with creation time stamped.
func NewRep(repID, sweepID, groupID string, parameters map[string]any) *Rep {
	return &Rep{
		RepID:            repID,
		SweepID:          sweepID,
		GroupID:          groupID,
		Version:          1,
		TimestampCreated: NowISO(),
		Status:           StatusPending,
		Artifacts:        map[string]any{},
		Parameters:       parameters,
		SystemInfo:       map[string]string{},
	}
}

// NewSweep returns a PENDING sweep manifest with numReps placeholder rep
// summaries. numReps is clamped to at least 1.
func NewSweep(sweepID string, combination map[string]any, numReps int) *Sweep {
	if numReps < 1 {
		numReps = 1
	}
	reps := make([]RepSummary, numReps)
	for i := range reps {
		reps[i] = RepSummary{RepID: stamp.FormatRepID(i + 1), Status: StatusPending, Version: 1}
	}
	return &Sweep{
		SweepID:              sweepID,
		ParameterCombination: combination,
		NumReps:              numReps,
		Reps:                 reps,
		Status:               StatusPending,
		TimestampCreated:     NowISO(),
	}
}

// NewGroup returns a PENDING group manifest.
func NewGroup(groupID string, created time.Time, experimentPath, experimentClass string, sweepSpec, slurm map[string]any) *Group {
	return &Group{
		Stamp:            created.UTC().Format(time.RFC3339Nano),
		GroupID:          groupID,
		ExperimentClass:  experimentClass,
		ExperimentPath:   experimentPath,
		Sweep:            sweepSpec,
		Slurm:            slurm,
		TimestampCreated: NowISO(),
		Patches:          []PatchSummary{},
		Status:           StatusPending,
	}
}

func (m *Rep) Validate() error {
	var errs []error
	if strings.TrimSpace(m.RepID) == "" {
		errs = append(errs, errors.New("rep_id is required"))
	}
	if strings.TrimSpace(m.SweepID) == "" {
		errs = append(errs, errors.New("sweep_id is required"))
	}
	if strings.TrimSpace(m.GroupID) == "" {
		errs = append(errs, errors.New("group_id is required"))
	}
	if m.Version < 1 {
		errs = append(errs, errors.New("version must be >= 1"))
	}
	if strings.TrimSpace(m.TimestampCreated) == "" {
		errs = append(errs, errors.New("timestamp_created is required"))
	}
	if !m.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", m.Status))
	}
	return errors.Join(errs...)
}

func (m *Sweep) Validate() error {
	var errs []error
	if strings.TrimSpace(m.SweepID) == "" {
		errs = append(errs, errors.New("sweep_id is required"))
	}
	if m.NumReps < 1 {
		errs = append(errs, errors.New("num_reps must be >= 1"))
	}
	if len(m.Reps) != m.NumReps {
		errs = append(errs, fmt.Errorf("reps has %d entries, num_reps is %d", len(m.Reps), m.NumReps))
	}
	if strings.TrimSpace(m.TimestampCreated) == "" {
		errs = append(errs, errors.New("timestamp_created is required"))
	}
	if !m.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", m.Status))
	}
	return errors.Join(errs...)
}

func (m *Group) Validate() error {
	var errs []error
	if strings.TrimSpace(m.GroupID) == "" {
		errs = append(errs, errors.New("group_id is required"))
	}
	if strings.TrimSpace(m.Stamp) == "" {
		errs = append(errs, errors.New("stamp is required"))
	}
	if strings.TrimSpace(m.TimestampCreated) == "" {
		errs = append(errs, errors.New("timestamp_created is required"))
	}
	if !m.Status.Valid() {
		errs = append(errs, fmt.Errorf("invalid status %q", m.Status))
	}
	return errors.Join(errs...)
}

// SummarizePatches folds rep patch lineage into group-level patch summaries,
// one entry per distinct patch id, in first-seen order.
func SummarizePatches(reps []*Rep) []PatchSummary {
	byID := map[string]*PatchSummary{}
	var order []string
	for _, r := range reps {
		if r.PatchID == nil || *r.PatchID == "" {
			continue
		}
		id := *r.PatchID
		p, ok := byID[id]
		if !ok {
			p = &PatchSummary{PatchID: id, Replaces: []string{}, Timestamp: r.TimestampEnd}
			byID[id] = p
			order = append(order, id)
		}
		if r.Replaces != nil && *r.Replaces != "" {
			p.Replaces = append(p.Replaces, *r.Replaces)
		}
	}
	out := make([]PatchSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}
