// Package runner composes the identifier scheme, sweep expansion, manifest
// store and event registry into the stage / execute / resume workflows.
//
// One invocation executes reps and sweeps strictly sequentially in ascending
// id order. The persistence primitives underneath are concurrency-safe so
// independent invocations may share a results tree.
package runner

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strconv"

	"rem/internal/config"
	"rem/internal/experiment"
	"rem/internal/manifest"
	"rem/internal/paths"
	"rem/internal/registry"
	"rem/internal/sweep"
)

// ErrGroupNotFound reports a resume attempt against a group directory that
// does not exist.
var ErrGroupNotFound = errors.New("group directory not found")

// Options configures a Runner. Layout and Experiments are required.
type Options struct {
	Layout      paths.Layout
	Experiments *experiment.Registry
	Logger      *slog.Logger

	// DryRun stages directories and manifests but never executes.
	DryRun bool

	// EventsPath overrides the default event log location under the layout.
	EventsPath string
}

// Runner is the orchestrator. Construct one per invocation via New.
type Runner struct {
	layout      paths.Layout
	store       *manifest.Store
	events      *registry.Manager
	experiments *experiment.Registry
	logger      *slog.Logger
	dryRun      bool
}

// New wires a Runner from explicit dependencies; no process-global state is
// consulted after this point.
func New(opts Options) (*Runner, error) {
	if opts.Experiments == nil {
		return nil, errors.New("runner: experiment registry is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	eventsPath := opts.EventsPath
	if eventsPath == "" {
		eventsPath = opts.Layout.EventsPath()
	}
	return &Runner{
		layout:      opts.Layout,
		store:       manifest.NewStore(logger),
		events:      registry.NewManager(eventsPath, logger),
		experiments: opts.Experiments,
		logger:      logger,
		dryRun:      opts.DryRun,
	}, nil
}

// Events exposes the runner's event registry, mainly for status queries.
func (r *Runner) Events() *registry.Manager { return r.events }

// StartRequest describes one start invocation.
type StartRequest struct {
	// Config is the base configuration. Exactly one of Config or ConfigPath
	// must be set.
	Config     *config.Value
	ConfigPath string

	// Overrides are dotted-path overrides applied to the base config before
	// anything else.
	Overrides map[string]any

	// RepsPerSweep is the declared repetition count; clamped to at least 1.
	RepsPerSweep int

	// GroupID selects resume mode when non-empty; the group must already
	// exist on disk.
	GroupID string
}

// Start stages and executes a new group, or resumes an existing one.
// It returns the group id.
//
// Execution failures inside the experiment capability never surface here;
// they become CRASHED rep statuses. Validation, concurrency, persistence and
// structural errors do surface.
func (r *Runner) Start(req StartRequest) (string, error) {
	cfg, err := r.loadBaseConfig(req)
	if err != nil {
		return "", err
	}
	if err := config.Validate(cfg, r.logger); err != nil {
		return "", err
	}
	spec, _ := cfg.Get(config.KeySweep)
	if err := sweep.Validate(spec, config.ParamNames(cfg)); err != nil {
		return "", err
	}

	if req.GroupID != "" {
		return r.resume(cfg, req.GroupID)
	}
	return r.startNew(cfg, req.RepsPerSweep)
}

// RunLocal executes the capability once from a config plus overrides,
// without staging directories, manifests or events. Debugging aid; the
// experiment's own failure is returned to the caller here, unlike in Start.
func (r *Runner) RunLocal(req StartRequest) (experiment.Artifacts, error) {
	cfg, err := r.loadBaseConfig(req)
	if err != nil {
		return nil, err
	}
	factory, err := r.resolveCapability(cfg)
	if err != nil {
		return nil, err
	}
	exp, err := factory(cfg)
	if err != nil {
		return nil, err
	}
	return exp.Run()
}

func (r *Runner) loadBaseConfig(req StartRequest) (*config.Value, error) {
	var cfg *config.Value
	switch {
	case req.Config != nil && req.ConfigPath != "":
		return nil, errors.New("runner: Config and ConfigPath are mutually exclusive")
	case req.Config != nil:
		cfg = req.Config
	case req.ConfigPath != "":
		loaded, err := config.LoadFile(req.ConfigPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	default:
		return nil, errors.New("runner: a base configuration is required")
	}
	if len(req.Overrides) > 0 {
		out, err := config.Override(cfg, req.Overrides)
		if err != nil {
			return nil, err
		}
		cfg = out
	}
	return cfg, nil
}

// capabilityRef extracts the experiment reference from the base config.
// The class defaults to "Experiment" when unset.
func capabilityRef(cfg *config.Value) (path, class string) {
	class = "Experiment"
	if v, ok := cfg.Get(config.KeyExperimentPath); ok {
		if s, sok := v.ScalarValue().(string); sok {
			path = s
		}
	}
	if v, ok := cfg.Get(config.KeyExperimentClass); ok {
		if s, sok := v.ScalarValue().(string); sok && s != "" {
			class = s
		}
	}
	return path, class
}

func (r *Runner) resolveCapability(cfg *config.Value) (experiment.Factory, error) {
	path, class := capabilityRef(cfg)
	if path == "" {
		return nil, fmt.Errorf("runner: config does not declare %s", config.KeyExperimentPath)
	}
	return r.experiments.Resolve(path, class)
}

// resolvedRepConfig applies a sweep element's overrides to the base config.
// Sweep keys name entries of the params section, so each key k becomes the
// dotted path params.k.
func resolvedRepConfig(base *config.Value, overrides map[string]any) (*config.Value, error) {
	if len(overrides) == 0 {
		return base, nil
	}
	dotted := make(map[string]any, len(overrides))
	for k, v := range overrides {
		dotted[config.KeyParams+config.Sep+k] = v
	}
	return config.Override(base, dotted)
}

// systemInfo captures the execution environment recorded on rep manifests.
func systemInfo() map[string]string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return map[string]string{
		"hostname":   host,
		"pid":        strconv.Itoa(os.Getpid()),
		"go_version": runtime.Version(),
		"os":         runtime.GOOS,
		"arch":       runtime.GOARCH,
	}
}
