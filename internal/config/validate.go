package config

import (
	"errors"
	"fmt"
	"log/slog"
)

// Top-level configuration keys. experiment_name and params are required;
// the rest are optional and reserved.
const (
	KeyExperimentName  = "experiment_name"
	KeyExperimentPath  = "experiment_path"
	KeyExperimentClass = "experiment_class"
	KeyParams          = "params"
	KeySweep           = "sweep"
	KeySlurm           = "slurm"
	KeyTest            = "test"
)

var requiredTopLevelKeys = []string{KeyExperimentName, KeyParams}

var reservedTopLevelKeys = map[string]bool{
	KeyExperimentName:  true,
	KeyExperimentPath:  true,
	KeyExperimentClass: true,
	KeyParams:          true,
	KeySweep:           true,
	KeySlurm:           true,
	KeyTest:            true,
}

// ErrInvalidConfig is the sentinel wrapped by all structural validation
// failures.
var ErrInvalidConfig = errors.New("invalid config")

// ValidationError describes one structural problem, carrying the offending
// key for diagnosis.
type ValidationError struct {
	Key string
	Msg string
}

func (e *ValidationError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%v: %s", ErrInvalidConfig, e.Msg)
	}
	return fmt.Sprintf("%v: key %q: %s", ErrInvalidConfig, e.Key, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }

func validationErrf(key, format string, args ...any) error {
	return &ValidationError{Key: key, Msg: fmt.Sprintf(format, args...)}
}

// Validate checks the structural contract of a base configuration: required
// top-level keys present, no reserved key reused inside params, and all param
// values of an allowed shape (scalar or list of scalars; never a map).
//
// Unknown top-level keys are tolerated with a warning, so user extensions
// survive round-trips. Sweep-referential validation lives in the sweep
// package; callers run both before staging.
func Validate(cfg *Value, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Kind() != KindMap {
		return validationErrf("", "top level must be a map, got %s", cfg.Kind())
	}
	for _, key := range requiredTopLevelKeys {
		if _, ok := cfg.Get(key); !ok {
			return validationErrf(key, "required key is missing")
		}
	}
	for _, key := range cfg.Keys() {
		if !reservedTopLevelKeys[key] {
			logger.Warn("unknown top-level config key", "key", key)
		}
	}

	params, _ := cfg.Get(KeyParams)
	if params.Kind() != KindMap {
		return validationErrf(KeyParams, "must be a map, got %s", params.Kind())
	}
	for _, name := range params.Keys() {
		if reservedTopLevelKeys[name] {
			return validationErrf(name, "reserved top-level key cannot appear inside params")
		}
		v, _ := params.Get(name)
		if err := checkParamType(name, v); err != nil {
			return err
		}
	}
	return nil
}

// ParamNames returns the declared parameter names, in declaration order.
// Empty when params is absent or not a map.
func ParamNames(cfg *Value) []string {
	params, ok := cfg.Get(KeyParams)
	if !ok {
		return nil
	}
	return params.Keys()
}

func checkParamType(name string, v *Value) error {
	switch v.Kind() {
	case KindScalar:
		if v.IsNil() {
			return validationErrf(name, "param value must not be null")
		}
		return nil
	case KindList:
		for i, it := range v.Items() {
			if it.Kind() == KindMap {
				return validationErrf(name, "list element %d must not be a map", i)
			}
		}
		return nil
	default:
		return validationErrf(name, "param value has disallowed type %s", v.Kind())
	}
}
