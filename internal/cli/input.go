package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ExitSuccess           = 0
	ExitRunFailure        = 1
	ExitInvalidInvocation = 2
	ExitConfigError       = 3
	ExitInternalError     = 4
)

// Command selects the orchestration entry point.
type Command string

const (
	// CommandStart stages and executes a group, or resumes one.
	CommandStart Command = "start"
	// CommandLocal executes the capability once, with no staging.
	CommandLocal Command = "local"
)

// Invocation is the canonicalized description of one CLI run. The results
// root is the only input still resolved later, from the environment, because
// it addresses shared state rather than this invocation.
type Invocation struct {
	Command    Command
	ConfigPath string
	Reps       int
	GroupID    string
	DryRun     bool
	Test       bool
	Overrides  map[string]any
}

type InvocationError struct {
	ExitCode int
	Message  string
}

func (e *InvocationError) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func invalidInvocationf(format string, args ...any) error {
	return &InvocationError{ExitCode: ExitInvalidInvocation, Message: fmt.Sprintf(format, args...)}
}

// setFlag collects repeated --set key=value overrides. Values are decoded as
// YAML scalars so --set lr=0.1 overrides with a float, not the string "0.1".
type setFlag struct {
	overrides map[string]any
}

func (f *setFlag) String() string { return "" }

func (f *setFlag) Set(raw string) error {
	key, val, ok := strings.Cut(raw, "=")
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("expected key=value, got %q", raw)
	}
	var decoded any
	if err := yaml.Unmarshal([]byte(val), &decoded); err != nil {
		return fmt.Errorf("value for %q is not a scalar: %v", key, err)
	}
	if f.overrides == nil {
		f.overrides = map[string]any{}
	}
	f.overrides[strings.TrimSpace(key)] = decoded
	return nil
}

// ParseInvocation parses the argument slice (excluding argv[0]) into a
// canonical Invocation. Parsing never reads the environment.
func ParseInvocation(args []string) (Invocation, error) {
	if len(args) == 0 {
		return Invocation{}, invalidInvocationf("usage: rem <start|local> [flags]")
	}

	cmd := Command(args[0])
	switch cmd {
	case CommandStart, CommandLocal:
	default:
		return Invocation{}, invalidInvocationf("unknown command %q (expected start|local)", args[0])
	}

	fs := flag.NewFlagSet("rem "+string(cmd), flag.ContinueOnError)
	fs.SetOutput(io.Discard) // parsing errors are returned, not printed

	var (
		configPath string
		reps       int
		groupID    string
		dryRun     bool
		test       bool
		sets       setFlag
	)
	fs.StringVar(&configPath, "config", "", "Experiment configuration file. Required.")
	fs.Var(&sets, "set", "Dotted-path override, key=value. Repeatable.")
	fs.BoolVar(&test, "test", false, "Use the test results subtree.")
	if cmd == CommandStart {
		fs.IntVar(&reps, "reps", 1, "Repetitions per sweep element.")
		fs.StringVar(&groupID, "group", "", "Resume this existing group instead of creating one.")
		fs.BoolVar(&dryRun, "dryrun", false, "Stage directories and manifests without executing.")
	}

	if err := fs.Parse(args[1:]); err != nil {
		return Invocation{}, invalidInvocationf("%v", err)
	}
	if fs.NArg() != 0 {
		return Invocation{}, invalidInvocationf("unexpected positional arguments: %q", strings.Join(fs.Args(), " "))
	}

	if configPath == "" {
		return Invocation{}, invalidInvocationf("--config is required")
	}
	if cmd == CommandStart && reps < 1 {
		return Invocation{}, invalidInvocationf("--reps must be at least 1 (got %d)", reps)
	}
	if groupID != "" && dryRun {
		return Invocation{}, invalidInvocationf("--group and --dryrun are mutually exclusive")
	}

	return Invocation{
		Command:    cmd,
		ConfigPath: configPath,
		Reps:       reps,
		GroupID:    groupID,
		DryRun:     dryRun,
		Test:       test,
		Overrides:  sets.overrides,
	}, nil
}

// ExitCodeOf extracts a semantic exit code from an error. Unknown errors
// map to ExitInternalError.
func ExitCodeOf(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var invErr *InvocationError
	if errors.As(err, &invErr) && invErr != nil {
		if invErr.ExitCode != 0 {
			return invErr.ExitCode
		}
		return ExitInvalidInvocation
	}
	return ExitInternalError
}
