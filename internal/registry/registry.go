// Package registry maintains the append-only audit trail of lifecycle
// events, one JSON object per line. Total event order is file order.
//
// Each append is a single write of one complete newline-terminated line on a
// handle opened with O_APPEND, so concurrent appenders from other processes
// never interleave partial lines.
package registry

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"rem/internal/manifest"
)

// Type enumerates the recordable lifecycle events.
type Type string

const (
	TypeCreateGroup  Type = "CREATE_GROUP"
	TypePatchGroup   Type = "PATCH_GROUP"
	TypeSubmitSweep  Type = "SUBMIT_SWEEP"
	TypeUpdateStatus Type = "UPDATE_STATUS"
)

var validTypes = map[Type]bool{
	TypeCreateGroup:  true,
	TypePatchGroup:   true,
	TypeSubmitSweep:  true,
	TypeUpdateStatus: true,
}

// Event is one immutable audit record.
type Event struct {
	Type      Type            `json:"type"`
	GroupID   string          `json:"group_id"`
	SweepID   string          `json:"sweep_id,omitempty"`
	Timestamp string          `json:"timestamp"`
	Status    manifest.Status `json:"status,omitempty"`
	NumReps   int             `json:"num_reps,omitempty"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ErrInvalidEvent wraps all append-side validation failures; an invalid
// event is rejected before anything is written.
var ErrInvalidEvent = errors.New("invalid event")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidEvent}, args...)...)
}

// Validate checks the event against the registry contract.
func (e Event) Validate() error {
	if !validTypes[e.Type] {
		return invalidf("unknown type %q", e.Type)
	}
	if strings.TrimSpace(e.GroupID) == "" {
		return invalidf("group_id is required")
	}
	if strings.TrimSpace(e.Timestamp) == "" {
		return invalidf("timestamp is required")
	}
	if e.Type == TypeUpdateStatus {
		if e.Status == "" {
			return invalidf("UPDATE_STATUS requires a status")
		}
		if !e.Status.Valid() {
			return invalidf("status %q is not in the valid status set", e.Status)
		}
	}
	return nil
}

// Manager owns one event log file. It is safe for concurrent use within a
// process; cross-process safety relies on atomic line appends.
type Manager struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	events []Event
	loaded bool
}

// NewManager returns a manager for the log at path. The file is created on
// first append.
func NewManager(path string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{path: path, logger: logger}
}

// Path returns the log file path.
func (m *Manager) Path() string { return m.path }

// Append validates the event and appends it as one atomic line. Validation
// failures reject the event without writing.
func (m *Manager) Append(e Event) error {
	if err := e.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	line := append(data, '\n')

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	f, err := os.OpenFile(m.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(line); err != nil {
		return fmt.Errorf("append event: %w", err)
	}

	// Keep the cache coherent rather than invalidating it; file order and
	// cache order stay identical for a single-process writer.
	if m.loaded {
		m.events = append(m.events, e)
	}
	m.logger.Debug("appended event", "type", e.Type, "group_id", e.GroupID)
	return nil
}

// Load parses the whole log into memory, cached until forceReload. A missing
// log file is an empty history, not an error.
func (m *Manager) Load(forceReload bool) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.loadLocked(forceReload); err != nil {
		return nil, err
	}
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out, nil
}

func (m *Manager) loadLocked(forceReload bool) error {
	if m.loaded && !forceReload {
		return nil
	}
	f, err := os.Open(m.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			m.events = nil
			m.loaded = true
			return nil
		}
		return fmt.Errorf("load events: %w", err)
	}
	defer f.Close()

	var events []Event
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e Event
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			return fmt.Errorf("load events: line %d: %w", lineNo, err)
		}
		events = append(events, e)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("load events: %w", err)
	}
	m.events = events
	m.loaded = true
	return nil
}

// History returns all events for a group, in file order.
func (m *Manager) History(groupID string) ([]Event, error) {
	events, err := m.Load(false)
	if err != nil {
		return nil, err
	}
	var out []Event
	for _, e := range events {
		if e.GroupID == groupID {
			out = append(out, e)
		}
	}
	return out, nil
}

// LatestStatus returns the status of the most recent UPDATE_STATUS event for
// the group. ok is false when the group has no status yet.
func (m *Manager) LatestStatus(groupID string) (status manifest.Status, ok bool, err error) {
	events, err := m.Load(false)
	if err != nil {
		return "", false, err
	}
	for i := len(events) - 1; i >= 0; i-- {
		e := events[i]
		if e.GroupID == groupID && e.Type == TypeUpdateStatus {
			return e.Status, true, nil
		}
	}
	return "", false, nil
}

// IsTerminal reports whether the group's latest status is terminal. A group
// with no status yet is not terminal.
func (m *Manager) IsTerminal(groupID string) (bool, error) {
	status, ok, err := m.LatestStatus(groupID)
	if err != nil || !ok {
		return false, err
	}
	return status.Terminal(), nil
}
