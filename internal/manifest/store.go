package manifest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"rem/internal/lock"
)

// ErrNotFound wraps loads of absent manifest paths.
var ErrNotFound = errors.New("manifest not found")

// SchemaError reports a manifest that exists but does not decode into its
// kind, or fails required-field validation.
type SchemaError struct {
	Path string
	Err  error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("manifest schema error at %s: %v", e.Path, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// StatusError reports an attempted update to a status outside the valid set.
// It is returned before anything is written.
type StatusError struct {
	Path   string
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("invalid status %q for manifest %s", e.Status, e.Path)
}

// Store reads and writes manifests. Writes take the path-scoped file lock
// and are atomic and durable; reads are unlocked.
type Store struct {
	lockOpts lock.Options
	logger   *slog.Logger
}

// NewStore returns a store whose writes block up to a bounded time on a
// contended path lock.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		lockOpts: lock.Options{Blocking: true, Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// save auto-stamps the updated timestamp, then writes the manifest under the
// path lock. The lock is released on every exit path.
func (s *Store) save(path string, m interface {
	Validate() error
}, touch func(now string)) error {
	if err := m.Validate(); err != nil {
		return &SchemaError{Path: path, Err: err}
	}
	touch(NowISO())

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest %s: %w", path, err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("save manifest %s: %w", path, err)
	}
	err = lock.With(path, s.lockOpts, func() error {
		return writeFileAtomicDurable(path, data, 0o644)
	})
	if err != nil {
		return err
	}
	s.logger.Debug("saved manifest", "path", path)
	return nil
}

// SaveRep persists a rep manifest.
func (s *Store) SaveRep(path string, m *Rep) error {
	return s.save(path, m, func(now string) { m.TimestampUpdated = &now })
}

// SaveSweep persists a sweep manifest.
func (s *Store) SaveSweep(path string, m *Sweep) error {
	return s.save(path, m, func(now string) { m.TimestampUpdated = &now })
}

// SaveGroup persists a group manifest.
func (s *Store) SaveGroup(path string, m *Group) error {
	return s.save(path, m, func(now string) { m.TimestampUpdated = &now })
}

func load[T interface{ Validate() error }](path string, dst T) error {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("load manifest %s: %w", path, err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &SchemaError{Path: path, Err: err}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &SchemaError{Path: path, Err: errors.New("trailing content after manifest object")}
	}
	if err := dst.Validate(); err != nil {
		return &SchemaError{Path: path, Err: err}
	}
	return nil
}

// LoadRep reads and validates a rep manifest.
func (s *Store) LoadRep(path string) (*Rep, error) {
	var m Rep
	if err := load(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadSweep reads and validates a sweep manifest.
func (s *Store) LoadSweep(path string) (*Sweep, error) {
	var m Sweep
	if err := load(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// LoadGroup reads and validates a group manifest.
func (s *Store) LoadGroup(path string) (*Group, error) {
	var m Group
	if err := load(path, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RepUpdate is a partial update; nil fields are left unchanged.
type RepUpdate struct {
	Status         *Status
	TimestampStart *string
	TimestampEnd   *string
	Artifacts      map[string]any
	SystemInfo     map[string]string
	Version        *int
	PatchID        *string
	Replaces       *string
}

// SweepUpdate is a partial update; nil fields are left unchanged.
type SweepUpdate struct {
	Status *Status
	Reps   []RepSummary
}

// GroupUpdate is a partial update; nil fields are left unchanged.
type GroupUpdate struct {
	Status  *Status
	Patches []PatchSummary
}

// UpdateRep loads, patches and saves a rep manifest. A status outside the
// valid set fails before any field is applied or written.
func (s *Store) UpdateRep(path string, upd RepUpdate) error {
	if err := checkStatus(path, upd.Status); err != nil {
		return err
	}
	m, err := s.LoadRep(path)
	if err != nil {
		return err
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	if upd.TimestampStart != nil {
		m.TimestampStart = upd.TimestampStart
	}
	if upd.TimestampEnd != nil {
		m.TimestampEnd = upd.TimestampEnd
	}
	if upd.Artifacts != nil {
		m.Artifacts = upd.Artifacts
	}
	if upd.SystemInfo != nil {
		m.SystemInfo = upd.SystemInfo
	}
	if upd.Version != nil {
		m.Version = *upd.Version
	}
	if upd.PatchID != nil {
		m.PatchID = upd.PatchID
	}
	if upd.Replaces != nil {
		m.Replaces = upd.Replaces
	}
	return s.SaveRep(path, m)
}

// UpdateSweep loads, patches and saves a sweep manifest.
func (s *Store) UpdateSweep(path string, upd SweepUpdate) error {
	if err := checkStatus(path, upd.Status); err != nil {
		return err
	}
	m, err := s.LoadSweep(path)
	if err != nil {
		return err
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	if upd.Reps != nil {
		m.Reps = upd.Reps
		m.NumReps = len(upd.Reps)
	}
	return s.SaveSweep(path, m)
}

// UpdateGroup loads, patches and saves a group manifest.
func (s *Store) UpdateGroup(path string, upd GroupUpdate) error {
	if err := checkStatus(path, upd.Status); err != nil {
		return err
	}
	m, err := s.LoadGroup(path)
	if err != nil {
		return err
	}
	if upd.Status != nil {
		m.Status = *upd.Status
	}
	if upd.Patches != nil {
		m.Patches = upd.Patches
	}
	return s.SaveGroup(path, m)
}

func checkStatus(path string, st *Status) error {
	if st != nil && !st.Valid() {
		return &StatusError{Path: path, Status: *st}
	}
	return nil
}

// StatusPtr is a convenience for building updates.
func StatusPtr(s Status) *Status { return &s }

// StringPtr is a convenience for building updates.
func StringPtr(s string) *string { return &s }

// writeFileAtomicDurable writes data to path via a same-directory temp file,
// fsync, atomic rename and directory sync, so a reader never observes a
// partial file and the rename survives a crash.
func writeFileAtomicDurable(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	base := filepath.Base(path)

	tmp, err := os.CreateTemp(dir, base+".tmp.*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		_ = tmp.Close()
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, bytes.NewReader(data)); err != nil {
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		return err
	}
	committed = true
	return fsyncDir(dir)
}

func fsyncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}
