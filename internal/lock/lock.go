// Package lock implements mutual exclusion over a named path using exclusive
// file creation. It guards manifest writes against concurrent orchestrator
// invocations sharing the same results tree.
//
// The lock file is <target>.lock, created with O_CREAT|O_EXCL so acquisition
// is atomic across threads and processes on the same filesystem. The holder
// keeps the handle open and records owner metadata in the file; release
// closes the handle and unlinks the file.
package lock

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrBusy is returned by a non-blocking acquire when the lock is held.
	ErrBusy = errors.New("lock busy")
	// ErrTimeout is returned when a blocking acquire exceeds its timeout.
	ErrTimeout = errors.New("lock timeout")
)

const (
	// Suffix is appended to the target path to form the lock file path.
	Suffix = ".lock"

	// DefaultPollInterval is used when Options.PollInterval is zero.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultStaleAfter is used when Options.StaleAfter is zero. A held lock
	// whose recorded age exceeds this is assumed abandoned and broken by the
	// next waiter. Negative disables breaking.
	DefaultStaleAfter = 10 * time.Second
)

// Info is the owner metadata written into the lock file for traceability.
type Info struct {
	PID        int       `json:"pid"`
	Hostname   string    `json:"hostname"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// Options controls a single acquisition attempt.
type Options struct {
	// Blocking selects poll-until-acquired behavior. Non-blocking contention
	// fails immediately with ErrBusy.
	Blocking bool

	// Timeout bounds a blocking acquire. Zero means wait indefinitely.
	Timeout time.Duration

	// PollInterval is the delay between acquisition attempts while blocking.
	PollInterval time.Duration

	// StaleAfter is the age beyond which an existing lock file is considered
	// abandoned. Zero selects DefaultStaleAfter; negative disables breaking.
	StaleAfter time.Duration
}

// Lock is a handle over one target path. A Lock is single-use per acquisition
// but may be re-acquired after Release.
//
// At most one holder exists at any instant across processes sharing the
// filesystem. There is no fairness guarantee between blocking waiters.
type Lock struct {
	lockPath string
	f        *os.File
}

// New returns an unacquired lock guarding targetPath.
func New(targetPath string) *Lock {
	return &Lock{lockPath: targetPath + Suffix}
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.lockPath }

// Acquire attempts to take ownership of the lock.
//
// On contention: non-blocking fails with ErrBusy; blocking polls at
// PollInterval until acquired, the timeout elapses (ErrTimeout), or the
// existing lock is older than StaleAfter, in which case it is broken
// best-effort and the attempt retries immediately.
func (l *Lock) Acquire(opts Options) error {
	if l.f != nil {
		return fmt.Errorf("lock %s: already held by this handle", l.lockPath)
	}
	if err := os.MkdirAll(filepath.Dir(l.lockPath), 0o755); err != nil {
		return fmt.Errorf("lock %s: %w", l.lockPath, err)
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	staleAfter := opts.StaleAfter
	if staleAfter == 0 {
		staleAfter = DefaultStaleAfter
	}

	deadline := time.Time{}
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	for {
		f, err := os.OpenFile(l.lockPath, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o644)
		if err == nil {
			info := Info{PID: os.Getpid(), Hostname: hostname(), AcquiredAt: time.Now().UTC()}
			data, merr := json.Marshal(info)
			if merr == nil {
				_, _ = f.Write(data)
				_ = f.Sync()
			}
			l.f = f
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("lock %s: %w", l.lockPath, err)
		}

		if !opts.Blocking {
			return fmt.Errorf("lock %s held by another owner: %w", l.lockPath, ErrBusy)
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fmt.Errorf("lock %s not acquired within %s: %w", l.lockPath, opts.Timeout, ErrTimeout)
		}

		if staleAfter > 0 && l.breakIfStale(staleAfter) {
			continue // retry immediately after breaking
		}
		time.Sleep(poll)
	}
}

// breakIfStale removes the existing lock file if its recorded age exceeds
// staleAfter. Removal is best-effort: races with other breakers are ignored.
// An unreadable or unparseable lock file is never treated as stale; its age
// is unknown and the holder may still be writing it.
func (l *Lock) breakIfStale(staleAfter time.Duration) bool {
	data, err := os.ReadFile(l.lockPath)
	if err != nil {
		return false
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil || info.AcquiredAt.IsZero() {
		return false
	}
	if time.Since(info.AcquiredAt) <= staleAfter {
		return false
	}
	_ = os.Remove(l.lockPath)
	return true
}

// Release closes the handle and removes the lock file. It is idempotent:
// releasing an unheld or already-released lock is not an error.
func (l *Lock) Release() error {
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	if err := os.Remove(l.lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock %s: %w", l.lockPath, err)
	}
	return nil
}

// With runs fn while holding the lock on targetPath, releasing it on every
// exit path including a panic inside fn.
func With(targetPath string, opts Options, fn func() error) error {
	l := New(targetPath)
	if err := l.Acquire(opts); err != nil {
		return err
	}
	defer func() { _ = l.Release() }()
	return fn()
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
