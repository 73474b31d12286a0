// Package stamp mints and parses the identifiers used throughout the results
// tree: time-sortable group ids and fixed-width sequential sweep/rep ids.
//
// Formats (part of the on-disk contract; do not change):
//
//	group id: G_<10 chars>_<16 chars>  (a 26-char ULID split after char 10)
//	sweep id: S_NNNN                   (1-based, zero-padded to 4)
//	rep id:   R_NNN                    (1-based, zero-padded to 3)
//
// All ids are lexicographically sortable within their scope.
package stamp

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	GroupPrefix = "G_"
	SweepPrefix = "S_"
	RepPrefix   = "R_"

	SweepPad = 4
	RepPad   = 3

	groupSeg1Len = 10
	groupSeg2Len = 16
)

// FormatError reports a malformed identifier. It carries the offending value
// so callers can surface it without re-deriving context.
type FormatError struct {
	Kind  string // "group", "sweep" or "rep"
	Value string
	Msg   string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid %s id %q: %s", e.Kind, e.Value, e.Msg)
}

func formatErrf(kind, value, format string, args ...any) error {
	return &FormatError{Kind: kind, Value: value, Msg: fmt.Sprintf(format, args...)}
}

// NewGroupID mints a fresh group id and returns it together with the creation
// time embedded in it (millisecond resolution, UTC).
//
// The underlying token is a monotonic ULID, so ids minted by one process are
// strictly ordered even within the same millisecond.
func NewGroupID() (string, time.Time) {
	id := ulid.Make()
	s := id.String()
	groupID := GroupPrefix + s[:groupSeg1Len] + "_" + s[groupSeg1Len:]
	return groupID, ulid.Time(id.Time()).UTC()
}

// ParseGroupID reconstructs the canonical 26-char token from a group id.
// It fails unless the prefix and both segment lengths are exact.
func ParseGroupID(groupID string) (string, error) {
	raw, ok := strings.CutPrefix(groupID, GroupPrefix)
	if !ok {
		return "", formatErrf("group", groupID, "missing %q prefix", GroupPrefix)
	}
	seg1, seg2, ok := strings.Cut(raw, "_")
	if !ok || strings.Contains(seg2, "_") {
		return "", formatErrf("group", groupID, "expected two underscore-separated segments")
	}
	if len(seg1) != groupSeg1Len || len(seg2) != groupSeg2Len {
		return "", formatErrf("group", groupID, "segment lengths must be %d and %d", groupSeg1Len, groupSeg2Len)
	}
	return seg1 + seg2, nil
}

// GroupTime decodes the creation time embedded in a group id.
func GroupTime(groupID string) (time.Time, error) {
	raw, err := ParseGroupID(groupID)
	if err != nil {
		return time.Time{}, err
	}
	id, err := ulid.ParseStrict(raw)
	if err != nil {
		return time.Time{}, formatErrf("group", groupID, "not a valid token: %v", err)
	}
	return ulid.Time(id.Time()).UTC(), nil
}

// FormatSweepID renders a 1-based sweep index as S_NNNN.
func FormatSweepID(index int) string {
	return fmt.Sprintf("%s%0*d", SweepPrefix, SweepPad, index)
}

// FormatRepID renders a 1-based rep index as R_NNN.
func FormatRepID(index int) string {
	return fmt.Sprintf("%s%0*d", RepPrefix, RepPad, index)
}

// ParseSweepID is the exact inverse of FormatSweepID.
func ParseSweepID(sweepID string) (int, error) {
	return parseSequential("sweep", SweepPrefix, sweepID)
}

// ParseRepID is the exact inverse of FormatRepID.
func ParseRepID(repID string) (int, error) {
	return parseSequential("rep", RepPrefix, repID)
}

func parseSequential(kind, prefix, id string) (int, error) {
	raw, ok := strings.CutPrefix(id, prefix)
	if !ok {
		return 0, formatErrf(kind, id, "missing %q prefix", prefix)
	}
	if raw == "" || !isDigits(raw) {
		return 0, formatErrf(kind, id, "suffix must be decimal digits")
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, formatErrf(kind, id, "suffix out of range")
	}
	return n, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IsValidGroupID reports whether s parses as a group id.
func IsValidGroupID(s string) bool {
	_, err := ParseGroupID(s)
	return err == nil
}

// IsValidSweepID reports whether s parses as a sweep id.
func IsValidSweepID(s string) bool {
	_, err := ParseSweepID(s)
	return err == nil
}

// IsValidRepID reports whether s parses as a rep id.
func IsValidRepID(s string) bool {
	_, err := ParseRepID(s)
	return err == nil
}

// NextRepID returns the rep id one past the maximum index among the given
// ids, ignoring anything that does not parse as a rep id. With no parseable
// input it returns index 0 (R_000).
func NextRepID(repIDs []string) string {
	next := 0
	for _, rid := range repIDs {
		n, err := ParseRepID(rid)
		if err != nil {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return FormatRepID(next)
}
