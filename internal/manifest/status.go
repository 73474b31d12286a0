package manifest

// Status is the lifecycle state shared by group, sweep and rep manifests.
//
// The string values are part of the on-disk contract; do not rename.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusStaged    Status = "STAGED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusKilled    Status = "KILLED"
	StatusTimeout   Status = "TIMEOUT"
	StatusCrashed   Status = "CRASHED"
	StatusSkipped   Status = "SKIPPED"

	// Aggregate-only statuses, produced by Aggregate for sweeps and groups.
	// Reps never carry them.
	StatusInProgress        Status = "IN_PROGRESS"
	StatusPartialCompletion Status = "PARTIAL_COMPLETION"
)

var validStatuses = map[Status]bool{
	StatusPending:           true,
	StatusStaged:            true,
	StatusRunning:           true,
	StatusCompleted:         true,
	StatusFailed:            true,
	StatusKilled:            true,
	StatusTimeout:           true,
	StatusCrashed:           true,
	StatusSkipped:           true,
	StatusInProgress:        true,
	StatusPartialCompletion: true,
}

var terminalStatuses = map[Status]bool{
	StatusCompleted: true,
	StatusFailed:    true,
	StatusKilled:    true,
	StatusTimeout:   true,
	StatusCrashed:   true,
	StatusSkipped:   true,
}

// Valid reports membership in the persistable status set.
func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether the status is final. Aggregate statuses are not
// terminal: a PARTIAL_COMPLETION sweep is re-aggregated on resume after its
// non-terminal reps are retried.
func (s Status) Terminal() bool { return terminalStatuses[s] }

// Aggregate folds child statuses into a parent status. It is applied
// identically for sweep-from-reps and group-from-sweeps:
//
//	all COMPLETED                  -> COMPLETED
//	all PENDING                    -> PENDING
//	any PENDING or RUNNING (or any
//	other non-terminal status)     -> IN_PROGRESS
//	mixed terminal, not all
//	COMPLETED                      -> PARTIAL_COMPLETION
//
// An empty child set aggregates to COMPLETED: there is nothing left to run.
func Aggregate(children []Status) Status {
	allCompleted := true
	allPending := true
	anyNonTerminal := false
	for _, s := range children {
		if s != StatusCompleted {
			allCompleted = false
		}
		if s != StatusPending {
			allPending = false
		}
		if !s.Terminal() {
			anyNonTerminal = true
		}
	}
	switch {
	case allCompleted:
		return StatusCompleted
	case allPending:
		return StatusPending
	case anyNonTerminal:
		return StatusInProgress
	default:
		return StatusPartialCompletion
	}
}
