package domain

// Job status constants. PENDING is a legacy transient value: jobs are
// created directly in RUNNING.
const (
	JobStatusPending   = "PENDING"
	JobStatusRunning   = "RUNNING"
	JobStatusPaused    = "PAUSED"
	JobStatusCanceled  = "CANCELED"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)

// Target kinds.
const (
	KindPlayer = "player"
	KindTeam   = "team"
	KindAll    = "all"
)

// IsTerminal reports whether a status admits no further writes.
func IsTerminal(status string) bool {
	return status == JobStatusCompleted || status == JobStatusFailed
}

// IsActive reports whether a status occupies the single job slot and blocks
// creation of a new job. Paused and canceled jobs keep the slot until they
// are deleted by an operator.
func IsActive(status string) bool {
	switch status {
	case JobStatusPending, JobStatusRunning, JobStatusPaused, JobStatusCanceled:
		return true
	}
	return false
}

// ValidKind reports whether kind names a known target kind.
func ValidKind(kind string) bool {
	return kind == KindPlayer || kind == KindTeam || kind == KindAll
}
