package domain

import "errors"

var (
	// ErrJobNotFound is returned when a job cannot be found in the database.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobAlreadyRunning is returned by CreateJob when a non-terminal job
	// already occupies the single job slot.
	ErrJobAlreadyRunning = errors.New("another scrape job is already active")

	// ErrInvalidTransition is returned when a status change is not allowed
	// from the job's current status.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrJobRunning is returned when deleting a job that is still running.
	ErrJobRunning = errors.New("job is still running")

	// ErrNoPendingTargets is returned when a job is started with an empty
	// pending set.
	ErrNoPendingTargets = errors.New("no pending scrape targets")
)
