package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrReservedField is returned when a field merge targets a creation-time property.
var ErrReservedField = errors.New("reserved field")

// ErrInvalidStatus is returned when a merge sets status to something other than a non-empty string.
var ErrInvalidStatus = errors.New("status must be a non-empty string")

// Job types handled by the reconcile worker.
const (
	JobBlobDelete = "blob_delete"
)

// Job lifecycle: pending -> running -> completed, or back to pending with a
// later run_after until max_attempts is spent, then failed.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const defaultMaxAttempts = 3

// Job is one outbox entry.
type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
