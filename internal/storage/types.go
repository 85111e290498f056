package storage

import (
	"errors"
	"time"
)

var (
	// ErrEmptyDescription rejects task creation with a blank description.
	ErrEmptyDescription = errors.New("task description is empty")
	// ErrTaskNotFound is returned for an ordinal outside the listing.
	ErrTaskNotFound = errors.New("task not found")
	// ErrTaskDone is returned when completing an already-completed task.
	ErrTaskDone = errors.New("task already done")
)

type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskDone    TaskStatus = "done"
)

// Task is one persisted task row. A task belongs to exactly one chat for its
// entire life; Status only ever moves pending -> done; Duration is set exactly
// once at completion and is empty iff the task is pending.
type Task struct {
	ID          int64
	ChatID      int64
	Description string
	Status      TaskStatus
	CreatedAt   time.Time
	CreatedBy   string
	Duration    string
}

// DayWindow bounds a listing to tasks created within [Start, End).
type DayWindow struct {
	Start time.Time
	End   time.Time
}

// Today returns the window covering now's calendar day in loc.
func Today(now time.Time, loc *time.Location) DayWindow {
	if loc == nil {
		loc = now.Location()
	}
	n := now.In(loc)
	start := time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, loc)
	return DayWindow{Start: start, End: start.AddDate(0, 0, 1)}
}

// Config configures storage. Driver "sqlite" is the only backend.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // 0 means default
}
