package scheduler

import (
	"time"

	"github.com/kabinh07/team-bot/internal/transport"
)

type JobID string

type JobState int8

const (
	JobScheduled JobState = iota
	JobFired
	JobCancelled
)

func (s JobState) String() string {
	switch s {
	case JobScheduled:
		return "scheduled"
	case JobFired:
		return "fired"
	case JobCancelled:
		return "cancelled"
	}
	return "unknown"
}

// Payload is what a fired job delivers. It is a plain value so jobs never
// capture live handles or mutable state.
type Payload = transport.Notification

// Dispatcher receives the payload of a fired job. It must be quick and
// non-blocking; the notify pipeline's enqueue qualifies.
type Dispatcher func(p Payload)

// FiredItem is one history entry kept for the periodic stats snapshot.
type FiredItem struct {
	ID     JobID
	FireAt time.Time
	Fired  time.Time
	Kind   string
}

type Config struct {
	// HistorySize bounds the fired-job ring. 0 means 200.
	HistorySize int
}
