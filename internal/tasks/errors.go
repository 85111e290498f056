package tasks

import (
	"errors"
	"fmt"
)

// Error taxonomy for the task service. Every failure a command can hit maps
// onto exactly one of these, and UserMessage turns each into a deterministic
// user-facing reply. Nothing below ever propagates raw to the chat.
var (
	ErrValidation = errors.New("invalid input")
	ErrNotFound   = errors.New("no such task")
	ErrConflict   = errors.New("task already done")
	ErrParse      = errors.New("time expression not understood")
	ErrService    = errors.New("assistant unavailable")
)

// NotOwnerError is the authorization failure; it carries the true creator so
// the denial can name them instead of being a generic refusal.
type NotOwnerError struct {
	Creator string
}

func (e *NotOwnerError) Error() string {
	return fmt.Sprintf("task belongs to %s", e.Creator)
}

// UserMessage converts a service error into the reply text for the chat.
func UserMessage(err error) string {
	var notOwner *NotOwnerError
	switch {
	case errors.As(err, &notOwner):
		return fmt.Sprintf("⛔ You can only mark your own tasks as done. This one was created by %s.", notOwner.Creator)
	case errors.Is(err, ErrValidation):
		return "❗ Please provide a task description."
	case errors.Is(err, ErrNotFound):
		return "❗ Please provide a valid task number."
	case errors.Is(err, ErrConflict):
		return "✅ That task is already done."
	case errors.Is(err, ErrParse):
		return "❗ Could not understand the time. Try something like \"remind me to call Bob tomorrow at 9am\"."
	case errors.Is(err, ErrService):
		return "There was a problem contacting the assistant. Please try again later."
	default:
		return "❗ Something went wrong. Please try again."
	}
}
