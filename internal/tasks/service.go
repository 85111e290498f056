// Package tasks implements the use cases of the group task bot: recording
// tasks, completing them under the ownership policy, and arming one-shot
// reminder and broadcast notifications.
//
// The service holds no state of its own; it is a stateless coordinator over
// the task store, the ownership policy and the scheduler.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kabinh07/team-bot/internal/assistant"
	"github.com/kabinh07/team-bot/internal/eventbus"
	"github.com/kabinh07/team-bot/internal/scheduler"
	"github.com/kabinh07/team-bot/internal/storage"
	"github.com/kabinh07/team-bot/internal/timeparse"
	"github.com/kabinh07/team-bot/internal/transport"
	"github.com/kabinh07/team-bot/pkg/logx"
)

const assistantSystemPrompt = "You are a helpful assistant who creates tasks and gives motivational advice."

// Scheduler is the slice of the job engine the service needs.
type Scheduler interface {
	Schedule(fireAt time.Time, p scheduler.Payload) scheduler.JobID
}

// TimeParser resolves a free-text time expression against a reference now.
type TimeParser func(text string, now time.Time) (timeparse.Result, bool)

type Service struct {
	store  storage.Store
	sched  Scheduler
	assist assistant.Generator // nil when the assistant is disabled
	parse  TimeParser
	loc    *time.Location
	bus    eventbus.Bus
	log    logx.Logger
}

func NewService(store storage.Store, sched Scheduler, assist assistant.Generator, parse TimeParser, loc *time.Location, bus eventbus.Bus, log logx.Logger) *Service {
	if parse == nil {
		parse = timeparse.Parse
	}
	if loc == nil {
		loc = time.Local
	}
	return &Service{store: store, sched: sched, assist: assist, parse: parse, loc: loc, bus: bus, log: log}
}

// AddTask records a new pending task and confirms it naming the creator.
func (s *Service) AddTask(ctx context.Context, chatID int64, description, actor string) (string, error) {
	t, err := s.store.CreateTask(ctx, chatID, description, actor)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyDescription) {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return "", err
	}
	s.publish(eventbus.TaskCreated, t)
	return fmt.Sprintf("✅ Task #%d added by %s: %s", t.ID, t.CreatedBy, t.Description), nil
}

// ListTasks renders the chat's tasks in creation order. todayOnly restricts
// the listing to tasks created during the current calendar day.
func (s *Service) ListTasks(ctx context.Context, chatID int64, todayOnly bool) (string, error) {
	var window *storage.DayWindow
	header := "🗂️ Tasks:"
	if todayOnly {
		w := storage.Today(time.Now(), s.loc)
		window = &w
		header = "🗂️ Today's tasks:"
	}
	ts, err := s.store.ListTasks(ctx, chatID, window)
	if err != nil {
		return "", err
	}
	if len(ts) == 0 {
		return "📭 No tasks yet.", nil
	}
	return header + "\n" + FormatTaskList(ts), nil
}

// CompleteTask marks task #ordinal done on behalf of actor. The ordinal is
// resolved against the live listing, the same numbering ListTasks last
// displayed.
func (s *Service) CompleteTask(ctx context.Context, chatID int64, ordinal int, actor string) (string, error) {
	t, err := s.store.TaskByOrdinal(ctx, chatID, ordinal)
	if err != nil {
		if errors.Is(err, storage.ErrTaskNotFound) {
			return "", fmt.Errorf("%w: ordinal %d", ErrNotFound, ordinal)
		}
		return "", err
	}
	if !CanComplete(t, actor) {
		return "", &NotOwnerError{Creator: t.CreatedBy}
	}
	done, err := s.store.CompleteTask(ctx, t)
	if err != nil {
		if errors.Is(err, storage.ErrTaskDone) {
			return "", fmt.Errorf("%w: task #%d", ErrConflict, t.ID)
		}
		return "", err
	}
	s.publish(eventbus.TaskCompleted, done)
	return fmt.Sprintf("✅ Task done!\n⏱️ Time taken: %s", done.Duration), nil
}

// SmartAdd handles free text like "remind me to call Bob tomorrow at 9am":
// resolve the time expression, record the remaining text as a task and arm a
// one-shot reminder. An unparseable time creates nothing.
func (s *Service) SmartAdd(ctx context.Context, chatID int64, text, actor string) (string, error) {
	res, ok := s.parse(text, time.Now().In(s.loc))
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrParse, text)
	}
	description := res.Remainder
	if description == "" {
		description = strings.TrimSpace(text)
	}

	t, err := s.store.CreateTask(ctx, chatID, description, actor)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyDescription) {
			return "", fmt.Errorf("%w: %v", ErrValidation, err)
		}
		return "", err
	}
	s.publish(eventbus.TaskCreated, t)

	s.sched.Schedule(res.At, scheduler.Payload{
		Kind:   "reminder",
		Target: transport.ChatTarget{ChatID: chatID},
		Text:   "🔔 Reminder: " + t.Description,
	})
	return fmt.Sprintf("📝 Task and reminder added for %s", res.At.Format("2006-01-02 15:04")), nil
}

// ScheduleBroadcast arms a one-shot broadcast of message at the given clock
// time. A time already past for today rolls to tomorrow: firing "09:00" the
// moment someone types it at 14:00 is never what they meant.
func (s *Service) ScheduleBroadcast(ctx context.Context, chatID int64, timeOfDay, message string) (string, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return "", fmt.Errorf("%w: empty message", ErrValidation)
	}
	at, err := resolveClockTime(timeOfDay, time.Now().In(s.loc))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrParse, err)
	}

	s.sched.Schedule(at, scheduler.Payload{
		Kind:   "broadcast",
		Target: transport.ChatTarget{ChatID: chatID},
		Text:   message,
	})
	return fmt.Sprintf("⏰ Message scheduled for %s", at.Format("2006-01-02 15:04")), nil
}

// SuggestTask asks the assistant to turn a prompt into a task and persists
// the suggestion as a new pending task.
func (s *Service) SuggestTask(ctx context.Context, chatID int64, prompt, actor string) (string, error) {
	text, err := s.generate(ctx, "Create a short, actionable task from this prompt: "+prompt)
	if err != nil {
		return "", err
	}
	t, err := s.store.CreateTask(ctx, chatID, text, actor)
	if err != nil {
		if errors.Is(err, storage.ErrEmptyDescription) {
			return "", fmt.Errorf("%w: assistant returned no task", ErrService)
		}
		return "", err
	}
	s.publish(eventbus.TaskCreated, t)
	return fmt.Sprintf("🧠 Suggested task #%d added: %s", t.ID, t.Description), nil
}

// Motivate fetches a short motivational line from the assistant.
func (s *Service) Motivate(ctx context.Context) (string, error) {
	text, err := s.generate(ctx, "Give a motivational quote for someone managing tasks.")
	if err != nil {
		return "", err
	}
	return "💬 " + text, nil
}

// Report summarizes the chat's full task list through the assistant.
func (s *Service) Report(ctx context.Context, chatID int64) (string, error) {
	ts, err := s.store.ListTasks(ctx, chatID, nil)
	if err != nil {
		return "", err
	}
	if len(ts) == 0 {
		return "📭 No tasks to report yet.", nil
	}
	var b strings.Builder
	for _, t := range ts {
		fmt.Fprintf(&b, "- %s (%s)\n", t.Description, t.Status)
	}
	text, err := s.generate(ctx, "Analyze this task list and give a short productivity report:\n"+b.String())
	if err != nil {
		return "", err
	}
	return "📊 Productivity report:\n" + text, nil
}

func (s *Service) generate(ctx context.Context, prompt string) (string, error) {
	if s.assist == nil {
		return "", fmt.Errorf("%w: assistant disabled", ErrService)
	}
	text, err := s.assist.Generate(ctx, assistantSystemPrompt, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrService, err)
	}
	return text, nil
}

func (s *Service) publish(typ eventbus.Type, t storage.Task) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{
		"task": t.ID,
		"chat": t.ChatID,
	}})
}

// resolveClockTime combines "HH:MM" with now's date, rolling to tomorrow when
// the time already passed today.
func resolveClockTime(raw string, now time.Time) (time.Time, error) {
	parts := strings.Split(strings.TrimSpace(raw), ":")
	if len(parts) != 2 {
		return time.Time{}, fmt.Errorf("expected HH:MM, got %q", raw)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return time.Time{}, fmt.Errorf("invalid hour in %q", raw)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return time.Time{}, fmt.Errorf("invalid minute in %q", raw)
	}
	at := time.Date(now.Year(), now.Month(), now.Day(), h, m, 0, 0, now.Location())
	if !at.After(now) {
		at = at.AddDate(0, 0, 1)
	}
	return at, nil
}
