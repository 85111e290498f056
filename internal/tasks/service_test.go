package tasks

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/kabinh07/team-bot/internal/assistant"
	"github.com/kabinh07/team-bot/internal/eventbus"
	"github.com/kabinh07/team-bot/internal/scheduler"
	"github.com/kabinh07/team-bot/internal/storage"
	"github.com/kabinh07/team-bot/internal/timeparse"
	"github.com/kabinh07/team-bot/pkg/logx"
)

type schedCall struct {
	at time.Time
	p  scheduler.Payload
}

// fakeSched records Schedule calls instead of arming timers.
type fakeSched struct {
	calls []schedCall
}

func (f *fakeSched) Schedule(at time.Time, p scheduler.Payload) scheduler.JobID {
	f.calls = append(f.calls, schedCall{at: at, p: p})
	return scheduler.JobID(fmt.Sprintf("job-%d", len(f.calls)))
}

// fakeGen returns a canned assistant response or error.
type fakeGen struct {
	text string
	err  error
}

func (f *fakeGen) Generate(ctx context.Context, system, prompt string) (string, error) {
	return f.text, f.err
}

func newTestService(t *testing.T, gen *fakeGen, parse TimeParser) (*Service, storage.Store, *fakeSched) {
	t.Helper()
	st, err := storage.Open(storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "tasks.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	sched := &fakeSched{}
	// A typed nil would still be a non-nil Generator interface.
	var g assistant.Generator
	if gen != nil {
		g = gen
	}
	svc := NewService(st, sched, g, parse, time.UTC, nil, logx.Nop())
	return svc, st, sched
}

func TestAddAndList(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	reply, err := svc.AddTask(ctx, 1, "buy milk", "alice")
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if reply != "✅ Task #1 added by alice: buy milk" {
		t.Fatalf("reply = %q", reply)
	}
	if _, err := svc.AddTask(ctx, 1, "ship release", "bob"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	listing, err := svc.ListTasks(ctx, 1, true)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	want := "🗂️ Today's tasks:\n1. buy milk - pending - alice\n2. ship release - pending - bob"
	if listing != want {
		t.Fatalf("listing = %q, want %q", listing, want)
	}
}

func TestAddTaskEmpty(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil, nil)

	_, err := svc.AddTask(context.Background(), 1, "   ", "alice")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
	if msg := UserMessage(err); msg != "❗ Please provide a task description." {
		t.Fatalf("UserMessage = %q", msg)
	}
}

func TestListEmpty(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil, nil)

	listing, err := svc.ListTasks(context.Background(), 1, true)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if listing != "📭 No tasks yet." {
		t.Fatalf("listing = %q", listing)
	}
}

func TestCompleteOwnership(t *testing.T) {
	t.Parallel()
	svc, st, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.AddTask(ctx, 1, "buy milk", "alice"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}

	// Completion by anyone but the creator is denied and names the creator.
	_, err := svc.CompleteTask(ctx, 1, 1, "bob")
	var notOwner *NotOwnerError
	if !errors.As(err, &notOwner) {
		t.Fatalf("err = %v, want NotOwnerError", err)
	}
	wantMsg := "⛔ You can only mark your own tasks as done. This one was created by alice."
	if msg := UserMessage(err); msg != wantMsg {
		t.Fatalf("UserMessage = %q, want %q", msg, wantMsg)
	}

	// The denial must not touch the task.
	task, err := st.TaskByOrdinal(ctx, 1, 1)
	if err != nil {
		t.Fatalf("TaskByOrdinal: %v", err)
	}
	if task.Status != storage.TaskPending {
		t.Fatalf("status after denial = %q, want pending", task.Status)
	}

	// The creator succeeds and gets a non-empty elapsed duration.
	reply, err := svc.CompleteTask(ctx, 1, 1, "alice")
	if err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}
	if !strings.HasPrefix(reply, "✅ Task done!\n⏱️ Time taken: ") {
		t.Fatalf("reply = %q", reply)
	}
	if strings.TrimPrefix(reply, "✅ Task done!\n⏱️ Time taken: ") == "" {
		t.Fatal("empty duration in completion reply")
	}
}

func TestCompleteErrors(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.CompleteTask(ctx, 1, 1, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty chat err = %v, want ErrNotFound", err)
	}

	if _, err := svc.AddTask(ctx, 1, "buy milk", "alice"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := svc.CompleteTask(ctx, 1, 7, "alice"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("bad ordinal err = %v, want ErrNotFound", err)
	}
	if msg := UserMessage(fmt.Errorf("%w: ordinal 7", ErrNotFound)); msg != "❗ Please provide a valid task number." {
		t.Fatalf("UserMessage = %q", msg)
	}

	if _, err := svc.CompleteTask(ctx, 1, 1, "alice"); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	if _, err := svc.CompleteTask(ctx, 1, 1, "alice"); !errors.Is(err, ErrConflict) {
		t.Fatalf("double complete err = %v, want ErrConflict", err)
	}
}

func TestSmartAdd(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, time.August, 31, 9, 0, 0, 0, time.UTC)
	parse := func(text string, now time.Time) (timeparse.Result, bool) {
		return timeparse.Result{At: at, Remainder: "call Bob"}, true
	}
	svc, st, sched := newTestService(t, nil, parse)
	ctx := context.Background()

	reply, err := svc.SmartAdd(ctx, 1, "remind me to call Bob tomorrow at 9am", "alice")
	if err != nil {
		t.Fatalf("SmartAdd: %v", err)
	}
	if reply != "📝 Task and reminder added for 2026-08-31 09:00" {
		t.Fatalf("reply = %q", reply)
	}

	ts, err := st.ListTasks(ctx, 1, nil)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(ts) != 1 || ts[0].Description != "call Bob" || ts[0].CreatedBy != "alice" {
		t.Fatalf("tasks = %+v", ts)
	}

	if len(sched.calls) != 1 {
		t.Fatalf("scheduled %d jobs, want 1", len(sched.calls))
	}
	call := sched.calls[0]
	if !call.at.Equal(at) {
		t.Fatalf("fireAt = %v, want %v", call.at, at)
	}
	if call.p.Kind != "reminder" || call.p.Text != "🔔 Reminder: call Bob" {
		t.Fatalf("payload = %+v", call.p)
	}
	if call.p.Target.ChatID != 1 {
		t.Fatalf("target chat = %d, want 1", call.p.Target.ChatID)
	}
}

func TestSmartAddParseMiss(t *testing.T) {
	t.Parallel()
	svc, st, sched := newTestService(t, nil, nil) // real parser

	_, err := svc.SmartAdd(context.Background(), 1, "hello everyone", "alice")
	if !errors.Is(err, ErrParse) {
		t.Fatalf("err = %v, want ErrParse", err)
	}
	wantMsg := "❗ Could not understand the time. Try something like \"remind me to call Bob tomorrow at 9am\"."
	if msg := UserMessage(err); msg != wantMsg {
		t.Fatalf("UserMessage = %q", msg)
	}

	// A miss creates nothing at all.
	ts, err := st.ListTasks(context.Background(), 1, nil)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(ts) != 0 || len(sched.calls) != 0 {
		t.Fatalf("miss side effects: %d tasks, %d jobs", len(ts), len(sched.calls))
	}
}

func TestScheduleBroadcast(t *testing.T) {
	t.Parallel()
	svc, _, sched := newTestService(t, nil, nil)
	ctx := context.Background()

	if _, err := svc.ScheduleBroadcast(ctx, 1, "09:00", "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("empty message err = %v, want ErrValidation", err)
	}
	for _, bad := range []string{"9am", "25:00", "09:60", "0930", ""} {
		if _, err := svc.ScheduleBroadcast(ctx, 1, bad, "standup!"); !errors.Is(err, ErrParse) {
			t.Fatalf("ScheduleBroadcast(%q) err = %v, want ErrParse", bad, err)
		}
	}
	if len(sched.calls) != 0 {
		t.Fatalf("rejected inputs scheduled %d jobs", len(sched.calls))
	}

	reply, err := svc.ScheduleBroadcast(ctx, 1, "23:59", "standup!")
	if err != nil {
		t.Fatalf("ScheduleBroadcast: %v", err)
	}
	if !strings.HasPrefix(reply, "⏰ Message scheduled for ") {
		t.Fatalf("reply = %q", reply)
	}
	if len(sched.calls) != 1 || sched.calls[0].p.Kind != "broadcast" || sched.calls[0].p.Text != "standup!" {
		t.Fatalf("calls = %+v", sched.calls)
	}
}

func TestResolveClockTime(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, time.August, 30, 14, 0, 0, 0, time.UTC)

	at, err := resolveClockTime("18:30", now)
	if err != nil {
		t.Fatalf("resolveClockTime: %v", err)
	}
	if want := time.Date(2026, time.August, 30, 18, 30, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("future time = %v, want %v", at, want)
	}

	// A time already past today rolls to tomorrow.
	at, err = resolveClockTime("09:00", now)
	if err != nil {
		t.Fatalf("resolveClockTime: %v", err)
	}
	if want := time.Date(2026, time.August, 31, 9, 0, 0, 0, time.UTC); !at.Equal(want) {
		t.Fatalf("past time = %v, want %v", at, want)
	}
}

func TestSuggestTask(t *testing.T) {
	t.Parallel()
	svc, st, _ := newTestService(t, &fakeGen{text: "Review the deploy checklist"}, nil)
	ctx := context.Background()

	reply, err := svc.SuggestTask(ctx, 1, "we keep breaking deploys", "alice")
	if err != nil {
		t.Fatalf("SuggestTask: %v", err)
	}
	if reply != "🧠 Suggested task #1 added: Review the deploy checklist" {
		t.Fatalf("reply = %q", reply)
	}
	ts, _ := st.ListTasks(ctx, 1, nil)
	if len(ts) != 1 || ts[0].Status != storage.TaskPending {
		t.Fatalf("tasks = %+v", ts)
	}
}

func TestAssistantFailure(t *testing.T) {
	t.Parallel()
	svc, st, _ := newTestService(t, &fakeGen{err: errors.New("upstream 500")}, nil)
	ctx := context.Background()

	_, err := svc.Motivate(ctx)
	if !errors.Is(err, ErrService) {
		t.Fatalf("err = %v, want ErrService", err)
	}
	wantMsg := "There was a problem contacting the assistant. Please try again later."
	if msg := UserMessage(err); msg != wantMsg {
		t.Fatalf("UserMessage = %q", msg)
	}

	// A failed suggestion must not create a task.
	if _, err := svc.SuggestTask(ctx, 1, "anything", "alice"); !errors.Is(err, ErrService) {
		t.Fatalf("SuggestTask err = %v, want ErrService", err)
	}
	ts, _ := st.ListTasks(ctx, 1, nil)
	if len(ts) != 0 {
		t.Fatalf("failed suggestion created %d tasks", len(ts))
	}
}

func TestAssistantDisabled(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, nil, nil)

	if _, err := svc.Motivate(context.Background()); !errors.Is(err, ErrService) {
		t.Fatalf("err = %v, want ErrService", err)
	}
}

func TestMotivate(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, &fakeGen{text: "One task at a time."}, nil)

	got, err := svc.Motivate(context.Background())
	if err != nil {
		t.Fatalf("Motivate: %v", err)
	}
	if got != "💬 One task at a time." {
		t.Fatalf("reply = %q", got)
	}
}

func TestReport(t *testing.T) {
	t.Parallel()
	svc, _, _ := newTestService(t, &fakeGen{text: "Mostly pending."}, nil)
	ctx := context.Background()

	got, err := svc.Report(ctx, 1)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got != "📭 No tasks to report yet." {
		t.Fatalf("empty report = %q", got)
	}

	if _, err := svc.AddTask(ctx, 1, "buy milk", "alice"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	got, err = svc.Report(ctx, 1)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if got != "📊 Productivity report:\nMostly pending." {
		t.Fatalf("report = %q", got)
	}
}

func TestLifecycleEvents(t *testing.T) {
	t.Parallel()
	st, err := storage.Open(storage.Config{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "tasks.db"),
	}, logx.Nop())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.New()
	ch, unsub := bus.Subscribe(4)
	defer unsub()

	svc := NewService(st, &fakeSched{}, nil, nil, time.UTC, bus, logx.Nop())
	ctx := context.Background()

	if _, err := svc.AddTask(ctx, 1, "buy milk", "alice"); err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if _, err := svc.CompleteTask(ctx, 1, 1, "alice"); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	want := []eventbus.Type{eventbus.TaskCreated, eventbus.TaskCompleted}
	for _, w := range want {
		select {
		case e := <-ch:
			if e.Type != w {
				t.Fatalf("event = %q, want %q", e.Type, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("no %q event", w)
		}
	}
}
