// Package bot routes inbound chat updates to the task service.
//
// Each update is handled on its own goroutine; handlers are independent units
// of concurrency with no ordering guarantee between them. All errors are
// converted to user-facing replies at this boundary; a failing command never
// crashes the dispatch loop or leaks into another chat.
package bot

import (
	"context"
	"runtime/debug"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/kabinh07/team-bot/internal/tasks"
	"github.com/kabinh07/team-bot/internal/transport"
	"github.com/kabinh07/team-bot/pkg/logx"
)

// Notifier is the outbound slice the router needs.
type Notifier interface {
	Enqueue(n transport.Notification) error
}

type handlerFunc func(ctx context.Context, m *transport.Message, args string) (string, error)

type command struct {
	name string
	help string
	fn   handlerFunc
}

type Router struct {
	svc   *tasks.Service
	notif Notifier
	log   logx.Logger

	commands map[string]command

	// active tracks chats that opted in via /start. SmartAdd only runs for
	// these so the bot doesn't try to parse chatter in rooms that never asked.
	mu     sync.Mutex
	active map[int64]struct{}
}

func NewRouter(svc *tasks.Service, notif Notifier, log logx.Logger) *Router {
	r := &Router{
		svc:    svc,
		notif:  notif,
		log:    log,
		active: map[int64]struct{}{},
	}
	r.commands = map[string]command{
		"start":     {"start", "register this chat", r.cmdStart},
		"help":      {"help", "show this help", r.cmdHelp},
		"addtask":   {"addtask", "add a task: /addtask <description>", r.cmdAddTask},
		"listtasks": {"listtasks", "list today's tasks (/listtasks all for everything)", r.cmdListTasks},
		"done":      {"done", "complete a task: /done <number>", r.cmdDone},
		"schedule":  {"schedule", "schedule a message: /schedule HH:MM <text>", r.cmdSchedule},
		"gptask":    {"gptask", "let the assistant suggest a task: /gptask <prompt>", r.cmdSuggest},
		"motivate":  {"motivate", "get a motivational line", r.cmdMotivate},
		"report":    {"report", "assistant productivity report", r.cmdReport},
	}
	return r
}

// DispatchLoop consumes updates until ctx is done or the channel closes.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan transport.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			if up.Message == nil || strings.TrimSpace(up.Message.Text) == "" {
				continue
			}
			go r.handle(ctx, up.Message)
		}
	}
}

func (r *Router) handle(ctx context.Context, m *transport.Message) {
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("panic in handler",
				logx.Int64("chat", m.ChatID),
				logx.Any("panic", rec),
				logx.String("stack", string(debug.Stack())))
		}
	}()

	text := strings.TrimSpace(m.Text)

	if name, args, ok := splitCommand(text); ok {
		cmd, known := r.commands[name]
		if !known {
			r.reply(m.ChatID, "Unknown command. Try /help.")
			return
		}
		reply, err := cmd.fn(ctx, m, args)
		if err != nil {
			r.log.Debug("command failed",
				logx.String("cmd", name),
				logx.Int64("chat", m.ChatID),
				logx.Err(err))
			reply = tasks.UserMessage(err)
		}
		r.reply(m.ChatID, reply)
		return
	}

	// Free text: smart-add in chats that opted in.
	if !r.isActive(m.ChatID) {
		return
	}
	reply, err := r.svc.SmartAdd(ctx, m.ChatID, text, m.SenderIdentity())
	if err != nil {
		reply = tasks.UserMessage(err)
	}
	r.reply(m.ChatID, reply)
}

// splitCommand parses "/cmd@botname args" into (cmd, args, true).
func splitCommand(text string) (name, args string, ok bool) {
	if !strings.HasPrefix(text, "/") {
		return "", "", false
	}
	rest := text[1:]
	if i := strings.IndexAny(rest, " \t"); i >= 0 {
		name, args = rest[:i], strings.TrimSpace(rest[i+1:])
	} else {
		name = rest
	}
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	name = strings.ToLower(name)
	if name == "" {
		return "", "", false
	}
	return name, args, true
}

func (r *Router) reply(chatID int64, text string) {
	if text == "" {
		return
	}
	err := r.notif.Enqueue(transport.Notification{
		Kind:   "reply",
		Target: transport.ChatTarget{ChatID: chatID},
		Text:   text,
	})
	if err != nil {
		r.log.Warn("reply not queued", logx.Int64("chat", chatID), logx.Err(err))
	}
}

func (r *Router) isActive(chatID int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.active[chatID]
	return ok
}

// ---- command handlers ----

func (r *Router) cmdStart(ctx context.Context, m *transport.Message, args string) (string, error) {
	r.mu.Lock()
	r.active[m.ChatID] = struct{}{}
	r.mu.Unlock()
	return "Hi! I'm your task bot. Use /addtask, /listtasks, /done, /schedule — or just tell me what to remind you about.", nil
}

func (r *Router) cmdHelp(ctx context.Context, m *transport.Message, args string) (string, error) {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, name := range names {
		b.WriteString("/" + name + " — " + r.commands[name].help + "\n")
	}
	b.WriteString("Anything else is treated as a reminder request.")
	return b.String(), nil
}

func (r *Router) cmdAddTask(ctx context.Context, m *transport.Message, args string) (string, error) {
	return r.svc.AddTask(ctx, m.ChatID, args, m.SenderIdentity())
}

func (r *Router) cmdListTasks(ctx context.Context, m *transport.Message, args string) (string, error) {
	todayOnly := !strings.EqualFold(strings.TrimSpace(args), "all")
	return r.svc.ListTasks(ctx, m.ChatID, todayOnly)
}

func (r *Router) cmdDone(ctx context.Context, m *transport.Message, args string) (string, error) {
	ordinal, err := strconv.Atoi(strings.TrimSpace(args))
	if err != nil {
		return "", tasks.ErrNotFound
	}
	return r.svc.CompleteTask(ctx, m.ChatID, ordinal, m.SenderIdentity())
}

func (r *Router) cmdSchedule(ctx context.Context, m *transport.Message, args string) (string, error) {
	timeOfDay, message, _ := strings.Cut(args, " ")
	return r.svc.ScheduleBroadcast(ctx, m.ChatID, timeOfDay, message)
}

func (r *Router) cmdSuggest(ctx context.Context, m *transport.Message, args string) (string, error) {
	return r.svc.SuggestTask(ctx, m.ChatID, args, m.SenderIdentity())
}

func (r *Router) cmdMotivate(ctx context.Context, m *transport.Message, args string) (string, error) {
	return r.svc.Motivate(ctx)
}

func (r *Router) cmdReport(ctx context.Context, m *transport.Message, args string) (string, error) {
	return r.svc.Report(ctx, m.ChatID)
}
