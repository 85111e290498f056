package logx

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ChatSink delivers one formatted log line to a chat. Implementations must
// not log through logx themselves or they will feed back into the sink.
type ChatSink interface {
	SendLog(chatID int64, text string)
}

// telegramSink is a zerolog LevelWriter that forwards selected log lines to a
// chat through a bounded queue. Logging never blocks on chat delivery.
type telegramSink struct {
	sink ChatSink

	mu       sync.Mutex
	chatID   int64
	minLevel zerolog.Level
	limiter  *rate.Limiter

	queue chan string
	once  sync.Once
	done  chan struct{}
}

func newTelegramSink(sink ChatSink) *telegramSink {
	return &telegramSink{
		sink:     sink,
		minLevel: zerolog.WarnLevel,
		queue:    make(chan string, 256),
		done:     make(chan struct{}),
	}
}

func (t *telegramSink) apply(cfg TelegramConfig) {
	t.mu.Lock()
	t.minLevel = parseLevel(cfg.MinLevel, zerolog.WarnLevel)
	rps := cfg.RatePerSec
	if rps < 1 {
		rps = 1
	}
	t.limiter = rate.NewLimiter(rate.Limit(rps), rps)
	t.mu.Unlock()

	t.once.Do(func() { go t.worker() })
}

func (t *telegramSink) setTarget(chatID int64) {
	t.mu.Lock()
	t.chatID = chatID
	t.mu.Unlock()
}

func (t *telegramSink) close() {
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

func (t *telegramSink) worker() {
	for {
		select {
		case <-t.done:
			return
		case msg := <-t.queue:
			t.mu.Lock()
			chatID := t.chatID
			t.mu.Unlock()
			if chatID != 0 {
				t.sink.SendLog(chatID, msg)
			}
		}
	}
}

func (t *telegramSink) Write(p []byte) (int, error) {
	return t.WriteLevel(zerolog.InfoLevel, p)
}

func (t *telegramSink) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	t.mu.Lock()
	chatID := t.chatID
	min := t.minLevel
	lim := t.limiter
	t.mu.Unlock()

	if chatID == 0 || level < min || lim == nil || !lim.Allow() {
		return len(p), nil
	}

	msg := renderChatLine(p)
	if msg == "" {
		return len(p), nil
	}
	select {
	case t.queue <- msg:
	default:
		// drop; chat logging is best-effort
	}
	return len(p), nil
}

// renderChatLine turns a zerolog JSON line into a short human-readable chat
// message.
func renderChatLine(p []byte) string {
	var m map[string]any
	if err := json.Unmarshal(p, &m); err != nil {
		return truncate(strings.TrimSpace(string(p)), 3500)
	}

	lvl, _ := m["level"].(string)
	msg, _ := m["message"].(string)

	var b strings.Builder
	if lvl != "" {
		b.WriteString("[" + strings.ToUpper(lvl) + "] ")
	}
	b.WriteString(msg)
	for k, v := range m {
		switch k {
		case "time", "level", "message", "caller":
			continue
		}
		b.WriteString("\n- " + k + "=" + truncate(fmt.Sprint(v), 600))
	}
	return truncate(b.String(), 3500)
}

func truncate(s string, maxN int) string {
	if maxN <= 0 || len(s) <= maxN {
		return s
	}
	if maxN < 10 {
		return s[:maxN]
	}
	return s[:maxN-3] + "..."
}
