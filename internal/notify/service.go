// Package notify is the async outbound pipeline: a bounded queue drained by a
// small worker pool, with platform rate limiting, bounded retry and duplicate
// suppression. Every outbound message (command replies, reminders, broadcasts)
// leaves through here, so one slow or failing send never stalls a handler or
// the scheduler loop.
package notify

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/kabinh07/team-bot/internal/eventbus"
	"github.com/kabinh07/team-bot/internal/storage"
	"github.com/kabinh07/team-bot/internal/transport"
	"github.com/kabinh07/team-bot/pkg/logx"
)

var (
	ErrQueueFull = errors.New("notifier queue full")
	ErrStopped   = errors.New("notifier stopped")
)

type item struct {
	n        transport.Notification
	dedupKey string
}

type Service struct {
	mu        sync.Mutex
	cfg       Config
	limiter   *rate.Limiter
	queue     chan item
	accepting bool

	adapter transport.Adapter
	store   storage.Store // may be nil
	bus     eventbus.Bus
	log     logx.Logger

	runCtx    context.Context
	runCancel context.CancelFunc
	workerWG  sync.WaitGroup

	// In-memory dedup cache: key -> suppress until.
	dmu   sync.Mutex
	dedup map[string]time.Time
}

func New(cfg Config, adapter transport.Adapter, store storage.Store, bus eventbus.Bus, log logx.Logger) *Service {
	s := &Service{
		adapter: adapter,
		store:   store,
		bus:     bus,
		log:     log,
		dedup:   map[string]time.Time{},
	}
	s.applyLocked(cfg.withDefaults())
	return s
}

func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg.withDefaults())
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	s.cfg = cfg
	// Token bucket with burst == rate so short spikes don't stall.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan item, s.cfg.QueueSize)
	s.accepting = true
	s.runCtx, s.runCancel = context.WithCancel(ctx)
	workers := s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		s.workerWG.Add(1)
		go func(idx int) {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in notify worker",
						logx.Int("worker", idx),
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())))
				}
			}()
			s.workerLoop(idx)
		}(i)
	}
	s.log.Info("notifier started", logx.Int("workers", workers))
}

// Stop blocks intake and drains best-effort until ctx expires.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q := s.queue
	cancel := s.runCancel
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.runCancel = nil
	s.mu.Unlock()

	close(q)

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
	case <-done:
	}
	if cancel != nil {
		cancel()
	}
	s.log.Info("notifier stopped")
}

// Enqueue queues a notification for delivery. It never blocks: a full queue
// returns ErrQueueFull.
func (s *Service) Enqueue(n transport.Notification) error {
	s.mu.Lock()
	q := s.queue
	accepting := s.accepting
	window := s.cfg.DedupWindow
	maxEntries := s.cfg.DedupMaxEntries
	s.mu.Unlock()

	if !accepting || q == nil {
		return ErrStopped
	}

	key := dedupKey(n)
	if window > 0 && !s.dedupAllow(key, window, maxEntries) {
		s.publish(eventbus.NotifyDeduped, n)
		return nil
	}

	select {
	case q <- item{n: n, dedupKey: key}:
		s.publish(eventbus.NotifyQueued, n)
		return nil
	default:
		s.log.Warn("notify queue full, dropping",
			logx.Int64("chat", n.Target.ChatID), logx.String("kind", n.Kind))
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(idx int) {
	s.mu.Lock()
	q := s.queue
	ctx := s.runCtx
	s.mu.Unlock()
	if q == nil {
		return
	}

	for it := range q {
		s.deliver(ctx, it)
	}
}

func (s *Service) deliver(ctx context.Context, it item) {
	s.mu.Lock()
	lim := s.limiter
	retryMax := s.cfg.RetryMax
	base := s.cfg.RetryBase
	maxDelay := s.cfg.RetryMaxDelay
	s.mu.Unlock()

	if err := lim.Wait(ctx); err != nil {
		return
	}

	var err error
	for attempt := 0; ; attempt++ {
		_, err = s.adapter.SendText(ctx, it.n.Target, it.n.Text, nil)
		if err == nil {
			s.publish(eventbus.NotifySent, it.n)
			return
		}
		if attempt >= retryMax || ctx.Err() != nil {
			break
		}
		delay := backoff(base, maxDelay, attempt)
		s.log.Debug("send failed, retrying",
			logx.Int64("chat", it.n.Target.ChatID),
			logx.Int("attempt", attempt+1),
			logx.Duration("delay", delay),
			logx.Err(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
	s.log.Warn("notification dropped after retries",
		logx.Int64("chat", it.n.Target.ChatID),
		logx.String("kind", it.n.Kind),
		logx.Err(err))
	s.publish(eventbus.NotifyFailed, it.n)
}

// dedupAllow reports whether the key may be sent now, and records it.
func (s *Service) dedupAllow(key string, window time.Duration, maxEntries int) bool {
	if key == "" {
		return true
	}
	now := time.Now()

	s.dmu.Lock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		s.dmu.Unlock()
		return false
	}
	if len(s.dedup) >= maxEntries {
		for k, until := range s.dedup {
			if now.After(until) {
				delete(s.dedup, k)
			}
		}
	}
	until := now.Add(window)
	s.dedup[key] = until
	s.dmu.Unlock()

	if s.cfg.PersistDedup && s.store != nil {
		pctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		if _, hit, err := s.store.GetDedup(pctx, key); err == nil && hit {
			cancel()
			return false
		}
		_ = s.store.PutDedup(pctx, key, until)
		cancel()
	}
	return true
}

func (s *Service) publish(typ eventbus.Type, n transport.Notification) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: map[string]any{
		"chat": n.Target.ChatID,
		"kind": n.Kind,
	}})
}

func dedupKey(n transport.Notification) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%d|%s|%s", n.Target.ChatID, n.Kind, n.Text)
	return fmt.Sprintf("%x", h.Sum64())
}

func backoff(base, maxDelay time.Duration, attempt int) time.Duration {
	// Cap the shift so a large attempt count cannot overflow into a negative
	// delay.
	if attempt > 30 {
		attempt = 30
	}
	d := base << uint(attempt)
	if d <= 0 || d > maxDelay {
		d = maxDelay
	}
	// Full jitter keeps concurrent retries from synchronizing.
	return time.Duration(rand.Int63n(int64(d)) + 1)
}
