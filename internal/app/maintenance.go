package app

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kabinh07/team-bot/internal/scheduler"
	"github.com/kabinh07/team-bot/internal/storage"
	"github.com/kabinh07/team-bot/pkg/logx"
)

// maintenance runs the recurring housekeeping jobs. User-facing reminders are
// one-shot and live in the scheduler; cron here is operator plumbing only.
type maintenance struct {
	cron  *cron.Cron
	store storage.Store
	sched *scheduler.Service
	log   logx.Logger
}

func newMaintenance(store storage.Store, sched *scheduler.Service, log logx.Logger) *maintenance {
	m := &maintenance{
		cron:  cron.New(cron.WithChain(cron.Recover(cronLogger{log}), cron.SkipIfStillRunning(cronLogger{log}))),
		store: store,
		sched: sched,
		log:   log,
	}
	if _, err := m.cron.AddFunc("@every 10m", m.pruneDedup); err != nil {
		log.Error("register dedup prune", logx.Err(err))
	}
	if _, err := m.cron.AddFunc("@every 1h", m.statsSnapshot); err != nil {
		log.Error("register stats snapshot", logx.Err(err))
	}
	return m
}

func (m *maintenance) start() { m.cron.Start() }

func (m *maintenance) stop() {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(2 * time.Second):
		m.log.Warn("maintenance job still running at shutdown")
	}
}

func (m *maintenance) pruneDedup() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	n, err := m.store.PruneDedup(ctx, time.Now())
	if err != nil {
		m.log.Warn("dedup prune failed", logx.Err(err))
		return
	}
	if n > 0 {
		m.log.Debug("dedup pruned", logx.Int64("rows", n))
	}
}

func (m *maintenance) statsSnapshot() {
	m.log.Info("scheduler stats",
		logx.Int("pending", m.sched.Pending()),
		logx.Int("fired_recent", len(m.sched.History())))
}

// cronLogger adapts logx to cron's logger so recovered job panics are visible.
type cronLogger struct{ log logx.Logger }

func (c cronLogger) Info(msg string, kv ...any) {
	c.log.Debug(msg, logx.Any("detail", kv))
}

func (c cronLogger) Error(err error, msg string, kv ...any) {
	c.log.Error(msg, logx.Err(err), logx.Any("detail", kv))
}
