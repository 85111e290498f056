// Package app assembles the bot: one App object owns every component and is
// constructed once in main. Configuration, logging, transport, storage,
// scheduler, notifier and the command router are wired explicitly here, never
// through package-level singletons.
package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kabinh07/team-bot/internal/assistant"
	"github.com/kabinh07/team-bot/internal/bot"
	"github.com/kabinh07/team-bot/internal/config"
	"github.com/kabinh07/team-bot/internal/eventbus"
	"github.com/kabinh07/team-bot/internal/notify"
	"github.com/kabinh07/team-bot/internal/scheduler"
	"github.com/kabinh07/team-bot/internal/storage"
	"github.com/kabinh07/team-bot/internal/tasks"
	"github.com/kabinh07/team-bot/internal/transport"
	"github.com/kabinh07/team-bot/internal/transport/telegram"
	"github.com/kabinh07/team-bot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	logs *logx.Service
	log  logx.Logger

	adapter transport.Adapter
	store   storage.Store
	bus     eventbus.Bus
	notif   *notify.Service
	sched   *scheduler.Service
	svc     *tasks.Service
	router  *bot.Router
	maint   *maintenance

	updates chan transport.Update

	runCancel context.CancelFunc
	runWG     sync.WaitGroup
}

// chatSink forwards log lines out through the adapter without logging back
// into logx.
type chatSink struct{ ad transport.Adapter }

func (c chatSink) SendLog(chatID int64, text string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = c.ad.SendText(ctx, transport.ChatTarget{ChatID: chatID}, text, &transport.SendOptions{DisablePreview: true})
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole(cfg.Logging.Level)

	pollTimeout, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog.With(logx.String("comp", "telegram")))
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}, chatSink{ad: ad})
	log = log.With(logx.String("comp", "app"))
	applyLogTarget(logSvc, cfg.Telegram.GroupLog)

	busyTimeout, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logSvc.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	notifCfg, err := notifierConfig(cfg.Notifier)
	if err != nil {
		return nil, err
	}
	notif := notify.New(notifCfg, ad, store, bus, logSvc.Logger().With(logx.String("comp", "notifier")))

	sched := scheduler.New(scheduler.Config{HistorySize: cfg.Scheduler.HistorySize},
		func(p scheduler.Payload) {
			bus.Publish(eventbus.Event{Type: eventbus.JobFired, Data: map[string]any{
				"chat": p.Target.ChatID,
				"kind": p.Kind,
			}})
			_ = notif.Enqueue(p)
		},
		logSvc.Logger().With(logx.String("comp", "scheduler")))

	loc := time.Local
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err = time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}

	var gen assistant.Generator
	if cfg.Assistant.Enabled {
		timeout, err := config.ParseDurationField("assistant.timeout", cfg.Assistant.Timeout, 30*time.Second)
		if err != nil {
			return nil, err
		}
		client, err := assistant.New(assistant.Config{
			BaseURL: cfg.Assistant.BaseURL,
			APIKey:  cfg.Assistant.APIKey,
			Model:   cfg.Assistant.Model,
			Timeout: timeout,
		}, logSvc.Logger().With(logx.String("comp", "assistant")))
		if err != nil {
			return nil, err
		}
		gen = client
	}

	svc := tasks.NewService(store, sched, gen, nil, loc, bus,
		logSvc.Logger().With(logx.String("comp", "tasks")))
	router := bot.NewRouter(svc, notif, logSvc.Logger().With(logx.String("comp", "router")))

	a := &App{
		cfgm:    cfgm,
		logs:    logSvc,
		log:     log,
		adapter: ad,
		store:   store,
		bus:     bus,
		notif:   notif,
		sched:   sched,
		svc:     svc,
		router:  router,
		updates: make(chan transport.Update, 256),
	}
	a.maint = newMaintenance(store, sched, logSvc.Logger().With(logx.String("comp", "maintenance")))
	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.runCancel = cancel

	a.cfgm.SetLogger(a.logs.Logger().With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout, 0); err != nil {
			return err
		}
		if _, err := notifierConfig(cfg.Notifier); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		return err
	}
	a.notif.Start(runCtx)
	a.sched.Start(runCtx)
	a.maint.start()

	a.goSupervised(runCtx, "router.dispatch", func(c context.Context) {
		_ = a.router.DispatchLoop(c, a.updates)
	})
	a.goSupervised(runCtx, "config.watch", func(c context.Context) {
		_ = a.cfgm.Watch(c)
	})
	a.goSupervised(runCtx, "config.reload", a.reloadLoop)
	a.goSupervised(runCtx, "events.debug", a.eventLoop)

	a.log.Info("app started")
	return nil
}

func (a *App) goSupervised(ctx context.Context, name string, fn func(context.Context)) {
	a.runWG.Add(1)
	go func() {
		defer a.runWG.Done()
		fn(ctx)
		a.log.Debug("loop exited", logx.String("name", name))
	}()
}

// reloadLoop applies committed config changes to the live services.
func (a *App) reloadLoop(ctx context.Context) {
	sub := a.cfgm.Subscribe(8)
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-sub:
			if !ok {
				return
			}
			a.logs.Apply(logx.Config{
				Level:   cfg.Logging.Level,
				Console: cfg.Logging.Console,
				File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
				Telegram: logx.TelegramConfig{
					Enabled:    cfg.Logging.Telegram.Enabled,
					MinLevel:   cfg.Logging.Telegram.MinLevel,
					RatePerSec: cfg.Logging.Telegram.RatePerSec,
				},
			})
			applyLogTarget(a.logs, cfg.Telegram.GroupLog)

			if ncfg, err := notifierConfig(cfg.Notifier); err == nil {
				a.notif.Apply(ncfg)
			}
			a.log.Info("config applied")
		}
	}
}

// eventLoop drains the bus at debug level so telemetry events are visible in
// logs without any component depending on another's internals.
func (a *App) eventLoop(ctx context.Context) {
	events, unsub := a.bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", string(e.Type)), logx.Any("data", e.Data))
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.log.Info("stopping")
	if a.runCancel != nil {
		a.runCancel()
	}

	// Each step gets an upper bound so one component can't stall shutdown.
	step := func(name string, max time.Duration, fn func(context.Context)) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		done := make(chan struct{})
		go func() {
			defer close(done)
			fn(stepCtx)
		}()
		select {
		case <-done:
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name))
		}
	}

	a.maint.stop()
	step("scheduler", 2*time.Second, func(c context.Context) { a.sched.Stop(c) })
	step("notifier", 3*time.Second, func(c context.Context) { a.notif.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) { _ = a.adapter.Stop(c) })

	done := make(chan struct{})
	go func() {
		a.runWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		a.log.Warn("background loops still running at shutdown")
	}

	if a.store != nil {
		_ = a.store.Close()
	}
	_ = a.logs.Close()
	a.log.Info("stopped")
	return nil
}

func applyLogTarget(logSvc *logx.Service, groupLog string) {
	if s := strings.TrimSpace(groupLog); s != "" {
		if chatID, err := strconv.ParseInt(s, 10, 64); err == nil {
			logSvc.SetTelegramTarget(chatID)
			return
		}
	}
	logSvc.SetTelegramTarget(0)
}

func notifierConfig(cfg config.NotifierConfig) (notify.Config, error) {
	retryBase, err := config.ParseDurationField("notifier.retry_base", cfg.RetryBase, 0)
	if err != nil {
		return notify.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("notifier.retry_max_delay", cfg.RetryMaxDelay, 0)
	if err != nil {
		return notify.Config{}, err
	}
	dedupWindow, err := config.ParseDurationField("notifier.dedup_window", cfg.DedupWindow, 0)
	if err != nil {
		return notify.Config{}, err
	}
	return notify.Config{
		Workers:         cfg.Workers,
		QueueSize:       cfg.QueueSize,
		RatePerSec:      cfg.RatePerSec,
		RetryMax:        cfg.RetryMax,
		RetryBase:       retryBase,
		RetryMaxDelay:   retryMaxDelay,
		DedupWindow:     dedupWindow,
		DedupMaxEntries: cfg.DedupMaxEntries,
		PersistDedup:    cfg.PersistDedup,
	}, nil
}
