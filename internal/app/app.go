package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"opsbot/internal/config"
	"opsbot/internal/eventbus"
	"opsbot/internal/plugin"
	"opsbot/internal/scheduler"
	"opsbot/internal/storage"
	transport "opsbot/internal/transport"
	telegram "opsbot/internal/transport/telegram"
	logx "opsbot/pkg/logx"
)

type App struct {
	cfgPath string
	cfgm    *config.Manager

	log  logx.Logger
	logs *logx.Service
	sink *logSink

	bus   eventbus.Bus
	store storage.Store

	adapter transport.Adapter
	sched   *scheduler.Service
	pm      *plugin.Manager

	updates chan transport.Update

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Set the log-chat target before the telegram sink is enabled so the
	// first delivered line already has somewhere to go.
	sink := newLogSink(ad)
	if chatID := parseGroupLog(cfg.Telegram.GroupLog); chatID != 0 {
		sink.SetTarget(chatID)
	}
	logSvc, log := logx.New(mapLogConfig(cfg), sink)
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	defaultTimeout, err := config.ParseDurationOrDefault("scheduler.default_timeout", cfg.Scheduler.DefaultTimeout, time.Minute)
	if err != nil {
		return nil, err
	}
	sched := scheduler.New(scheduler.Config{
		Workers:        cfg.Scheduler.Workers,
		DefaultTimeout: defaultTimeout,
		Timezone:       cfg.Scheduler.Timezone,
	}, log.With(logx.String("comp", "scheduler")))

	pm := plugin.NewManager(log.With(logx.String("comp", "plugins")), cfgm, plugin.Deps{
		Logger:    log,
		Adapter:   ad,
		Config:    cfgm,
		Store:     store,
		Bus:       bus,
		Scheduler: sched,
	})

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		sink:    sink,
		bus:     bus,
		store:   store,
		adapter: ad,
		sched:   sched,
		pm:      pm,
		updates: make(chan transport.Update, 256),
	}, nil
}

func (a *App) Plugins() *plugin.Manager { return a.pm }

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel != nil {
		return fmt.Errorf("app already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	// Transactional hot reload: a config that fails here is never committed
	// or published, the previous one stays in effect.
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
			}
		}
		return nil
	})

	if err := a.adapter.Start(runCtx, a.updates); err != nil {
		cancel()
		a.cancel = nil
		return err
	}
	a.sched.Start(runCtx)

	if err := a.pm.InitAll(runCtx); err != nil {
		cancel()
		a.cancel = nil
		return err
	}
	if err := a.pm.StartAll(runCtx); err != nil {
		cancel()
		a.cancel = nil
		return err
	}
	a.pm.PushMenu(runCtx)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.pm.DispatchLoop(runCtx, a.updates); err != nil && runCtx.Err() == nil {
			a.log.Error("dispatch loop exited", logx.Err(err))
		}
	}()

	// Debug visibility into signup events; components that care subscribe
	// themselves.
	events, unsubEvents := a.bus.Subscribe(128)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer unsubEvents()
		for {
			select {
			case <-runCtx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	}()

	sub := a.cfgm.Subscribe(8)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.cfgm.Unsubscribe(sub)
		a.reloadLoop(runCtx, sub)
	}()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.cfgm.Watch(runCtx); err != nil && runCtx.Err() == nil {
			a.log.Warn("config watch exited", logx.Err(err))
		}
	}()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	a.log.Info("app started", logx.String("config", a.cfgPath))
	return nil
}

// reloadLoop applies committed config updates: logging first (so the rest
// of the apply is observable at the new level), then everything that can
// change without a restart.
func (a *App) reloadLoop(ctx context.Context, sub chan *config.Config) {
	lastApplied := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case newCfg, ok := <-sub:
			if !ok {
				return
			}
			// Coalesce bursts: only the newest config matters.
			for {
				select {
				case newer := <-sub:
					if newer != nil {
						newCfg = newer
					}
				default:
					goto apply
				}
			}
		apply:
			sections, attrs := config.SummarizeChange(lastApplied, newCfg)
			lastApplied = newCfg

			a.sink.SetTarget(parseGroupLog(newCfg.Telegram.GroupLog))
			a.logs.Apply(mapLogConfig(newCfg))

			for _, s := range sections {
				if s == "storage" || s == "telegram" {
					a.log.Warn("config section needs a restart to fully apply", logx.String("section", s))
				}
			}

			if len(sections) > 0 {
				fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
				a.log.Info("config reloaded", fields...)
			} else {
				a.log.Info("config reloaded (no changes)")
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.cancel == nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	a.log.Info("stopping")
	a.cancel()
	a.cancel = nil

	// Bounded shutdown steps so one stuck component cannot stall the rest.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
	}

	step("plugins", 4*time.Second, func(c context.Context) error { return a.pm.StopAll(c) })
	step("scheduler", 2*time.Second, func(c context.Context) error { a.sched.Stop(c); return nil })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", time.Second, func(c context.Context) error { return a.store.Close() })

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		a.log.Warn("background loops did not drain in time")
	}

	a.log.Info("stopped")
	a.logs.Close()
	return nil
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func parseGroupLog(raw string) int64 {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0
	}
	chatID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0
	}
	return chatID
}
