// Package app wires the bot together: config, logging, transport, services,
// and the command dispatcher, with hot-reload and ordered shutdown.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"whizbot/internal/bot"
	"whizbot/internal/commands/chatcmd"
	"whizbot/internal/commands/general"
	"whizbot/internal/commands/remindcmd"
	"whizbot/internal/config"
	"whizbot/internal/eventbus"
	"whizbot/internal/exchange"
	"whizbot/internal/runtime/supervisor"
	"whizbot/internal/services/recur"
	"whizbot/internal/services/remind"
	"whizbot/internal/services/session"
	"whizbot/internal/storage"
	kit "whizbot/internal/transport"
	telegram "whizbot/internal/transport/telegram/adapter"
	logx "whizbot/pkg/logx"
)

// StopReason labels why the app is shutting down, for the final log line.
type StopReason string

const (
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
)

type App struct {
	cfgPath string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter kit.Adapter

	reminders *remind.Service
	sessions  *session.Store
	recurring *recur.Service
	exch      exchange.Exchanger

	reg  *bot.Registry
	res  *bot.Resolver
	disp *bot.Dispatcher
	serv *bot.Services

	messages chan kit.Message
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "telegram"))

	pollTimeout, err := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	ad, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, bootLog)
	if err != nil {
		return nil, err
	}

	// Bootstrap with the chat sink disabled: the sink needs a target first,
	// and Apply() runs inside logx.New.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Chat.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	if target, ok := logTarget(cfg); ok {
		logSvc.SetChatTarget(target)
	}
	logSvc.Apply(mapLogConfig(cfg))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	a := &App{
		cfgPath:  cfgPath,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		messages: make(chan kit.Message, 256),
	}

	a.reminders = remind.New(remind.Config{
		MaxPerOwner:        cfg.Reminders.MaxPerOwner,
		AnnounceRatePerSec: cfg.Reminders.AnnounceRatePerSec,
	}, a.announceTask, log, bus)

	sessIdle, err := config.ParseDurationField("sessions.idle_timeout", cfg.Sessions.IdleTimeout)
	if err != nil {
		return nil, err
	}
	a.sessions = session.New(session.Config{
		IdleTimeout: sessIdle,
		MaxTurns:    cfg.Sessions.MaxTurns,
	}, log, bus)

	recurCfg, err := mapRecurConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.recurring = recur.New(recurCfg, a.announceRecurring, log)

	a.exch = buildExchanger(cfg, log)

	a.res = bot.NewResolver(cfg.EffectivePrefixes())

	a.serv = &bot.Services{
		Reminders: a.reminders,
		Sessions:  a.sessions,
		Recur:     a.recurring,
		Exchange:  a.exch,
		Audit:     store,
		StartedAt: time.Now(),
		Runtime:   func() supervisor.Counters { return a.sup.Counters() },
	}

	var cmds []bot.Command
	cmds = append(cmds, general.Commands()...)
	cmds = append(cmds, remindcmd.Commands()...)
	cmds = append(cmds, chatcmd.Commands()...)
	reg, err := bot.BuildRegistry(cmds)
	if err != nil {
		return nil, err
	}
	a.reg = reg

	handlerTimeout, err := config.ParseDurationOrDefault("bot.handler_timeout", cfg.Bot.HandlerTimeout, 30*time.Second)
	if err != nil {
		return nil, err
	}
	a.disp = bot.NewDispatcher(log, ad, cfgm, a.serv, cfg.Telegram.OwnerUserIDs, reg, a.res, bot.Options{
		Workers:        cfg.Bot.Workers,
		QueueSize:      cfg.Bot.QueueSize,
		HandlerTimeout: handlerTimeout,
	})

	return a, nil
}

// Done is closed when the app supervisor context is canceled (fatal error or Stop).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		if err := cfg.Validate(); err != nil {
			return err
		}
		if tz := strings.TrimSpace(cfg.Recur.Timezone); tz != "" {
			if _, err := time.LoadLocation(tz); err != nil {
				return fmt.Errorf("recur.timezone: invalid %q: %w", tz, err)
			}
		}
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		return nil
	})

	if err := a.adapter.Start(a.sup.Context(), a.messages); err != nil {
		return err
	}

	if a.recurring.Enabled() {
		a.recurring.Start(a.sup.Context())
	}

	a.sup.Go("bot.dispatch", func(c context.Context) error {
		return a.disp.DispatchLoop(c, a.messages)
	})

	// Optional eager session eviction; lazy expiry stays correct without it.
	if iv, err := config.ParseDurationField("sessions.sweep_interval", a.cfgm.Get().Sessions.SweepInterval); err == nil && iv > 0 {
		a.sup.Go0("sessions.sweep", func(c context.Context) {
			ticker := time.NewTicker(iv)
			defer ticker.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-ticker.C:
					a.sessions.Sweep(c)
				}
			}
		})
	}

	if a.bus != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("eventbus.log", func(c context.Context) {
			defer unsub()
			for {
				select {
				case <-c.Done():
					return
				case e, ok := <-events:
					if !ok {
						return
					}
					a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
				}
			}
		})
	}

	// Publish the command menu once at startup; owner-only commands stay off
	// the public menu.
	if mu, ok := a.adapter.(kit.CommandMenuUpdater); ok {
		a.sup.Go0("telegram.menu", func(c context.Context) {
			mctx, cancel := context.WithTimeout(c, 15*time.Second)
			defer cancel()
			if err := mu.UpdateMenuCommands(mctx, a.menuCommands()); err != nil {
				a.log.Warn("menu update failed", logx.Err(err))
			}
		})
	}

	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				sections, attrs := config.SummarizeChange(lastApplied, newCfg)
				lastApplied = newCfg
				a.applyConfig(c, newCfg, sections)

				if a.bus != nil {
					a.bus.Publish(eventbus.Event{Type: eventbus.EventConfigReloaded, Data: sections})
				}
				if len(sections) > 0 {
					fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
					a.log.Info("config reloaded", fields...)
				} else {
					a.log.Info("config reloaded (no changes)")
				}
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

func (a *App) applyConfig(ctx context.Context, cfg *config.Config, sections []string) {
	for _, s := range sections {
		if s == "storage" || s == "chat" {
			a.log.Warn("config section changed; restart required to take effect", logx.String("section", s))
		}
	}

	// Log target first so Apply doesn't race an enabled sink with no target.
	if target, ok := logTarget(cfg); ok {
		a.logs.SetChatTarget(target)
	} else {
		a.logs.SetChatTarget(kit.ChatTarget{})
	}
	a.logs.Apply(mapLogConfig(cfg))

	a.res.SetPrefixes(cfg.EffectivePrefixes())
	a.disp.SetOwners(cfg.Telegram.OwnerUserIDs)

	prevEnabled := a.recurring.Enabled()
	recurCfg, err := mapRecurConfig(cfg)
	if err != nil {
		a.log.Warn("invalid recur config; keeping previous", logx.Err(err))
		return
	}
	a.recurring.Apply(recurCfg)
	switch {
	case prevEnabled && !recurCfg.Enabled:
		a.log.Info("recur disabled via config")
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		a.recurring.Stop(stopCtx)
		cancel()
	case !prevEnabled && recurCfg.Enabled:
		a.log.Info("recur enabled via config")
		a.recurring.Start(a.sup.Context())
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Each shutdown step gets an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			if dl, ok := ctx.Deadline(); ok {
				if rem := time.Until(dl); rem > 0 && rem < max {
					max = rem
				}
			}
			stepCtx, cancel = context.WithTimeout(ctx, max)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("recur", 2*time.Second, func(c context.Context) error { a.recurring.Stop(c); return nil })
	step("reminders", 2*time.Second, func(c context.Context) error { return a.reminders.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("storage", 1*time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// announceTask delivers a fired one-shot task back into the chat that
// scheduled it.
func (a *App) announceTask(ctx context.Context, owner string, p remind.Payload) {
	target, err := kit.ParseChatKey(owner)
	if err != nil {
		a.log.Warn("task announce dropped (bad owner key)", logx.String("owner", owner), logx.Err(err))
		return
	}

	var text string
	switch p.Kind {
	case remind.KindTimer:
		if p.Name != "" {
			text = "Timer \"" + p.Name + "\" is done."
		} else {
			text = "Timer is done."
		}
	default:
		text = "Reminder: " + p.Text
	}

	_, serr := a.adapter.SendText(ctx, target, text, &kit.SendOptions{DisablePreview: true})
	if serr != nil {
		a.log.Warn("task announce failed", logx.String("owner", owner), logx.Err(serr))
	}
	a.auditAnnounce(ctx, owner, target, string(p.Kind), serr)
}

// announceRecurring delivers one recurring entry run.
func (a *App) announceRecurring(ctx context.Context, owner, text string) error {
	target, err := kit.ParseChatKey(owner)
	if err != nil {
		return err
	}
	_, serr := a.adapter.SendText(ctx, target, "Reminder: "+text, &kit.SendOptions{DisablePreview: true})
	a.auditAnnounce(ctx, owner, target, "recurring", serr)
	return serr
}

func (a *App) auditAnnounce(ctx context.Context, owner string, target kit.ChatTarget, kind string, serr error) {
	if a.store == nil {
		return
	}
	e := storage.AuditEntry{
		Kind:    "announce",
		Owner:   owner,
		ChatID:  target.ChatID,
		Command: kind,
		OK:      serr == nil,
	}
	if serr != nil {
		e.Error = serr.Error()
	}
	actx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := a.store.AppendAudit(actx, e); err != nil {
		a.log.Debug("audit append failed", logx.Err(err))
	}
}

func (a *App) menuCommands() []kit.BotCommand {
	var out []kit.BotCommand
	for _, c := range a.reg.Commands() {
		if c.Access == bot.AccessOwnerOnly {
			continue
		}
		out = append(out, kit.BotCommand{Command: c.Name, Description: c.Description})
	}
	return out
}

func buildExchanger(cfg *config.Config, log logx.Logger) exchange.Exchanger {
	if !cfg.Chat.Enabled {
		return exchange.Disabled{}
	}
	timeout, err := config.ParseDurationField("chat.timeout", cfg.Chat.Timeout)
	if err != nil {
		log.Warn("invalid chat.timeout; using default", logx.Err(err))
		timeout = 0
	}
	ex, err := exchange.NewOpenAI(exchange.Config{
		APIKey:    cfg.Chat.APIKey,
		BaseURL:   cfg.Chat.BaseURL,
		Model:     cfg.Chat.Model,
		Timeout:   timeout,
		MaxTokens: cfg.Chat.MaxTokens,
	})
	if err != nil {
		log.Warn("chat enabled but unusable; chat command will decline", logx.Err(err))
		return exchange.Disabled{}
	}
	log.Info("chat exchange enabled", logx.String("model", cfg.Chat.Model))
	return ex
}

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatSinkConfig{
			Enabled:    cfg.Logging.Chat.Enabled,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

// logTarget resolves telegram.group_log (a chat key, optionally with a
// thread suffix) plus the logging.chat.thread_id override.
func logTarget(cfg *config.Config) (kit.ChatTarget, bool) {
	raw := strings.TrimSpace(cfg.Telegram.GroupLog)
	if raw == "" {
		return kit.ChatTarget{}, false
	}
	target, err := kit.ParseChatKey(raw)
	if err != nil {
		return kit.ChatTarget{}, false
	}
	if cfg.Logging.Chat.ThreadID != 0 {
		target.ThreadID = cfg.Logging.Chat.ThreadID
	}
	return target, true
}

func mapRecurConfig(cfg *config.Config) (recur.Config, error) {
	timeout, err := config.ParseDurationField("recur.default_timeout", cfg.Recur.DefaultTimeout)
	if err != nil {
		return recur.Config{}, err
	}
	hist := cfg.Recur.HistorySize
	if hist == 0 {
		hist = 200
	}
	return recur.Config{
		Enabled:        cfg.Recur.Enabled,
		Workers:        cfg.Recur.Workers,
		DefaultTimeout: timeout,
		HistorySize:    hist,
		Timezone:       cfg.Recur.Timezone,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	s := cfg.Storage
	if s == nil {
		return storage.Config{}, false, nil
	}
	driver := strings.ToLower(strings.TrimSpace(s.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, nil
	}
	busy, err := config.ParseDurationField("storage.busy_timeout", s.BusyTimeout)
	if err != nil {
		return storage.Config{}, false, err
	}
	return storage.Config{
		Driver:      driver,
		Path:        s.Path,
		BusyTimeout: busy,
	}, true, nil
}
