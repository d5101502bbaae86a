package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"intakebot/internal/commands"
	"intakebot/internal/config"
	"intakebot/internal/httpapi"
	"intakebot/internal/intake"
	"intakebot/internal/metrics"
	"intakebot/internal/notifier"
	"intakebot/internal/observability/pprof"
	"intakebot/internal/realtime"
	rtsup "intakebot/internal/runtime/supervisor"
	"intakebot/internal/storage"
	kit "intakebot/internal/transport"
	telegram "intakebot/internal/transport/telegram/adapter"
	"intakebot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service

	metrics *metrics.Metrics
	store   storage.Store
	hub     *realtime.Hub
	intake  *intake.Service
	notif   *notifier.Service
	pprof   *pprof.Server

	// adapter and dispatch are nil when no bot token is configured.
	adapter  kit.Adapter
	dispatch *commands.Dispatcher
	updates  chan kit.Update

	http     *httpapi.Server
	httpAddr string
}

// New loads configuration and wires every component without starting any
// background work.
func New(cfgPath, envFile string) (*App, error) {
	bootLog := logx.NewConsole("INFO").With(logx.String("comp", "config"))
	cfgm := config.NewManager(cfgPath, envFile, bootLog)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, root := logx.New(mapLoggingConfig(cfg))
	log := root.With(logx.String("comp", "app"))
	cfgm.SetLogger(root.With(logx.String("comp", "config")))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(sc, root.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	m := metrics.New()
	hub := realtime.NewHub(mapRealtimeConfig(cfg), root.With(logx.String("comp", "realtime")), m)
	svc := intake.New(store, hub, root.With(logx.String("comp", "intake")), m)

	a := &App{
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		metrics: m,
		store:   store,
		hub:     hub,
		intake:  svc,
		updates: make(chan kit.Update, 256),
	}

	// A nil interface, not a typed nil, keeps the notifier disabled.
	var sender kit.Sender
	if token := strings.TrimSpace(cfg.Telegram.Token); token != "" {
		ad, err := telegram.New(telegram.Config{
			Token:       token,
			PollTimeout: config.DurationOr(cfg.Telegram.PollTimeout, 10*time.Second),
		}, root.With(logx.String("comp", "telegram")))
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("telegram: %w", err)
		}
		a.adapter = ad
		a.dispatch = commands.New(ad, svc, cfg.Telegram.StartReply, root.With(logx.String("comp", "commands")))
		sender = ad
	} else {
		log.Warn("bot token not configured; telegram disabled and relays will be dropped")
	}

	a.pprof = pprof.New(mapPprofConfig(cfg), root.With(logx.String("comp", "pprof")))
	a.notif = notifier.New(mapNotifierConfig(cfg), sender, svc, root.With(logx.String("comp", "notifier")), m)

	router := httpapi.NewRouter(cfg.HTTP.PublicDir, httpapi.Deps{
		Requests: svc,
		Relay:    a.notif,
		ServeWS:  hub.ServeWS,
		Metrics:  m,
		Log:      root.With(logx.String("comp", "http")),
	})
	a.http = httpapi.NewServer(root.With(logx.String("comp", "http")))
	if err := a.http.Listen(":"+strconv.Itoa(cfg.HTTP.Port), router); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("http listen: %w", err)
	}
	a.httpAddr = a.http.Addr()
	return a, nil
}

// Addr is the bound HTTP address.
func (a *App) Addr() string { return a.httpAddr }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	a.sup.Go("http.serve", a.http.Serve)

	if a.adapter != nil {
		if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
			return err
		}
		a.sup.Go("commands.dispatch", func(c context.Context) error {
			return a.dispatch.DispatchLoop(c, a.updates)
		})
	}

	a.notif.Start(a.sup.Context())
	a.pprof.Start(a.sup.Context())

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
				a.applyConfig(lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	if p := a.cfgm.Path(); p != "" {
		if _, err := os.Stat(p); err == nil {
			// A broken watcher must not take the service down; restart it.
			a.sup.GoRestart("config.watch", a.cfgm.Watch,
				rtsup.WithRestartBackoff(250*time.Millisecond, 5*time.Second),
				rtsup.WithStopOnCleanExit(true),
			)
		}
	}

	a.log.Info("app started",
		logx.String("addr", a.httpAddr),
		logx.Bool("telegram", a.adapter != nil),
		logx.Bool("notifier", a.notif.Enabled()),
	)
	return nil
}

// applyConfig pushes live-reloadable settings to running components.
func (a *App) applyConfig(oldCfg, newCfg *config.Config) {
	sections, fields := config.SummarizeChange(oldCfg, newCfg)
	if len(sections) == 0 {
		a.log.Debug("config reload received, but no effective changes detected")
		return
	}
	for _, s := range sections {
		switch s {
		case "logging":
			a.logs.Apply(mapLoggingConfig(newCfg))
		case "notifier":
			a.notif.Apply(mapNotifierConfig(newCfg))
		case "pprof":
			a.pprof.Reconfigure(a.sup.Context(), mapPprofConfig(newCfg))
		}
	}
	if pending := config.RestartRequired(sections); len(pending) > 0 {
		a.log.Warn("config sections changed that require a restart", logx.String("sections", strings.Join(pending, ",")))
	}
	a.log.Info("config applied", append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, fields...)...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		// Never started: release the listener and storage only.
		_ = a.http.Shutdown(ctx)
		return a.store.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	// Cancel the app run context so background loops start unwinding immediately.
	a.sup.Cancel()

	shutdown := config.DurationOr(a.cfgm.Get().HTTP.ShutdownTimeout, 5*time.Second)
	a.step(ctx, "http", shutdown, a.http.Shutdown)
	a.step(ctx, "realtime", time.Second, func(context.Context) error { a.hub.CloseAll(); return nil })
	a.step(ctx, "notifier", 2*time.Second, a.notif.Stop)
	a.step(ctx, "pprof", 2*time.Second, func(c context.Context) error { a.pprof.Stop(c); return nil })
	if a.adapter != nil {
		a.step(ctx, "adapter", 3*time.Second, a.adapter.Stop)
	}
	// Wait for supervised goroutines before closing storage they may still use.
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error {
		err := a.sup.Wait(c)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	a.step(ctx, "storage", time.Second, func(context.Context) error { return a.store.Close() })

	c := a.sup.Counters()
	a.log.Info("stopped", logx.Int64("goroutines_active", c.Active), logx.Uint64("goroutines_started", c.Started))
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

// step runs one shutdown step with an upper bound so one component can't
// stall the whole stop. The caller's deadline is never extended.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < max {
			max = rem
		}
	}
	if max <= 0 {
		a.log.Warn("stop step skipped; deadline reached", logx.String("name", name))
		return
	}
	stepCtx, cancel := context.WithTimeout(ctx, max)
	defer cancel()

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
		a.log.Warn("stop step deadline reached (continuing)", logx.String("name", name), logx.Duration("elapsed", time.Since(start)))
	}
}
