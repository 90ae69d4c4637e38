// Package app wires the components together: config, logging, the Telegram
// adapter, the auth/relay pipeline, storage, and maintenance.
package app

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/auth"
	"relaybot/internal/config"
	"relaybot/internal/eventbus"
	"relaybot/internal/maintenance"
	"relaybot/internal/relay"
	"relaybot/internal/runtime/supervisor"
	"relaybot/internal/storage"
	kit "relaybot/internal/transport"
	telegram "relaybot/internal/transport/telegram/adapter"
	logx "relaybot/pkg/logx"
)

type App struct {
	cfgPath string
	// bootToken is the token the adapter was built with; it cannot be
	// swapped live.
	bootToken string

	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	adapter  kit.Adapter
	sessions *auth.Sessions
	flow     *auth.Flow
	relay    *relay.Service
	maint    *maintenance.Service

	updates chan kit.Update
}

func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(context.Background(), cfg); err != nil {
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

	// logx.New() calls Apply() immediately. Bootstrap with Telegram logging
	// disabled, set the target, then Apply() the final config, so a
	// configured-but-targetless sink never warns at boot.
	baseLogCfg := mapLogConfig(cfg)
	baseLogCfg.Telegram.Enabled = false
	logSvc, log := logx.New(baseLogCfg, ad)
	log = log.With(logx.String("comp", "app"))

	applyTelegramLogTarget(logSvc, cfg)
	logSvc.Apply(mapLogConfig(cfg))

	bus := eventbus.New()

	var store storage.Store
	if sc, enabled := mapStorageConfig(cfg); enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	sessions := auth.NewSessions()
	flow := auth.NewFlow(auth.Credentials{
		Login:        cfg.Relay.Login,
		PasswordHash: strings.ToLower(strings.TrimSpace(cfg.Relay.PasswordHash)),
	}, sessions)

	relaySvc := relay.New(ad, sessions, flow, bus,
		relay.SettingsFromConfig(cfg.Relay),
		log.With(logx.String("comp", "relay")))

	mcfg, err := maintenance.FromConfig(cfg.Maintenance, cfg.Relay)
	if err != nil {
		return nil, err
	}
	maintSvc := maintenance.New(mcfg, relaySvc, store, ad,
		log.With(logx.String("comp", "maintenance")))

	return &App{
		cfgPath:   cfgPath,
		bootToken: cfg.Telegram.Token,
		cfgm:     cfgm,
		log:      log,
		logs:     logSvc,
		bus:      bus,
		store:    store,
		adapter:  ad,
		sessions: sessions,
		flow:     flow,
		relay:    relaySvc,
		maint:    maintSvc,
		updates:  make(chan kit.Update, 256),
	}, nil
}

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
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(validateConfig)

	if err := a.adapter.Start(a.sup.Context(), a.updates); err != nil {
		return err
	}

	a.sup.Go("relay.dispatch", func(c context.Context) error {
		return a.relay.DispatchLoop(c, a.updates)
	})

	if err := a.maint.Start(a.sup.Context()); err != nil {
		return err
	}

	if a.store != nil {
		events, unsub := a.bus.Subscribe(128)
		a.sup.Go0("storage.record", func(c context.Context) {
			defer unsub()
			a.recordForwards(c, events)
		})
	}

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
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
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started")
	return nil
}

// applyConfig pushes a validated config into the live components.
func (a *App) applyConfig(ctx context.Context, cfg *config.Config) {
	// update log target first (so Apply() doesn't warn when Telegram logging is enabled)
	applyTelegramLogTarget(a.logs, cfg)
	a.logs.Apply(mapLogConfig(cfg))

	a.relay.Apply(relay.SettingsFromConfig(cfg.Relay), auth.Credentials{
		Login:        cfg.Relay.Login,
		PasswordHash: strings.ToLower(strings.TrimSpace(cfg.Relay.PasswordHash)),
	})

	if mcfg, err := maintenance.FromConfig(cfg.Maintenance, cfg.Relay); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Err(err))
	} else if err := a.maint.Apply(ctx, mcfg); err != nil {
		a.log.Warn("maintenance apply failed; keeping previous", logx.Err(err))
	}

	if cfg.Telegram.Token != a.bootToken {
		a.log.Warn("telegram token changed; restart required for changes to take effect")
	}

	// Storage is opened once at boot; swapping it live is not supported.
	if _, enabled := mapStorageConfig(cfg); enabled != (a.store != nil) {
		a.log.Warn("storage config changed; restart required for changes to take effect")
	}

	a.log.Info("config reloaded")
}

// recordForwards persists relay.forward events into the history store.
func (a *App) recordForwards(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if e.Type != relay.EventForward {
				continue
			}
			fe, ok := e.Data.(relay.ForwardEvent)
			if !ok {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := a.store.AppendForward(wctx, storage.ForwardEntry{
				At:        fe.At,
				ActorID:   fe.ActorID,
				ActorName: fe.ActorName,
				Kind:      fe.Kind,
				Items:     fe.Items,
				AlbumID:   fe.AlbumID,
			})
			cancel()
			if err != nil {
				a.log.Warn("forward history append failed", logx.Err(err))
			}
		}
	}
}

func (a *App) Stop(ctx context.Context) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping")

	// Cancel the run context first so background loops start unwinding.
	a.sup.Cancel()

	// Run each shutdown step with an upper bound so one component can't
	// stall the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
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
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("maintenance", 2*time.Second, func(c context.Context) error { return a.maint.Stop(c) })
	step("adapter", 2*time.Second, func(c context.Context) error { return a.adapter.Stop(c) })
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
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
			ThreadID:   cfg.Logging.Telegram.ThreadID,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func applyTelegramLogTarget(svc *logx.Service, cfg *config.Config) {
	gl := strings.TrimSpace(cfg.Telegram.GroupLog)
	if gl == "" {
		svc.SetTelegramTarget(0, 0)
		return
	}
	if chatID, err := strconv.ParseInt(gl, 10, 64); err == nil {
		svc.SetTelegramTarget(chatID, cfg.Logging.Telegram.ThreadID)
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool) {
	if cfg.Storage == nil {
		return storage.Config{}, false
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		busy = 0
	}
	return storage.Config{
		Driver:      driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: busy,
	}, true
}

// validateConfig rejects configs the components could not run with. It is
// also installed as the hot-reload validator, so a bad edit never reaches
// the live services.
func validateConfig(_ context.Context, cfg *config.Config) error {
	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required (API_TOKEN)")
	}
	if _, err := config.ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}

	if strings.TrimSpace(cfg.Relay.TargetChannel) == "" {
		return fmt.Errorf("relay.target_channel is required (TARGET_CHANNEL)")
	}
	if ph := strings.TrimSpace(cfg.Relay.PasswordHash); ph != "" {
		if len(ph) != 64 {
			return fmt.Errorf("relay.password_hash: want 64 hex chars (sha-256), got %d", len(ph))
		}
		if _, err := hex.DecodeString(ph); err != nil {
			return fmt.Errorf("relay.password_hash: not hex: %w", err)
		}
	}
	if _, err := config.ParseDurationField("relay.album_quiet", cfg.Relay.AlbumQuiet); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("relay.album_max_age", cfg.Relay.AlbumMaxAge); err != nil {
		return err
	}

	if cfg.Storage != nil {
		switch d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); d {
		case "", "none", "file", "sqlite", "sqlite3":
		default:
			return fmt.Errorf("storage.driver: unknown %q", d)
		}
		if _, err := config.ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
			return err
		}
	}

	return maintenance.ValidateSpecs(cfg.Maintenance)
}
