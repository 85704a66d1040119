// Package app wires configuration, logging, storage, the schedule API,
// the HTTP server, and the poller into one runnable unit.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"actionwatch/internal/config"
	"actionwatch/internal/observability/pprof"
	"actionwatch/internal/poller"
	"actionwatch/internal/server"
	"actionwatch/internal/service"
	"actionwatch/internal/storage"
	logx "actionwatch/pkg/logx"
)

type App struct {
	cfgPath string

	cfgm *config.ConfigManager

	log  logx.Logger
	logs *logx.Service

	store storage.Store
	api   *service.Service
	srv   *server.Server
	poll  *poller.Service
	prof  *pprof.Service

	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(buildLogging(cfg.Logging))
	cfgm.SetLogger(log.With(logx.String("comp", "config")))

	storeCfg, err := buildStorage(cfg.Storage)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storeCfg, log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	api := service.New(store, service.Config{
		ForbidCompletionOverwrite: cfg.Service.ForbidCompletionOverwrite,
	}, log.With(logx.String("comp", "schedule")))

	srvCfg, err := buildServer(cfg.Server)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	srv := server.New(srvCfg, api, log.With(logx.String("comp", "http")))

	pollCfg, err := buildPoller(cfg.Poller)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	poll := poller.New(pollCfg, api, log.With(logx.String("comp", "poller")))
	prof := pprof.New(log)

	return &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logs,
		store:   store,
		api:     api,
		srv:     srv,
		poll:    poll,
		prof:    prof,
	}, nil
}

func buildPprof(cfg config.PprofConfig) pprof.Config {
	return pprof.Config{
		Enabled:              cfg.Enabled,
		Addr:                 cfg.Addr,
		Token:                cfg.Token,
		AllowInsecure:        cfg.AllowInsecure,
		BlockProfileRate:     cfg.BlockProfileRate,
		MutexProfileFraction: cfg.MutexProfileFraction,
	}
}

func buildLogging(cfg config.LoggingConfig) logx.Config {
	return logx.Config{
		Level:   cfg.Level,
		Console: cfg.Console,
		File: logx.FileConfig{
			Enabled: cfg.File.Enabled,
			Path:    cfg.File.Path,
		},
	}
}

func buildStorage(cfg config.StorageConfig) (storage.Config, error) {
	busy, err := config.ParseDurationField("storage.busy_timeout", cfg.BusyTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	op, err := config.ParseDurationField("storage.op_timeout", cfg.OpTimeout)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Driver,
		Path:        cfg.Path,
		BusyTimeout: busy,
		OpTimeout:   op,
	}, nil
}

func buildServer(cfg config.ServerConfig) (server.Config, error) {
	shutdown, err := config.ParseDurationOrDefault("server.shutdown_timeout", cfg.ShutdownTimeout, 10*time.Second)
	if err != nil {
		return server.Config{}, err
	}
	return server.Config{
		Addr:            cfg.Addr,
		Debug:           strings.EqualFold(strings.TrimSpace(cfg.Mode), "debug"),
		ShutdownTimeout: shutdown,
	}, nil
}

func buildPoller(cfg config.PollerConfig) (poller.Config, error) {
	every, err := config.ParseDurationOrDefault("poller.every", cfg.Every, time.Minute)
	if err != nil {
		return poller.Config{}, err
	}
	return poller.Config{
		Enabled:  cfg.Enabled,
		Every:    every,
		Timezone: cfg.Timezone,
	}, nil
}

// Start launches the HTTP server, the poller, and the config watcher.
// It returns once everything is running; a fatal listen error cancels
// the derived context so Stop can run.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.poll.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("poller start: %w", err)
	}

	if cfg := a.cfgm.Get(); cfg != nil {
		a.prof.Apply(ctx, buildPprof(cfg.Debug.Pprof))
	}

	errCh := a.srv.Start()
	go func() {
		if err, ok := <-errCh; ok && err != nil {
			a.log.Error("http server failed", logx.Err(err))
			cancel()
		}
	}()

	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watch ended", logx.Err(err))
		}
	}()
	go a.watchConfig(ctx)

	a.log.Info("actionwatch started", logx.String("config", a.cfgPath))
	return nil
}

// watchConfig applies hot-reloadable sections. Storage and server
// changes need a restart; they are logged and skipped.
func (a *App) watchConfig(ctx context.Context) {
	ch := a.cfgm.Subscribe(4)
	defer a.cfgm.Unsubscribe(ch)

	prev := a.cfgm.Get()
	for {
		select {
		case <-ctx.Done():
			return
		case cfg, ok := <-ch:
			if !ok || cfg == nil {
				return
			}
			changed, attrs := config.SummarizeConfigChange(prev, cfg)
			if len(changed) == 0 {
				continue
			}
			a.log.Info("config reloaded",
				append([]logx.Field{logx.Any("sections", changed)}, attrs...)...)

			if prev == nil || prev.Logging != cfg.Logging {
				a.logs.Apply(buildLogging(cfg.Logging))
			}
			if prev == nil || prev.Debug != cfg.Debug {
				a.prof.Apply(ctx, buildPprof(cfg.Debug.Pprof))
			}
			if prev != nil && (prev.Storage != cfg.Storage || prev.Server != cfg.Server) {
				a.log.Warn("storage/server config changed; restart required to apply")
			}
			prev = cfg
		}
	}
}

// Stop shuts everything down in reverse dependency order.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.poll.Stop(ctx)
	a.prof.Stop(ctx)
	if err := a.srv.Stop(ctx); err != nil {
		a.log.Warn("http shutdown", logx.Err(err))
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn("store close", logx.Err(err))
	}
	a.log.Info("actionwatch stopped")
	return a.logs.Close()
}
