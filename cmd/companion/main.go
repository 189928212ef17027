package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/dgnsrekt/atlas_agent/internal/activity"
	"github.com/dgnsrekt/atlas_agent/internal/api"
	"github.com/dgnsrekt/atlas_agent/internal/browser"
	"github.com/dgnsrekt/atlas_agent/internal/bus"
	"github.com/dgnsrekt/atlas_agent/internal/cdp"
	"github.com/dgnsrekt/atlas_agent/internal/classify"
	"github.com/dgnsrekt/atlas_agent/internal/config"
	"github.com/dgnsrekt/atlas_agent/internal/gateway"
	"github.com/dgnsrekt/atlas_agent/internal/handoff"
	"github.com/dgnsrekt/atlas_agent/internal/netutil"
	"github.com/dgnsrekt/atlas_agent/internal/prefs"
	"github.com/dgnsrekt/atlas_agent/internal/relay"
	"github.com/dgnsrekt/atlas_agent/internal/resolve"
	"github.com/dgnsrekt/atlas_agent/internal/tabctx"
	"github.com/dgnsrekt/atlas_agent/internal/watch"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if err := setupLogger(cfg.LogLevel, cfg.LogFile); err != nil {
		if _, writeErr := io.WriteString(os.Stderr, "logger setup failed: "+err.Error()+"\n"); writeErr != nil {
			slog.Debug("logger setup stderr write failed", "error", writeErr)
		}
		os.Exit(1)
	}

	slog.Info("companion config loaded",
		"cdp_url", cfg.CDPURL(),
		"scope_domain", cfg.ScopeDomain,
		"bind_addr", cfg.BindAddr,
		"bind_candidates", cfg.BindCandidates,
		"eval_timeout", cfg.EvalTimeout,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
	)

	bindAddr, err := netutil.SelectBindAddr(cfg.BindAddr, cfg.BindCandidates, cfg.BindAutoFallback)
	if err != nil {
		slog.Error("failed to select bind address", "preferred", cfg.BindAddr, "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	scope := classify.NewScope(cfg.ScopeDomain)

	if cfg.LaunchBrowser {
		launcher := browser.NewLauncher(browser.Config{
			CDPAddress: cfg.CDPAddress,
			CDPPort:    cfg.CDPPort,
			StartURL:   cfg.StartURL,
			ProfileDir: cfg.ProfileDir,
			LogFileDir: "logs",
		})
		if err := launcher.Launch(ctx); err != nil {
			slog.Error("failed to launch browser", "error", err)
			os.Exit(1)
		}
		defer launcher.Stop()
	}

	executor := cdp.NewExecutor(cfg.CDPURL(), scope, cfg.EvalTimeout)
	if err := executor.Connect(ctx); err != nil {
		slog.Error("failed to connect page executor", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := executor.Close(); err != nil {
			slog.Debug("executor close failed", "error", err)
		}
	}()

	cache := tabctx.NewCache()
	broker := relay.NewBroker()
	unsubscribe := wireCacheEvents(cache, broker)
	defer unsubscribe()

	prefStore, err := prefs.NewStore(cfg.PrefsPath())
	if err != nil {
		slog.Error("failed to open prefs store", "path", cfg.PrefsPath(), "error", err)
		os.Exit(1)
	}
	trackVisits(cache, prefStore)

	activityStore, err := activity.Open(ctx, cfg.ActivityDBPath())
	if err != nil {
		slog.Error("failed to open activity store", "path", cfg.ActivityDBPath(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := activityStore.Close(); err != nil {
			slog.Debug("activity store close failed", "error", err)
		}
	}()

	manager := watch.NewManager(cfg.CDPURL(), scope, cache, executor)
	if err := manager.Start(ctx); err != nil {
		slog.Error("failed to start tab watcher", "cdp_url", cfg.CDPURL(), "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := manager.Close(); err != nil {
			slog.Debug("tab watcher close failed", "error", err)
		}
	}()

	resolver := resolve.New(executor, scope)
	gw := gateway.New(scope, manager, executor, resolver, cache, prefStore, activityStore, func(a bus.Activity) {
		publishEvent(broker, relay.FeedActivity, bus.TypeActivity, a)
	})

	h := api.NewServer(api.Deps{
		Cache:    cache,
		Tabs:     executor,
		Resolver: resolver,
		Gateway:  gw,
		Handoff:  handoff.NewStore(cfg.HandoffTTL),
		Prefs:    prefStore,
		Activity: activityStore,
		Broker:   broker,
	})

	srv := &http.Server{Addr: bindAddr, Handler: h}

	go func() {
		slog.Info("companion listening", "addr", bindAddr, "docs", "http://"+bindAddr+"/docs")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("companion server failed", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("companion shutdown failed", "error", err)
	}
}

// wireCacheEvents mirrors every cache commit onto the SSE context feed. UI
// surfaces filter by their bound tab id client-side.
func wireCacheEvents(cache *tabctx.Cache, broker *relay.Broker) func() {
	return cache.Subscribe(nil, func(evt tabctx.Event) {
		if evt.Closed {
			publishEvent(broker, relay.FeedContext, bus.TypeContextClosed, bus.ContextClosed{TabID: string(evt.TabID)})
			return
		}
		publishEvent(broker, relay.FeedContext, bus.TypeContextChanged, bus.ContextChanged{
			TabID:   string(evt.TabID),
			Version: evt.Version,
		})
	})
}

// trackVisits records every in-scope instance the user lands on.
func trackVisits(cache *tabctx.Cache, store *prefs.Store) {
	cache.Subscribe(func(evt tabctx.Event) bool {
		return !evt.Closed && evt.Context.InScope
	}, func(evt tabctx.Event) {
		if err := store.MarkVisited(evt.Context.Instance); err != nil {
			slog.Debug("failed to mark instance visited", "instance", evt.Context.Instance, "error", err)
		}
	})
}

func publishEvent(broker *relay.Broker, feed string, t bus.Type, payload any) {
	data, err := bus.Encode(t, payload)
	if err != nil {
		slog.Warn("failed to encode event", "type", t, "error", err)
		return
	}
	broker.Publish(relay.Event{Feed: feed, Payload: data})
}

func setupLogger(level, filename string) error {
	if err := os.MkdirAll("logs", 0o755); err != nil {
		return err
	}

	logWriter := &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    25,
		MaxBackups: 10,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}

	h := slog.NewTextHandler(io.MultiWriter(os.Stdout, logWriter), &slog.HandlerOptions{Level: slogLevel})
	slog.SetDefault(slog.New(h))
	return nil
}
