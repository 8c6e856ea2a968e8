// Package app assembles a running sitecache from its configuration: storage
// backend, generation registry, codec, network, loggers and hooks.
package app

import (
	"context"
	"errors"
	"fmt"
	stdslog "log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	goredis "github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"

	"github.com/unkn0wn-root/sitecache"
	"github.com/unkn0wn-root/sitecache/codec"
	"github.com/unkn0wn-root/sitecache/fetch"
	"github.com/unkn0wn-root/sitecache/genstore"
	asynchook "github.com/unkn0wn-root/sitecache/hooks/async"
	promhooks "github.com/unkn0wn-root/sitecache/hooks/prom"
	"github.com/unkn0wn-root/sitecache/host"
	"github.com/unkn0wn-root/sitecache/internal/config"
	logrusadapter "github.com/unkn0wn-root/sitecache/log/logrus"
	slogadapter "github.com/unkn0wn-root/sitecache/log/slog"
	zapadapter "github.com/unkn0wn-root/sitecache/log/zap"
	pr "github.com/unkn0wn-root/sitecache/provider"
	bcprovider "github.com/unkn0wn-root/sitecache/provider/bigcache"
	"github.com/unkn0wn-root/sitecache/provider/memory"
	redisprovider "github.com/unkn0wn-root/sitecache/provider/redis"
	rprovider "github.com/unkn0wn-root/sitecache/provider/ristretto"
	"github.com/unkn0wn-root/sitecache/sloghooks"
)

const metricsNamespace = "sitecache"

type App struct {
	Config   *config.Config
	Log      sitecache.Logger
	Storage  sitecache.CacheStorage
	Fetcher  sitecache.Fetcher
	Hooks    sitecache.Hooks
	Registry *prometheus.Registry

	zap     *zap.Logger
	slog    *stdslog.Logger
	closers []func(context.Context) error
}

// New wires every component named by cfg. zl backs the zap log backend and
// may be nil for the others.
func New(ctx context.Context, cfg *config.Config, zl *zap.Logger) (*App, error) {
	a := &App{Config: cfg, Registry: prometheus.NewRegistry(), zap: zl}
	if err := a.build(ctx); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	if err := a.buildLoggers(); err != nil {
		return err
	}
	a.buildHooks()

	var rdb goredis.UniversalClient
	if cfg.UsesRedis() {
		c := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := c.Ping(ctx).Err(); err != nil {
			_ = c.Close()
			return fmt.Errorf("app: redis %s: %w", cfg.Redis.Addr, err)
		}
		a.Log.Info("redis connection established", sitecache.Fields{"addr": cfg.Redis.Addr})
		rdb = c
		// the redis genstore may already have closed it
		a.closers = append(a.closers, func(context.Context) error {
			if err := c.Close(); err != nil && !errors.Is(err, goredis.ErrClosed) {
				return err
			}
			return nil
		})
	}

	p, err := buildProvider(ctx, cfg, rdb)
	if err != nil {
		return err
	}
	cd, err := codec.ByName[sitecache.Response](cfg.Codec.Name, cfg.Codec.MaxDecode)
	if err != nil {
		_ = p.Close(ctx)
		return err
	}
	var gs genstore.GenStore = genstore.NewLocalGenStore()
	if cfg.GenStore.Backend == "redis" {
		gs = genstore.NewRedisGenStore(rdb, cfg.Redis.Namespace)
	}

	st, err := sitecache.NewStorage(sitecache.StorageOptions{
		Namespace: cfg.Redis.Namespace,
		Provider:  p,
		Codec:     cd,
		GenStore:  gs,
		Logger:    a.Log,
		Hooks:     a.Hooks,
	})
	if err != nil {
		_ = p.Close(ctx)
		return err
	}
	a.Storage = st
	// storage before the shared redis client
	a.closers = append([]func(context.Context) error{st.Close}, a.closers...)

	f, err := fetch.New(fetch.Config{
		Origin:       cfg.Origin,
		Timeout:      cfg.Fetch.Timeout,
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		UserAgent:    cfg.Fetch.UserAgent,
	})
	if err != nil {
		return err
	}
	a.Fetcher = f
	return nil
}

func (a *App) buildLoggers() error {
	lvl := a.Config.Log.Level
	var slvl stdslog.Level
	if err := slvl.UnmarshalText([]byte(lvl)); err != nil {
		slvl = stdslog.LevelInfo
	}
	a.slog = stdslog.New(stdslog.NewJSONHandler(os.Stderr, &stdslog.HandlerOptions{Level: slvl}))

	switch a.Config.Log.Backend {
	case "zap":
		if a.zap == nil {
			return errors.New("app: zap backend needs a zap logger")
		}
		a.Log = zapadapter.ZapLogger{L: a.zap}
	case "logrus":
		l := logrus.New()
		l.SetFormatter(&logrus.JSONFormatter{})
		if lv, err := logrus.ParseLevel(lvl); err == nil {
			l.SetLevel(lv)
		}
		a.Log = logrusadapter.LogrusLogger{E: logrus.NewEntry(l)}
	case "slog":
		a.Log = slogadapter.Logger{L: a.slog}
	default:
		return fmt.Errorf("app: unknown log backend %q", a.Config.Log.Backend)
	}
	return nil
}

func (a *App) buildHooks() {
	hc := a.Config.Hooks
	var hs sitecache.MultiHooks
	if hc.Metrics {
		m := promhooks.New(metricsNamespace)
		a.Registry.MustRegister(m)
		hs = append(hs, m)
	}
	if hc.Log {
		hs = append(hs, sloghooks.New(a.slog, sloghooks.Options{
			FallbackEvery: uint64(hc.FallbackEvery),
			SelfHealEvery: uint64(hc.SelfHealEvery),
			LogServed:     hc.LogServed,
		}))
	}

	var h sitecache.Hooks
	switch len(hs) {
	case 0:
		h = sitecache.NopHooks{}
	case 1:
		h = hs[0]
	default:
		h = hs
	}
	if hc.AsyncQueue > 0 {
		ah := asynchook.New(h, 1, hc.AsyncQueue)
		a.closers = append(a.closers, func(context.Context) error {
			ah.Close()
			return nil
		})
		h = ah
	}
	a.Hooks = h
}

func buildProvider(ctx context.Context, cfg *config.Config, rdb goredis.UniversalClient) (pr.Provider, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case "memory":
		return memory.New(sc.CleanupInterval), nil
	case "ristretto":
		return rprovider.New(rprovider.Config{
			NumCounters: sc.NumCounters,
			MaxCost:     sc.MaxCost,
			BufferItems: 64,
			Sync:        true,
		})
	case "bigcache":
		return bcprovider.New(ctx, bcprovider.Config{
			LifeWindow:         sc.LifeWindow,
			Shards:             sc.Shards,
			MaxEntriesInWindow: sc.MaxEntries,
			HardMaxCacheSizeMB: sc.HardMaxMB,
			MaxEntrySize:       sc.MaxEntrySize,
		})
	case "redis":
		return redisprovider.New(redisprovider.Config{Client: rdb})
	default:
		return nil, fmt.Errorf("app: unknown storage backend %q", sc.Backend)
	}
}

// NewController builds the configured version's controller. attempt tags
// every log line of this install so concurrent rollouts can be told apart.
func (a *App) NewController(attempt string) (sitecache.Controller, error) {
	return sitecache.New(sitecache.Options{
		Config: sitecache.Config{
			Version:  a.Config.Version,
			Manifest: a.Config.Manifest,
		},
		Storage:            a.Storage,
		Fetcher:            a.Fetcher,
		Logger:             withFields(a.Log, sitecache.Fields{"attempt": attempt}),
		Hooks:              a.Hooks,
		InstallConcurrency: a.Config.Install.Concurrency,
	})
}

// Register installs and activates the configured version on reg.
func (a *App) Register(ctx context.Context, reg *host.Registration) error {
	attempt := uuid.NewString()
	ctl, err := a.NewController(attempt)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := reg.Register(ctx, ctl); err != nil {
		return err
	}
	a.Log.Info("version registered", sitecache.Fields{
		"version":  a.Config.Version,
		"attempt":  attempt,
		"entries":  len(a.Config.Manifest),
		"duration": time.Since(start).String(),
	})
	return nil
}

// SlogLogger is the logger hook events are written to.
func (a *App) SlogLogger() *stdslog.Logger { return a.slog }

// Close releases components in reverse dependency order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for _, c := range a.closers {
		if err := c(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type fieldLogger struct {
	inner sitecache.Logger
	base  sitecache.Fields
}

func withFields(l sitecache.Logger, base sitecache.Fields) sitecache.Logger {
	return fieldLogger{inner: l, base: base}
}

func (l fieldLogger) merge(f sitecache.Fields) sitecache.Fields {
	out := make(sitecache.Fields, len(l.base)+len(f))
	for k, v := range l.base {
		out[k] = v
	}
	for k, v := range f {
		out[k] = v
	}
	return out
}

func (l fieldLogger) Debug(msg string, f sitecache.Fields) { l.inner.Debug(msg, l.merge(f)) }
func (l fieldLogger) Info(msg string, f sitecache.Fields)  { l.inner.Info(msg, l.merge(f)) }
func (l fieldLogger) Warn(msg string, f sitecache.Fields)  { l.inner.Warn(msg, l.merge(f)) }
func (l fieldLogger) Error(msg string, f sitecache.Fields) { l.inner.Error(msg, l.merge(f)) }
