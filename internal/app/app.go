// Package app assembles a key pool, provider chain and snapshot store from
// a keyrotor.Config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/keyrotor"
	"github.com/ineyio/keyrotor/meter"
	"github.com/ineyio/keyrotor/meter/prom"
	"github.com/ineyio/keyrotor/policy"
	"github.com/ineyio/keyrotor/provider/gemini"
	"github.com/ineyio/keyrotor/provider/openaicompat"
	"github.com/ineyio/keyrotor/quota"
	quotapg "github.com/ineyio/keyrotor/quota/postgres"
	quotaredis "github.com/ineyio/keyrotor/quota/redis"
)

// App is a fully wired keyrotor instance.
type App struct {
	Config   keyrotor.Config
	Logger   *slog.Logger
	Registry *prometheus.Registry
	Meter    keyrotor.Meter

	// Pool is nil when no provider is rotated.
	Pool   *keyrotor.Pool
	Router *keyrotor.Router
	// Store is nil when snapshots are disabled.
	Store keyrotor.SnapshotStore

	closers []func()
}

// Option configures New.
type Option func(*options)

type options struct {
	httpClient *http.Client
	providers  map[string]keyrotor.Provider
}

// WithHTTPClient sets the HTTP client used by provider adapters.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithProvider replaces the adapter built for the named provider.
func WithProvider(name string, p keyrotor.Provider) Option {
	return func(o *options) { o.providers[name] = p }
}

// New builds an App from cfg. Snapshot stores are connected and today's
// snapshot is restored into the pool.
func New(ctx context.Context, cfg keyrotor.Config, logger *slog.Logger, opts ...Option) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	o := &options{httpClient: http.DefaultClient, providers: make(map[string]keyrotor.Provider)}
	for _, opt := range opts {
		opt(o)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := meter.Multi{meter.NewLogMeter(logger), prom.New(reg)}

	a := &App{Config: cfg, Logger: logger, Registry: reg, Meter: m}

	var backends []keyrotor.Backend
	for _, pc := range cfg.Providers {
		prov := o.providers[pc.Name]
		if prov == nil {
			prov = newProvider(pc, o.httpClient)
		}
		b := keyrotor.Backend{Provider: prov, Model: pc.Model}

		if pc.Rotated {
			pool, err := cfg.NewPool(logger, keyrotor.WithName(pc.Name), keyrotor.WithPoolMeter(m))
			if err != nil {
				return nil, err
			}
			a.Pool = pool
			b.Pool = pool
			logger.Info("pool_loaded", "pool", pc.Name, "keys", pool.Len(), "daily_limit", pool.DailyLimit())
		} else {
			if pc.APIKey == "" {
				logger.Warn("provider_skipped", "provider", pc.Name, "reason", "no api_key")
				continue
			}
			b.APIKey = pc.APIKey
		}
		backends = append(backends, b)
	}

	router, err := keyrotor.NewRouter(backends,
		keyrotor.WithPolicy(newPolicy(cfg.Policy)),
		keyrotor.WithMeter(m),
		keyrotor.WithDefaultModel(cfg.DefaultModel),
	)
	if err != nil {
		return nil, err
	}
	a.Router = router

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.Store != nil && a.Pool != nil {
		n, err := keyrotor.RestoreFrom(ctx, a.Pool, a.Store)
		if err != nil {
			logger.Warn("snapshot_restore_failed", "pool", a.Pool.Name(), "error", err)
		} else {
			logger.Info("snapshot_restored", "pool", a.Pool.Name(), "day", a.Pool.Day(), "keys", n)
		}
	}

	return a, nil
}

func newPolicy(name string) keyrotor.Policy {
	if name == keyrotor.PolicyStatic {
		return &policy.Static{}
	}
	return &policy.HealthyFirst{}
}

func newProvider(pc keyrotor.ProviderConfig, c *http.Client) keyrotor.Provider {
	switch pc.Kind {
	case keyrotor.KindOpenAI:
		baseURL := pc.BaseURL
		if baseURL == "" {
			baseURL = "https://api.openai.com/v1"
		}
		return openaicompat.New(pc.Name, baseURL, openaicompat.WithHTTPClient(c))
	default:
		opts := []gemini.Option{gemini.WithName(pc.Name), gemini.WithHTTPClient(c)}
		if pc.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(pc.BaseURL))
		}
		return gemini.New(opts...)
	}
}

func (a *App) openStore(ctx context.Context) error {
	sc := a.Config.Snapshot
	switch sc.Backend {
	case keyrotor.SnapshotMemory:
		a.Store = quota.NewMemoryStore()

	case keyrotor.SnapshotRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     sc.RedisAddr,
			Password: sc.RedisPassword,
			DB:       sc.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return fmt.Errorf("keyrotor: redis %s: %w", sc.RedisAddr, err)
		}
		a.closers = append(a.closers, func() { client.Close() })
		a.Store = quotaredis.New(client, quotaredis.WithKeyPrefix(sc.Prefix+":usage:"))

	case keyrotor.SnapshotPostgres:
		pool, err := pgxpool.New(ctx, sc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("keyrotor: postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		store := quotapg.New(pool, quotapg.WithTablePrefix(sc.Prefix+"_"))
		if err := store.EnsureSchema(ctx); err != nil {
			return err
		}
		a.Store = store
	}

	if a.Store != nil {
		a.Logger.Info("snapshot_store_ready", "backend", sc.Backend)
	}
	return nil
}

const snapshotSaveTimeout = 5 * time.Second

// SaveSnapshot writes the pool's counters to the store. It keeps ctx's values
// but not its deadline, so usage is recorded even after the request timed out.
func (a *App) SaveSnapshot(ctx context.Context) error {
	if a.Store == nil || a.Pool == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), snapshotSaveTimeout)
	defer cancel()
	return a.Store.Save(ctx, a.Pool.Snapshot())
}

// Close releases store connections.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
