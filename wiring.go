package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"fretscout/cache"
	"fretscout/config"
	"fretscout/scraper"
	"fretscout/scraper/browser"
	"fretscout/scraper/ebay"
	"fretscout/scraper/stub"
	"fretscout/services"
	"fretscout/storage"
	"fretscout/tracing"
	"fretscout/utils"
)

// runtime holds the collaborators shared by every command.
type runtime struct {
	cfg     *config.Config
	logger  *utils.Logger
	secrets config.Secrets
	store   storage.AlertStore
	cache   cache.Cache
	tracer  *tracing.Tracer
	closers []func() error
}

// setup loads config and opens the store, cache and tracer for a command.
func setup(c *cli.Context) (*runtime, error) {
	cfg, err := config.LoadAndValidate(c.String("config"))
	if err != nil {
		return nil, err
	}
	if c.IsSet("log-level") {
		level, err := config.ParseLevel(c.String("log-level"))
		if err != nil {
			return nil, cli.Exit(err.Error(), 2)
		}
		cfg.LogLevel = level
	}

	logger := utils.NewLoggerWithLevel(os.Stderr, cfg.LogLevel)
	secrets, err := newSecrets(c.String("secrets-file"))
	if err != nil {
		return nil, err
	}
	return newRuntime(c.Context, cfg, logger, secrets)
}

func newRuntime(ctx context.Context, cfg *config.Config, logger *utils.Logger, secrets config.Secrets) (*runtime, error) {
	rt := &runtime{cfg: cfg, logger: logger, secrets: secrets}

	store, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt.store = store
	rt.closers = append(rt.closers, store.Close)

	rt.cache = openCache(ctx, cfg, logger)
	if rc, ok := rt.cache.(*cache.RedisCache); ok {
		rt.closers = append(rt.closers, rc.Close)
	}

	tracer, err := tracing.Init(tracing.Config{Enabled: cfg.TracingEnabled, ServiceName: "fretscout"}, logger)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.tracer = tracer
	return rt, nil
}

// Close releases everything setup opened, newest first.
func (rt *runtime) Close() {
	if rt.tracer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rt.tracer.Shutdown(ctx); err != nil {
			rt.logger.Warn("[main] Tracer shutdown: %v", err)
		}
		cancel()
		rt.tracer = nil
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("[main] Close: %v", err)
		}
	}
	rt.closers = nil
}

func newSecrets(path string) (config.Secrets, error) {
	chain := config.ChainSecrets{config.EnvSecrets{}}
	if path == "" {
		return chain, nil
	}
	fs, err := config.NewFileSecrets(path)
	if err != nil {
		return nil, err
	}
	return append(chain, fs), nil
}

func openStore(ctx context.Context, cfg *config.Config) (storage.AlertStore, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := storage.NewSQLiteStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverPostgres:
		s, err := storage.NewPostgresStore(ctx, cfg.DSN())
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.DriverMemory:
		return storage.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// openCache prefers Redis when configured and falls back to process memory
// when it cannot be reached.
func openCache(ctx context.Context, cfg *config.Config, logger *utils.Logger) cache.Cache {
	if cfg.Redis.Addr == "" {
		return cache.NewMemoryCache()
	}
	rc, err := cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		logger.Warn("[main] Redis unavailable, using in-memory token cache: %v", err)
		return cache.NewMemoryCache()
	}
	return rc
}

func hasEBayCredentials(secrets config.Secrets) bool {
	_, okID := secrets.Get(ebay.ClientIDKey)
	_, okSecret := secrets.Get(ebay.ClientSecretKey)
	return okID && okSecret
}

// liveSource builds the configured live sources. The bool is false when none
// are configured, in which case the stub source is returned.
func (rt *runtime) liveSource() (scraper.Source, bool, error) {
	var sources []scraper.Source

	if hasEBayCredentials(rt.secrets) {
		env, err := ebay.ParseEnv(rt.cfg.EBay.Env)
		if err != nil {
			return nil, false, err
		}
		tokens := ebay.NewTokenProvider(env, rt.secrets, rt.cache, ebay.WithTokenLogger(rt.logger))
		opts := []ebay.ClientOption{
			ebay.WithLogger(rt.logger),
			ebay.WithMarketplace(rt.cfg.EBay.MarketplaceID),
		}
		if rt.cfg.EBay.AcceptLanguage != "" {
			opts = append(opts, ebay.WithAcceptLanguage(rt.cfg.EBay.AcceptLanguage))
		}
		client, err := ebay.NewClient(env, tokens, opts...)
		if err != nil {
			return nil, false, err
		}
		sources = append(sources, client)
	}

	if rt.cfg.Browser.SearchURL != "" {
		sources = append(sources, browser.New(rt.cfg.Browser, rt.cfg.MaxConcurrency, rt.cfg.RateLimitMs, rt.cfg.MaxRetries, rt.logger))
	}

	switch len(sources) {
	case 0:
		rt.logger.Warn("[main] No live sources configured; serving sample listings")
		return stub.New(), false, nil
	case 1:
		return sources[0], true, nil
	default:
		return scraper.NewMultiSource(rt.logger, rt.cfg.MaxConcurrency, rt.cfg.RateLimitMs, sources...), true, nil
	}
}

// pipeline wires sources, writers and the alert store into a Pipeline.
// A non-empty csvPath also exports every scored batch to that file.
func (rt *runtime) pipeline(_ context.Context, csvPath string) (*services.Pipeline, error) {
	src, live, err := rt.liveSource()
	if err != nil {
		return nil, err
	}

	writers := []storage.ListingWriter{rt.store}
	if csvPath != "" {
		w, err := storage.NewCSVWriter(csvPath)
		if err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, w.Close)
		writers = append(writers, w)
		rt.logger.Info("[main] Exporting listings to %s", csvPath)
	}

	opts := []services.PipelineOption{
		services.WithListingWriters(writers...),
		services.WithTracer(rt.tracer.Tracer()),
	}
	if live {
		opts = append(opts, services.WithFallback(stub.New()))
	}
	return services.NewPipeline(src, rt.store, rt.logger, opts...), nil
}
