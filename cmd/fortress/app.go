package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lvonguyen/fortress/internal/cache"
	"github.com/lvonguyen/fortress/internal/config"
	"github.com/lvonguyen/fortress/internal/deceptions"
	"github.com/lvonguyen/fortress/internal/observability"
	"github.com/lvonguyen/fortress/internal/probes"
	"github.com/lvonguyen/fortress/internal/scoring"
)

const (
	urlCachePrefix     = "fraud_url_v1:"
	networkCachePrefix = "auto_wifi_scan_v1:"
)

// app holds the wired components shared by the commands.
type app struct {
	cfg   *config.Config
	creds config.Credentials
	tel   *observability.Telemetry
	log   *zap.Logger

	redis *redis.Client
	pool  *pgxpool.Pool
	// dbErr is set when a database is configured but could not be reached.
	dbErr error

	usage        *scoring.Usage
	urlReports   *cache.Cache
	networkCache *cache.Cache
	enricher     *scoring.Enricher
	scanner      *scoring.NetworkScanner
	deceptions   *deceptions.Service
}

type appOptions struct {
	// withDeceptions connects the deception store.
	withDeceptions bool
}

// loadConfig reads .env files and the config file. A missing config file at
// the default location falls back to defaults.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return nil, err
	}

	path := configPath
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !cmd.Flags().Changed("config") {
		path = ""
	}
	return config.Load(path)
}

func newApp(ctx context.Context, cmd *cobra.Command, opts appOptions) (*app, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	tel, err := observability.New(observability.Config{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    cfg.Telemetry.Environment,
		LogLevel:       cfg.Logging.Level,
		LogFormat:      cfg.Logging.Format,
		TracingEnabled: cfg.Telemetry.TracingEnabled,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		SamplingRate:   cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing telemetry: %w", err)
	}

	a := &app{
		cfg:   cfg,
		creds: cfg.Credentials(),
		tel:   tel,
		log:   tel.Logger(),
		usage: scoring.NewUsage(),
	}

	a.buildCaches()
	a.buildScorers()

	if opts.withDeceptions {
		if err := a.buildDeceptions(ctx); err != nil {
			a.Close(ctx)
			return nil, err
		}
	}

	a.log.Info("Fortress initialized",
		zap.Strings("providers", cfg.EnabledProviders(a.creds)),
		zap.Bool("redis", a.redis != nil),
		zap.Bool("postgres", a.pool != nil))
	return a, nil
}

func (a *app) buildCaches() {
	metrics := a.tel.Metrics()
	common := []cache.Option{cache.WithLogger(a.log), cache.WithObserver(metrics)}

	if a.creds.RedisURL != "" {
		client, err := cache.NewRedisClient(a.creds.RedisURL, a.cfg.Redis.DialTimeout)
		if err != nil {
			a.log.Warn("Redis disabled, using in-process caches", zap.Error(err))
		} else {
			a.redis = client
			common = append(common, cache.WithPrimary(cache.NewRedisStore(client)))
		}
	}

	capacity := a.cfg.Scoring.CacheCapacity
	a.urlReports = cache.New("url_reports", a.cfg.Scoring.URLCacheTTL, slices.Concat(common, []cache.Option{
		cache.WithPrefix(urlCachePrefix),
		cache.WithMemoryStore(cache.NewMemoryStore(capacity)),
	})...)
	a.networkCache = cache.New("network", a.cfg.Scoring.NetworkCacheTTL, slices.Concat(common, []cache.Option{
		cache.WithPrefix(networkCachePrefix),
		cache.WithMemoryStore(cache.NewMemoryStore(capacity)),
	})...)
}

// probeConfig resolves a provider section into probe settings.
func probeConfig(p config.ProviderConfig, apiKey string, fallback time.Duration) probes.ProviderConfig {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = fallback
	}
	return probes.ProviderConfig{APIKey: apiKey, BaseURL: p.Endpoint(), Timeout: timeout}
}

func (a *app) buildScorers() {
	p, creds := a.cfg.Providers, a.creds
	probeTimeout, netTimeout := a.cfg.Scoring.ProbeTimeout, a.cfg.Network.Timeout
	metrics := a.tel.Metrics()

	a.enricher = scoring.NewEnricher(scoring.URLProbes{
		SafeBrowsing: probes.NewSafeBrowsing(probeConfig(p.SafeBrowsing, creds.SafeBrowsingKey, probeTimeout)),
		PhishTank:    probes.NewPhishTank(probeConfig(p.PhishTank, creds.PhishTankKey, probeTimeout)),
		DomainAge:    probes.NewDomainAge(probeConfig(p.RDAP, "", probeTimeout)),
		VirusTotal: probes.NewVirusTotal(
			probeConfig(p.VirusTotal.ProviderConfig, creds.VirusTotalKey, probeTimeout),
			p.VirusTotal.AnalysisDelay),
		OTX: probes.NewOTX(probeConfig(p.OTX, creds.OTXKey, probeTimeout)),
		MISP: probes.NewMISP(probes.ProviderConfig{
			APIKey:  creds.MISPKey,
			BaseURL: creds.MISPURL,
			Timeout: probeConfig(p.MISP, "", probeTimeout).Timeout,
		}),
	}, a.urlReports,
		scoring.WithDeadline(a.cfg.Scoring.RequestDeadline),
		scoring.WithLogger(a.log),
		scoring.WithObserver(a.usage),
		scoring.WithObserver(metrics),
	)

	a.scanner = scoring.NewNetworkScanner(scoring.NetworkProbes{
		IPInfo:        probes.NewIPInfo(probeConfig(p.IPInfo, creds.IPInfoToken, netTimeout)),
		IPAPI:         probes.NewIPAPI(probeConfig(p.IPAPI, "", netTimeout)),
		DNS:           probes.NewDNSCheck(probeConfig(p.DNS, "", netTimeout)),
		CaptivePortal: probes.NewCaptivePortal(a.cfg.Network.CaptiveEndpoints, netTimeout),
		AbuseIPDB:     probes.NewAbuseIPDB(probeConfig(p.AbuseIPDB, creds.AbuseIPDBKey, netTimeout)),
		TLS:           probes.NewSSLLabs(probeConfig(p.SSLLabs, "", netTimeout), a.cfg.Network.TLSHost),
	}, a.networkCache,
		scoring.WithSSID(a.cfg.Network.SSID),
		scoring.WithScanDeadline(a.cfg.Scoring.RequestDeadline),
		scoring.WithScanLogger(a.log),
		scoring.WithScanObserver(a.usage),
		scoring.WithScanObserver(metrics),
	)
}

// buildDeceptions uses PostgreSQL when a database URL is configured and the
// bounded in-process log otherwise, including when the database is down at
// startup. The outage is reported by the readiness check.
func (a *app) buildDeceptions(ctx context.Context) error {
	var store deceptions.Store = deceptions.NewMemoryStore(deceptions.MaxMemoryEvents)

	if a.creds.DatabaseURL != "" {
		pool, err := connectDatabase(ctx, a.creds.DatabaseURL)
		if err != nil {
			a.dbErr = err
			a.log.Warn("Database unavailable, using in-memory deception store", zap.Error(err))
		} else {
			a.pool = pool
			store = deceptions.NewPostgresStore(pool)
		}
	}

	a.deceptions = deceptions.NewService(store, a.log)
	a.log.Info("Deception store ready", zap.String("store", store.Name()))
	return nil
}

func connectDatabase(ctx context.Context, url string) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := deceptions.Connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return pool, nil
}

// Close releases connections and flushes telemetry.
func (a *app) Close(ctx context.Context) {
	if a.pool != nil {
		a.pool.Close()
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Closing redis failed", zap.Error(err))
		}
	}
	if err := a.tel.Shutdown(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry shutdown: %v\n", err)
	}
}
