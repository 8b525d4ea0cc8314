// Package config provides configuration management for Fortress.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all Fortress configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Providers ProvidersConfig `yaml:"providers"`
	Network   NetworkConfig   `yaml:"network"`
	Scoring   ScoringConfig   `yaml:"scoring"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORSOrigins     []string      `yaml:"cors_origins"`
}

// RedisConfig holds Redis connection settings. The URL is read from the
// first non-empty variable in URLEnvs.
type RedisConfig struct {
	URLEnvs     []string      `yaml:"url_envs"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DatabaseConfig holds PostgreSQL settings for the deception log.
type DatabaseConfig struct {
	URLEnv string `yaml:"url_env"`
}

// ProviderConfig holds settings for one external signal source.
type ProviderConfig struct {
	APIKeyEnv  string        `yaml:"api_key_env"`
	BaseURL    string        `yaml:"base_url"`
	BaseURLEnv string        `yaml:"base_url_env"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Endpoint returns the base URL, preferring the BaseURLEnv variable when set.
func (p ProviderConfig) Endpoint() string {
	return firstNonEmpty(getenv(p.BaseURLEnv), p.BaseURL)
}

// ProvidersConfig holds the URL reputation and network telemetry sources.
type ProvidersConfig struct {
	SafeBrowsing ProviderConfig   `yaml:"safe_browsing"`
	PhishTank    ProviderConfig   `yaml:"phishtank"`
	RDAP         ProviderConfig   `yaml:"rdap"`
	VirusTotal   VirusTotalConfig `yaml:"virustotal"`
	OTX          ProviderConfig   `yaml:"otx"`
	MISP         ProviderConfig   `yaml:"misp"`
	IPInfo       ProviderConfig   `yaml:"ipinfo"`
	IPAPI        ProviderConfig   `yaml:"ipapi"`
	DNS          ProviderConfig   `yaml:"dns"`
	AbuseIPDB    ProviderConfig   `yaml:"abuseipdb"`
	SSLLabs      ProviderConfig   `yaml:"ssllabs"`
}

// VirusTotalConfig holds VirusTotal settings.
type VirusTotalConfig struct {
	ProviderConfig `yaml:",inline"`
	AnalysisDelay  time.Duration `yaml:"analysis_delay"`
}

// NetworkConfig holds network scan settings.
type NetworkConfig struct {
	SSID             string        `yaml:"ssid"`
	Timeout          time.Duration `yaml:"timeout"`
	CaptiveEndpoints []string      `yaml:"captive_endpoints"`
	TLSHost          string        `yaml:"tls_host"`
}

// ScoringConfig holds aggregation and cache settings.
type ScoringConfig struct {
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
	RequestDeadline time.Duration `yaml:"request_deadline"`
	URLCacheTTL     time.Duration `yaml:"url_cache_ttl"`
	NetworkCacheTTL time.Duration `yaml:"network_cache_ttl"`
	CacheCapacity   int           `yaml:"cache_capacity"`
}

// RateLimitConfig holds the per-client request budget for /api.
type RateLimitConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Requests int           `yaml:"requests"`
	Window   time.Duration `yaml:"window"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, console
}

// TelemetryConfig holds tracing settings.
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	SampleRate     float64 `yaml:"sample_rate"`
}

// Credentials are secrets and connection strings resolved from the
// environment. An empty field disables the component that needs it.
type Credentials struct {
	SafeBrowsingKey string
	PhishTankKey    string
	VirusTotalKey   string
	OTXKey          string
	MISPKey         string
	MISPURL         string
	IPInfoToken     string
	AbuseIPDBKey    string
	RedisURL        string
	DatabaseURL     string
}

// LoadDotEnv loads variables from .env files into the environment without
// overriding existing ones. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads configuration from a YAML file and applies environment
// overrides. An empty path yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	if err := cfg.ApplyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            5001,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Redis: RedisConfig{
			URLEnvs:     []string{"WIFI_REDIS_URL", "REDIS_URL"},
			DialTimeout: 2 * time.Second,
		},
		Database: DatabaseConfig{
			URLEnv: "DATABASE_URL",
		},
		Providers: ProvidersConfig{
			SafeBrowsing: ProviderConfig{APIKeyEnv: "GOOGLE_SAFE_BROWSING_KEY"},
			PhishTank:    ProviderConfig{APIKeyEnv: "PHISHTANK_API"},
			RDAP:         ProviderConfig{},
			VirusTotal: VirusTotalConfig{
				ProviderConfig: ProviderConfig{APIKeyEnv: "VIRUSTOTAL_KEY"},
				AnalysisDelay:  1 * time.Second,
			},
			OTX:       ProviderConfig{APIKeyEnv: "OTX_API_KEY"},
			MISP:      ProviderConfig{APIKeyEnv: "MISP_API_KEY", BaseURLEnv: "MISP_URL"},
			IPInfo:    ProviderConfig{APIKeyEnv: "IPINFO_TOKEN"},
			IPAPI:     ProviderConfig{},
			DNS:       ProviderConfig{},
			AbuseIPDB: ProviderConfig{APIKeyEnv: "ABUSEIPDB_KEY"},
			SSLLabs:   ProviderConfig{},
		},
		Network: NetworkConfig{
			SSID:    "Detected_WiFi",
			Timeout: 1800 * time.Millisecond,
			CaptiveEndpoints: []string{
				"http://connectivitycheck.gstatic.com/generate_204",
				"http://clients3.google.com/generate_204",
			},
			TLSHost: "google.com",
		},
		Scoring: ScoringConfig{
			ProbeTimeout:    1500 * time.Millisecond,
			RequestDeadline: 4 * time.Second,
			URLCacheTTL:     1 * time.Hour,
			NetworkCacheTTL: 30 * time.Minute,
			CacheCapacity:   10000,
		},
		RateLimit: RateLimitConfig{
			Enabled:  true,
			Requests: 100,
			Window:   15 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "fortress",
			Environment:  "development",
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
		},
	}
}

// ApplyEnv overrides settings from well-known environment variables.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid PORT %q: %w", v, err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("WIFI_SSID"); v != "" {
		c.Network.SSID = v
	}
	if v := os.Getenv("WIFI_SCAN_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid WIFI_SCAN_TIMEOUT %q: %w", v, err)
		}
		c.Network.Timeout = d
	}
	if v := os.Getenv("PROBE_TIMEOUT"); v != "" {
		d, err := parseSeconds(v)
		if err != nil {
			return fmt.Errorf("invalid PROBE_TIMEOUT %q: %w", v, err)
		}
		c.Scoring.ProbeTimeout = d
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	return nil
}

// Validate reports settings that cannot work.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Scoring.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("scoring.probe_timeout must be positive"))
	}
	if c.Scoring.RequestDeadline <= 0 {
		errs = append(errs, errors.New("scoring.request_deadline must be positive"))
	}
	if c.Scoring.URLCacheTTL <= 0 || c.Scoring.NetworkCacheTTL <= 0 {
		errs = append(errs, errors.New("cache ttls must be positive"))
	}
	if c.Network.Timeout <= 0 {
		errs = append(errs, errors.New("network.timeout must be positive"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit requires positive requests and window"))
	}
	return errors.Join(errs...)
}

// Credentials resolves secrets from the environment variables named in the
// configuration.
func (c *Config) Credentials() Credentials {
	p := c.Providers
	return Credentials{
		SafeBrowsingKey: getenv(p.SafeBrowsing.APIKeyEnv),
		PhishTankKey:    getenv(p.PhishTank.APIKeyEnv),
		VirusTotalKey:   getenv(p.VirusTotal.APIKeyEnv),
		OTXKey:          getenv(p.OTX.APIKeyEnv),
		MISPKey:         getenv(p.MISP.APIKeyEnv),
		MISPURL:         p.MISP.Endpoint(),
		IPInfoToken:     getenv(p.IPInfo.APIKeyEnv),
		AbuseIPDBKey:    getenv(p.AbuseIPDB.APIKeyEnv),
		RedisURL:        getenv(c.Redis.URLEnvs...),
		DatabaseURL:     getenv(c.Database.URLEnv),
	}
}

// EnabledProviders returns the URL reputation sources that have credentials.
// Keyless sources are always enabled.
func (c *Config) EnabledProviders(creds Credentials) []string {
	providers := []string{"domain_age"}
	if creds.SafeBrowsingKey != "" {
		providers = append(providers, "google_safe_browsing")
	}
	if creds.PhishTankKey != "" {
		providers = append(providers, "phishtank")
	}
	if creds.VirusTotalKey != "" {
		providers = append(providers, "virustotal")
	}
	if creds.OTXKey != "" {
		providers = append(providers, "otx")
	}
	if creds.MISPKey != "" && creds.MISPURL != "" {
		providers = append(providers, "misp")
	}
	return providers
}

// getenv returns the first non-empty variable among names.
func getenv(names ...string) string {
	for _, name := range names {
		if name == "" {
			continue
		}
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			return v
		}
	}
	return ""
}

// parseSeconds accepts a Go duration ("2s") or a number of seconds ("1.8").
func parseSeconds(v string) (time.Duration, error) {
	if d, err := time.ParseDuration(v); err == nil {
		return d, nil
	}
	secs, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, err
	}
	if secs <= 0 {
		return 0, errors.New("must be positive")
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
