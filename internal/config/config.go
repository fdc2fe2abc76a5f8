package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kjstillabower/risk-signal-service/internal/models"
)

// TrackedPoint is a named coordinate whose lunar signal is kept warm.
type TrackedPoint struct {
	Name string
	Lat  float64
	Lon  float64
}

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServerPort     string
	RequestTimeout time.Duration
	Location       *time.Location
	DefaultPoint   models.Coordinate

	// Keys are optional: a provider without a key is left out of its chain.
	WeatherAPIKey   string
	OpenWeatherKey  string
	WeatherAPIURL   string
	OpenWeatherURL  string
	OpenWeatherLang string
	ProviderTimeout time.Duration

	MoonAPIURL            string
	MoonRetryAttempts     int
	MoonRetryBaseDelay    time.Duration
	MoonCacheTTL          time.Duration
	MoonCacheBackend      string // "in_memory" or "memcached"
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	GeocodeURL    string
	GeocodeStore  string // "in_memory", "redis" or "sqlite"
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SQLitePath    string
	PlaceMinLen   int
	PlaceMaxLen   int

	HistoryGlob     string
	TargetYear      int
	LocalityPattern string

	RetryAttempts           int
	RetryBaseDelay          time.Duration
	RetryMaxDelay           time.Duration
	RateLimitRPS            int
	RateLimitBurst          int
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	ShutdownTimeout time.Duration

	ReadyDelay          time.Duration
	OverloadWindow      time.Duration
	OverloadRequests    int
	DegradedWindow      time.Duration
	DegradedFallbackPct int
	DegradedMinSamples  int

	TrackedPoints []TrackedPoint
	WarmInterval  time.Duration
}

type fileConfig struct {
	Server struct {
		Port     string `yaml:"port"`
		Timezone string `yaml:"timezone"`
		Default  struct {
			Lat *float64 `yaml:"lat"`
			Lon *float64 `yaml:"lon"`
		} `yaml:"default_location"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Weather struct {
		Timeout        string `yaml:"timeout"`
		WeatherAPIURL  string `yaml:"weatherapi_url"`
		OpenWeatherURL string `yaml:"openweather_url"`
		Lang           string `yaml:"lang"`
	} `yaml:"weather"`

	Moon struct {
		URL            string `yaml:"url"`
		RetryAttempts  int    `yaml:"retry_attempts"`
		RetryBaseDelay string `yaml:"retry_base_delay"`
		Cache          struct {
			Backend   string `yaml:"backend"`
			TTL       string `yaml:"ttl"`
			Memcached struct {
				Addrs        string `yaml:"addrs"`
				Timeout      string `yaml:"timeout"`
				MaxIdleConns int    `yaml:"max_idle_conns"`
			} `yaml:"memcached"`
		} `yaml:"cache"`
	} `yaml:"moon"`

	Geocode struct {
		URL   string `yaml:"url"`
		Store string `yaml:"store"`
		Redis struct {
			Addr string `yaml:"addr"`
			DB   int    `yaml:"db"`
		} `yaml:"redis"`
		SQLite struct {
			Path string `yaml:"path"`
		} `yaml:"sqlite"`
		PlaceMinLen int `yaml:"place_min_len"`
		PlaceMaxLen int `yaml:"place_max_len"`
	} `yaml:"geocode"`

	History struct {
		Glob            string `yaml:"glob"`
		TargetYear      int    `yaml:"target_year"`
		LocalityPattern string `yaml:"locality_pattern"`
	} `yaml:"history"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
		CircuitBreaker   struct {
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		ReadyDelay          string `yaml:"ready_delay"`
		OverloadWindow      string `yaml:"overload_window"`
		OverloadRequests    int    `yaml:"overload_requests"`
		DegradedWindow      string `yaml:"degraded_window"`
		DegradedFallbackPct int    `yaml:"degraded_fallback_pct"`
		DegradedMinSamples  int    `yaml:"degraded_min_samples"`
	} `yaml:"lifecycle"`

	Metrics struct {
		WarmInterval  string `yaml:"warm_interval"`
		TrackedPoints []struct {
			Name string  `yaml:"name"`
			Lat  float64 `yaml:"lat"`
			Lon  float64 `yaml:"lon"`
		} `yaml:"tracked_points"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey  string `yaml:"weatherapi_key"`
	OpenWeatherKey string `yaml:"openweather_key"`
	RedisPassword  string `yaml:"redis_password"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml,
// after preloading .env files into the environment. Environment variables override both files.
// Call from project root.
func Load() (*Config, error) {
	if err := loadEnvFiles(); err != nil {
		return nil, err
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")
	cfg.Location = loadLocation(firstNonEmpty(os.Getenv("TZ_NAME"), fc.Server.Timezone, "Asia/Tokyo"))
	cfg.DefaultPoint = models.Coordinate{Lat: 34.27717, Lon: 133.20986}
	if fc.Server.Default.Lat != nil && fc.Server.Default.Lon != nil {
		cfg.DefaultPoint = models.Coordinate{Lat: *fc.Server.Default.Lat, Lon: *fc.Server.Default.Lon}
	}
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.WeatherAPIKey = firstNonEmpty(os.Getenv("WEATHERAPI_KEY"), sec.WeatherAPIKey)
	cfg.OpenWeatherKey = firstNonEmpty(os.Getenv("OPENWEATHER_KEY"), sec.OpenWeatherKey)
	cfg.WeatherAPIURL = strings.TrimSpace(fc.Weather.WeatherAPIURL)
	cfg.OpenWeatherURL = strings.TrimSpace(fc.Weather.OpenWeatherURL)
	cfg.OpenWeatherLang = firstNonEmpty(fc.Weather.Lang, "ja")
	cfg.ProviderTimeout = parseDurationOrZero(fc.Weather.Timeout, 10*time.Second)

	cfg.MoonAPIURL = strings.TrimSpace(fc.Moon.URL)
	cfg.MoonRetryAttempts = fc.Moon.RetryAttempts
	if cfg.MoonRetryAttempts <= 0 {
		cfg.MoonRetryAttempts = 3
	}
	cfg.MoonRetryBaseDelay = parseDuration(fc.Moon.RetryBaseDelay, 600*time.Millisecond)
	cfg.MoonCacheTTL = parseDuration(fc.Moon.Cache.TTL, 30*time.Minute)
	cfg.MoonCacheBackend = lower(firstNonEmpty(os.Getenv("MOON_CACHE_BACKEND"), fc.Moon.Cache.Backend, "in_memory"))
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Moon.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Moon.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Moon.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.GeocodeURL = strings.TrimSpace(fc.Geocode.URL)
	cfg.GeocodeStore = lower(firstNonEmpty(os.Getenv("GEOCODE_STORE"), fc.Geocode.Store, "in_memory"))
	cfg.RedisAddr = firstNonEmpty(os.Getenv("REDIS_ADDR"), fc.Geocode.Redis.Addr, "localhost:6379")
	cfg.RedisPassword = firstNonEmpty(os.Getenv("REDIS_PASSWORD"), sec.RedisPassword)
	cfg.RedisDB = fc.Geocode.Redis.DB
	cfg.SQLitePath = firstNonEmpty(os.Getenv("SQLITE_PATH"), fc.Geocode.SQLite.Path, "data/geocode.db")
	cfg.PlaceMinLen = fc.Geocode.PlaceMinLen
	if cfg.PlaceMinLen <= 0 {
		cfg.PlaceMinLen = 1
	}
	cfg.PlaceMaxLen = fc.Geocode.PlaceMaxLen
	if cfg.PlaceMaxLen <= 0 {
		cfg.PlaceMaxLen = 100
	}

	cfg.HistoryGlob = firstNonEmpty(os.Getenv("DATA_GLOB"), fc.History.Glob, "data/ehime_2019*.csv")
	cfg.TargetYear = fc.History.TargetYear
	if cfg.TargetYear <= 0 {
		cfg.TargetYear = 2019
	}
	cfg.LocalityPattern = strings.TrimSpace(fc.History.LocalityPattern)

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 20
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 40
	}
	cfg.BreakerFailureThreshold = fc.Reliability.CircuitBreaker.FailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.CircuitBreaker.SuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.CircuitBreaker.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.ReadyDelay = parseDurationOrZero(fc.Lifecycle.ReadyDelay, 0)
	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, 60*time.Second)
	cfg.OverloadRequests = fc.Lifecycle.OverloadRequests
	if cfg.OverloadRequests <= 0 {
		// 80% of what the rate limiter admits over the window
		cfg.OverloadRequests = int(float64(cfg.RateLimitRPS) * cfg.OverloadWindow.Seconds() * 0.8)
	}
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, 5*time.Minute)
	cfg.DegradedFallbackPct = fc.Lifecycle.DegradedFallbackPct
	if cfg.DegradedFallbackPct <= 0 {
		cfg.DegradedFallbackPct = 50
	}
	cfg.DegradedMinSamples = fc.Lifecycle.DegradedMinSamples
	if cfg.DegradedMinSamples <= 0 {
		cfg.DegradedMinSamples = 5
	}

	cfg.WarmInterval = parseDuration(fc.Metrics.WarmInterval, 25*time.Minute)
	for _, p := range fc.Metrics.TrackedPoints {
		cfg.TrackedPoints = append(cfg.TrackedPoints, TrackedPoint{Name: p.Name, Lat: p.Lat, Lon: p.Lon})
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadEnvFiles preloads ENV_FILE, or .env.local then .env. Existing environment
// variables are never overwritten and missing files are not errors.
func loadEnvFiles() error {
	if envFile := os.Getenv("ENV_FILE"); envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load env file %s: %w", envFile, err)
		}
		return nil
	}
	for _, name := range []string{".env.local", ".env"} {
		if err := godotenv.Load(name); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// loadLocation falls back to a fixed UTC+9 zone when tzdata is unavailable.
func loadLocation(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.FixedZone("JST", 9*60*60)
	}
	return loc
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func lower(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate performs post-load validation of configuration values.
// RequestTimeout is raised above ProviderTimeout when needed so a request can
// outlive one provider call.
func validate(cfg *Config) error {
	if cfg.ProviderTimeout <= 0 {
		return fmt.Errorf("weather.timeout must be positive")
	}
	if cfg.RequestTimeout <= cfg.ProviderTimeout {
		cfg.RequestTimeout = cfg.ProviderTimeout + 5*time.Second
	}
	switch cfg.MoonCacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("moon.cache.backend must be in_memory or memcached, got %q", cfg.MoonCacheBackend)
	}
	switch cfg.GeocodeStore {
	case "in_memory", "redis", "sqlite":
	default:
		return fmt.Errorf("geocode.store must be in_memory, redis or sqlite, got %q", cfg.GeocodeStore)
	}
	if cfg.LocalityPattern != "" {
		if _, err := regexp.Compile(cfg.LocalityPattern); err != nil {
			return fmt.Errorf("history.locality_pattern: %w", err)
		}
	}
	if cfg.PlaceMinLen > cfg.PlaceMaxLen {
		return fmt.Errorf("geocode.place_min_len (%d) exceeds place_max_len (%d)", cfg.PlaceMinLen, cfg.PlaceMaxLen)
	}
	if cfg.DefaultPoint.Lat < -90 || cfg.DefaultPoint.Lat > 90 || cfg.DefaultPoint.Lon < -180 || cfg.DefaultPoint.Lon > 180 {
		return fmt.Errorf("server.default_location out of range: %+v", cfg.DefaultPoint)
	}
	return nil
}
