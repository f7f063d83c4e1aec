package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML and env.
type Config struct {
	ServiceName string
	Environment string
	ServerPort  string

	RequestTimeout time.Duration

	PingMaxSleep time.Duration
	PingFormat   string // "text" or "json"

	GeoLocation UpstreamConfig
	Weather     UpstreamConfig

	GenerationAPIKey  string
	GenerationBaseURL string
	GenerationModel   string
	GenerationTimeout time.Duration
	GenerationWorkers int

	TracingExporter      string // "otlp", "stdout" or "none"
	TracingEndpoint      string
	TracingInsecure      bool
	TracingSamplingRatio float64

	RateLimitRPS   int
	RateLimitBurst int

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

// UpstreamConfig is the base URL and per-call timeout of one upstream lookup service.
type UpstreamConfig struct {
	BaseURL string
	Timeout time.Duration
}

type upstreamFileConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

type fileConfig struct {
	ServiceName string `yaml:"service_name"`
	Environment string `yaml:"environment"`

	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Ping struct {
		MaxSleep string `yaml:"max_sleep"`
		Format   string `yaml:"format"`
	} `yaml:"ping"`

	Clients struct {
		GeoLocation upstreamFileConfig `yaml:"geolocation"`
		Weather     upstreamFileConfig `yaml:"weather"`
	} `yaml:"clients"`

	Generation struct {
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
		Workers int    `yaml:"workers"`
	} `yaml:"generation"`

	Tracing struct {
		Exporter      string   `yaml:"exporter"`
		Endpoint      string   `yaml:"endpoint"`
		Insecure      *bool    `yaml:"insecure"`
		SamplingRatio *float64 `yaml:"sampling_ratio"`
	} `yaml:"tracing"`

	Reliability struct {
		RateLimitRPS   int `yaml:"rate_limit_rps"`
		RateLimitBurst int `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          bool   `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			SuccessThreshold int    `yaml:"success_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml
// relative to the working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadDir(filepath.Join(cwd, "config"))
}

// LoadDir reads {ENV_NAME}.yaml and secrets.yaml from dir.
// API key comes from OPENAI_API_KEY env or the secrets file.
func LoadDir(dir string) (*Config, error) {
	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	configPath := filepath.Join(dir, env+".yaml")
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

	cfg := &Config{}
	cfg.ServiceName = stringOr(fc.ServiceName, "observability-demo-service")
	cfg.Environment = stringOr(strings.ToLower(strings.TrimSpace(fc.Environment)), "development")
	cfg.ServerPort = stringOr(os.Getenv("PORT"), stringOr(fc.Server.Port, "8080"))

	cfg.GenerationAPIKey = strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if cfg.GenerationAPIKey == "" {
		secretsPath := filepath.Join(dir, "secrets.yaml")
		secretsData, err := os.ReadFile(secretsPath)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read secrets file: %w", err)
			}
		} else {
			var sec secretsFile
			if err := yaml.Unmarshal(secretsData, &sec); err != nil {
				return nil, fmt.Errorf("parse secrets file: %w", err)
			}
			cfg.GenerationAPIKey = strings.TrimSpace(sec.OpenAIAPIKey)
		}
	}
	if cfg.GenerationAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY required (set env or config/secrets.yaml openai_api_key)")
	}

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 15*time.Second)

	cfg.PingMaxSleep = parseDuration(fc.Ping.MaxSleep, time.Second)
	cfg.PingFormat = stringOr(strings.ToLower(strings.TrimSpace(fc.Ping.Format)), "text")

	cfg.GeoLocation = UpstreamConfig{
		BaseURL: stringOr(os.Getenv("GEOLOCATION_BASE_URL"), stringOr(fc.Clients.GeoLocation.BaseURL, "http://localhost:8081")),
		Timeout: parseDurationOrZero(fc.Clients.GeoLocation.Timeout, 2*time.Second),
	}
	cfg.Weather = UpstreamConfig{
		BaseURL: stringOr(os.Getenv("WEATHER_BASE_URL"), stringOr(fc.Clients.Weather.BaseURL, "http://localhost:8082")),
		Timeout: parseDurationOrZero(fc.Clients.Weather.Timeout, 2*time.Second),
	}

	cfg.GenerationBaseURL = stringOr(fc.Generation.BaseURL, "https://api.openai.com/v1")
	cfg.GenerationModel = stringOr(fc.Generation.Model, "gpt-3.5-turbo")
	cfg.GenerationTimeout = parseDurationOrZero(fc.Generation.Timeout, 10*time.Second)
	cfg.GenerationWorkers = fc.Generation.Workers
	if cfg.GenerationWorkers <= 0 {
		cfg.GenerationWorkers = 4
	}

	cfg.TracingExporter = strings.ToLower(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_EXPORT_MODE")))
	if cfg.TracingExporter == "" {
		cfg.TracingExporter = stringOr(strings.ToLower(strings.TrimSpace(fc.Tracing.Exporter)), "none")
	}
	cfg.TracingEndpoint = stringOr(os.Getenv("OTEL_EXPORTER_OTLP_GRPC_ENDPOINT"), stringOr(fc.Tracing.Endpoint, "localhost:4317"))
	cfg.TracingInsecure = true
	if fc.Tracing.Insecure != nil {
		cfg.TracingInsecure = *fc.Tracing.Insecure
	}
	cfg.TracingSamplingRatio = 1.0
	if fc.Tracing.SamplingRatio != nil {
		cfg.TracingSamplingRatio = *fc.Tracing.SamplingRatio
	}

	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitRPS > 0 && cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = cfg.RateLimitRPS
	}

	cb := fc.Reliability.CircuitBreaker
	cfg.CircuitBreakerEnabled = cb.Enabled
	cfg.CircuitBreakerFailureThreshold = cb.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerSuccessThreshold = cb.SuccessThreshold
	if cfg.CircuitBreakerSuccessThreshold <= 0 {
		cfg.CircuitBreakerSuccessThreshold = 2
	}
	cfg.CircuitBreakerTimeout = parseDuration(cb.Timeout, 30*time.Second)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func stringOr(s, defaultVal string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	return s
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
// RequestTimeout is raised so a full weather chain (slowest lookup plus generation) fits inside it.
func validate(cfg *Config) error {
	for _, u := range []struct {
		name string
		cfg  UpstreamConfig
	}{
		{"clients.geolocation", cfg.GeoLocation},
		{"clients.weather", cfg.Weather},
	} {
		if u.cfg.Timeout <= 0 {
			return fmt.Errorf("%s.timeout must be positive", u.name)
		}
		if err := validateBaseURL(u.cfg.BaseURL); err != nil {
			return fmt.Errorf("%s.base_url: %w", u.name, err)
		}
	}
	if cfg.GenerationTimeout <= 0 {
		return fmt.Errorf("generation.timeout must be positive")
	}
	if err := validateBaseURL(cfg.GenerationBaseURL); err != nil {
		return fmt.Errorf("generation.base_url: %w", err)
	}

	chain := max(cfg.GeoLocation.Timeout, cfg.Weather.Timeout) + cfg.GenerationTimeout
	if cfg.RequestTimeout <= chain {
		cfg.RequestTimeout = chain + time.Second
	}

	switch cfg.PingFormat {
	case "text", "json":
	default:
		return fmt.Errorf("ping.format must be text or json, got %q", cfg.PingFormat)
	}
	switch cfg.TracingExporter {
	case "otlp", "stdout", "none":
	default:
		return fmt.Errorf("tracing.exporter must be otlp, stdout or none, got %q", cfg.TracingExporter)
	}
	if cfg.TracingSamplingRatio < 0 || cfg.TracingSamplingRatio > 1 {
		return fmt.Errorf("tracing.sampling_ratio must be within [0, 1], got %v", cfg.TracingSamplingRatio)
	}
	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
