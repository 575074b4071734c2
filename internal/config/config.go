// Package config handles loading and validating service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// envPrefix marks environment variables that override config values.
// A double underscore separates nesting levels so that keys which contain
// a single underscore survive the mapping:
//
//	MITRA_SERVER__PORT       -> server.port
//	MITRA_UPSTREAM__API_KEY  -> upstream.api_key
const envPrefix = "MITRA_"

// fallbackKeyEnv is read when no API key is configured anywhere else.
// It's the variable name the web frontend's deployments already export.
const fallbackKeyEnv = "OPENROUTER_API_KEY"

// ErrMissingAPIKey is returned by Load when no upstream credential can be
// found. The service cannot do anything useful without one, so callers
// should treat this as fatal.
var ErrMissingAPIKey = errors.New("upstream api key is not configured")

// DefaultModels is the compiled-in fallback order. The first entries are
// the cheapest (free tier) models; later ones are paid last resorts.
var DefaultModels = []string{
	"deepseek/deepseek-r1-0528-qwen3-8b:free",
	"mistralai/mistral-7b-instruct",
	"google/gemma-7b-it",
	"openrouter/codellama-34b-instruct",
	"openai/gpt-3.5-turbo",
}

// Config is the top-level configuration for mitra-assist.
type Config struct {
	Server    ServerConfig    `koanf:"server"`
	Upstream  UpstreamConfig  `koanf:"upstream"`
	Cache     CacheConfig     `koanf:"cache"`
	Log       LogConfig       `koanf:"log"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// UpstreamConfig describes the completion endpoint and the ordered list of
// models to try against it.
type UpstreamConfig struct {
	APIKey  string        `koanf:"api_key"`
	BaseURL string        `koanf:"base_url"`
	Timeout time.Duration `koanf:"timeout"`
	Models  []string      `koanf:"models"`
	Origins OriginsConfig `koanf:"origins"`
	Titles  TitlesConfig  `koanf:"titles"`
}

// OriginsConfig is the allow-list for the HTTP-Referer attribution header.
// Default must be one of Allowed.
type OriginsConfig struct {
	Allowed []string `koanf:"allowed"`
	Default string   `koanf:"default"`
}

// TitlesConfig holds the X-Title attribution value sent for each task.
type TitlesConfig struct {
	Chat    string `koanf:"chat"`
	CodeGen string `koanf:"codegen"`
}

// CacheConfig controls the optional Redis result cache. An empty
// RedisAddr disables caching.
type CacheConfig struct {
	RedisAddr string        `koanf:"redis_addr"`
	TTL       time.Duration `koanf:"ttl"`
}

// LogConfig controls zerolog output.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// TelemetryConfig selects the trace exporter: "none", "stdout" or "otlp".
type TelemetryConfig struct {
	Exporter string `koanf:"exporter"`
	Endpoint string `koanf:"endpoint"`
}

// Load reads configuration from a YAML file, layers environment variable
// overrides on top, fills in defaults and validates the result.
//
// A missing file is not an error: the service can run from env vars alone.
func Load(path string) (*Config, error) {
	// Load .env into the process environment (ignored if not present).
	_ = godotenv.Load()

	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("loading config file: %w", err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("checking config file: %w", err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(
			strings.ToLower(strings.TrimPrefix(s, envPrefix)),
			"__", ".",
		)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Upstream.APIKey = expandEnv(cfg.Upstream.APIKey)
	cfg.Cache.RedisAddr = expandEnv(cfg.Cache.RedisAddr)
	if cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = os.Getenv(fallbackKeyEnv)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv replaces a whole-value ${VAR} placeholder with the variable's
// value. koanf doesn't do this on its own.
func expandEnv(v string) string {
	if strings.HasPrefix(v, "${") && strings.HasSuffix(v, "}") {
		return os.Getenv(v[2 : len(v)-1])
	}
	return v
}

// writeMargin is the time left for rendering the response after the last
// upstream attempt has timed out.
const writeMargin = 10 * time.Second

// WorstCaseRoute is how long one request can spend walking the model list
// when every attempt runs into the client timeout.
func (u UpstreamConfig) WorstCaseRoute() time.Duration {
	return u.Timeout * time.Duration(len(u.Models))
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 5000
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}

	u := &c.Upstream
	if u.BaseURL == "" {
		u.BaseURL = "https://openrouter.ai/api/v1"
	}
	u.BaseURL = strings.TrimRight(u.BaseURL, "/")
	if u.Timeout == 0 {
		u.Timeout = 60 * time.Second
	}
	if len(u.Models) == 0 {
		u.Models = slices.Clone(DefaultModels)
	}
	if len(u.Origins.Allowed) == 0 {
		u.Origins.Allowed = []string{
			"http://localhost:3000",
			"https://projectmitra-2916.web.app",
		}
	}
	if u.Origins.Default == "" {
		u.Origins.Default = u.Origins.Allowed[len(u.Origins.Allowed)-1]
	}
	if u.Titles.Chat == "" {
		u.Titles.Chat = "ProjectMitra Chatbot"
	}
	if u.Titles.CodeGen == "" {
		u.Titles.CodeGen = "ProjectMitra Code Generator"
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = c.Upstream.WorstCaseRoute() + writeMargin
	}
	if len(c.Server.CORSOrigins) == 0 {
		c.Server.CORSOrigins = slices.Clone(u.Origins.Allowed)
	}

	if c.Cache.TTL == 0 {
		c.Cache.TTL = 10 * time.Minute
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Telemetry.Exporter == "" {
		c.Telemetry.Exporter = "none"
	}
	if c.Telemetry.Endpoint == "" {
		c.Telemetry.Endpoint = "localhost:4317"
	}
}

// Validate checks the invariants the rest of the service relies on.
func (c *Config) Validate() error {
	if c.Upstream.APIKey == "" {
		return ErrMissingAPIKey
	}

	// Anything that ends up in an outbound header must be a single line.
	for _, o := range c.Upstream.Origins.Allowed {
		if strings.ContainsAny(o, "\r\n") {
			return fmt.Errorf("upstream.origins.allowed: %q contains a line break", o)
		}
	}
	for _, t := range []string{c.Upstream.Titles.Chat, c.Upstream.Titles.CodeGen} {
		if strings.ContainsAny(t, "\r\n") {
			return fmt.Errorf("upstream.titles: %q contains a line break", t)
		}
	}
	if !slices.Contains(c.Upstream.Origins.Allowed, c.Upstream.Origins.Default) {
		return fmt.Errorf("upstream.origins.default %q is not in the allow-list", c.Upstream.Origins.Default)
	}

	// The server must still be able to write the response when every model
	// times out, or the caller gets a dropped connection instead of a 502.
	if worst := c.Upstream.WorstCaseRoute(); c.Server.WriteTimeout <= worst {
		return fmt.Errorf("server.write_timeout %s must exceed upstream.timeout x %d models (%s)",
			c.Server.WriteTimeout, len(c.Upstream.Models), worst)
	}

	switch c.Telemetry.Exporter {
	case "none", "stdout", "otlp":
	default:
		return fmt.Errorf("telemetry.exporter: unknown exporter %q", c.Telemetry.Exporter)
	}
	return nil
}
