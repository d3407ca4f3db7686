package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the service. It is read once at startup.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Search    SearchConfig    `mapstructure:"search"`
	Chat      ChatConfig      `mapstructure:"chat"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
	Studies   StudiesConfig   `mapstructure:"studies"`
}

// GeneralConfig contains general application settings
type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Address             string        `mapstructure:"address"`
	CORSOrigin          string        `mapstructure:"cors_origin"`
	EdgeExcludePrefixes []string      `mapstructure:"edge_exclude_prefixes"`
	StaticDir           string        `mapstructure:"static_dir"`
	TrustedProxies      []string      `mapstructure:"trusted_proxies"` // CIDRs or IPs allowed to set X-Forwarded-For
	BodyLimit           string        `mapstructure:"body_limit"`
	ReadTimeout         time.Duration `mapstructure:"read_timeout"`
	WriteTimeout        time.Duration `mapstructure:"write_timeout"`
}

func (s ServerConfig) Normalize() ServerConfig {
	s.Address = strings.TrimSpace(s.Address)
	if s.Address != "" && !strings.Contains(s.Address, ":") {
		s.Address = ":" + s.Address
	}
	var prefixes []string
	for _, p := range s.EdgeExcludePrefixes {
		if p = strings.TrimSpace(p); p != "" {
			prefixes = append(prefixes, p)
		}
	}
	s.EdgeExcludePrefixes = prefixes
	return s
}

func (s ServerConfig) Validate() error {
	if s.Address == "" {
		return fmt.Errorf("server.address required")
	}
	if strings.TrimSpace(s.CORSOrigin) == "" {
		return fmt.Errorf("server.cors_origin required")
	}
	if _, err := s.TrustedProxyRanges(); err != nil {
		return err
	}
	return nil
}

// TrustedProxyRanges parses TrustedProxies; a bare IP becomes a single-host range.
func (s ServerConfig) TrustedProxyRanges() ([]*net.IPNet, error) {
	var out []*net.IPNet
	for _, p := range s.TrustedProxies {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !strings.Contains(p, "/") {
			ip := net.ParseIP(p)
			if ip == nil {
				return nil, fmt.Errorf("server.trusted_proxies: invalid address %q", p)
			}
			bits := 128
			if ip.To4() != nil {
				ip, bits = ip.To4(), 32
			}
			out = append(out, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
			continue
		}
		_, n, err := net.ParseCIDR(p)
		if err != nil {
			return nil, fmt.Errorf("server.trusted_proxies: %w", err)
		}
		out = append(out, n)
	}
	return out, nil
}

// ProvidersConfig selects and configures the completion provider.
type ProvidersConfig struct {
	Default   string          `mapstructure:"default"` // anthropic or openai
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
}

func (p ProvidersConfig) Validate() error {
	switch p.Default {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("providers.default must be anthropic or openai, got %q", p.Default)
	}
	if p.Anthropic.MaxTokens <= 0 || p.OpenAI.MaxTokens <= 0 {
		return fmt.Errorf("providers.*.max_tokens must be > 0")
	}
	return nil
}

// AnthropicConfig configures the Messages API client. An empty APIKey is allowed at startup;
// chat requests then fail with a configuration error.
type AnthropicConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	Version   string        `mapstructure:"version"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	Model     string        `mapstructure:"model"`
	MaxTokens int           `mapstructure:"max_tokens"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// SearchConfig points at the external study search service.
type SearchConfig struct {
	BaseURL         string        `mapstructure:"base_url"`
	Timeout         time.Duration `mapstructure:"timeout"`
	ScoreConvention string        `mapstructure:"score_convention"` // distance or similarity
}

func (s SearchConfig) Normalize() SearchConfig {
	s.BaseURL = strings.TrimRight(strings.TrimSpace(s.BaseURL), "/")
	s.ScoreConvention = strings.ToLower(strings.TrimSpace(s.ScoreConvention))
	return s
}

func (s SearchConfig) Validate() error {
	u, err := url.Parse(s.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("search.base_url must be an absolute URL, got %q", s.BaseURL)
	}
	switch s.ScoreConvention {
	case "distance", "similarity":
	default:
		return fmt.Errorf("search.score_convention must be distance or similarity, got %q", s.ScoreConvention)
	}
	return nil
}

// ChatConfig holds synthesis settings and the search defaults applied when a chat request omits them.
type ChatConfig struct {
	Temperature       float64 `mapstructure:"temperature"`
	AnswerLanguage    string  `mapstructure:"answer_language"`
	NoResultsMessage  string  `mapstructure:"no_results_message"`
	DefaultSearchType string  `mapstructure:"default_search_type"`
	DefaultQueryMode  string  `mapstructure:"default_query_mode"`
	DefaultTopK       int     `mapstructure:"default_top_k"`
	DefaultAlpha      float64 `mapstructure:"default_alpha"`
}

func (c ChatConfig) Validate() error {
	switch c.DefaultSearchType {
	case "semantic", "statistical", "hybrid":
	default:
		return fmt.Errorf("chat.default_search_type invalid: %q", c.DefaultSearchType)
	}
	switch c.DefaultQueryMode {
	case "last", "all":
	default:
		return fmt.Errorf("chat.default_query_mode invalid: %q", c.DefaultQueryMode)
	}
	if c.DefaultTopK < 1 || c.DefaultTopK > 20 {
		return fmt.Errorf("chat.default_top_k must be within 1..20")
	}
	if c.DefaultAlpha < 0 || c.DefaultAlpha > 1 {
		return fmt.Errorf("chat.default_alpha must be within 0..1")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("chat.temperature must be within 0..1")
	}
	if strings.TrimSpace(c.NoResultsMessage) == "" {
		return fmt.Errorf("chat.no_results_message required")
	}
	return nil
}

// RateLimitConfig throttles /api/chat per client IP using Redis.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

func (r RateLimitConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if r.Requests <= 0 {
		return fmt.Errorf("rate_limit.requests must be > 0 when enabled")
	}
	if r.Window <= 0 {
		return fmt.Errorf("rate_limit.window must be > 0 when enabled")
	}
	return nil
}

// StorageConfig contains storage settings
type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("storage.redis.port required")
	}
	return nil
}

// TelemetryConfig contains monitoring settings. Enabled controls Prometheus metrics;
// TraceExporter selects where OpenTelemetry spans go (none, stdout or otlp).
type TelemetryConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServiceName   string `mapstructure:"service_name"`
	TraceExporter string `mapstructure:"trace_exporter"`
	OTLPEndpoint  string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	switch t.TraceExporter {
	case "none", "stdout":
	case "otlp":
		if strings.TrimSpace(t.OTLPEndpoint) == "" {
			return fmt.Errorf("telemetry.otlp_endpoint required for the otlp exporter")
		}
	default:
		return fmt.Errorf("telemetry.trace_exporter must be none, stdout or otlp, got %q", t.TraceExporter)
	}
	return nil
}

// StudiesConfig configures the local study index (`omegarag studies serve`).
type StudiesConfig struct {
	DataFile string `mapstructure:"data_file"`
	Address  string `mapstructure:"address"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.debug", false)
	v.SetDefault("general.log_level", "info")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.cors_origin", "http://localhost:3000")
	v.SetDefault("server.edge_exclude_prefixes", []string{"/api", "/_next/static", "/_next/image", "/favicon.ico"})
	v.SetDefault("server.static_dir", "")
	v.SetDefault("server.trusted_proxies", []string{})
	v.SetDefault("server.body_limit", "1M")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)

	v.SetDefault("providers.default", "anthropic")
	v.SetDefault("providers.anthropic.api_key", "")
	v.SetDefault("providers.anthropic.base_url", "https://api.anthropic.com")
	v.SetDefault("providers.anthropic.model", "claude-3-haiku-20240307")
	v.SetDefault("providers.anthropic.version", "2023-06-01")
	v.SetDefault("providers.anthropic.max_tokens", 1024)
	v.SetDefault("providers.anthropic.timeout", 60*time.Second)
	v.SetDefault("providers.openai.api_key", "")
	v.SetDefault("providers.openai.base_url", "https://api.openai.com")
	v.SetDefault("providers.openai.model", "gpt-4o-mini")
	v.SetDefault("providers.openai.max_tokens", 1024)
	v.SetDefault("providers.openai.timeout", 60*time.Second)

	v.SetDefault("search.base_url", "http://127.0.0.1:8000")
	v.SetDefault("search.timeout", 30*time.Second)
	v.SetDefault("search.score_convention", "distance")

	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.answer_language", "Polish")
	v.SetDefault("chat.no_results_message", DefaultNoResultsMessage)
	v.SetDefault("chat.default_search_type", "semantic")
	v.SetDefault("chat.default_query_mode", "last")
	v.SetDefault("chat.default_top_k", 5)
	v.SetDefault("chat.default_alpha", 0.5)

	v.SetDefault("rate_limit.enabled", false)
	v.SetDefault("rate_limit.requests", 20)
	v.SetDefault("rate_limit.window", time.Minute)

	v.SetDefault("storage.redis.host", "")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.password", "")
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.timeout", 5*time.Second)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "omegarag")
	v.SetDefault("telemetry.trace_exporter", "none")
	v.SetDefault("telemetry.otlp_endpoint", "localhost:4317")

	v.SetDefault("studies.data_file", "data/studies.json")
	v.SetDefault("studies.address", "127.0.0.1:8000")
}

// DefaultNoResultsMessage is returned when retrieval finds no studies.
const DefaultNoResultsMessage = "Nie znalazłem badań klinicznych, które odpowiadałyby na to pytanie. Spróbuj sformułować je inaczej albo zmienić parametry wyszukiwania."

// Load reads configuration from path (or the default search paths when empty) and the
// OMEGARAG_* environment. A missing config file is only an error when path is explicit.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path == "" {
		v.SetConfigName("config")
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("OMEGARAG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("providers.anthropic.api_key", "OMEGARAG_PROVIDERS_ANTHROPIC_API_KEY", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("providers.openai.api_key", "OMEGARAG_PROVIDERS_OPENAI_API_KEY", "OPENAI_API_KEY")
	_ = v.BindEnv("search.base_url", "OMEGARAG_SEARCH_BASE_URL", "SEARCH_API_URL")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.Server = cfg.Server.Normalize()
	cfg.Search = cfg.Search.Normalize()
	cfg.Providers.Default = strings.ToLower(strings.TrimSpace(cfg.Providers.Default))
	cfg.Telemetry.TraceExporter = strings.ToLower(strings.TrimSpace(cfg.Telemetry.TraceExporter))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section that must be usable at startup.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Providers.Validate(); err != nil {
		return err
	}
	if err := c.Search.Validate(); err != nil {
		return err
	}
	if err := c.Chat.Validate(); err != nil {
		return err
	}
	if err := c.RateLimit.Validate(); err != nil {
		return err
	}
	if err := c.Telemetry.Validate(); err != nil {
		return err
	}
	if c.RateLimit.Enabled {
		if err := c.Storage.Redis.Validate(); err != nil {
			return fmt.Errorf("rate limiting needs redis: %w", err)
		}
	}
	return nil
}
