// ABOUTME: Configuration loading and parsing for awaki-gateway
// ABOUTME: Supports YAML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete awaki-gateway configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Auth         AuthConfig         `yaml:"auth"`
	Backends     BackendsConfig     `yaml:"backends"`
	Conversation ConversationConfig `yaml:"conversation"`
	Intent       IntentConfig       `yaml:"intent"`
	Outbound     OutboundConfig     `yaml:"outbound"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig holds the HTTP listener configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	// PublicURL is the externally visible base URL, used to check Twilio signatures behind a proxy
	PublicURL       string        `yaml:"public_url"`
	ShutdownTimeout time.Duration `yaml:"-"`

	ShutdownTimeoutRaw string `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration for the operator API
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret"`
	// WebhookToken, when set, must be presented as a bearer token on inbound webhooks
	WebhookToken    string `yaml:"webhook_token"`
	// TwilioAuthToken, when set, enables X-Twilio-Signature checks on /webhook/twilio
	TwilioAuthToken string `yaml:"twilio_auth_token"`
}

// BackendsConfig holds the three backend adapters
type BackendsConfig struct {
	Advisory AdvisoryConfig `yaml:"advisory"`
	Vision   VisionConfig   `yaml:"vision"`
	Weather  WeatherConfig  `yaml:"weather"`
}

// AdvisoryConfig configures the language model backend
type AdvisoryConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	NoRetry     bool          `yaml:"no_retry"`
	Timeout     time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// VisionConfig configures the disease classifier backend.
// The backend is disabled when ModelURL is empty. MaizeModelURL, when set,
// serves photos from farmers known to grow maize.
type VisionConfig struct {
	ModelURL        string        `yaml:"model_url"`
	MaizeModelURL   string        `yaml:"maize_model_url"`
	APIToken        string        `yaml:"api_token"`
	ConfidenceFloor float64       `yaml:"confidence_floor"`
	MaxMediaBytes   int64         `yaml:"max_media_bytes"`
	MediaUsername   string        `yaml:"media_username"` // basic auth for media URLs (Twilio account SID)
	MediaPassword   string        `yaml:"media_password"`
	NoRetry         bool          `yaml:"no_retry"`
	Timeout         time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// WeatherConfig configures the weather backend.
// The backend is disabled when APIKey is empty.
type WeatherConfig struct {
	GeocodeURL  string        `yaml:"geocode_url"`
	ForecastURL string        `yaml:"forecast_url"`
	APIKey      string        `yaml:"api_key"`
	NoRetry     bool          `yaml:"no_retry"`
	Timeout     time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// ConversationConfig tunes per-turn behaviour
type ConversationConfig struct {
	WindowSize    int           `yaml:"window_size"`
	MessageLimit  int           `yaml:"message_limit"`
	ReplayMaxSize int           `yaml:"replay_max_size"`
	ReplayTTL     time.Duration `yaml:"-"`

	ReplayTTLRaw string `yaml:"replay_ttl"`
}

// IntentConfig selects the classifier lexicon
type IntentConfig struct {
	LexiconPath string   `yaml:"lexicon_path"` // empty uses the built-in lexicon
	Languages   []string `yaml:"languages"`
}

// OutboundConfig configures push delivery of replies. When ReplyURL is empty
// replies are only returned in the webhook response.
type OutboundConfig struct {
	ReplyURL  string        `yaml:"reply_url"`
	AuthToken string        `yaml:"auth_token"`
	Timeout   time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Defaults
const (
	DefaultHTTPAddr         = "0.0.0.0:8080"
	DefaultShutdownTimeout  = 10 * time.Second
	DefaultAdvisoryTimeout  = 20 * time.Second
	DefaultVisionTimeout    = 12 * time.Second
	DefaultWeatherTimeout   = 5 * time.Second
	DefaultOutboundTimeout  = 10 * time.Second
	DefaultConfidenceFloor  = 0.4
	DefaultWindowSize       = 10
	DefaultMessageLimit     = 1600
	DefaultReplayTTL        = 24 * time.Hour
	DefaultReplayMaxSize    = 10_000
	minMessageLimit         = 160
	defaultLogLevel         = "info"
	defaultLogFormat        = "text"
	defaultDatabasePathName = "awaki.db"
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values and defaults are applied.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse builds a Config from raw YAML.
func Parse(data []byte) (*Config, error) {
	expandedData := expandEnvVars(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expandedData), cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// Retries converts a no_retry flag into the adapter retry count. Transient
// failures are retried once unless disabled.
func Retries(noRetry bool) int {
	if noRetry {
		return 0
	}
	return 1
}

// VisionEnabled reports whether the vision backend is configured
func (c *Config) VisionEnabled() bool {
	return c.Backends.Vision.ModelURL != ""
}

// WeatherEnabled reports whether the weather backend is configured
func (c *Config) WeatherEnabled() bool {
	return c.Backends.Weather.APIKey != ""
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.Database.Path == "" {
		c.Database.Path = defaultDatabasePathName
	}

	if c.Backends.Advisory.Timeout == 0 {
		c.Backends.Advisory.Timeout = DefaultAdvisoryTimeout
	}
	if c.Backends.Vision.Timeout == 0 {
		c.Backends.Vision.Timeout = DefaultVisionTimeout
	}
	if c.Backends.Vision.ConfidenceFloor == 0 {
		c.Backends.Vision.ConfidenceFloor = DefaultConfidenceFloor
	}
	if c.Backends.Weather.Timeout == 0 {
		c.Backends.Weather.Timeout = DefaultWeatherTimeout
	}

	if c.Conversation.WindowSize == 0 {
		c.Conversation.WindowSize = DefaultWindowSize
	}
	if c.Conversation.MessageLimit == 0 {
		c.Conversation.MessageLimit = DefaultMessageLimit
	}
	if c.Conversation.ReplayTTL == 0 {
		c.Conversation.ReplayTTL = DefaultReplayTTL
	}
	if c.Conversation.ReplayMaxSize == 0 {
		c.Conversation.ReplayMaxSize = DefaultReplayMaxSize
	}

	if c.Outbound.Timeout == 0 {
		c.Outbound.Timeout = DefaultOutboundTimeout
	}

	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret != "" && len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}

	if c.Backends.Advisory.APIKey == "" {
		return fmt.Errorf("backends.advisory.api_key is required")
	}

	if c.Backends.Vision.MaizeModelURL != "" && c.Backends.Vision.ModelURL == "" {
		return fmt.Errorf("backends.vision.maize_model_url requires backends.vision.model_url")
	}

	if f := c.Backends.Vision.ConfidenceFloor; f < 0 || f > 1 {
		return fmt.Errorf("backends.vision.confidence_floor must be within [0,1], got %v", f)
	}

	if c.Conversation.WindowSize < 1 {
		return fmt.Errorf("conversation.window_size must be positive, got %d", c.Conversation.WindowSize)
	}

	if c.Conversation.MessageLimit < minMessageLimit {
		return fmt.Errorf("conversation.message_limit must be at least %d, got %d", minMessageLimit, c.Conversation.MessageLimit)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"server.shutdown_timeout", cfg.Server.ShutdownTimeoutRaw, &cfg.Server.ShutdownTimeout},
		{"backends.advisory.timeout", cfg.Backends.Advisory.TimeoutRaw, &cfg.Backends.Advisory.Timeout},
		{"backends.vision.timeout", cfg.Backends.Vision.TimeoutRaw, &cfg.Backends.Vision.Timeout},
		{"backends.weather.timeout", cfg.Backends.Weather.TimeoutRaw, &cfg.Backends.Weather.Timeout},
		{"conversation.replay_ttl", cfg.Conversation.ReplayTTLRaw, &cfg.Conversation.ReplayTTL},
		{"outbound.timeout", cfg.Outbound.TimeoutRaw, &cfg.Outbound.Timeout},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
