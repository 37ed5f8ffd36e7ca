package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aeroledger/aeroledger/pkg/types"
)

// Default values for the server configuration.
const (
	DefaultHTTPPort       = 8000
	DefaultStuckThreshold = 5
	DefaultWindow         = 10
	DefaultCapacity       = 100
	DefaultOnlineWindow   = 5 * time.Minute
	DefaultHistoryLimit   = 50
	DefaultAuditLimit     = 20

	DefaultProvider    = "openai"
	DefaultModel       = "gpt-4"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 500
	DefaultTimeout     = 30 * time.Second

	DefaultAuditQueue    = 256
	DefaultAppendTimeout = 5 * time.Second
	DefaultStreamName    = "aeroledger:audit"
	DefaultBroadcast     = 5 * time.Second
)

// Config holds the server-side configuration parsed from the `server:` section
// of config.yaml. The `agent:` key in the same file is ignored.
type Config struct {
	Server ServerConfig `yaml:"server"`
}

// ServerConfig holds all server-side settings.
type ServerConfig struct {
	// HTTPPort is the port the REST API, metrics and WebSocket hub listen on.
	HTTPPort int `yaml:"http_port"`

	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level"`

	Auth      AuthConfig      `yaml:"auth"`
	Detector  DetectorConfig  `yaml:"detector"`
	Ingest    IngestConfig    `yaml:"ingest"`
	History   HistoryConfig   `yaml:"history"`
	Control   ControlConfig   `yaml:"control"`
	Judgment  JudgmentConfig  `yaml:"judgment"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Audit     AuditConfig     `yaml:"audit"`
	Archive   ArchiveConfig   `yaml:"archive"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Alerts    AlertsConfig    `yaml:"alerts"`

	// Broadcast is how often the WebSocket hub pushes the device list.
	Broadcast time.Duration `yaml:"broadcast"`
}

// AuthConfig controls client authentication on the REST API.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv is the name of the environment variable that holds the expected API key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// DetectorConfig holds the fault detector thresholds. All of it is hot-reloadable.
type DetectorConfig struct {
	// Bounds are the plausible per-channel ranges. A value outside is a
	// range-violation finding.
	Bounds types.Limits `yaml:"bounds"`

	// StuckThreshold is the tail length inspected for a stuck channel.
	StuckThreshold int `yaml:"stuck_threshold"`

	Consistency ConsistencyConfig `yaml:"consistency"`
}

// ConsistencyConfig holds the cross-channel plausibility thresholds.
type ConsistencyConfig struct {
	// Particulate above PM25High with CO and VOC both below their low marks
	// implicates the particulate sensor.
	PM25High float64 `yaml:"pm25_high"`
	COLow    float64 `yaml:"co_low"`
	VOCLow   float64 `yaml:"voc_low"`

	// CO above COHigh with CO2 below CO2Low implicates the CO sensor.
	COHigh float64 `yaml:"co_high"`
	CO2Low float64 `yaml:"co2_low"`
}

// IngestConfig controls sample acceptance at the boundary.
type IngestConfig struct {
	// Limits are the sensors' physical limits. Samples outside are rejected
	// and never stored.
	Limits types.Limits `yaml:"limits"`

	// RatePerDevice caps accepted samples per second per device. 0 disables.
	RatePerDevice float64 `yaml:"rate_per_device"`
	Burst         int     `yaml:"burst"`
}

// HistoryConfig sizes the per-device context store.
type HistoryConfig struct {
	Capacity     int           `yaml:"capacity"`
	Window       int           `yaml:"window"`
	OnlineWindow time.Duration `yaml:"online_window"`

	// Retention drops a device's buffer after this long without a sample. 0 keeps it forever.
	Retention time.Duration `yaml:"retention"`
}

// ControlConfig holds the fan intensity levels.
type ControlConfig struct {
	// Levels must be strictly ascending within [0, 100] and include the
	// safe-mode intensity (50).
	Levels []int `yaml:"levels"`
}

// JudgmentConfig selects and tunes the judgment provider.
type JudgmentConfig struct {
	// Provider is one of: openai | anthropic.
	Provider    string        `yaml:"provider"`
	Model       string        `yaml:"model"`
	// BaseURL overrides the provider endpoint. Empty uses the provider default.
	BaseURL     string        `yaml:"base_url"`
	APIKeyEnv   string        `yaml:"api_key_env"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`

	// MaxConcurrent bounds in-flight provider calls across all devices. 0 = unlimited.
	MaxConcurrent int64 `yaml:"max_concurrent"`

	// RequestsPerSecond paces provider calls. 0 = unpaced.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	Retry   RetryConfig   `yaml:"retry"`
	Circuit CircuitConfig `yaml:"circuit"`
}

// APIKey returns the provider key resolved from the environment.
func (j JudgmentConfig) APIKey() string {
	if j.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(j.APIKeyEnv)
}

// RetryConfig controls transient-error retries for one judgment call.
type RetryConfig struct {
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
}

// CircuitConfig controls the provider circuit breaker. FailureThreshold 0 disables it.
type CircuitConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout"`
}

// LedgerConfig selects the audit ledger backend.
type LedgerConfig struct {
	// Backend is one of: memory | badger | redis.
	Backend string       `yaml:"backend"`
	Badger  BadgerConfig `yaml:"badger"`
	Redis   RedisConfig  `yaml:"redis"`
}

// BadgerConfig configures the durable ledger.
type BadgerConfig struct {
	Path       string `yaml:"path"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// RedisConfig configures the stream-backed ledger.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
	Stream      string `yaml:"stream"`
	MaxLen      int64  `yaml:"max_len"`
}

// Password returns the Redis password resolved from the environment.
func (r RedisConfig) Password() string {
	if r.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(r.PasswordEnv)
}

// AuditConfig tunes the asynchronous audit emitter.
type AuditConfig struct {
	QueueSize     int           `yaml:"queue_size"`
	AppendTimeout time.Duration `yaml:"append_timeout"`
}

// ArchiveConfig configures the optional InfluxDB sample archive.
type ArchiveConfig struct {
	Enabled  bool   `yaml:"enabled"`
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`
	Org      string `yaml:"org"`
	Bucket   string `yaml:"bucket"`
}

// Token returns the InfluxDB token resolved from the environment.
func (a ArchiveConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// TelemetryConfig configures tracing export. An empty endpoint disables export.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	ServiceName  string `yaml:"service_name"`
	Insecure     bool   `yaml:"insecure"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// AlertRule fires when an audit event of kind Event matches Condition.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name"`

	// Event is the audit event kind the rule watches: fault | decision.
	Event string `yaml:"event"`

	// Condition is a simple expression over the event data:
	// "fault_type == sensor-stuck", "fan_intensity >= 75",
	// "manual_intervention == true". Empty matches every event of the kind.
	Condition string `yaml:"condition"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity"`

	// Cooldown suppresses re-fires for this duration after an alert fires.
	// Defaults to 15 minutes if zero.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | pagerduty | http.
	Type string `yaml:"type"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env"`

	// RoutingKeyEnv holds the PagerDuty integration key. Used when Type == "pagerduty".
	RoutingKeyEnv string `yaml:"routing_key_env"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// RoutingKey returns the PagerDuty integration key resolved from the environment.
func (w WebhookConfig) RoutingKey() string {
	if w.RoutingKeyEnv == "" {
		return ""
	}
	return os.Getenv(w.RoutingKeyEnv)
}

// Load reads and parses the config file at path, returning the server configuration.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("server config: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("server config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("server config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config pre-populated with default values.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort: DefaultHTTPPort,
			LogLevel: "info",
			Detector: DetectorConfig{
				Bounds: types.Limits{
					types.ChannelPM25: {Min: 0, Max: 500},
					types.ChannelCO2:  {Min: 300, Max: 5000},
					types.ChannelCO:   {Min: 0, Max: 1000},
					types.ChannelVOC:  {Min: 0, Max: 1000},
				},
				StuckThreshold: DefaultStuckThreshold,
				Consistency: ConsistencyConfig{
					PM25High: 200,
					COLow:    10,
					VOCLow:   10,
					COHigh:   100,
					CO2Low:   500,
				},
			},
			Ingest: IngestConfig{
				Limits: types.Limits{
					types.ChannelPM25: {Min: 0, Max: 500},
					types.ChannelCO2:  {Min: 0, Max: 5000},
					types.ChannelCO:   {Min: 0, Max: 1000},
					types.ChannelVOC:  {Min: 0, Max: 1000},
				},
			},
			History: HistoryConfig{
				Capacity:     DefaultCapacity,
				Window:       DefaultWindow,
				OnlineWindow: DefaultOnlineWindow,
			},
			Control: ControlConfig{
				Levels: append([]int(nil), types.Levels...),
			},
			Judgment: JudgmentConfig{
				Provider:    DefaultProvider,
				Model:       DefaultModel,
				APIKeyEnv:   "LLM_API_KEY",
				Temperature: DefaultTemperature,
				MaxTokens:   DefaultMaxTokens,
				Timeout:     DefaultTimeout,
				Retry: RetryConfig{
					MaxRetries:     2,
					InitialBackoff: 500 * time.Millisecond,
					MaxBackoff:     5 * time.Second,
				},
				Circuit: CircuitConfig{
					FailureThreshold: 5,
					SuccessThreshold: 2,
					OpenTimeout:      30 * time.Second,
				},
			},
			Ledger: LedgerConfig{
				Backend: "memory",
				Redis:   RedisConfig{Stream: DefaultStreamName},
			},
			Audit: AuditConfig{
				QueueSize:     DefaultAuditQueue,
				AppendTimeout: DefaultAppendTimeout,
			},
			Telemetry: TelemetryConfig{
				ServiceName: "aeroledger-server",
			},
			Broadcast: DefaultBroadcast,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	s := &cfg.Server
	if s.HTTPPort <= 0 || s.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", s.HTTPPort)
	}
	switch strings.ToLower(s.LogLevel) {
	case "debug", "info", "warn", "error", "":
	default:
		return fmt.Errorf("server.log_level %q unknown: want debug|info|warn|error", s.LogLevel)
	}
	switch s.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", s.Auth.Mode)
	}
	if err := validateLimits("server.detector.bounds", s.Detector.Bounds); err != nil {
		return err
	}
	if err := validateLimits("server.ingest.limits", s.Ingest.Limits); err != nil {
		return err
	}
	if s.Detector.StuckThreshold < 2 {
		return fmt.Errorf("server.detector.stuck_threshold must be at least 2, got %d", s.Detector.StuckThreshold)
	}
	if s.Ingest.RatePerDevice < 0 {
		return fmt.Errorf("server.ingest.rate_per_device must not be negative")
	}
	if s.History.Window <= 0 {
		return fmt.Errorf("server.history.window must be positive, got %d", s.History.Window)
	}
	if s.History.Retention < 0 {
		return fmt.Errorf("server.history.retention must not be negative")
	}
	if s.History.Capacity < s.History.Window {
		return fmt.Errorf("server.history.capacity %d is smaller than window %d", s.History.Capacity, s.History.Window)
	}
	if s.Detector.StuckThreshold > s.History.Window {
		return fmt.Errorf("server.detector.stuck_threshold %d exceeds history.window %d", s.Detector.StuckThreshold, s.History.Window)
	}
	if err := validateLevels(s.Control.Levels); err != nil {
		return err
	}
	switch s.Judgment.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("server.judgment.provider %q unknown: want openai|anthropic", s.Judgment.Provider)
	}
	if s.Judgment.Timeout <= 0 {
		return fmt.Errorf("server.judgment.timeout must be positive")
	}
	if s.Judgment.MaxConcurrent < 0 {
		return fmt.Errorf("server.judgment.max_concurrent must not be negative")
	}
	switch s.Ledger.Backend {
	case "memory", "":
	case "badger":
		if !s.Ledger.Badger.InMemory && s.Ledger.Badger.Path == "" {
			return fmt.Errorf("server.ledger.badger.path is required unless in_memory is set")
		}
	case "redis":
		if s.Ledger.Redis.Addr == "" {
			return fmt.Errorf("server.ledger.redis.addr is required")
		}
	default:
		return fmt.Errorf("server.ledger.backend %q unknown: want memory|badger|redis", s.Ledger.Backend)
	}
	if s.Audit.QueueSize <= 0 {
		return fmt.Errorf("server.audit.queue_size must be positive")
	}
	if s.Archive.Enabled && (s.Archive.URL == "" || s.Archive.Bucket == "") {
		return fmt.Errorf("server.archive.url and bucket are required when archive is enabled")
	}
	return validateAlerts(s.Alerts)
}

func validateAlerts(a AlertsConfig) error {
	seen := make(map[string]bool, len(a.Rules))
	for i, r := range a.Rules {
		if r.Name == "" {
			return fmt.Errorf("server.alerts.rules[%d].name is required", i)
		}
		if seen[r.Name] {
			return fmt.Errorf("server.alerts.rules: duplicate name %q", r.Name)
		}
		seen[r.Name] = true
		switch types.EventKind(r.Event) {
		case types.EventFault, types.EventDecision:
		default:
			return fmt.Errorf("server.alerts.rules[%s].event %q unknown: want fault|decision", r.Name, r.Event)
		}
		if r.Condition != "" && len(strings.Fields(r.Condition)) != 3 {
			return fmt.Errorf("server.alerts.rules[%s].condition %q: want \"field op value\"", r.Name, r.Condition)
		}
		switch r.Severity {
		case "critical", "warning", "info", "":
		default:
			return fmt.Errorf("server.alerts.rules[%s].severity %q unknown", r.Name, r.Severity)
		}
	}
	for i, w := range a.Webhooks {
		switch w.Type {
		case "teams", "slack", "pagerduty", "http":
		default:
			return fmt.Errorf("server.alerts.webhooks[%d].type %q unknown: want teams|slack|pagerduty|http", i, w.Type)
		}
	}
	return nil
}

func validateLimits(field string, l types.Limits) error {
	for _, ch := range types.ChannelOrder {
		b, ok := l[ch]
		if !ok {
			return fmt.Errorf("%s.%s is missing", field, ch)
		}
		if b.Min > b.Max {
			return fmt.Errorf("%s.%s min %g exceeds max %g", field, ch, b.Min, b.Max)
		}
	}
	return nil
}

func validateLevels(levels []int) error {
	if len(levels) == 0 {
		return fmt.Errorf("server.control.levels must not be empty")
	}
	for i, l := range levels {
		if l < 0 || l > 100 {
			return fmt.Errorf("server.control.levels[%d] = %d is out of range [0, 100]", i, l)
		}
		if i > 0 && l <= levels[i-1] {
			return fmt.Errorf("server.control.levels must be strictly ascending")
		}
	}
	if !slices.Contains(levels, types.SafeModeIntensity) {
		return fmt.Errorf("server.control.levels must include the safe-mode intensity %d", types.SafeModeIntensity)
	}
	return nil
}
