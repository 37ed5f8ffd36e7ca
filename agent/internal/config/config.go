package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aeroledger/aeroledger/pkg/types"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultScrapeInterval = 10 * time.Second
	DefaultBufferSize     = 1000
	DefaultSendTimeout    = 10 * time.Second
	DefaultAPIKeyHeader   = "x-api-key"
)

// DefaultMetrics are the exporter metric names read when a device does not
// override them.
var DefaultMetrics = MetricNames{
	PM25:      "sensor_pm25_ugm3",
	CO2:       "sensor_co2_ppm",
	CO:        "sensor_co_ppm",
	VOC:       "sensor_voc_ppb",
	UpdatedAt: "sensor_last_update_timestamp_seconds",
}

// Config is the top-level configuration. The `server:` key in the same file
// is ignored by the agent.
type Config struct {
	Agent AgentConfig `yaml:"agent"`
}

// AgentConfig holds all agent-side settings.
type AgentConfig struct {
	// ServerURL is the base URL of aeroledger-server (scheme://host:port).
	ServerURL string `yaml:"server_url"`

	// ScrapeInterval controls how often each device exporter is polled.
	ScrapeInterval time.Duration `yaml:"scrape_interval"`

	// BufferSize is the maximum number of samples held in memory when
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// SendTimeout bounds one ingest request, including the server's decision cycle.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// Devices is the list of sensor exporters to scrape.
	Devices []Device `yaml:"devices"`

	// ServerAuth configures how the agent authenticates to aeroledger-server.
	// Supports: mtls | apikey | none.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// Device describes one sensor exporter.
type Device struct {
	// ID is the device identifier reported to the server.
	ID string `yaml:"id"`

	// Endpoint is the full URL of the exporter's metrics endpoint.
	Endpoint string `yaml:"endpoint"`

	// Metrics maps channels to exporter metric names. Empty fields use DefaultMetrics.
	Metrics MetricNames `yaml:"metrics"`

	// Labels selects one series when the exporter serves several sensors.
	Labels map[string]string `yaml:"labels"`

	// ActuatorURL receives the returned fan command as JSON. Empty only logs it.
	ActuatorURL string `yaml:"actuator_url"`

	// Auth configures how the agent authenticates to this exporter.
	Auth AuthConfig `yaml:"auth"`

	// TLS holds optional TLS dial options.
	TLS TLSConfig `yaml:"tls"`
}

// MetricNames are the exporter metric names for each channel. UpdatedAt is
// an optional gauge holding the unix time of the sensor's last refresh.
type MetricNames struct {
	PM25      string `yaml:"pm25"`
	CO2       string `yaml:"co2"`
	CO        string `yaml:"co"`
	VOC       string `yaml:"voc"`
	UpdatedAt string `yaml:"updated_at"`
}

// For returns the metric name for ch.
func (m MetricNames) For(ch types.Channel) string {
	switch ch {
	case types.ChannelPM25:
		return m.PM25
	case types.ChannelCO2:
		return m.CO2
	case types.ChannelCO:
		return m.CO
	case types.ChannelVOC:
		return m.VOC
	}
	return ""
}

func (m *MetricNames) fill(def MetricNames) {
	if m.PM25 == "" {
		m.PM25 = def.PM25
	}
	if m.CO2 == "" {
		m.CO2 = def.CO2
	}
	if m.CO == "" {
		m.CO = def.CO
	}
	if m.VOC == "" {
		m.VOC = def.VOC
	}
	if m.UpdatedAt == "" {
		m.UpdatedAt = def.UpdatedAt
	}
}

// AuthConfig specifies an authentication mode.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | bearer | basic | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// API key fields, used when Mode == "apikey".
	// Header is the HTTP header name to send the key in.
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`

	// Bearer token fields, used when Mode == "bearer".
	TokenEnv string `yaml:"token_env"`

	// Basic auth fields, used when Mode == "basic".
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// Key returns the API key value resolved from the environment.
// Returns empty string if KeyEnv is unset or the variable is not found.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// Token returns the bearer token value resolved from the environment.
func (a AuthConfig) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Password returns the basic-auth password resolved from the environment.
func (a AuthConfig) Password() string {
	if a.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(a.PasswordEnv)
}

// TLSConfig holds TLS dial options.
type TLSConfig struct {
	// InsecureSkipVerify disables TLS certificate verification.
	// Only use this for internal CAs in development environments.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with sensible defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agent config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("agent config: parse yaml: %w", err)
	}
	applyDeviceDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("agent config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Agent: AgentConfig{
			ScrapeInterval: DefaultScrapeInterval,
			BufferSize:     DefaultBufferSize,
			SendTimeout:    DefaultSendTimeout,
		},
	}
}

// applyDeviceDefaults fills per-device fields that yaml cannot default.
func applyDeviceDefaults(cfg *Config) {
	if cfg.Agent.ServerAuth.Mode == "apikey" && cfg.Agent.ServerAuth.Header == "" {
		cfg.Agent.ServerAuth.Header = DefaultAPIKeyHeader
	}
	for i := range cfg.Agent.Devices {
		d := &cfg.Agent.Devices[i]
		d.Metrics.fill(DefaultMetrics)
		if d.Auth.Mode == "apikey" && d.Auth.Header == "" {
			d.Auth.Header = DefaultAPIKeyHeader
		}
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	a := &cfg.Agent
	if a.ServerURL == "" {
		return fmt.Errorf("agent.server_url is required")
	}
	if err := checkURL(a.ServerURL); err != nil {
		return fmt.Errorf("agent.server_url: %w", err)
	}
	if a.ScrapeInterval <= 0 {
		return fmt.Errorf("agent.scrape_interval must be positive")
	}
	if a.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	if a.SendTimeout <= 0 {
		return fmt.Errorf("agent.send_timeout must be positive")
	}
	switch a.ServerAuth.Mode {
	case "mtls", "apikey", "none", "":
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.ServerAuth.Mode)
	}

	seen := make(map[string]bool, len(a.Devices))
	for i, d := range a.Devices {
		if d.ID == "" {
			return fmt.Errorf("devices[%d]: id is required", i)
		}
		if seen[d.ID] {
			return fmt.Errorf("devices[%d]: duplicate id %q", i, d.ID)
		}
		seen[d.ID] = true
		if d.Endpoint == "" {
			return fmt.Errorf("devices[%d] %q: endpoint is required", i, d.ID)
		}
		if err := checkURL(d.Endpoint); err != nil {
			return fmt.Errorf("devices[%d] %q: endpoint: %w", i, d.ID, err)
		}
		if d.ActuatorURL != "" {
			if err := checkURL(d.ActuatorURL); err != nil {
				return fmt.Errorf("devices[%d] %q: actuator_url: %w", i, d.ID, err)
			}
		}
		switch d.Auth.Mode {
		case "mtls", "apikey", "bearer", "basic", "none", "":
		default:
			return fmt.Errorf("devices[%d] %q: unknown auth mode %q", i, d.ID, d.Auth.Mode)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme %q: want http or https", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
