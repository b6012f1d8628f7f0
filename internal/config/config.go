package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultDataDir       = "data"
	defaultCacheDuration = 12 * time.Hour
	defaultRefreshPeriod = 60 * time.Minute
	defaultFetchTimeout  = 5 * time.Minute
	defaultBindAddress   = "0.0.0.0"
	defaultPort          = 5000
	defaultTopicPrefix   = "pse_usage"
)

// Config holds the application configuration
type Config struct {
	Credentials   Credentials   `yaml:"credentials"`
	Cookies       []Cookie      `yaml:"cookies,omitempty"`
	DataDir       string        `yaml:"data_dir,omitempty"`
	CacheDuration Duration      `yaml:"cache_duration,omitempty"`
	RefreshPeriod Duration      `yaml:"refresh_period,omitempty"`
	FetchTimeout  Duration      `yaml:"fetch_timeout,omitempty"`
	Visible       bool          `yaml:"visible,omitempty"` // Show browser window while fetching
	Server        ServerConfig  `yaml:"server,omitempty"`
	Logging       LoggingConfig `yaml:"logging,omitempty"`
	HomeAssistant HAConfig      `yaml:"home_assistant,omitempty"`
	MQTT          MQTTConfig    `yaml:"mqtt,omitempty"`
}

// Credentials holds the utility account login
type Credentials struct {
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
}

// Cookie represents a browser cookie
type Cookie struct {
	Name     string  `yaml:"name"`
	Value    string  `yaml:"value"`
	Domain   string  `yaml:"domain"`
	Path     string  `yaml:"path"`
	Expires  float64 `yaml:"expires,omitempty"`
	HTTPOnly bool    `yaml:"httpOnly,omitempty"`
	Secure   bool    `yaml:"secure,omitempty"`
	SameSite string  `yaml:"sameSite,omitempty"`
}

// ServerConfig holds the read API listener settings
type ServerConfig struct {
	BindAddress string `yaml:"bind_address,omitempty"`
	Port        int    `yaml:"port,omitempty"`
}

// LoggingConfig holds logger settings
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"` // auto, json or text
	Dir    string `yaml:"dir,omitempty"`    // Also log to a file in this directory
}

// HAConfig holds Home Assistant HTTP API configuration
type HAConfig struct {
	Enabled             bool   `yaml:"enabled"`
	URL                 string `yaml:"url"`   // e.g., "http://yourdomain.local:5050"
	Token               string `yaml:"token"` // Long-lived access token
	ElectricityEntityID string `yaml:"electricity_entity_id"`
	NaturalGasEntityID  string `yaml:"natural_gas_entity_id"`
}

// MQTTConfig holds MQTT broker configuration
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // host:port
	Username    string `yaml:"username,omitempty"`
	Password    string `yaml:"password,omitempty"`
	TopicPrefix string `yaml:"topic_prefix,omitempty"`
}

// Duration is a time.Duration written as a Go duration string in YAML
type Duration time.Duration

// UnmarshalYAML parses values like "12h" or "90m"
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML writes the duration as a string
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load reads the config file and applies environment overrides
func Load(configPath string) (*Config, error) {
	cfg, err := LoadFile(configPath)
	if err != nil {
		return nil, err
	}

	// A missing .env is the normal case
	_ = godotenv.Load()

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFile reads the config file only, for commands that write it back
func LoadFile(configPath string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(configPath)
	switch {
	case os.IsNotExist(err):
		// Empty config if file doesn't exist
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	return cfg, nil
}

// applyEnv overrides file values with the service environment variables
func (c *Config) applyEnv() error {
	if v := os.Getenv("PSE_USERNAME"); v != "" {
		c.Credentials.Username = v
	}
	if v := os.Getenv("PSE_PASSWORD"); v != "" {
		c.Credentials.Password = v
	}
	if v := os.Getenv("DATA_FOLDER"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("LOGS_FOLDER"); v != "" {
		c.Logging.Dir = v
	}
	if v := os.Getenv("BIND_IP_ADDRESS"); v != "" {
		c.Server.BindAddress = v
	}
	if v := os.Getenv("BIND_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid BIND_PORT: %w", err)
		}
		c.Server.Port = port
	}
	if v := os.Getenv("CACHE_DURATION_HOURS"); v != "" {
		hours, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid CACHE_DURATION_HOURS: %w", err)
		}
		c.CacheDuration = Duration(time.Duration(hours) * time.Hour)
	}
	return nil
}

// Save writes the config to file
func Save(configPath string, cfg *Config) error {
	// Ensure directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	return nil
}

// DefaultConfigPath returns the default config file path (local directory)
func DefaultConfigPath() string {
	return "config.yaml"
}

// GetDataDir returns the directory holding the persisted cache
func (c *Config) GetDataDir() string {
	if c.DataDir == "" {
		return defaultDataDir
	}
	return c.DataDir
}

// GetCacheDuration returns how long a snapshot stays fresh, 12 hours by default
func (c *Config) GetCacheDuration() time.Duration {
	if c.CacheDuration <= 0 {
		return defaultCacheDuration
	}
	return time.Duration(c.CacheDuration)
}

// GetRefreshPeriod returns how often expiration is checked, hourly by default
func (c *Config) GetRefreshPeriod() time.Duration {
	if c.RefreshPeriod <= 0 {
		return defaultRefreshPeriod
	}
	return time.Duration(c.RefreshPeriod)
}

// GetFetchTimeout bounds a single browser download
func (c *Config) GetFetchTimeout() time.Duration {
	if c.FetchTimeout <= 0 {
		return defaultFetchTimeout
	}
	return time.Duration(c.FetchTimeout)
}

// GetListenAddress returns host:port for the read API
func (c *Config) GetListenAddress() string {
	host := c.Server.BindAddress
	if host == "" {
		host = defaultBindAddress
	}
	port := c.Server.Port
	if port <= 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// GetTopicPrefix returns the MQTT topic prefix
func (c *Config) GetTopicPrefix() string {
	if c.MQTT.TopicPrefix == "" {
		return defaultTopicPrefix
	}
	return c.MQTT.TopicPrefix
}
