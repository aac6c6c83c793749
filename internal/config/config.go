package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort              = 8317
	DefaultOAuthCallbackPort = 1455
	DefaultUpstreamBaseURL   = "https://chatgpt.com/backend-api"
	DefaultAuthDir           = "~/.codex-bridge"
	DefaultPrewarmSchedule   = "@every 15m"
	DefaultRefreshSchedule   = "@every 10m"
)

// Config is the root configuration loaded from config.yaml.
type Config struct {
	SDKConfig `yaml:",inline"`

	// Host is the interface the local API server binds to. Empty binds all interfaces.
	Host string `yaml:"host" json:"host"`

	// Port is the local API server port.
	Port int `yaml:"port" json:"port"`

	// Debug enables debug level logging.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile writes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogsMaxTotalSizeMB caps the total size of the log directory. <= 0 disables the cap.
	LogsMaxTotalSizeMB int `yaml:"logs-max-total-size-mb" json:"logs-max-total-size-mb"`

	// AuthDir is the directory holding the local secret file. "~" expands to the home directory.
	AuthDir string `yaml:"auth-dir" json:"auth-dir"`

	// InstructionsDir holds cached upstream instructions. Defaults to <auth-dir>/instructions.
	InstructionsDir string `yaml:"instructions-dir" json:"instructions-dir"`

	// OAuthCallbackPort is the local port the authorization server redirects to.
	OAuthCallbackPort int `yaml:"oauth-callback-port" json:"oauth-callback-port"`

	// UpstreamBaseURL is the backend the responses API is proxied to.
	UpstreamBaseURL string `yaml:"upstream-base-url" json:"upstream-base-url"`

	// SecretKey encrypts the local secret file when set.
	SecretKey string `yaml:"secret-key" json:"-"`

	// PrewarmSchedule is the cron spec for refreshing cached instructions. "-" disables it.
	PrewarmSchedule string `yaml:"prewarm-schedule" json:"prewarm-schedule"`

	// RefreshSchedule is the cron spec for proactive token refresh. "-" disables it.
	RefreshSchedule string `yaml:"refresh-schedule" json:"refresh-schedule"`

	// MetricsEnabled exposes prometheus metrics at /metrics.
	MetricsEnabled bool `yaml:"metrics-enabled" json:"metrics-enabled"`
}

// LoadConfig reads and parses the YAML configuration file at configFile.
func LoadConfig(configFile string) (*Config, error) {
	return LoadConfigOptional(configFile, false)
}

// LoadConfigOptional reads the configuration file. When optional is true a
// missing or empty file yields the default configuration instead of an error.
func LoadConfigOptional(configFile string, optional bool) (*Config, error) {
	data, err := os.ReadFile(configFile)
	if err != nil {
		if optional && errors.Is(err, fs.ErrNotExist) {
			cfg := &Config{}
			cfg.ApplyDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if len(strings.TrimSpace(string(data))) > 0 {
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	} else if !optional {
		return nil, fmt.Errorf("config file %s is empty", configFile)
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills zero values with their defaults.
func (c *Config) ApplyDefaults() {
	if c.Port <= 0 {
		c.Port = DefaultPort
	}
	if c.OAuthCallbackPort <= 0 {
		c.OAuthCallbackPort = DefaultOAuthCallbackPort
	}
	c.UpstreamBaseURL = strings.TrimRight(strings.TrimSpace(c.UpstreamBaseURL), "/")
	if c.UpstreamBaseURL == "" {
		c.UpstreamBaseURL = DefaultUpstreamBaseURL
	}
	if strings.TrimSpace(c.AuthDir) == "" {
		c.AuthDir = DefaultAuthDir
	}
	if strings.TrimSpace(c.PrewarmSchedule) == "" {
		c.PrewarmSchedule = DefaultPrewarmSchedule
	}
	if strings.TrimSpace(c.RefreshSchedule) == "" {
		c.RefreshSchedule = DefaultRefreshSchedule
	}
	c.ProxyURL = strings.TrimSpace(c.ProxyURL)
}
