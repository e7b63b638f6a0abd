// Package config provides configuration loading for the appdock harness.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"appdock/pkg/logger"
)

// Config is the root configuration for the harness.
type Config struct {
	Version string           `mapstructure:"version" yaml:"version"`
	Gateway GatewayConfig    `mapstructure:"gateway" yaml:"gateway"`
	App     AppConfig        `mapstructure:"app" yaml:"app"`
	Sandbox SandboxConfig    `mapstructure:"sandbox" yaml:"sandbox"`
	Proxy   ProxyConfig      `mapstructure:"proxy" yaml:"proxy"`
	OAuth   OAuthConfig      `mapstructure:"oauth" yaml:"oauth"`
	Storage StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Log     logger.LogConfig `mapstructure:"log" yaml:"log"`
}

// GatewayConfig configures the local HTTP gateway.
type GatewayConfig struct {
	Host      string `mapstructure:"host" yaml:"host"`
	Port      int    `mapstructure:"port" yaml:"port"`
	TunnelURL string `mapstructure:"tunnel_url" yaml:"tunnel_url,omitempty"`
}

// BaseURL returns the externally reachable base URL for webhook targets.
// The tunnel URL wins when configured.
func (g GatewayConfig) BaseURL() string {
	if g.TunnelURL != "" {
		return g.TunnelURL
	}
	return fmt.Sprintf("http://localhost:%d", g.Port)
}

// AppConfig describes the app under development.
type AppConfig struct {
	// Dir is the app root directory containing manifest.json.
	Dir string `mapstructure:"dir" yaml:"dir"`
	// ScriptDir is the directory holding the app's server scripts,
	// relative to Dir.
	ScriptDir string `mapstructure:"script_dir" yaml:"script_dir"`
	// DepsDir is the directory holding the app's installed dependencies,
	// relative to Dir.
	DepsDir string `mapstructure:"deps_dir" yaml:"deps_dir"`
	// ServerFile is the entry script, relative to ScriptDir.
	ServerFile string `mapstructure:"server_file" yaml:"server_file"`
}

// ScriptRoot returns the absolute script root directory.
func (a AppConfig) ScriptRoot() string {
	return filepath.Join(a.Dir, a.ScriptDir)
}

// DepsRoot returns the absolute dependency directory.
func (a AppConfig) DepsRoot() string {
	return filepath.Join(a.Dir, a.DepsDir)
}

// SandboxConfig configures script execution.
type SandboxConfig struct {
	// RequestTimeout bounds ad hoc request handlers.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// AppEventTimeout bounds install/uninstall lifecycle handlers.
	AppEventTimeout time.Duration `mapstructure:"app_event_timeout" yaml:"app_event_timeout"`
	// ProductEventTimeout bounds product event handlers.
	ProductEventTimeout time.Duration `mapstructure:"product_event_timeout" yaml:"product_event_timeout"`
}

// ProxyConfig configures the outbound request capability.
type ProxyConfig struct {
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	MaxRetries int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
}

// OAuthConfig configures the emulated token refresh endpoint.
type OAuthConfig struct {
	TokenURL     string `mapstructure:"token_url" yaml:"token_url,omitempty"`
	ClientID     string `mapstructure:"client_id" yaml:"client_id,omitempty"`
	ClientSecret string `mapstructure:"client_secret" yaml:"client_secret,omitempty"`
}

// StorageConfig configures the local data store.
type StorageConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// Load reads configuration from the given path, applying defaults for
// anything not set. A missing file is not an error; defaults are used.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				if _, statErr := os.Stat(path); statErr == nil {
					return nil, fmt.Errorf("read config: %w", err)
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		return fmt.Errorf("config: invalid gateway port %d", c.Gateway.Port)
	}
	if c.Proxy.MaxRetries < 0 {
		return fmt.Errorf("config: max_retries must not be negative")
	}
	return nil
}

// Save writes the configuration to the given path as YAML.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0600)
}
