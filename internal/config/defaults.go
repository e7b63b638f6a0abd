package config

import (
	"time"

	"github.com/spf13/viper"
)

// Default timeouts per dispatch category.
const (
	DefaultRequestTimeout      = 5 * time.Second
	DefaultAppEventTimeout     = 10 * time.Second
	DefaultProductEventTimeout = 20 * time.Second
)

// setDefaults registers default values on the viper instance.
func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1")

	v.SetDefault("gateway.host", "localhost")
	v.SetDefault("gateway.port", 10001)
	v.SetDefault("gateway.tunnel_url", "")

	v.SetDefault("app.dir", ".")
	v.SetDefault("app.script_dir", "server")
	v.SetDefault("app.deps_dir", "server/deps")
	v.SetDefault("app.server_file", "server.js")

	v.SetDefault("sandbox.request_timeout", DefaultRequestTimeout)
	v.SetDefault("sandbox.app_event_timeout", DefaultAppEventTimeout)
	v.SetDefault("sandbox.product_event_timeout", DefaultProductEventTimeout)

	v.SetDefault("proxy.timeout", 10*time.Second)
	v.SetDefault("proxy.max_retries", 2)
	v.SetDefault("proxy.retry_delay", 500*time.Millisecond)

	v.SetDefault("storage.path", "~/.appdock/data.db")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file", "")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always unmarshal cleanly.
	_ = v.Unmarshal(&cfg)
	return &cfg
}
