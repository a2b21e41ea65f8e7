package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the service configuration.
type Config struct {
	ListenAddr string          `mapstructure:"listen_addr"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	Faults     FaultConfig     `mapstructure:"faults"`
	Guarded    GuardedConfig   `mapstructure:"guarded"`
	RateLimit  RateLimitConfig `mapstructure:"rate_limit"`
	Tracing    TracingConfig   `mapstructure:"tracing"`
	TLS        TLSConfig       `mapstructure:"tls"`
}

type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Environment string `mapstructure:"environment"`
}

// FaultConfig shapes the faults injected into guarded requests.
type FaultConfig struct {
	// SleepDuration is how long a guarded request is held while sleeping.
	SleepDuration time.Duration `mapstructure:"sleep_duration"`
	// StatusCode is returned to guarded requests while misbehaving.
	StatusCode int `mapstructure:"status_code"`
}

// GuardedConfig describes the route wrapped by fault injection and the
// upstream behind it. With no upstream the route echoes the request.
type GuardedConfig struct {
	PathPrefix string `mapstructure:"path_prefix"`
	// Static upstream, host:port or URL.
	TargetServiceAddr string `mapstructure:"target_service_addr"`
	// Service name looked up in RegistryFile; takes precedence over the static address.
	TargetServiceName string `mapstructure:"target_service_name"`
	RegistryFile      string `mapstructure:"registry_file"`
	MaxRetries        int    `mapstructure:"max_retries"`
	// UpstreamTLS sends proxied traffic over https with the client certificate.
	UpstreamTLS bool `mapstructure:"upstream_tls"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `mapstructure:"requests_per_second"`
	BurstSize         int `mapstructure:"burst_size"`
}

type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Insecure    bool   `mapstructure:"insecure"`
}

type TLSConfig struct {
	Enabled           bool   `mapstructure:"enabled"`
	CertDir           string `mapstructure:"cert_dir"`
	RequireClientCert bool   `mapstructure:"require_client_cert"`
}

// Validate rejects settings the server cannot run with.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen_addr must not be empty")
	}
	if c.Faults.SleepDuration < 0 {
		return fmt.Errorf("faults.sleep_duration must not be negative, got %s", c.Faults.SleepDuration)
	}
	if c.Faults.StatusCode < 400 || c.Faults.StatusCode > 599 {
		return fmt.Errorf("faults.status_code must be a 4xx or 5xx code, got %d", c.Faults.StatusCode)
	}
	if !strings.HasPrefix(c.Guarded.PathPrefix, "/") || strings.HasPrefix(c.Guarded.PathPrefix, "/developer") {
		return fmt.Errorf("guarded.path_prefix %q must start with / and not overlap /developer", c.Guarded.PathPrefix)
	}
	if c.Guarded.TargetServiceName != "" && c.Guarded.RegistryFile == "" {
		return fmt.Errorf("guarded.registry_file is required when target_service_name is set")
	}
	if c.Guarded.MaxRetries < 0 {
		return fmt.Errorf("guarded.max_retries must not be negative")
	}
	if c.Guarded.UpstreamTLS && !c.TLS.Enabled {
		return fmt.Errorf("guarded.upstream_tls requires tls.enabled")
	}
	if c.RateLimit.RequestsPerSecond < 0 || c.RateLimit.BurstSize < 0 {
		return fmt.Errorf("rate_limit values must not be negative")
	}
	if c.Tracing.Enabled && c.Tracing.Endpoint == "" {
		return fmt.Errorf("tracing.endpoint is required when tracing is enabled")
	}
	if c.TLS.Enabled && c.TLS.CertDir == "" {
		return fmt.Errorf("tls.cert_dir is required when tls is enabled")
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("hypnos")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.environment", "production")
	v.SetDefault("faults.sleep_duration", 5*time.Second)
	v.SetDefault("faults.status_code", 500)
	v.SetDefault("guarded.path_prefix", "/api/")
	v.SetDefault("guarded.target_service_addr", "")
	v.SetDefault("guarded.target_service_name", "")
	v.SetDefault("guarded.registry_file", "")
	v.SetDefault("guarded.max_retries", 2)
	v.SetDefault("guarded.upstream_tls", false)
	v.SetDefault("rate_limit.requests_per_second", 0)
	v.SetDefault("rate_limit.burst_size", 0)
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "hypnos")
	v.SetDefault("tracing.endpoint", "localhost:4318")
	v.SetDefault("tracing.insecure", true)
	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_dir", "certs")
	v.SetDefault("tls.require_client_cert", false)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &config, nil
}

// LoadConfig reads the config file at path. An empty path loads defaults
// and environment overrides only.
func LoadConfig(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return decode(v)
}

// Watcher re-reads a config file whenever it changes on disk.
type Watcher struct {
	v *viper.Viper
}

// Watch loads path and calls onChange with every valid config written to it
// afterwards. Invalid rewrites go to onError and leave the last good config
// in effect.
func Watch(path string, onChange func(*Config, fsnotify.Event), onError func(error)) (*Config, *Watcher, error) {
	v := newViper()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, nil, fmt.Errorf("error reading config file: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, nil, err
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		next, err := decode(v)
		if err != nil {
			if onError != nil {
				onError(err)
			}
			return
		}
		onChange(next, e)
	})
	v.WatchConfig()
	return cfg, &Watcher{v: v}, nil
}

// ConfigFile returns the path being watched.
func (w *Watcher) ConfigFile() string {
	return w.v.ConfigFileUsed()
}
