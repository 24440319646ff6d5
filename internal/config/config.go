package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Duration decodes YAML values like "30s" or "250ms". yaml.v2 cannot
// place a duration string into a time.Duration field directly.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// Config holds all dataplane configuration
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Metrics       MetricsConfig       `yaml:"metrics"`
	Backend       BackendConfig       `yaml:"backend"`
	Filter        FilterConfig        `yaml:"filter"`
	Lifecycle     LifecycleConfig     `yaml:"lifecycle"`
	Security      SecurityConfig      `yaml:"security"`
	Observability ObservabilityConfig `yaml:"observability"`
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" env:"DATAPLANE_LISTEN_ADDR"`
	// Maximum concurrent proxied connections
	MaxConnections int `yaml:"max_connections" env:"DATAPLANE_MAX_CONNECTIONS"`
}

type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled" env:"METRICS_ENABLED"`
	ListenAddr string `yaml:"listen_addr" env:"METRICS_LISTEN_ADDR"`
}

type BackendConfig struct {
	TargetAddr string   `yaml:"target_addr" env:"BACKEND_ADDR"`
	Timeout    Duration `yaml:"timeout" env:"BACKEND_TIMEOUT"`
	// When set, the backend address is resolved through the cluster
	// service discovery instead of TargetAddr.
	K8sService string `yaml:"k8s_service" env:"BACKEND_K8S_SERVICE"`
	K8sPort    int    `yaml:"k8s_port" env:"BACKEND_K8S_PORT"`
}

type FilterConfig struct {
	// Length of one rate-limit window; counters reset at this cadence.
	RateWindow Duration `yaml:"rate_window" env:"FILTER_RATE_WINDOW"`
	// Addresses blacklisted at startup, before any store state loads.
	BootstrapBlacklist []string      `yaml:"bootstrap_blacklist" env:"FILTER_BOOTSTRAP_BLACKLIST"`
	Offload            OffloadConfig `yaml:"offload"`
}

type OffloadConfig struct {
	Enabled bool   `yaml:"enabled" env:"OFFLOAD_ENABLED"`
	PinPath string `yaml:"pin_path" env:"OFFLOAD_PIN_PATH"`
	Iface   string `yaml:"iface" env:"OFFLOAD_IFACE"`
}

type LifecycleConfig struct {
	// Graceful shutdown timeout (for draining connections)
	ShutdownTimeout Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// Drain mode wait time (for long-lived TCP connections)
	DrainWaitTime Duration `yaml:"drain_wait_time" env:"DRAIN_WAIT_TIME"`
}

type SecurityConfig struct {
	AcceptRate AcceptRateConfig `yaml:"accept_rate"`
	Audit      AuditConfig      `yaml:"audit"`
	Redis      RedisConfig      `yaml:"redis"`
}

// AcceptRateConfig bounds the accept loop with a token bucket. This is
// connection-level backpressure, separate from the per-source packet
// rate limit inside the filter pipeline.
type AcceptRateConfig struct {
	Enabled           bool    `yaml:"enabled" env:"ACCEPT_RATE_ENABLED"`
	ConnectionsPerSec float64 `yaml:"connections_per_second" env:"ACCEPT_RATE_CPS"`
	Burst             int     `yaml:"burst" env:"ACCEPT_RATE_BURST"`
}

type AuditConfig struct {
	Enabled bool   `yaml:"enabled" env:"AUDIT_ENABLED"`
	Sink    string `yaml:"sink" env:"AUDIT_SINK"`
}

type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr      string `yaml:"addr" env:"REDIS_ADDR"`
	Password  string `yaml:"password" env:"REDIS_PASSWORD"`
	DB        int    `yaml:"db" env:"REDIS_DB"`
	KeyPrefix string `yaml:"key_prefix" env:"REDIS_KEY_PREFIX"`
}

type ObservabilityConfig struct {
	TracingEnabled bool   `yaml:"tracing_enabled" env:"TRACING_ENABLED"`
	JaegerEndpoint string `yaml:"jaeger_endpoint" env:"JAEGER_ENDPOINT"`
	ServiceName    string `yaml:"service_name" env:"TRACING_SERVICE_NAME"`
}

// LoadConfig loads configuration from environment variables with defaults
func LoadConfig() *Config {
	return &Config{
		Server: ServerConfig{
			ListenAddr:     getEnv("DATAPLANE_LISTEN_ADDR", ":7000"),
			MaxConnections: getEnvInt("DATAPLANE_MAX_CONNECTIONS", 10000),
		},
		Metrics: MetricsConfig{
			Enabled:    getEnvBool("METRICS_ENABLED", true),
			ListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		},
		Backend: BackendConfig{
			TargetAddr: getEnv("BACKEND_ADDR", "localhost:6000"),
			Timeout:    getEnvDuration("BACKEND_TIMEOUT", 10*time.Second),
			K8sService: getEnv("BACKEND_K8S_SERVICE", ""),
			K8sPort:    getEnvInt("BACKEND_K8S_PORT", 0),
		},
		Filter: FilterConfig{
			RateWindow:         getEnvDuration("FILTER_RATE_WINDOW", time.Second),
			BootstrapBlacklist: getEnvSlice("FILTER_BOOTSTRAP_BLACKLIST"),
			Offload: OffloadConfig{
				Enabled: getEnvBool("OFFLOAD_ENABLED", false),
				PinPath: getEnv("OFFLOAD_PIN_PATH", "/sys/fs/bpf/dataplane"),
				Iface:   getEnv("OFFLOAD_IFACE", "eth0"),
			},
		},
		Lifecycle: LifecycleConfig{
			ShutdownTimeout: getEnvDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
			DrainWaitTime:   getEnvDuration("DRAIN_WAIT_TIME", 60*time.Second),
		},
		Security: SecurityConfig{
			AcceptRate: AcceptRateConfig{
				Enabled:           getEnvBool("ACCEPT_RATE_ENABLED", true),
				ConnectionsPerSec: getEnvFloat("ACCEPT_RATE_CPS", 500),
				Burst:             getEnvInt("ACCEPT_RATE_BURST", 1000),
			},
			Audit: AuditConfig{
				Enabled: getEnvBool("AUDIT_ENABLED", true),
				Sink:    getEnv("AUDIT_SINK", "stdout"),
			},
			Redis: RedisConfig{
				Enabled:   getEnvBool("REDIS_ENABLED", false),
				Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
				Password:  getEnv("REDIS_PASSWORD", ""),
				DB:        getEnvInt("REDIS_DB", 0),
				KeyPrefix: getEnv("REDIS_KEY_PREFIX", "dataplane:"),
			},
		},
		Observability: ObservabilityConfig{
			TracingEnabled: getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			ServiceName:    getEnv("TRACING_SERVICE_NAME", "gateway-dataplane"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		var result int
		fmt.Sscanf(v, "%d", &result)
		return result
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		return v == "true" || v == "1"
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return Duration(d)
		}
	}
	return Duration(defaultValue)
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		var result float64
		fmt.Sscanf(v, "%f", &result)
		return result
	}
	return defaultValue
}

func getEnvSlice(key string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		return out
	}
	return nil
}
