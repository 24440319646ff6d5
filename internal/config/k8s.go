package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/SkynetNext/gateway-dataplane/pkg/xlog"
)

// K8sConfigWatcher watches for ConfigMap changes
type K8sConfigWatcher struct {
	configPath string
	onChange   func(*Config)
	stopCh     chan struct{}
}

// NewK8sConfigWatcher creates a ConfigMap watcher
// ConfigMap is mounted at configPath (e.g., /etc/config/dataplane.yaml)
func NewK8sConfigWatcher(configPath string, onChange func(*Config)) *K8sConfigWatcher {
	return &K8sConfigWatcher{
		configPath: configPath,
		onChange:   onChange,
		stopCh:     make(chan struct{}),
	}
}

// Start starts watching for ConfigMap changes
func (w *K8sConfigWatcher) Start() {
	// In K8s, ConfigMap updates trigger Pod restart by default
	// For hot-reload, we can watch the file modification time
	go w.watch()
}

// Stop stops the watcher
func (w *K8sConfigWatcher) Stop() {
	close(w.stopCh)
}

func (w *K8sConfigWatcher) watch() {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	var lastModTime time.Time

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			// Check if ConfigMap file changed
			info, err := os.Stat(w.configPath)
			if err != nil {
				continue // File doesn't exist yet
			}

			if !info.ModTime().IsZero() && info.ModTime().After(lastModTime) {
				xlog.Infof("ConfigMap changed, reloading...")
				cfg, err := LoadConfigFromFile(w.configPath)
				if err != nil {
					xlog.Warnf("Failed to reload config: %v", err)
				} else {
					w.onChange(cfg)
				}
				lastModTime = info.ModTime()
			}
		}
	}
}

// LoadConfigFromFile loads a YAML file layered over the environment
// defaults: fields absent from the file keep their env values.
func LoadConfigFromFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	cfg := LoadConfig()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Standard K8s ConfigMap mount paths, probed in order.
var configMapPaths = []string{
	"/etc/config/dataplane.yaml",
	"/etc/dataplane/config.yaml",
	"/config/dataplane.yaml",
}

// FindConfigMapPath returns the first mounted ConfigMap path, if any.
// Callers use it to point a K8sConfigWatcher at the live file.
func FindConfigMapPath() (string, bool) {
	for _, path := range configMapPaths {
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// LoadConfigFromConfigMap loads config from K8s ConfigMap mount point
func LoadConfigFromConfigMap() *Config {
	if path, ok := FindConfigMapPath(); ok {
		xlog.Infof("Loading config from ConfigMap: %s", path)
		cfg, err := LoadConfigFromFile(path)
		if err != nil {
			xlog.Warnf("Failed to load %s: %v", path, err)
			return LoadConfig()
		}
		return cfg
	}

	// Fallback to env vars
	return LoadConfig()
}
