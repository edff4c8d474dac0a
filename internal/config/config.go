package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"

	"github.com/jackzampolin/ocrpdf/internal/engines"
)

// EnvPrefix prefixes every environment override, e.g. OCRPDF_RENDER_DPI.
const EnvPrefix = "OCRPDF"

// Manager handles loading and hot-reloading configuration.
type Manager struct {
	v *viper.Viper

	mu        sync.RWMutex
	config    *Config
	callbacks []func(*Config)
}

// NewManager creates a new config manager and loads initial config.
func NewManager(cfgFile string) (*Manager, error) {
	cm := &Manager{
		v:         viper.New(),
		callbacks: make([]func(*Config), 0),
	}

	if err := cm.initViper(cfgFile); err != nil {
		return nil, err
	}

	cfg, err := cm.load()
	if err != nil {
		return nil, err
	}
	cm.config = cfg

	return cm, nil
}

// initViper sets up viper with defaults and config file.
func (cm *Manager) initViper(cfgFile string) error {
	if err := setDefaults(cm.v, DefaultConfig()); err != nil {
		return err
	}

	// Environment variables with OCRPDF_ prefix; nested keys use underscores.
	cm.v.SetEnvPrefix(EnvPrefix)
	cm.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	cm.v.AutomaticEnv()

	// Config file
	if cfgFile != "" {
		cm.v.SetConfigFile(cfgFile)
	} else {
		cm.v.SetConfigName("config")
		cm.v.SetConfigType("yaml")
		cm.v.AddConfigPath(".")
		cm.v.AddConfigPath("$HOME/.ocrpdf")
	}

	// Try to read config file (not required)
	if err := cm.v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	return nil
}

// setDefaults registers every leaf of defaults under its dotted key so
// that environment variables can override any of them.
func setDefaults(v *viper.Viper, defaults *Config) error {
	data, err := yaml.Marshal(defaults)
	if err != nil {
		return fmt.Errorf("failed to marshal defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := yaml.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to unmarshal defaults: %w", err)
	}
	for k, val := range tree {
		walkDefaults(v, k, val)
	}
	return nil
}

func walkDefaults(v *viper.Viper, prefix string, val interface{}) {
	m, ok := val.(map[interface{}]interface{})
	if !ok {
		v.SetDefault(prefix, val)
		return
	}
	for k, child := range m {
		walkDefaults(v, prefix+"."+fmt.Sprint(k), child)
	}
}

// ConfigFile returns the file the config was read from, if any.
func (cm *Manager) ConfigFile() string {
	return cm.v.ConfigFileUsed()
}

// load parses the current viper state into a Config struct.
func (cm *Manager) load() (*Config, error) {
	var cfg Config
	if err := cm.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Get returns the current configuration (thread-safe).
func (cm *Manager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}

// OnChange registers a callback for config changes.
func (cm *Manager) OnChange(fn func(*Config)) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.callbacks = append(cm.callbacks, fn)
}

// WatchConfig enables hot-reloading of configuration. An edit that fails to
// parse or validate is logged and the previous config stays active.
func (cm *Manager) WatchConfig() {
	cm.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := cm.load()
		if err != nil {
			slog.Warn("ignoring config change", "file", e.Name, "error", err)
			return
		}

		cm.mu.Lock()
		cm.config = cfg
		callbacks := make([]func(*Config), len(cm.callbacks))
		copy(callbacks, cm.callbacks)
		cm.mu.Unlock()

		for _, fn := range callbacks {
			fn(cfg)
		}
	})
	cm.v.WatchConfig()
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// ResolveEnvVars expands ${ENV_VAR} references in a string.
func ResolveEnvVars(value string) string {
	if value == "" {
		return value
	}
	return envVarPattern.ReplaceAllStringFunc(value, func(match string) string {
		varName := match[2 : len(match)-1]
		return os.Getenv(varName)
	})
}

// ToEngineRegistryConfig converts the config to a format suitable for engines.Registry.
// It resolves all ${ENV_VAR} references in API keys.
func (c *Config) ToEngineRegistryConfig() engines.RegistryConfig {
	cfg := engines.RegistryConfig{
		Engines: make(map[string]engines.EngineConfig, len(c.Engines)),
	}

	for name, e := range c.Engines {
		cfg.Engines[name] = engines.EngineConfig{
			Type:            e.Type,
			Enabled:         e.Enabled,
			Languages:       e.Languages,
			URL:             e.URL,
			APIKey:          ResolveEnvVars(e.APIKey),
			DetArchs:        e.DetArchs,
			RecoArchs:       e.RecoArchs,
			DefaultDetArch:  e.DefaultDetArch,
			DefaultRecoArch: e.DefaultRecoArch,
			ReleasePath:     e.ReleasePath,
			Timeout:         e.Timeout,
			MaxRetries:      e.MaxRetries,
			RetryDelay:      e.RetryDelay,
			RateLimit:       e.RateLimit,
			PageSegMode:     e.PageSegMode,
			DPI:             c.Render.DPI,
		}
	}

	return cfg
}

// WriteDefault writes the default configuration to the specified path.
func WriteDefault(path string) error {
	cfg := DefaultConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# ocrpdf configuration
# Any key can be overridden with an OCRPDF_ environment variable, e.g. OCRPDF_RENDER_DPI=200
# API keys use ${ENV_VAR} syntax to reference environment variables: export DOCTR_API_KEY=xxx
# render.dpi is used both to rasterize uploads and to place text on the output pages.

`)
	return os.WriteFile(path, append(header, data...), 0o644)
}
