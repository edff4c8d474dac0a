package engines

import (
	"fmt"
	"log/slog"
	"reflect"
	"slices"
	"sort"
	"sync"
	"time"
)

// Registry holds named engines. It supports config-driven instantiation,
// hot reload, and thread-safe access.
type Registry struct {
	mu      sync.RWMutex
	engines map[string]Engine
	configs map[string]EngineConfig
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		engines: make(map[string]Engine),
		configs: make(map[string]EngineConfig),
		logger:  slog.Default(),
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger *slog.Logger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logger = logger
}

// Register adds an engine under its name, replacing any existing one.
func (r *Registry) Register(e Engine) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[e.Name()] = e
	delete(r.configs, e.Name())
	if r.logger != nil {
		r.logger.Info("registered engine", "name", e.Name())
	}
}

// Unregister removes an engine by name.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, name)
	delete(r.configs, name)
	if r.logger != nil {
		r.logger.Info("unregistered engine", "name", name)
	}
}

// Get returns an engine by name.
func (r *Registry) Get(name string) (Engine, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, name)
	}
	return e, nil
}

// Available returns nil when the named engine is registered and able to run.
func (r *Registry) Available(name string) error {
	e, err := r.Get(name)
	if err != nil {
		return err
	}
	if c, ok := e.(Checker); ok {
		return c.Available()
	}
	return nil
}

// List returns registered engine names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Infos describes every registered engine in name order.
func (r *Registry) Infos() []Info {
	names := r.List()
	r.mu.RLock()
	defer r.mu.RUnlock()
	infos := make([]Info, 0, len(names))
	for _, name := range names {
		if e, ok := r.engines[name]; ok {
			infos = append(infos, e.Info())
		}
	}
	return infos
}

// RegistryConfig defines the engines to instantiate.
type RegistryConfig struct {
	Engines map[string]EngineConfig
}

// EngineConfig configures one engine. Secrets are already resolved.
type EngineConfig struct {
	Type    string
	Enabled bool

	// Languages accepted in Options.Languages; the first is the default.
	Languages []string

	// Remote engine settings.
	URL             string
	APIKey          string
	DetArchs        []string
	RecoArchs       []string
	DefaultDetArch  string
	DefaultRecoArch string
	ReleasePath     string
	Timeout         time.Duration
	MaxRetries      int
	RetryDelay      time.Duration
	RateLimit       float64

	// Tesseract settings.
	PageSegMode int
	DPI         int
}

// NewRegistryFromConfig creates a registry populated from cfg.
func NewRegistryFromConfig(cfg RegistryConfig) *Registry {
	r := NewRegistry()
	r.Reload(cfg)
	return r
}

// Reload updates the registry from cfg. Engines that are no longer
// configured are removed; engines whose settings changed are rebuilt.
// Engines registered directly with Register are left alone.
func (r *Registry) Reload(cfg RegistryConfig) {
	r.mu.Lock()
	defer r.mu.Unlock()

	want := make(map[string]bool)
	for name, ec := range cfg.Engines {
		if !ec.Enabled {
			continue
		}
		want[name] = true

		old, hasExisting := r.configs[name]
		if hasExisting && reflect.DeepEqual(old, ec) {
			continue
		}

		e, err := createEngine(name, ec, r.logger)
		if err != nil {
			if r.logger != nil {
				r.logger.Warn("skipping engine", "name", name, "type", ec.Type, "error", err)
			}
			continue
		}
		r.engines[name] = e
		r.configs[name] = ec
		if r.logger != nil {
			if hasExisting {
				r.logger.Info("updated engine", "name", name, "type", ec.Type)
			} else {
				r.logger.Info("registered engine", "name", name, "type", ec.Type)
			}
		}
	}

	for name := range r.configs {
		if !want[name] {
			delete(r.engines, name)
			delete(r.configs, name)
			if r.logger != nil {
				r.logger.Info("removed engine", "name", name)
			}
		}
	}
}

func createEngine(name string, cfg EngineConfig, logger *slog.Logger) (Engine, error) {
	switch cfg.Type {
	case TypeTesseract:
		return NewTesseract(TesseractConfig{
			Name:        name,
			Languages:   cfg.Languages,
			PageSegMode: cfg.PageSegMode,
			DPI:         cfg.DPI,
			Logger:      logger,
		}), nil
	case TypeRemote:
		if cfg.URL == "" {
			return nil, fmt.Errorf("remote engine requires url")
		}
		return NewRemote(RemoteConfig{
			Name:            name,
			URL:             cfg.URL,
			APIKey:          cfg.APIKey,
			Languages:       cfg.Languages,
			DetArchs:        cfg.DetArchs,
			RecoArchs:       cfg.RecoArchs,
			DefaultDetArch:  cfg.DefaultDetArch,
			DefaultRecoArch: cfg.DefaultRecoArch,
			ReleasePath:     cfg.ReleasePath,
			Timeout:         cfg.Timeout,
			MaxRetries:      cfg.MaxRetries,
			RetryDelay:      cfg.RetryDelay,
			RateLimit:       cfg.RateLimit,
			Logger:          logger,
		}), nil
	case TypeMock:
		m := NewMock(name)
		if len(cfg.Languages) > 0 {
			m.Languages = slices.Clone(cfg.Languages)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown engine type %q", cfg.Type)
	}
}
