package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackzampolin/ocrpdf/internal/reassembly"
)

// Config is the root configuration structure.
type Config struct {
	Server   ServerCfg            `mapstructure:"server" yaml:"server"`
	Render   RenderCfg            `mapstructure:"render" yaml:"render"`
	Output   OutputCfg            `mapstructure:"output" yaml:"output"`
	Device   DeviceCfg            `mapstructure:"device" yaml:"device"`
	Engines  map[string]EngineCfg `mapstructure:"engines" yaml:"engines"`
	Defaults DefaultsCfg          `mapstructure:"defaults" yaml:"defaults"`
	Log      LogCfg               `mapstructure:"log" yaml:"log"`
}

// ServerCfg configures the HTTP server and its request limits.
type ServerCfg struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`

	MaxPages              int     `mapstructure:"max_pages" yaml:"max_pages"`
	MaxUploadMB           int64   `mapstructure:"max_upload_mb" yaml:"max_upload_mb"`
	MaxConcurrentRequests int     `mapstructure:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	RateLimitPerSecond    float64 `mapstructure:"rate_limit_per_second" yaml:"rate_limit_per_second"` // per client IP, 0 = unlimited
	RateLimitBurst        int     `mapstructure:"rate_limit_burst" yaml:"rate_limit_burst"`

	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`

	// ScratchDir holds per-request workspaces (default: os.TempDir()).
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
}

// RenderCfg configures rasterization and page rendering. DPI is shared by
// both, so there is exactly one place to set it.
type RenderCfg struct {
	DPI          int     `mapstructure:"dpi" yaml:"dpi"`
	Workers      int     `mapstructure:"workers" yaml:"workers"`
	Scale        float64 `mapstructure:"scale" yaml:"scale"`
	ImageFormat  string  `mapstructure:"image_format" yaml:"image_format"`
	JPEGQuality  int     `mapstructure:"jpeg_quality" yaml:"jpeg_quality"`
	Renderer     string  `mapstructure:"renderer" yaml:"renderer"` // native, hocr2pdf
	Hocr2pdfPath string  `mapstructure:"hocr2pdf_path" yaml:"hocr2pdf_path"`
	PdftoppmPath string  `mapstructure:"pdftoppm_path" yaml:"pdftoppm_path"`
}

// OutputCfg selects what /api/ocr returns.
type OutputCfg struct {
	Mode     string              `mapstructure:"mode" yaml:"mode"` // pdf, markup
	Metadata reassembly.Metadata `mapstructure:"metadata" yaml:"metadata"`
}

// DeviceCfg configures the inference device.
type DeviceCfg struct {
	Name          string `mapstructure:"name" yaml:"name"`
	MaxConcurrent int64  `mapstructure:"max_concurrent" yaml:"max_concurrent"`
	FlushOSMemory bool   `mapstructure:"flush_os_memory" yaml:"flush_os_memory"`
}

// EngineCfg configures one OCR engine.
type EngineCfg struct {
	Type      string   `mapstructure:"type" yaml:"type"` // tesseract, remote, mock
	Enabled   bool     `mapstructure:"enabled" yaml:"enabled"`
	Languages []string `mapstructure:"languages" yaml:"languages,omitempty"`

	// remote
	URL             string        `mapstructure:"url" yaml:"url,omitempty"`
	APIKey          string        `mapstructure:"api_key" yaml:"api_key,omitempty"` // supports ${ENV_VAR}
	DetArchs        []string      `mapstructure:"det_archs" yaml:"det_archs,omitempty"`
	RecoArchs       []string      `mapstructure:"reco_archs" yaml:"reco_archs,omitempty"`
	DefaultDetArch  string        `mapstructure:"default_det_arch" yaml:"default_det_arch,omitempty"`
	DefaultRecoArch string        `mapstructure:"default_reco_arch" yaml:"default_reco_arch,omitempty"`
	ReleasePath     string        `mapstructure:"release_path" yaml:"release_path,omitempty"`
	Timeout         time.Duration `mapstructure:"timeout" yaml:"timeout,omitempty"`
	MaxRetries      int           `mapstructure:"max_retries" yaml:"max_retries,omitempty"`
	RetryDelay      time.Duration `mapstructure:"retry_delay" yaml:"retry_delay,omitempty"`
	RateLimit       float64       `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"` // requests per second

	// tesseract
	PageSegMode int `mapstructure:"page_seg_mode" yaml:"page_seg_mode,omitempty"`
}

// DefaultsCfg holds default selections.
type DefaultsCfg struct {
	Engine string `mapstructure:"engine" yaml:"engine"`
}

// LogCfg configures the process logger.
type LogCfg struct {
	Level  string `mapstructure:"level" yaml:"level"`   // debug, info, warn, error
	Format string `mapstructure:"format" yaml:"format"` // text, json
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerCfg{
			Host:                  "127.0.0.1",
			Port:                  8080,
			MaxPages:              500,
			MaxUploadMB:           256,
			MaxConcurrentRequests: 4,
			RateLimitPerSecond:    1,
			RateLimitBurst:        10,
			RequestTimeout:        10 * time.Minute,
		},
		Render: RenderCfg{
			DPI:         300,
			Workers:     1,
			Scale:       1,
			ImageFormat: "jpeg",
			JPEGQuality: 90,
			Renderer:    "native",
		},
		Output: OutputCfg{
			Mode: "pdf",
			Metadata: reassembly.Metadata{
				Creator:  "ocrpdf",
				Producer: "ocrpdf",
			},
		},
		Device: DeviceCfg{
			Name:          "cpu",
			MaxConcurrent: 1,
			FlushOSMemory: true,
		},
		Engines: map[string]EngineCfg{
			"tesseract": {
				Type:      "tesseract",
				Enabled:   true,
				Languages: []string{"eng"},
			},
			"doctr": {
				Type:            "remote",
				Enabled:         false,
				URL:             "http://localhost:8000",
				APIKey:          "${DOCTR_API_KEY}",
				Languages:       []string{"en", "fr"},
				DetArchs:        []string{"fast_base", "db_resnet50", "linknet_resnet18"},
				RecoArchs:       []string{"crnn_vgg16_bn", "parseq", "master"},
				DefaultDetArch:  "fast_base",
				DefaultRecoArch: "crnn_vgg16_bn",
				ReleasePath:     "/release",
				Timeout:         5 * time.Minute,
				MaxRetries:      3,
				RetryDelay:      time.Second,
			},
			"mock": {
				Type:    "mock",
				Enabled: false,
			},
		},
		Defaults: DefaultsCfg{
			Engine: "tesseract",
		},
		Log: LogCfg{
			Level:  "info",
			Format: "text",
		},
	}
}

// Validate checks values that would otherwise fail deep inside a request.
func (c *Config) Validate() error {
	if c.Render.DPI <= 0 {
		return fmt.Errorf("render.dpi must be positive, got %d", c.Render.DPI)
	}
	switch c.Output.Mode {
	case "pdf", "markup":
	default:
		return fmt.Errorf("output.mode must be pdf or markup, got %q", c.Output.Mode)
	}
	switch c.Render.ImageFormat {
	case "", "jpeg", "png":
	default:
		return fmt.Errorf("render.image_format must be jpeg or png, got %q", c.Render.ImageFormat)
	}
	if c.Defaults.Engine != "" {
		e, ok := c.Engines[c.Defaults.Engine]
		if !ok {
			return fmt.Errorf("defaults.engine %q is not configured", c.Defaults.Engine)
		}
		if !e.Enabled {
			return fmt.Errorf("defaults.engine %q is disabled", c.Defaults.Engine)
		}
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}

// Addr returns host:port for the HTTP listener.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MaxUploadBytes converts server.max_upload_mb to bytes.
func (c *Config) MaxUploadBytes() int64 {
	return c.Server.MaxUploadMB << 20
}

// LogLevel returns the configured slog level (info when unset or invalid).
func (c *Config) LogLevel() slog.Level {
	lvl, err := parseLevel(c.Log.Level)
	if err != nil {
		return slog.LevelInfo
	}
	return lvl
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}
