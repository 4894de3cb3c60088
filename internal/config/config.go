package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/menta2k/crop-surface/pkg/extract"
	"github.com/menta2k/crop-surface/pkg/session"
	"github.com/menta2k/crop-surface/pkg/worker"
)

// Config holds the application configuration
type Config struct {
	Extract  ExtractConfig  `json:"extract"`
	Worker   WorkerConfig   `json:"worker"`
	Session  SessionConfig  `json:"session"`
	Output   OutputConfig   `json:"output"`
	Labeling LabelingConfig `json:"labeling"`
}

// ExtractConfig holds configuration for crop extraction
type ExtractConfig struct {
	Format           string `json:"format"`
	Quality          int    `json:"quality"`
	Lossless         bool   `json:"lossless"`
	Interpolation    string `json:"interpolation"`
	MaxSurfacePixels int    `json:"max_surface_pixels"`
	OutputWidth      int    `json:"output_width"`
	OutputHeight     int    `json:"output_height"`
}

// WorkerConfig holds configuration for the background bridge
type WorkerConfig struct {
	Enabled     bool `json:"enabled"`
	QueueSize   int  `json:"queue_size"`
	Concurrency int  `json:"concurrency"`
}

// SessionConfig holds interaction limits
type SessionConfig struct {
	MinZoom    float64 `json:"min_zoom"`
	MaxZoom    float64 `json:"max_zoom"`
	MinBoxSize float64 `json:"min_box_size"`
}

// OutputConfig holds configuration for output generation
type OutputConfig struct {
	OutputDir    string `json:"output_dir"`
	Prefix       string `json:"prefix"`
	Suffix       string `json:"suffix"`
	ManifestName string `json:"manifest_name"`
}

// LabelingConfig holds configuration for the vision-model backend
type LabelingConfig struct {
	Enabled     bool   `json:"enabled"`
	Backend     string `json:"backend"`
	URL         string `json:"url"`
	Model       string `json:"model"`
	Prompt      string `json:"prompt,omitempty"`
	Concurrency int    `json:"concurrency"`
	TimeoutSec  int    `json:"timeout_sec"`
}

var (
	supportedFormats = []string{"png", "jpg", "jpeg", "webp"}
	interpolations   = []string{"nearest", "bilinear", "approx-bilinear", "catmullrom"}
	labelingBackends = []string{"ollama", "llamacpp"}
)

// Default returns a configuration with default values
func Default() *Config {
	ec := extract.DefaultConfig()
	wc := worker.DefaultConfig()
	sc := session.DefaultConfig()
	return &Config{
		Extract: ExtractConfig{
			Format:           ec.Format,
			Quality:          ec.Quality,
			Interpolation:    ec.Interpolation,
			MaxSurfacePixels: ec.MaxSurfacePixels,
		},
		Worker: WorkerConfig{
			Enabled:     false,
			QueueSize:   wc.QueueSize,
			Concurrency: wc.Concurrency,
		},
		Session: SessionConfig{
			MinZoom:    sc.MinZoom,
			MaxZoom:    sc.MaxZoom,
			MinBoxSize: sc.MinBoxSize,
		},
		Output: OutputConfig{
			OutputDir:    "./output",
			Prefix:       "",
			Suffix:       "",
			ManifestName: "artifacts.json",
		},
		Labeling: LabelingConfig{
			Enabled:     false,
			Backend:     "ollama",
			URL:         "http://localhost:11434",
			Model:       "llava",
			Concurrency: 1,
			TimeoutSec:  300,
		},
	}
}

// LoadFromFile loads configuration from a JSON file. Fields the file does
// not set keep their default values.
func LoadFromFile(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := Default()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return config, nil
}

// SaveToFile saves configuration to a JSON file
func (c *Config) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if !slices.Contains(supportedFormats, c.Extract.Format) {
		return fmt.Errorf("extract.format must be one of %v", supportedFormats)
	}
	if c.Extract.Quality < 1 || c.Extract.Quality > 100 {
		return fmt.Errorf("extract.quality must be between 1 and 100")
	}
	if !slices.Contains(interpolations, c.Extract.Interpolation) {
		return fmt.Errorf("extract.interpolation must be one of %v", interpolations)
	}
	if c.Extract.MaxSurfacePixels < 1 {
		return fmt.Errorf("extract.max_surface_pixels must be positive")
	}
	if c.Extract.OutputWidth < 0 || c.Extract.OutputHeight < 0 {
		return fmt.Errorf("extract.output_width and output_height cannot be negative")
	}

	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("worker.queue_size must be positive")
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker.concurrency must be positive")
	}

	if c.Session.MinZoom <= 0 || c.Session.MaxZoom < c.Session.MinZoom {
		return fmt.Errorf("session zoom range must satisfy 0 < min_zoom <= max_zoom")
	}
	if c.Session.MinBoxSize < 0 {
		return fmt.Errorf("session.min_box_size cannot be negative")
	}

	if c.Output.ManifestName == "" {
		return fmt.Errorf("output.manifest_name cannot be empty")
	}

	if c.Labeling.Enabled {
		if !slices.Contains(labelingBackends, c.Labeling.Backend) {
			return fmt.Errorf("labeling.backend must be one of %v", labelingBackends)
		}
		if c.Labeling.URL == "" || c.Labeling.Model == "" {
			return fmt.Errorf("labeling.url and labeling.model are required when labeling is enabled")
		}
		if c.Labeling.Concurrency < 1 {
			return fmt.Errorf("labeling.concurrency must be positive")
		}
	}
	return nil
}

// ExtractorConfig converts the extract section for the extraction pipeline
func (c *Config) ExtractorConfig() extract.Config {
	return extract.Config{
		Format:           c.Extract.Format,
		Quality:          c.Extract.Quality,
		Lossless:         c.Extract.Lossless,
		Interpolation:    c.Extract.Interpolation,
		MaxSurfacePixels: c.Extract.MaxSurfacePixels,
		OutputWidth:      c.Extract.OutputWidth,
		OutputHeight:     c.Extract.OutputHeight,
	}
}

// BridgeConfig converts the worker section for the background bridge
func (c *Config) BridgeConfig() worker.Config {
	wc := worker.DefaultConfig()
	wc.QueueSize = c.Worker.QueueSize
	wc.Concurrency = c.Worker.Concurrency
	wc.Extract = c.ExtractorConfig()
	return wc
}

// SessionConfig converts the session section for the interaction session
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		MinZoom:    c.Session.MinZoom,
		MaxZoom:    c.Session.MaxZoom,
		MinBoxSize: c.Session.MinBoxSize,
	}
}

// LabelingTimeout returns the per-request labeling timeout
func (c *Config) LabelingTimeout() time.Duration {
	return time.Duration(c.Labeling.TimeoutSec) * time.Second
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./config.json"
	}
	return filepath.Join(home, ".config", "crop-surface", "config.json")
}
