package docserver

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pearl-OS/PearlOS-sub006/docext"
)

// Config holds the full docserver configuration.
type Config struct {
	Listen    string    `yaml:"listen"`
	DataDir   string    `yaml:"data_dir"`
	TraceDB   string    `yaml:"trace_db"`
	TraceURL  string    `yaml:"trace_url"`
	MaxFileMB int       `yaml:"max_file_mb"`
	MaxPages  int       `yaml:"max_pages"`
	OCR       OCRConfig `yaml:"ocr"`
	LogLevel  string    `yaml:"log_level"`
}

// OCRConfig configures the OCR fallback for scanned PDFs.
type OCRConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"` // remote recognizer; empty means local engine
	Language string `yaml:"language"`
}

// DefaultConfig returns sane defaults.
func DefaultConfig() *Config {
	return &Config{
		Listen:    ":8080",
		DataDir:   "data",
		MaxFileMB: 10,
		MaxPages:  50,
		OCR: OCRConfig{
			Enabled:  true,
			Language: "eng",
		},
		LogLevel: "info",
	}
}

// LoadConfig reads and parses a YAML config file. Returns DefaultConfig merged with the file.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Validate checks that required fields are present and values are sane.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen is required")
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir is required")
	}
	if c.MaxFileMB <= 0 {
		return fmt.Errorf("max_file_mb must be > 0")
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("max_pages must be > 0")
	}
	if c.TraceDB != "" && c.TraceURL != "" {
		return fmt.Errorf("trace_db and trace_url are mutually exclusive")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unsupported log_level %q (use debug, info, warn or error)", c.LogLevel)
	}
	return nil
}

// MaxFileBytes returns the upload limit in bytes.
func (c *Config) MaxFileBytes() int64 {
	return int64(c.MaxFileMB) * 1024 * 1024
}

// ProcessorConfig maps the service configuration onto extraction options.
// Deps, Recorder and Logger are wired by the server, not here.
func (c *Config) ProcessorConfig() docext.Config {
	return docext.Config{
		MaxFileSize: c.MaxFileBytes(),
		MaxPages:    c.MaxPages,
		DisableOCR:  !c.OCR.Enabled,
		OCRLanguage: c.OCR.Language,
	}
}
