// Package config provides configuration loading for roster-ingest.
// Supports YAML files, a .env file, and environment variable overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/spherical/roster-ingest/internal/domain"
)

// Config holds all configuration for an ingestion run.
type Config struct {
	Documents     []string            `yaml:"documents"`
	Scratch       ScratchConfig       `yaml:"scratch"`
	Photos        PhotosConfig        `yaml:"photos"`
	Alignment     AlignmentConfig     `yaml:"alignment"`
	Tables        TablesConfig        `yaml:"tables"`
	Database      DatabaseConfig      `yaml:"database"`
	Export        ExportConfig        `yaml:"export"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ScratchConfig holds the scratch arena location.
type ScratchConfig struct {
	Root string `yaml:"root"`
}

// PhotosConfig holds the destination of relocated portraits.
type PhotosConfig struct {
	Dir string `yaml:"dir"`
}

// AlignmentConfig holds the skip-set and the asset filter used by the aligner.
type AlignmentConfig struct {
	SkipRefs     []int    `yaml:"skip_refs"`
	SkipPatterns []string `yaml:"skip_patterns"` // globs over img_<ref>.<ext>
	Extensions   []string `yaml:"extensions"`
}

// TablesConfig is forwarded to the geometric table detector.
type TablesConfig struct {
	MinRows       int     `yaml:"min_rows"`
	MinCols       int     `yaml:"min_cols"`
	MinConfidence float64 `yaml:"min_confidence"`
	UseLines      bool    `yaml:"use_lines"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Driver   string         `yaml:"driver"` // sqlite or postgres
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig holds SQLite-specific settings.
type SQLiteConfig struct {
	Path        string `yaml:"path"`
	JournalMode string `yaml:"journal_mode"`
}

// PostgresConfig holds Postgres-specific settings.
type PostgresConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	ConnectRetries int    `yaml:"connect_retries"`
}

// ExportConfig holds flat export destinations. An empty XLSXPath disables the workbook.
type ExportConfig struct {
	CSVPath  string `yaml:"csv_path"`
	XLSXPath string `yaml:"xlsx_path"`
}

// PipelineConfig holds per-document processing switches.
type PipelineConfig struct {
	ConcurrentExtract bool `yaml:"concurrent_extract"`
	Preflight         bool `yaml:"preflight"`
}

// ObservabilityConfig holds logging settings.
type ObservabilityConfig struct {
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
}

// Load reads configuration from a YAML file and applies .env and environment overrides.
func Load(path string) (*Config, error) {
	_ = godotenv.Load() // Ignore error if .env doesn't exist

	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, domain.ConfigError("read config file", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, domain.ConfigError("parse config file", err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, domain.ConfigError("validate config", err)
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with defaults for a local run.
func DefaultConfig() *Config {
	return &Config{
		Scratch: ScratchConfig{Root: filepath.Join(os.TempDir(), "roster-ingest")},
		Photos:  PhotosConfig{Dir: "photos"},
		Alignment: AlignmentConfig{
			Extensions: []string{string(domain.ExtPNG)},
		},
		Tables: TablesConfig{
			MinRows:       2,
			MinCols:       2,
			MinConfidence: 0.5,
			UseLines:      true,
		},
		Database: DatabaseConfig{
			Driver: "sqlite",
			SQLite: SQLiteConfig{
				Path:        "students.db",
				JournalMode: "WAL",
			},
			Postgres: PostgresConfig{
				MaxOpenConns:   4,
				ConnectRetries: 3,
			},
		},
		Export: ExportConfig{
			CSVPath: "students.csv",
		},
		Pipeline: PipelineConfig{
			ConcurrentExtract: true,
			Preflight:         true,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "console",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Database.Driver != "sqlite" && c.Database.Driver != "postgres" {
		return fmt.Errorf("invalid database driver: %s", c.Database.Driver)
	}
	if c.Database.Driver == "sqlite" && c.Database.SQLite.Path == "" {
		return fmt.Errorf("sqlite path is required")
	}
	if c.Database.Driver == "postgres" && c.Database.Postgres.DSN == "" {
		return fmt.Errorf("postgres dsn is required")
	}
	if c.Database.Postgres.ConnectRetries < 0 {
		return fmt.Errorf("postgres connect_retries must not be negative")
	}

	if c.Scratch.Root == "" {
		return fmt.Errorf("scratch root is required")
	}
	if c.Photos.Dir == "" {
		return fmt.Errorf("photo directory is required")
	}
	if c.Export.CSVPath == "" {
		return fmt.Errorf("csv export path is required")
	}

	if len(c.Alignment.Extensions) == 0 {
		return fmt.Errorf("alignment.extensions must not be empty")
	}
	for _, ref := range c.Alignment.SkipRefs {
		if ref <= 0 {
			return fmt.Errorf("invalid skip ref: %d", ref)
		}
	}
	for _, p := range c.Alignment.SkipPatterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("invalid skip pattern %q: %w", p, err)
		}
	}

	if c.Tables.MinRows < 1 || c.Tables.MinCols < 1 {
		return fmt.Errorf("tables.min_rows and tables.min_cols must be positive")
	}
	if c.Tables.MinConfidence < 0 || c.Tables.MinConfidence > 1 {
		return fmt.Errorf("tables.min_confidence must be between 0 and 1")
	}

	if f := c.Observability.LogFormat; f != "json" && f != "console" {
		return fmt.Errorf("invalid log format: %s", f)
	}

	return nil
}

// DatabaseDSN returns the appropriate database connection string.
func (c *Config) DatabaseDSN() string {
	if c.Database.Driver == "sqlite" {
		dsn := c.Database.SQLite.Path
		if c.Database.SQLite.JournalMode != "" {
			dsn += "?_journal_mode=" + c.Database.SQLite.JournalMode
		}
		return dsn
	}
	return c.Database.Postgres.DSN
}

// applyEnvOverrides applies environment variable overrides to config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("ROSTER_DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "sqlite:") {
			cfg.Database.Driver = "sqlite"
			cfg.Database.SQLite.Path = strings.TrimPrefix(v, "sqlite:")
		} else if strings.HasPrefix(v, "postgres") {
			cfg.Database.Driver = "postgres"
			cfg.Database.Postgres.DSN = v
		}
	}

	if v := os.Getenv("ROSTER_SCRATCH_ROOT"); v != "" {
		cfg.Scratch.Root = v
	}

	if v := os.Getenv("ROSTER_PHOTO_DIR"); v != "" {
		cfg.Photos.Dir = v
	}

	if v := os.Getenv("ROSTER_CSV_PATH"); v != "" {
		cfg.Export.CSVPath = v
	}

	if v := os.Getenv("ROSTER_XLSX_PATH"); v != "" {
		cfg.Export.XLSXPath = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}

	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
}
