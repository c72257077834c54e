package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Store struct {
		Path string `yaml:"path"` // SQLite database file
	} `yaml:"store"`
	Document struct {
		Source string `yaml:"source"` // default document URI for new sessions
	} `yaml:"document"`
	Import struct {
		ImplicitIdentifiers bool `yaml:"implicit_identifiers"`
	} `yaml:"import"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // "text" or "json"
	} `yaml:"log"`
}

// Default returns the configuration used when no config file is present.
func Default() *Config {
	var cfg Config
	cfg.Store.Path = "annotize.db"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return &cfg
}

func LoadConfig(path string) (*Config, error) {
	// 1. Load .env if exists
	_ = godotenv.Load()

	// 2. Load YAML config on top of the defaults
	cfg := Default()
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := yaml.Unmarshal(file, cfg); err != nil {
			return nil, err
		}
	}

	// 3. Override with Environment Variables if present
	if db := os.Getenv("ANNOTIZE_DB"); db != "" {
		cfg.Store.Path = db
	}
	if source := os.Getenv("ANNOTIZE_SOURCE"); source != "" {
		cfg.Document.Source = source
	}
	if level := os.Getenv("ANNOTIZE_LOG_LEVEL"); level != "" {
		cfg.Log.Level = level
	}
	if format := os.Getenv("ANNOTIZE_LOG_FORMAT"); format != "" {
		cfg.Log.Format = format
	}
	if implicit := os.Getenv("ANNOTIZE_IMPLICIT_IDENTIFIERS"); implicit != "" {
		if v, err := strconv.ParseBool(implicit); err == nil {
			cfg.Import.ImplicitIdentifiers = v
		}
	}

	return cfg, nil
}
