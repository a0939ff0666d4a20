// Package config loads server configuration from a YAML file with
// environment-variable overrides, the way cmd/api/main.go in the
// agentic-valuation reference loads its agent config: godotenv for local
// .env files, gopkg.in/yaml.v2 for the file itself, os.Getenv for the
// overrides that win when present.
package config

import (
	"fmt"
	"io/ioutil"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

// Config is the full set of tunables the server entrypoint needs.
type Config struct {
	Port           int           `yaml:"port"`
	DataDir        string        `yaml:"data_dir"`
	DBPath         string        `yaml:"db_path"`
	AdvisorBaseURL string        `yaml:"advisor_base_url"`
	AdvisorModel   string        `yaml:"advisor_model"`
	AdvisorAPIKey  string        `yaml:"-"` // never read from file; env only
	StoryInterval  time.Duration `yaml:"story_interval"`
}

// Default returns the baseline configuration used when no config file
// is present, matching the small-server shape the teacher's demo
// commands run with.
func Default() Config {
	return Config{
		Port:          8080,
		DataDir:       "./data",
		DBPath:        "./data/ledgercore.db",
		AdvisorModel:  "gpt-4o-mini",
		StoryInterval: 5 * time.Minute,
	}
}

// Load reads .env (if present, ignoring a missing file), then path (if
// present), then applies LEDGERCORE_* environment overrides on top.
func Load(path string) (Config, error) {
	_ = godotenv.Load()
	cfg := Default()

	if path != "" {
		data, err := ioutil.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LEDGERCORE_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Port = n
		}
	}
	if v := os.Getenv("LEDGERCORE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("LEDGERCORE_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("LEDGERCORE_ADVISOR_BASE_URL"); v != "" {
		cfg.AdvisorBaseURL = v
	}
	if v := os.Getenv("LEDGERCORE_ADVISOR_MODEL"); v != "" {
		cfg.AdvisorModel = v
	}
	if v := os.Getenv("LEDGERCORE_ADVISOR_API_KEY"); v != "" {
		cfg.AdvisorAPIKey = v
	}
	if v := os.Getenv("LEDGERCORE_STORY_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.StoryInterval = d
		}
	}
}

// AdvisorEnabled reports whether enough configuration is present to
// construct a live advisor provider.
func (c Config) AdvisorEnabled() bool {
	return c.AdvisorBaseURL != "" && c.AdvisorAPIKey != ""
}
