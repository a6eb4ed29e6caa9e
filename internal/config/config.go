package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config carries one run's settings. Precedence: defaults, then the YAML
// file, then RSSX_* environment variables; command line flags override last.
type Config struct {
	DBURL       string `yaml:"dbUrl"`
	InputDir    string `yaml:"inputDir"`    // root with one <AREA>/tabular dir per survey area
	MetadataDir string `yaml:"metadataDir"` // versioned md_*.csv configuration lists
	State       string `yaml:"state"`
	FiscalYear  int    `yaml:"fiscalYear"`
	Generation  string `yaml:"generation"` // gSSURGO data model: "1.0" or "2.0"
	Light       bool   `yaml:"light"`      // keep only top-level interps plus NCCPI rules
	Workers     int    `yaml:"workers"`    // accumulating-mode import parallelism
	MinTables   int    `yaml:"minTables"`  // schema builder handshake threshold
	LogLevel    string `yaml:"logLevel"`
}

func def() Config {
	return Config{
		DBURL:       "",
		InputDir:    "",
		MetadataDir: "metadata",
		State:       "",
		FiscalYear:  0,
		Generation:  "2.0",
		Light:       false,
		Workers:     4,
		MinTables:   50,
		LogLevel:    "info",
	}
}

func loadYAML(path string) (Config, error) {
	c := def()
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return c, err
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvBool(k string, fallback bool) bool {
	if v, ok := os.LookupEnv(k); ok {
		v = strings.TrimSpace(strings.ToLower(v))
		if v == "1" || v == "true" || v == "yes" {
			return true
		}
		if v == "0" || v == "false" || v == "no" {
			return false
		}
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// Load reads the YAML config at path (if it exists), then applies ENV
// overrides. Flag overrides are the caller's business.
func Load(path string) Config {
	cfg := def()

	if st, err := os.Stat(path); err == nil && !st.IsDir() {
		if c2, err := loadYAML(path); err == nil {
			cfg = c2
		}
	}

	cfg.DBURL = getenv("RSSX_DB_URL", cfg.DBURL)
	cfg.InputDir = getenv("RSSX_INPUT_DIR", cfg.InputDir)
	cfg.MetadataDir = getenv("RSSX_METADATA_DIR", cfg.MetadataDir)
	cfg.State = getenv("RSSX_STATE", cfg.State)
	cfg.FiscalYear = getenvInt("RSSX_FISCAL_YEAR", cfg.FiscalYear)
	cfg.Generation = getenv("RSSX_GENERATION", cfg.Generation)
	cfg.Light = getenvBool("RSSX_LIGHT", cfg.Light)
	cfg.Workers = getenvInt("RSSX_WORKERS", cfg.Workers)
	cfg.MinTables = getenvInt("RSSX_MIN_TABLES", cfg.MinTables)
	cfg.LogLevel = getenv("RSSX_LOG_LEVEL", cfg.LogLevel)

	return cfg
}
