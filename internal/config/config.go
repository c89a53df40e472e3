// Package config loads the application configuration from YAML with
// environment overrides for credentials.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"futures-decision-engine/internal/api"
	"futures-decision-engine/internal/engine"
	"futures-decision-engine/internal/store"
)

// OracleConfig is the YAML shape of the oracle section. Durations are given
// in milliseconds and minutes to keep the file plain.
type OracleConfig struct {
	BaseURL         string  `yaml:"base_url"`
	Model           string  `yaml:"model"`
	TimeoutMS       int     `yaml:"timeout_ms"`
	CacheTTLMinutes int     `yaml:"cache_ttl_minutes"`
	RequestsPerMin  int     `yaml:"requests_per_min"`
	Confirm         bool    `yaml:"confirm"`
	ConfirmMinConf  float64 `yaml:"confirm_min_conf"`
}

// Timeout converts the millisecond setting.
func (o OracleConfig) Timeout() time.Duration { return time.Duration(o.TimeoutMS) * time.Millisecond }

// CacheTTL converts the minute setting.
func (o OracleConfig) CacheTTL() time.Duration {
	return time.Duration(o.CacheTTLMinutes) * time.Minute
}

// StreamConfig is the YAML shape of one candle feed.
type StreamConfig struct {
	Enabled    bool   `yaml:"enabled"`
	PrimaryURL string `yaml:"primary_url"` // per-symbol kline websocket endpoint
	HigherURL  string `yaml:"higher_url"`
}

// Config is the full application configuration.
type Config struct {
	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	Mode         string  `yaml:"mode"`
	ModeDir      string  `yaml:"mode_dir"`  // per-mode YAML overrides
	ModelDir     string  `yaml:"model_dir"` // <dir>/<mode>.json artifacts
	PaperBalance float64 `yaml:"paper_balance"`

	Engine engine.Config   `yaml:"engine"`
	API    api.Config      `yaml:"api"`
	Oracle OracleConfig    `yaml:"oracle"`
	Stream StreamConfig    `yaml:"stream"`
	DB     *store.DBConfig `yaml:"database"` // nil disables postgres persistence
	Redis  string          `yaml:"redis_addr"`

	// OracleAPIKey comes only from the environment, never from the file.
	OracleAPIKey string `yaml:"-"`
}

// Default returns a runnable configuration: paper trading, one symbol, no
// external services.
func Default() Config {
	return Config{
		LogLevel:     "info",
		Mode:         "adaptive",
		ModeDir:      "configs/modes",
		ModelDir:     "configs/models",
		PaperBalance: 10000,
		Engine: engine.Config{
			Symbols:        []string{"BTCUSDT"},
			TickInterval:   15 * time.Second,
			ManageInterval: 5 * time.Second,
			HistoryBars:    500,
		},
		API: api.Config{Addr: ":8080", DataDir: "data"},
		Oracle: OracleConfig{
			TimeoutMS:       800,
			CacheTTLMinutes: 30,
			RequestsPerMin:  20,
		},
	}
}

// Load reads the YAML file when it exists and applies environment overrides.
// A missing file returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults stand in
		default:
			return Config{}, fmt.Errorf("failed to read %s: %w", path, err)
		}
	}

	cfg.OracleAPIKey = os.Getenv("ORACLE_API_KEY")
	if v := os.Getenv("DB_PASSWORD"); v != "" && cfg.DB != nil {
		cfg.DB.Password = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis = v
	}
	return cfg, nil
}
