package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Pipeline    PipelineConfig            `json:"pipeline"`
	Discord     DiscordConfig             `json:"discord"`
}

type BasicConfig struct {
	ServerAddress string   `json:"server_address"`
	ServiceTokens []string `json:"service_tokens"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
}

type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

type ProviderConfig struct {
	BaseURL            string `json:"base_url"`
	Model              string `json:"model"`
	VisionModel        string `json:"vision_model"`
	APIKey             string `json:"api_key"`
	TranscriptionURL   string `json:"transcription_url"`
	TranscriptionModel string `json:"transcription_model"`
}

type PipelineConfig struct {
	MinWorkers        int `json:"min_workers"`
	MaxWorkers        int `json:"max_workers"`
	QueueSize         int `json:"queue_size"`
	WorkerIdleMinutes int `json:"worker_idle_minutes"`

	MaxAttempts        int `json:"max_attempts"`
	RetryInitialMs     int `json:"retry_initial_ms"`
	RetryMaxElapsedMs  int `json:"retry_max_elapsed_ms"`
	DependencyPollMs   int `json:"dependency_poll_ms"`
	DependencyWaitMs   int `json:"dependency_wait_ms"`
	ResultTTLMinutes   int `json:"result_ttl_minutes"`
	DiagnosticTTLHours int `json:"diagnostic_ttl_hours"`
}

type DiscordConfig struct {
	BotToken   string `json:"bot_token"`
	APIBaseURL string `json:"api_base_url"`
}

// Load reads configuration from the provided path (defaults to config.json).
func Load(path string) (*Config, error) {
	if path == "" {
		path = "config.json"
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	file, err := os.Open(absPath)
	if err != nil {
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}
	defer file.Close()

	var cfg Config
	if err := json.NewDecoder(file).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if len(cfg.Databases) == 0 {
		return nil, fmt.Errorf("at least one database must be configured")
	}
	for name, db := range cfg.Databases {
		if relativeSQLitePath(name, db.DSN) {
			db.DSN = filepath.Join(filepath.Dir(absPath), db.DSN)
			cfg.Databases[name] = db
		}
	}

	return &cfg, nil
}

// relativeSQLitePath reports whether the DSN is a plain relative file
// path that should resolve against the config directory. In-memory
// databases and file: URIs are taken verbatim.
func relativeSQLitePath(driver, dsn string) bool {
	if driver != "sqlite" && driver != "sqlite3" {
		return false
	}
	if dsn == "" || dsn == ":memory:" || strings.HasPrefix(dsn, "file:") {
		return false
	}
	return !filepath.IsAbs(dsn)
}
