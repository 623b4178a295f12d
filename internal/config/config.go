package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Ledger struct {
		URL            string `yaml:"url"`
		Slot           string `yaml:"slot"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
		GetAttempts    int    `yaml:"get_attempts"`
	} `yaml:"ledger"`
	LLM struct {
		Provider        string  `yaml:"provider"`
		Model           string  `yaml:"model"`
		BaseURL         string  `yaml:"base_url"`
		APIKey          string  `yaml:"api_key"`
		Temperature     float64 `yaml:"temperature"`
		MaxOutputTokens int     `yaml:"max_output_tokens"`
		TimeoutSeconds  int     `yaml:"timeout_seconds"`
		JSONMode        bool    `yaml:"json_mode"`
	} `yaml:"llm"`
	Agent struct {
		Currency      string `yaml:"currency"`
		CurrencyPrice int    `yaml:"currency_price"`
		SystemSender  string `yaml:"system_sender"`
	} `yaml:"agent"`
	Schedule struct {
		PollIntervalSeconds      int `yaml:"poll_interval_seconds"`
		BroadcastIntervalSeconds int `yaml:"broadcast_interval_seconds"`
		CooldownSeconds          int `yaml:"cooldown_seconds"`
		StartupBackoffSeconds    int `yaml:"startup_backoff_seconds"`
	} `yaml:"schedule"`
	Control struct {
		Listen string `yaml:"listen"`
	} `yaml:"control"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
}

func Default() Config {
	cfg := Config{}
	cfg.Ledger.URL = "http://127.0.0.1:7719"
	cfg.Ledger.Slot = ""
	cfg.Ledger.TimeoutSeconds = 10
	cfg.Ledger.GetAttempts = 2
	cfg.LLM.Provider = "ollama"
	cfg.LLM.Model = "qwen2.5-coder:3b"
	cfg.LLM.BaseURL = ""
	cfg.LLM.APIKey = ""
	cfg.LLM.Temperature = 0.2
	cfg.LLM.MaxOutputTokens = 512
	cfg.LLM.TimeoutSeconds = 120
	cfg.LLM.JSONMode = true
	cfg.Agent.Currency = "oro"
	cfg.Agent.CurrencyPrice = 3
	cfg.Agent.SystemSender = "sistema"
	cfg.Schedule.PollIntervalSeconds = 10
	cfg.Schedule.BroadcastIntervalSeconds = 300
	cfg.Schedule.CooldownSeconds = 60
	cfg.Schedule.StartupBackoffSeconds = 5
	cfg.Control.Listen = ":8000"
	cfg.Log.Level = "info"
	cfg.Log.Format = "text"
	return cfg
}

// DefaultPath is where init writes and run looks by default.
func DefaultPath(home string) string {
	return filepath.Join(home, ".fdi-agent", "config.yaml")
}

// Load reads path over the defaults, so a partial file only overrides
// what it names. A missing file returns an error wrapping os.ErrNotExist.
func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

func Write(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	b, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o600)
}

// ApplyEnv overlays environment overrides. lookup is os.Getenv in
// production.
func ApplyEnv(cfg *Config, lookup func(string) string) {
	get := func(key string) string { return strings.TrimSpace(lookup(key)) }

	if v := get("FDI_PLN__BUTLER_ADDRESS"); v != "" {
		cfg.Ledger.URL = v
	}
	if v := get("FDI_PLN__SLOT"); v != "" {
		cfg.Ledger.Slot = v
	}
	if v := get("LLM_PROVIDER"); v != "" {
		cfg.LLM.Provider = v
	}
	if v := get("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := get("LLM_BASE_URL"); v != "" {
		cfg.LLM.BaseURL = v
	}
	if v := get("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := get("OPENAI_API_KEY"); v != "" && cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = v
	}
	if v := get("OLLAMA_HOST"); v != "" && cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = v
	}
	if v := get("LLM_TEMPERATURE"); v != "" {
		if value, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.LLM.Temperature = value
		}
	}
	if v := get("LLM_MAX_TOKENS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil {
			cfg.LLM.MaxOutputTokens = value
		}
	}
	if v := get("LLM_TIMEOUT_SECONDS"); v != "" {
		if value, err := strconv.Atoi(v); err == nil {
			cfg.LLM.TimeoutSeconds = value
		}
	}
	if v := get("AGENT_CONTROL_LISTEN"); v != "" {
		cfg.Control.Listen = v
	}
	if v := get("AGENT_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Seconds converts a configured number of seconds, falling back when the
// value is not positive.
func Seconds(n int, fallback time.Duration) time.Duration {
	if n <= 0 {
		return fallback
	}
	return time.Duration(n) * time.Second
}
