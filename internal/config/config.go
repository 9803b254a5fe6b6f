// Package config loads process configuration from defaults, an optional
// JSON config file at $XDG_CONFIG_HOME/grocer/config.json, and GROCER_*
// environment variable overrides (highest precedence).
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

type Config struct {
	Server  ServerConfig
	OpenAI  OpenAIConfig
	Storage StorageConfig
	Agent   AgentConfig
	Log     LogConfig
}

type ServerConfig struct {
	Port int
}

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbedModel     string
	Temperature    float64
	TimeoutSeconds int
}

type StorageConfig struct {
	DataDir     string
	CatalogPath string
}

type AgentConfig struct {
	MaxSteps           int
	TurnTimeoutSeconds int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port: 4000,
		},
		OpenAI: OpenAIConfig{
			BaseURL:        "https://api.openai.com/v1",
			ChatModel:      "gpt-4o-mini",
			EmbedModel:     "text-embedding-3-small",
			Temperature:    0.7,
			TimeoutSeconds: 60,
		},
		Storage: StorageConfig{
			DataDir:     defaultDataDir(),
			CatalogPath: "products.txt",
		},
		Agent: AgentConfig{
			MaxSteps:           6,
			TurnTimeoutSeconds: 120,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "grocer-data"
		}
	}
	return filepath.Join(dir, "grocer")
}

func configFilePath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, "grocer", "config.json")
}

// Load reads configuration: defaults, then the JSON config file, then
// environment variables. The OpenAI API key additionally falls back to the
// standard OPENAI_API_KEY variable.
func Load() (Config, error) {
	return loadWith(configFilePath(), os.Getenv)
}

// loadWith is the testable core of Load.
func loadWith(path string, getenv func(string) string) (Config, error) {
	cfg := defaults()

	if err := applyFile(&cfg, path); err != nil {
		return Config{}, err
	}
	if err := applyEnv(&cfg, getenv); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyFile overlays values from a flat JSON object, e.g.
// {"server.port": 4000, "openai.chat_model": "gpt-4o-mini"}.
// A missing file is fine; a corrupt one is an error, not a silent default.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file %s: %w", path, err)
	}

	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	for key, v := range flat {
		if err := setKey(cfg, key, fmt.Sprintf("%v", v)); err != nil {
			return fmt.Errorf("config file %s: %w", path, err)
		}
	}
	return nil
}

// envKeys maps environment variables to config keys.
var envKeys = map[string]string{
	"GROCER_PORT":             "server.port",
	"GROCER_OPENAI_API_KEY":   "openai.api_key",
	"GROCER_OPENAI_BASE_URL":  "openai.base_url",
	"GROCER_CHAT_MODEL":       "openai.chat_model",
	"GROCER_EMBED_MODEL":      "openai.embed_model",
	"GROCER_OPENAI_TIMEOUT":   "openai.timeout_seconds",
	"GROCER_DATA_DIR":         "storage.data_dir",
	"GROCER_CATALOG":          "storage.catalog_path",
	"GROCER_AGENT_MAX_STEPS":  "agent.max_steps",
	"GROCER_AGENT_TURN_LIMIT": "agent.turn_timeout_seconds",
	"GROCER_LOG_LEVEL":        "log.level",
}

func applyEnv(cfg *Config, getenv func(string) string) error {
	for env, key := range envKeys {
		if v := getenv(env); v != "" {
			if err := setKey(cfg, key, v); err != nil {
				return fmt.Errorf("%s: %w", env, err)
			}
		}
	}
	// Conventional fallback when no grocer-specific key is set.
	if cfg.OpenAI.APIKey == "" {
		cfg.OpenAI.APIKey = getenv("OPENAI_API_KEY")
	}
	return nil
}

func setKey(cfg *Config, key, value string) error {
	switch key {
	case "server.port":
		return setInt(&cfg.Server.Port, key, value)
	case "openai.api_key":
		cfg.OpenAI.APIKey = value
	case "openai.base_url":
		cfg.OpenAI.BaseURL = value
	case "openai.chat_model":
		cfg.OpenAI.ChatModel = value
	case "openai.embed_model":
		cfg.OpenAI.EmbedModel = value
	case "openai.temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid float for %s: %q", key, value)
		}
		cfg.OpenAI.Temperature = f
	case "openai.timeout_seconds":
		return setInt(&cfg.OpenAI.TimeoutSeconds, key, value)
	case "storage.data_dir":
		cfg.Storage.DataDir = value
	case "storage.catalog_path":
		cfg.Storage.CatalogPath = value
	case "agent.max_steps":
		return setInt(&cfg.Agent.MaxSteps, key, value)
	case "agent.turn_timeout_seconds":
		return setInt(&cfg.Agent.TurnTimeoutSeconds, key, value)
	case "log.level":
		cfg.Log.Level = strings.ToLower(value)
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

func setInt(dst *int, key, value string) error {
	// JSON numbers render as floats; accept "4000" and "4000.0" alike.
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f != float64(int(f)) {
		return fmt.Errorf("invalid integer for %s: %q", key, value)
	}
	*dst = int(f)
	return nil
}
