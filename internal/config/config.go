package config

import (
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Provider kinds understood by the server command.
const (
	ProviderStatic = "static"
	ProviderLLM    = "llm"
	ProviderBank   = "bank"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	Provider struct {
		Kind    string `yaml:"kind"`
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
		Model   string `yaml:"model"`
		Timeout string `yaml:"timeout"`
	} `yaml:"provider"`
	Cache struct {
		TTL string `yaml:"ttl"`
	} `yaml:"cache"`
	Quiz struct {
		FetchRetries int    `yaml:"fetch_retries"`
		RetryBackoff string `yaml:"retry_backoff"`
	} `yaml:"quiz"`
}

// Load reads YAML config from path, then applies environment overrides.
// A missing file is not an error; defaults and the environment still apply.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	case !os.IsNotExist(err):
		return cfg, err
	}
	applyEnv(&cfg)
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = ProviderStatic
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.Provider.APIKey, "QUIZ_PROVIDER_API_KEY")
	setString(&cfg.Provider.BaseURL, "QUIZ_PROVIDER_BASE_URL")
	setString(&cfg.Provider.Model, "QUIZ_PROVIDER_MODEL")
	setString(&cfg.Provider.Kind, "QUIZ_PROVIDER_KIND")
	setString(&cfg.Redis.Addr, "REDIS_ADDR")
	setString(&cfg.Postgres.URL, "POSTGRES_URL")
	if v := os.Getenv("QUIZ_FETCH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Quiz.FetchRetries = n
		}
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
