package config

import (
	"os"
	"strings"
)

const (
	EnvTelegramToken = "NEWSBOT_TELEGRAM_TOKEN"
	EnvNewsAPIKey    = "NEWSBOT_NEWS_API_KEY"

	DefaultEndpoint  = "https://api.worldnewsapi.com/search-news"
	DefaultDedupPath = "./data/seen.json"
	DefaultRule      = "2m"
)

// applyEnv lets secrets live outside the config file.
func applyEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	if v := strings.TrimSpace(getenv(EnvTelegramToken)); v != "" {
		cfg.Telegram.Token = v
	}
	if v := strings.TrimSpace(getenv(EnvNewsAPIKey)); v != "" {
		cfg.Provider.APIKey = v
	}
}

// applyDefaults fills fields whose zero value is not a sensible setting.
func applyDefaults(cfg *Config) {
	p := &cfg.Provider
	p.Kind = strings.ToLower(strings.TrimSpace(p.Kind))
	if p.Kind == "" {
		p.Kind = "api"
	}
	if p.Kind == "api" && strings.TrimSpace(p.Endpoint) == "" {
		p.Endpoint = DefaultEndpoint
	}
	if p.Number <= 0 {
		p.Number = 10
	}

	if strings.TrimSpace(cfg.Dedup.Driver) == "" {
		cfg.Dedup.Driver = "file"
	}
	if strings.TrimSpace(cfg.Dedup.Path) == "" && cfg.Dedup.Driver != "memory" {
		if cfg.Dedup.Driver == "sqlite" {
			cfg.Dedup.Path = "./data/seen.db"
		} else {
			cfg.Dedup.Path = DefaultDedupPath
		}
	}

	if len(cfg.Scheduler.Rules) == 0 {
		cfg.Scheduler.Rules = []string{DefaultRule}
	}
	for i := range cfg.Dispatch.Targets {
		t := &cfg.Dispatch.Targets[i]
		t.Role = strings.ToLower(strings.TrimSpace(t.Role))
		if t.Role == "" {
			t.Role = "primary"
		}
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
}
