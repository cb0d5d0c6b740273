package config

import (
	"errors"
	"fmt"
	"strings"

	"newsbot/internal/failure"
	"newsbot/internal/scheduler"
)

// Validate reports every fatal startup problem at once. The returned error
// is a *failure.Error of kind config.
func Validate(cfg *Config) error {
	if cfg == nil {
		return failure.Config("config.validate", errors.New("config is nil"))
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add("telegram.token required (or set %s)", EnvTelegramToken)
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		errs = append(errs, err)
	}

	switch cfg.Provider.Kind {
	case "api":
		if strings.TrimSpace(cfg.Provider.APIKey) == "" {
			add("provider.api_key required for provider kind \"api\" (or set %s)", EnvNewsAPIKey)
		}
	case "rss":
		if len(cfg.Provider.Feeds) == 0 {
			add("provider.feeds required for provider kind \"rss\"")
		}
	default:
		add("provider.kind %q unknown (use \"api\" or \"rss\")", cfg.Provider.Kind)
	}
	if _, err := ParseDurationField("provider.timeout", cfg.Provider.Timeout); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(cfg.Dedup.Driver) {
	case "file", "json", "sqlite", "sqlite3", "memory", "mem":
	default:
		add("dedup.driver %q unknown (use file, sqlite or memory)", cfg.Dedup.Driver)
	}
	if cfg.Dedup.Capacity < 0 {
		add("dedup.capacity must be >= 0")
	}

	if len(cfg.Dispatch.Targets) == 0 {
		add("dispatch.targets: at least one target required")
	}
	for i, t := range cfg.Dispatch.Targets {
		if _, err := t.ChatID.Int64(); err != nil {
			add("dispatch.targets[%d]: %v", i, err)
		}
		if t.Role != "primary" && t.Role != "secondary" {
			add("dispatch.targets[%d].role %q invalid (use primary or secondary)", i, t.Role)
		}
	}
	if _, err := ParseDurationField("dispatch.timeout", cfg.Dispatch.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Dispatch.RatePerSec < 0 {
		add("dispatch.rate_per_sec must be >= 0")
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Format.Picker)) {
	case "", "random", "round_robin", "fixed":
	default:
		add("format.picker %q unknown (use random, round_robin or fixed)", cfg.Format.Picker)
	}
	if m := cfg.Format.ParseMode; m != "" && !strings.EqualFold(m, "HTML") && !strings.EqualFold(m, "MarkdownV2") {
		add("format.parse_mode %q unsupported (use HTML or MarkdownV2)", m)
	}
	if cfg.Format.Limit < 0 || cfg.Format.Limit > 4096 {
		add("format.limit must be within 0..4096")
	}
	if cfg.Format.CaptionLimit < 0 || cfg.Format.CaptionLimit > 1024 {
		add("format.caption_limit must be within 0..1024")
	}

	if _, err := scheduler.ParseRules(cfg.Scheduler.Rules); err != nil {
		add("scheduler.rules: %v", err)
	}
	if _, err := scheduler.LoadLocation(cfg.Scheduler.Timezone); err != nil {
		add("scheduler.timezone %q: %v", cfg.Scheduler.Timezone, err)
	}

	if cfg.Pipeline.MaxPerRun < 0 {
		add("pipeline.max_per_run must be >= 0")
	}
	if _, err := ParseDurationField("pipeline.record_timeout", cfg.Pipeline.RecordTimeout); err != nil {
		errs = append(errs, err)
	}

	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID != "" {
		if _, err := cfg.Logging.Telegram.ChatID.Int64(); err != nil {
			add("logging.telegram: %v", err)
		}
	}

	if len(errs) == 0 {
		return nil
	}
	return failure.Config("config.validate", errors.Join(errs...))
}
