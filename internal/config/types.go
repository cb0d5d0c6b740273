package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Logging   LoggingConfig   `json:"logging"`
	Provider  ProviderConfig  `json:"provider"`
	Dedup     DedupConfig     `json:"dedup"`
	Format    FormatConfig    `json:"format"`
	Dispatch  DispatchConfig  `json:"dispatch"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Pipeline  PipelineConfig  `json:"pipeline"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// PollTimeout is a Go duration string (e.g. "10s", "2m").
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Commands enables inbound polling for /start, /news and /status.
	// Omitted means enabled.
	Commands *bool  `json:"commands,omitempty"`
	Welcome  string `json:"welcome,omitempty"`
}

func (t TelegramConfig) CommandsEnabled() bool { return t.Commands == nil || *t.Commands }

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegram mirrors log lines to an operator chat. An empty chat_id
// falls back to the first owner.
type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     ChatID `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// ProviderConfig selects the content source.
//
// kind "api" (default) calls a JSON news search endpoint and needs api_key;
// kind "rss" reads the listed feeds.
type ProviderConfig struct {
	Kind     string   `json:"kind"`
	Endpoint string   `json:"endpoint"`
	APIKey   string   `json:"api_key"`
	Query    string   `json:"query"`
	Language string   `json:"language"`
	Number   int      `json:"number"`
	Sort     string   `json:"sort"`
	Timeout  string   `json:"timeout,omitempty"`
	Feeds    []string `json:"feeds,omitempty"`
}

type DedupConfig struct {
	Driver   string `json:"driver"`
	Path     string `json:"path"`
	Capacity int    `json:"capacity"`
}

type FormatConfig struct {
	Headers      []string `json:"headers,omitempty"`
	LinkText     string   `json:"link_text,omitempty"`
	ShowSource   bool     `json:"show_source"`
	ParseMode    string   `json:"parse_mode,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	CaptionLimit int      `json:"caption_limit,omitempty"`
	// Picker is "random" (default), "round_robin" or "fixed".
	Picker string `json:"picker,omitempty"`
	// Seed makes the random picker reproducible; 0 means unseeded.
	Seed uint64 `json:"seed,omitempty"`
}

type DispatchConfig struct {
	Targets        []TargetConfig `json:"targets"`
	DisablePreview bool           `json:"disable_preview"`
	Photos         bool           `json:"photos"`
	RatePerSec     float64        `json:"rate_per_sec,omitempty"`
	Burst          int            `json:"burst,omitempty"`
	Timeout        string         `json:"timeout,omitempty"`
	RetryMax       int            `json:"retry_max,omitempty"`
}

type TargetConfig struct {
	Name     string `json:"name,omitempty"`
	ChatID   ChatID `json:"chat_id"`
	ThreadID int    `json:"thread_id,omitempty"`
	// Role is "primary" (public broadcast) or "secondary" (operator mirror).
	Role string `json:"role"`
}

type SchedulerConfig struct {
	Rules      []string `json:"rules"`
	Timezone   string   `json:"timezone,omitempty"`
	RunOnStart bool     `json:"run_on_start"`
}

type PipelineConfig struct {
	MaxPerRun     int    `json:"max_per_run"`
	RecordTimeout string `json:"record_timeout,omitempty"`
}

// ChatID is a Telegram chat id written as a number or a string
// ("-1001234567890"). It is kept verbatim and checked by Validate.
type ChatID string

func (c *ChatID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*c = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*c = ChatID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("chat_id: %w", err)
	}
	*c = ChatID(n.String())
	return nil
}

func (c ChatID) Int64() (int64, error) {
	s := strings.TrimSpace(string(c))
	if s == "" {
		return 0, fmt.Errorf("chat_id required")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("malformed chat_id %q", s)
	}
	if id == 0 {
		return 0, fmt.Errorf("chat_id must be non-zero")
	}
	return id, nil
}
