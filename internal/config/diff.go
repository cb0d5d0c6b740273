package config

import (
	"reflect"
	"strings"

	"newsbot/pkg/logx"
)

// SummarizeChange compares two configs. It returns the logging fields that
// describe a logging change (never secrets) and the names of other
// sections that changed; those only take effect after a restart.
func SummarizeChange(oldCfg, newCfg *Config) (loggingChanged bool, attrs []logx.Field, restart []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		loggingChanged = true
		attrs = append(attrs,
			logx.String("level", newCfg.Logging.Level),
			logx.Bool("console", newCfg.Logging.Console),
			logx.Bool("file", newCfg.Logging.File.Enabled),
			logx.Bool("telegram", newCfg.Logging.Telegram.Enabled),
			logx.String("telegram_min_level", newCfg.Logging.Telegram.MinLevel),
		)
	}

	// token and api key are compared but never logged
	if strings.TrimSpace(oldCfg.Telegram.Token) != strings.TrimSpace(newCfg.Telegram.Token) ||
		!reflect.DeepEqual(oldCfg.Telegram.OwnerUserIDs, newCfg.Telegram.OwnerUserIDs) ||
		oldCfg.Telegram.PollTimeout != newCfg.Telegram.PollTimeout ||
		oldCfg.Telegram.CommandsEnabled() != newCfg.Telegram.CommandsEnabled() ||
		oldCfg.Telegram.Welcome != newCfg.Telegram.Welcome {
		restart = append(restart, "telegram")
	}
	sections := []struct {
		name     string
		old, new any
	}{
		{"provider", oldCfg.Provider, newCfg.Provider},
		{"dedup", oldCfg.Dedup, newCfg.Dedup},
		{"format", oldCfg.Format, newCfg.Format},
		{"dispatch", oldCfg.Dispatch, newCfg.Dispatch},
		{"scheduler", oldCfg.Scheduler, newCfg.Scheduler},
		{"pipeline", oldCfg.Pipeline, newCfg.Pipeline},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			restart = append(restart, s.name)
		}
	}
	return loggingChanged, attrs, restart
}
