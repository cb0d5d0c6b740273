package app

import (
	"net/http"
	"strings"

	"newsbot/internal/config"
	"newsbot/internal/dedup"
	"newsbot/internal/dispatch"
	"newsbot/internal/fetcher"
	"newsbot/internal/format"
	"newsbot/internal/pipeline"
	"newsbot/internal/transport"
	"newsbot/pkg/logx"
)

func mapLogging(cfg *config.Config) logx.Config {
	lc := cfg.Logging
	out := logx.Config{
		Level:   lc.Level,
		Console: lc.Console,
		File:    logx.FileConfig{Enabled: lc.File.Enabled, Path: lc.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    lc.Telegram.Enabled,
			ThreadID:   lc.Telegram.ThreadID,
			MinLevel:   lc.Telegram.MinLevel,
			RatePerSec: lc.Telegram.RatePerSec,
		},
	}
	if id, err := lc.Telegram.ChatID.Int64(); err == nil {
		out.Telegram.ChatID = id
	} else if len(cfg.Telegram.OwnerUserIDs) > 0 {
		out.Telegram.ChatID = cfg.Telegram.OwnerUserIDs[0]
	}
	return out
}

func mapDedup(cfg *config.Config) dedup.Config {
	return dedup.Config{
		Driver:   cfg.Dedup.Driver,
		Path:     cfg.Dedup.Path,
		Capacity: cfg.Dedup.Capacity,
	}
}

func buildFetcher(cfg *config.Config, d config.Durations, client *http.Client, log logx.Logger) fetcher.Fetcher {
	p := cfg.Provider
	log = log.With(logx.String("comp", "fetcher"), logx.String("provider", p.Kind))
	if p.Kind == "rss" {
		return fetcher.NewRSS(fetcher.RSSConfig{
			Feeds:   p.Feeds,
			Number:  p.Number,
			Timeout: d.ProviderTimeout,
		}, client, log)
	}
	return fetcher.NewAPI(fetcher.APIConfig{
		Endpoint: p.Endpoint,
		APIKey:   p.APIKey,
		Query:    p.Query,
		Language: p.Language,
		Number:   p.Number,
		Sort:     p.Sort,
		Timeout:  d.ProviderTimeout,
	}, client, log)
}

func buildFormatter(cfg *config.Config) *format.Formatter {
	fc := cfg.Format
	var pick format.Picker
	switch strings.ToLower(strings.TrimSpace(fc.Picker)) {
	case "fixed":
		pick = format.FixedPicker(0)
	case "round_robin":
		pick = format.RoundRobinPicker()
	default:
		if fc.Seed != 0 {
			pick = format.SeededPicker(fc.Seed)
		}
	}
	mode := transport.ParseModeHTML
	if strings.EqualFold(fc.ParseMode, transport.ParseModeMarkdown) {
		mode = transport.ParseModeMarkdown
	}
	return format.New(format.Config{
		Headers:      fc.Headers,
		LinkText:     fc.LinkText,
		ShowSource:   fc.ShowSource,
		ParseMode:    mode,
		Limit:        fc.Limit,
		CaptionLimit: fc.CaptionLimit,
	}, pick)
}

// mapDispatch assumes a validated config; unparsable chat ids are skipped.
func mapDispatch(cfg *config.Config, d config.Durations) dispatch.Config {
	dc := cfg.Dispatch
	out := dispatch.Config{
		DisablePreview: dc.DisablePreview,
		Photos:         dc.Photos,
		RatePerSec:     dc.RatePerSec,
		Burst:          dc.Burst,
		Timeout:        d.DispatchTimeout,
		RetryMax:       dc.RetryMax,
	}
	for _, t := range dc.Targets {
		id, err := t.ChatID.Int64()
		if err != nil {
			continue
		}
		out.Targets = append(out.Targets, dispatch.Target{
			Name: t.Name,
			Chat: transport.ChatTarget{ChatID: id, ThreadID: t.ThreadID},
			Role: dispatch.Role(t.Role),
		})
	}
	return out
}

func mapPipeline(cfg *config.Config, d config.Durations) pipeline.Config {
	return pipeline.Config{MaxPerRun: cfg.Pipeline.MaxPerRun, RecordTimeout: d.RecordTimeout}
}
