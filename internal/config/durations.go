package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string; empty means 0.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

// ParseDurationOrDefault is ParseDurationField with def for empty or zero.
func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// Durations are the config's duration strings resolved with defaults.
// Zero means "use the component default".
type Durations struct {
	PollTimeout     time.Duration
	ProviderTimeout time.Duration
	DispatchTimeout time.Duration
	RecordTimeout   time.Duration
}

func (c *Config) Durations() (Durations, error) {
	var (
		d   Durations
		err error
	)
	if d.PollTimeout, err = ParseDurationOrDefault("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second); err != nil {
		return Durations{}, err
	}
	if d.ProviderTimeout, err = ParseDurationField("provider.timeout", c.Provider.Timeout); err != nil {
		return Durations{}, err
	}
	if d.DispatchTimeout, err = ParseDurationField("dispatch.timeout", c.Dispatch.Timeout); err != nil {
		return Durations{}, err
	}
	if d.RecordTimeout, err = ParseDurationField("pipeline.record_timeout", c.Pipeline.RecordTimeout); err != nil {
		return Durations{}, err
	}
	return d, nil
}
