package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

type RuleKind int

const (
	RuleCron RuleKind = iota
	RuleInterval
)

func (k RuleKind) String() string {
	if k == RuleInterval {
		return "interval"
	}
	return "cron"
}

// Rule is one parsed trigger.
//
// Accepted forms:
//   - cron: "*/30 * * * *", "0 0 7 * * *" (seconds optional), "@hourly", "@every 45m"
//   - interval: "45m", "2h30m", or HH:MM such as "01:30" (90 minutes)
//
// Prefixes "cron:" and "interval:" / "every:" force the kind.
type Rule struct {
	Raw    string
	Kind   RuleKind
	Expr   string
	Every  time.Duration
	Source string // "cron" | "duration" | "hhmm"
}

func (r Rule) String() string {
	if r.Kind == RuleInterval {
		return "every " + r.Every.String()
	}
	return r.Expr
}

// cronParser accepts 5 or 6 field specs plus descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

// ParseRule parses and validates a schedule string.
func ParseRule(raw string) (Rule, error) {
	r, err := classify(raw)
	if err != nil {
		return Rule{}, err
	}
	r.Raw = raw
	if r.Kind == RuleCron {
		if _, err := cronParser.Parse(r.Expr); err != nil {
			return Rule{}, fmt.Errorf("invalid cron %q: %w", r.Expr, err)
		}
	}
	return r, nil
}

// ParseRules parses every entry; the first failure is returned with its index.
func ParseRules(raw []string) ([]Rule, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("at least one schedule rule required")
	}
	out := make([]Rule, 0, len(raw))
	for i, s := range raw {
		r, err := ParseRule(s)
		if err != nil {
			return nil, fmt.Errorf("schedule[%d]: %w", i, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func classify(raw string) (Rule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Rule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	if strings.HasPrefix(low, "cron:") {
		expr := strings.TrimSpace(s[len("cron:"):])
		if expr == "" {
			return Rule{}, fmt.Errorf("cron schedule required after 'cron:'")
		}
		return Rule{Kind: RuleCron, Expr: expr, Source: "cron"}, nil
	}
	for _, p := range []string{"interval:", "every:"} {
		if strings.HasPrefix(low, p) {
			d, src, err := parseInterval(s[len(p):])
			if err != nil {
				return Rule{}, err
			}
			return Rule{Kind: RuleInterval, Every: d, Source: src}, nil
		}
	}

	// whitespace or a descriptor means cron
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return Rule{Kind: RuleCron, Expr: s, Source: "cron"}, nil
	}

	d, src, err := parseInterval(s)
	if err != nil {
		return Rule{}, fmt.Errorf(
			"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
			raw,
		)
	}
	return Rule{Kind: RuleInterval, Every: d, Source: src}, nil
}

func parseInterval(v string) (time.Duration, string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMMDuration(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d < time.Second {
		return 0, "", fmt.Errorf("interval must be at least 1s")
	}
	return d, "duration", nil
}

func parseHHMMDuration(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}

func (r Rule) schedule() (cron.Schedule, error) {
	if r.Kind == RuleInterval {
		if r.Every <= 0 {
			return nil, fmt.Errorf("interval must be > 0")
		}
		return cron.Every(r.Every), nil
	}
	return cronParser.Parse(r.Expr)
}

// LoadLocation resolves an IANA zone name; empty means local time.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

// Preview returns the next n trigger times for r after now. Cron rules are
// evaluated in loc.
func Preview(r Rule, loc *time.Location, now time.Time, n int) []time.Time {
	if loc == nil {
		loc = time.Local
	}
	sched, err := r.schedule()
	if err != nil {
		return nil
	}
	t := now.In(loc)
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		out = append(out, t)
	}
	return out
}
