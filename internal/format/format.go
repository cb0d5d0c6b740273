// Package format turns news items into bounded rich-text messages.
//
// The output layout is
//
//	<header> <b>title</b>
//	body
//	<i>source</i> · <a href="link">link text</a>
//
// Empty parts are omitted. All provider text is escaped for the configured
// parse mode. When the message would exceed the limit the body is cut and
// "…" appended; the title is only shortened when nothing else fits.
package format

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"newsbot/internal/news"
)

const (
	DefaultLimit        = 4096
	DefaultCaptionLimit = 1024
	DefaultLinkText     = "Read more"

	ellipsis = "…"
)

// DefaultHeaders are used when Config.Headers is empty.
var DefaultHeaders = []string{"📰", "🗞", "🔥", "📢", "🆕"}

type Config struct {
	Headers      []string
	LinkText     string
	ShowSource   bool
	ParseMode    string
	Limit        int
	CaptionLimit int
}

// Message is one formatted item. Caption is set only when the item has an
// image; it holds the same content bounded by the caption limit.
type Message struct {
	ItemID    string
	Text      string
	ParseMode string
	PhotoURL  string
	Caption   string
}

type Formatter struct {
	cfg  Config
	m    markup
	pick Picker
}

// New returns a Formatter. A nil picker selects headers at random.
func New(cfg Config, pick Picker) *Formatter {
	if len(cfg.Headers) == 0 {
		cfg.Headers = DefaultHeaders
	}
	if strings.TrimSpace(cfg.LinkText) == "" {
		cfg.LinkText = DefaultLinkText
	}
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.CaptionLimit <= 0 {
		cfg.CaptionLimit = DefaultCaptionLimit
	}
	if pick == nil {
		pick = RandomPicker()
	}
	return &Formatter{cfg: cfg, m: markupFor(cfg.ParseMode), pick: pick}
}

func (f *Formatter) ParseMode() string { return f.m.parseMode() }

// Format renders it. The result depends only on the item, the config and
// the picker's choice.
func (f *Formatter) Format(it news.Item) Message {
	header := f.cfg.Headers[f.pick(len(f.cfg.Headers))]
	msg := Message{
		ItemID:    it.ID,
		Text:      f.render(it, header, f.cfg.Limit),
		ParseMode: f.m.parseMode(),
	}
	if u := strings.TrimSpace(it.ImageURL); u != "" {
		msg.PhotoURL = u
		msg.Caption = f.render(it, header, f.cfg.CaptionLimit)
	}
	return msg
}

func (f *Formatter) render(it news.Item, header string, limit int) string {
	title := strings.TrimSpace(it.Title)
	body := strings.TrimSpace(it.Body)
	foot := f.footer(it)

	text := assemble(f.headLine(header, escapeAll(f.m, title)), escapeAll(f.m, body), foot)
	if runeLen(text) <= limit {
		return text
	}

	head := f.headLine(header, escapeAll(f.m, title))
	if body != "" {
		fixed := assemble(head, "", foot)
		// one rune for the newline before the body, one for the ellipsis
		if budget := limit - runeLen(fixed) - 1; budget >= 2 {
			cut, _ := cutEscaped(f.m, body, budget-1)
			cut = strings.TrimRightFunc(cut, unicode.IsSpace)
			if cut != "" {
				return assemble(head, cut+ellipsis, foot)
			}
		}
	}

	// Body dropped; shorten the title.
	text = assemble(head, "", foot)
	if runeLen(text) <= limit {
		return text
	}
	if title != "" {
		// measure the layout around a one-rune title
		budget := limit - (runeLen(assemble(f.headLine(header, "x"), "", foot)) - 1)
		if budget >= 2 {
			cut, _ := cutEscaped(f.m, title, budget-1)
			cut = strings.TrimRightFunc(cut, unicode.IsSpace)
			if cut != "" {
				return assemble(f.headLine(header, cut+ellipsis), "", foot)
			}
		}
		text = assemble(f.headLine(header, ""), "", foot)
		if runeLen(text) <= limit {
			return text
		}
	}
	// Only an oversized link can get here.
	return truncateRunes(text, limit)
}

func (f *Formatter) headLine(header, escapedTitle string) string {
	header = escapeAll(f.m, strings.TrimSpace(header))
	if escapedTitle == "" {
		return header
	}
	t := f.m.bold(escapedTitle)
	if header == "" {
		return t
	}
	return header + " " + t
}

func (f *Formatter) footer(it news.Item) string {
	var parts []string
	if src := strings.TrimSpace(it.SourceName); f.cfg.ShowSource && src != "" {
		parts = append(parts, f.m.italic(escapeAll(f.m, src)))
	}
	if link := strings.TrimSpace(it.Link); link != "" {
		parts = append(parts, f.m.link(escapeAll(f.m, f.cfg.LinkText), link))
	}
	return strings.Join(parts, " "+f.m.esc('·')+" ")
}

func assemble(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}

// cutEscaped escapes raw rune by rune and stops before the escaped output
// would exceed budget runes. The bool reports whether all of raw fit.
func cutEscaped(m markup, raw string, budget int) (string, bool) {
	var b strings.Builder
	n := 0
	for _, r := range raw {
		e := m.esc(r)
		w := utf8.RuneCountInString(e)
		if n+w > budget {
			return b.String(), false
		}
		b.WriteString(e)
		n += w
	}
	return b.String(), true
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func truncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	if runeLen(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit])
}
