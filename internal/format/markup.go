package format

import (
	"html"
	"strings"

	"newsbot/internal/transport"
)

// markup renders text for one rich-text parse mode. esc works per rune so
// the formatter can truncate without splitting an escape sequence.
type markup interface {
	parseMode() string
	esc(r rune) string
	bold(escaped string) string
	italic(escaped string) string
	link(escapedText, rawURL string) string
}

func markupFor(mode string) markup {
	if strings.EqualFold(strings.TrimSpace(mode), transport.ParseModeMarkdown) {
		return markdownV2{}
	}
	return htmlMarkup{}
}

type htmlMarkup struct{}

func (htmlMarkup) parseMode() string { return transport.ParseModeHTML }

func (htmlMarkup) esc(r rune) string {
	switch r {
	case '&':
		return "&amp;"
	case '<':
		return "&lt;"
	case '>':
		return "&gt;"
	case '"':
		return "&quot;"
	}
	return string(r)
}

func (htmlMarkup) bold(s string) string   { return "<b>" + s + "</b>" }
func (htmlMarkup) italic(s string) string { return "<i>" + s + "</i>" }
func (htmlMarkup) link(text, u string) string {
	return `<a href="` + html.EscapeString(u) + `">` + text + `</a>`
}

// markdownV2 follows Telegram's MarkdownV2 rules: every special character
// outside an entity is backslash-escaped; inside (...) of a link only ')'
// and '\' are.
type markdownV2 struct{}

const mdSpecial = "_*[]()~`>#+-=|{}.!\\"

func (markdownV2) parseMode() string { return transport.ParseModeMarkdown }

func (markdownV2) esc(r rune) string {
	if strings.ContainsRune(mdSpecial, r) {
		return `\` + string(r)
	}
	return string(r)
}

func (markdownV2) bold(s string) string   { return "*" + s + "*" }
func (markdownV2) italic(s string) string { return "_" + s + "_" }
func (markdownV2) link(text, u string) string {
	u = strings.NewReplacer(`\`, `\\`, `)`, `\)`).Replace(u)
	return "[" + text + "](" + u + ")"
}

func escapeAll(m markup, s string) string {
	var b strings.Builder
	for _, r := range s {
		b.WriteString(m.esc(r))
	}
	return b.String()
}
