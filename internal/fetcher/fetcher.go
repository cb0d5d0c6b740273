// Package fetcher pulls candidate news items from a content provider.
//
// Fetchers never retry and never panic: any transport, status or decoding
// problem yields an empty result and a *failure.Error of kind fetch. The
// next scheduled trigger is the retry.
package fetcher

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"newsbot/internal/news"
)

// DefaultTimeout bounds a single fetch when the config leaves it unset.
const DefaultTimeout = 10 * time.Second

type Fetcher interface {
	Fetch(ctx context.Context) ([]news.Item, error)
}

// Func adapts a function to Fetcher.
type Func func(ctx context.Context) ([]news.Item, error)

func (f Func) Fetch(ctx context.Context) ([]news.Item, error) { return f(ctx) }

func newHTTPClient(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = DefaultTimeout
	}
	return context.WithTimeout(ctx, d)
}

// stripHTML keeps the text of an HTML fragment, decodes entities and
// collapses whitespace. Script and style contents are dropped. A bare '<'
// in plain text is kept as text.
func stripHTML(s string) string {
	var b strings.Builder
	z := html.NewTokenizer(strings.NewReader(s))
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(b.String()), " ")
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				skip++
			case atom.Br, atom.P, atom.Div, atom.Li:
				b.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch atom.Lookup(name) {
			case atom.Script, atom.Style:
				if skip > 0 {
					skip--
				}
			case atom.P, atom.Div, atom.Li:
				b.WriteByte(' ')
			}
		case html.SelfClosingTagToken:
			b.WriteByte(' ')
		}
	}
}
