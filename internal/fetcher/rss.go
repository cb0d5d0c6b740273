package fetcher

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"newsbot/internal/failure"
	"newsbot/internal/news"
	"newsbot/pkg/logx"
)

type RSSConfig struct {
	Feeds   []string
	Number  int
	Timeout time.Duration
}

// RSSFetcher reads RSS/Atom feeds in configured order. A feed that fails is
// logged and skipped; the fetch only fails when every feed failed.
type RSSFetcher struct {
	cfg    RSSConfig
	parser *gofeed.Parser
	log    logx.Logger
}

func NewRSS(cfg RSSConfig, client *http.Client, log logx.Logger) *RSSFetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	p := gofeed.NewParser()
	p.Client = newHTTPClient(client)
	p.UserAgent = "newsbot/1.0"
	return &RSSFetcher{cfg: cfg, parser: p, log: log}
}

func (f *RSSFetcher) Fetch(ctx context.Context) ([]news.Item, error) {
	ctx, cancel := withTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	var (
		items []news.Item
		errs  []error
	)
	for _, u := range f.cfg.Feeds {
		feed, err := f.parser.ParseURLWithContext(u, ctx)
		if err != nil {
			f.log.Warn("feed fetch failed", logx.String("feed", u), logx.Err(err))
			errs = append(errs, err)
			continue
		}
		items = append(items, feedItems(feed)...)
		if f.cfg.Number > 0 && len(items) >= f.cfg.Number {
			items = items[:f.cfg.Number]
			break
		}
	}
	if len(items) == 0 && len(errs) > 0 {
		return nil, failure.Fetch("fetch.rss", errors.Join(errs...))
	}
	return items, nil
}

func feedItems(feed *gofeed.Feed) []news.Item {
	out := make([]news.Item, 0, len(feed.Items))
	for _, it := range feed.Items {
		if it == nil {
			continue
		}
		link := strings.TrimSpace(it.Link)
		id := link
		if id == "" {
			id = strings.TrimSpace(it.GUID)
		}
		if id == "" {
			continue
		}
		body := it.Description
		if body == "" {
			body = it.Content
		}
		out = append(out, news.Item{
			ID:         id,
			Title:      strings.TrimSpace(it.Title),
			Body:       stripHTML(body),
			SourceName: strings.TrimSpace(feed.Title),
			Link:       link,
			ImageURL:   itemImage(it),
		})
	}
	return out
}

func itemImage(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") {
			return enc.URL
		}
	}
	return ""
}
