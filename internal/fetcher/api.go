package fetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"newsbot/internal/failure"
	"newsbot/internal/news"
	"newsbot/pkg/logx"
)

const maxResponseBytes = 4 << 20

// APIConfig is fixed provider configuration; none of it comes from users.
type APIConfig struct {
	Endpoint string
	APIKey   string
	Query    string
	Language string
	Number   int
	Sort     string
	Timeout  time.Duration
}

// APIFetcher calls a JSON news search endpoint:
//
//	GET <endpoint>?text=..&language=..&number=..&sort=..&api-key=..
//
// and expects {"news": [{title, text, url, source, image}]}. The
// "articles"/"description" shape used by other providers is accepted too.
type APIFetcher struct {
	cfg  APIConfig
	http *http.Client
	log  logx.Logger
}

func NewAPI(cfg APIConfig, client *http.Client, log logx.Logger) *APIFetcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &APIFetcher{cfg: cfg, http: newHTTPClient(client), log: log}
}

func (f *APIFetcher) requestURL() (string, error) {
	u, err := url.Parse(strings.TrimSpace(f.cfg.Endpoint))
	if err != nil {
		return "", err
	}
	q := u.Query()
	if f.cfg.Query != "" {
		q.Set("text", f.cfg.Query)
	}
	if f.cfg.Language != "" {
		q.Set("language", f.cfg.Language)
	}
	if f.cfg.Number > 0 {
		q.Set("number", strconv.Itoa(f.cfg.Number))
	}
	if f.cfg.Sort != "" {
		q.Set("sort", f.cfg.Sort)
	}
	q.Set("api-key", f.cfg.APIKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (f *APIFetcher) Fetch(ctx context.Context) ([]news.Item, error) {
	ctx, cancel := withTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	rawURL, err := f.requestURL()
	if err != nil {
		return nil, failure.Fetch("fetch.url", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, failure.Fetch("fetch.request", err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := f.http.Do(req)
	if err != nil {
		return nil, failure.Fetch("fetch.do", scrub(err, f.cfg.APIKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, failure.Fetch("fetch.read", err)
	}
	if resp.StatusCode/100 != 2 {
		return nil, failure.Fetch("fetch.status", fmt.Errorf("http %d: %s", resp.StatusCode, snippet(body)))
	}

	items, err := decodeAPIResponse(body)
	if err != nil {
		return nil, failure.Fetch("fetch.decode", err)
	}
	if f.cfg.Number > 0 && len(items) > f.cfg.Number {
		items = items[:f.cfg.Number]
	}
	f.log.Debug("provider responded", logx.Int("items", len(items)), logx.Duration("took", time.Since(start)))
	return items, nil
}

type apiResponse struct {
	News     *[]apiArticle `json:"news"`
	Articles *[]apiArticle `json:"articles"`
}

type apiArticle struct {
	Title       string      `json:"title"`
	Text        string      `json:"text"`
	Description string      `json:"description"`
	URL         string      `json:"url"`
	Source      sourceField `json:"source"`
	Image       string      `json:"image"`
	URLToImage  string      `json:"urlToImage"`
}

// sourceField accepts "source": "Name" and "source": {"name": "Name"}.
type sourceField string

func (s *sourceField) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	if b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*s = sourceField(v)
		return nil
	}
	var obj struct {
		Name string `json:"name"`
		ID   string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("source: %w", err)
	}
	if obj.Name == "" {
		obj.Name = obj.ID
	}
	*s = sourceField(obj.Name)
	return nil
}

func decodeAPIResponse(body []byte) ([]news.Item, error) {
	var r apiResponse
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, err
	}
	list := r.News
	if list == nil {
		list = r.Articles
	}
	if list == nil {
		return nil, fmt.Errorf(`response has no "news" key`)
	}

	items := make([]news.Item, 0, len(*list))
	for _, a := range *list {
		link := strings.TrimSpace(a.URL)
		if link == "" {
			continue
		}
		body := a.Text
		if body == "" {
			body = a.Description
		}
		img := a.Image
		if img == "" {
			img = a.URLToImage
		}
		items = append(items, news.Item{
			ID:         link,
			Title:      strings.TrimSpace(a.Title),
			Body:       stripHTML(body),
			SourceName: strings.TrimSpace(string(a.Source)),
			Link:       link,
			ImageURL:   strings.TrimSpace(img),
		})
	}
	return items, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if r := []rune(s); len(r) > 200 {
		s = string(r[:200]) + "..."
	}
	return s
}

// scrub keeps the API key out of errors that embed the request URL.
func scrub(err error, secret string) error {
	if err == nil || secret == "" {
		return err
	}
	msg := err.Error()
	clean := strings.NewReplacer(secret, "[REDACTED]", url.QueryEscape(secret), "[REDACTED]").Replace(msg)
	if clean == msg {
		return err
	}
	return redactedError{msg: clean, err: err}
}

type redactedError struct {
	msg string
	err error
}

func (e redactedError) Error() string { return e.msg }
func (e redactedError) Unwrap() error { return e.err }
