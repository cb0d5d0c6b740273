package format

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"

	"newsbot/internal/news"
	"newsbot/internal/transport"
)

func fixed(cfg Config) *Formatter {
	if cfg.Headers == nil {
		cfg.Headers = []string{"📰"}
	}
	return New(cfg, FixedPicker(0))
}

func TestFormatComposition(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		item news.Item
		want string
	}{
		{
			name: "full",
			cfg:  Config{ShowSource: true},
			item: news.Item{ID: "u1", Title: "A & B", Body: `x < y "z"`, SourceName: "Wire", Link: "https://e.x/?a=1&b=2"},
			want: "📰 <b>A &amp; B</b>\nx &lt; y &quot;z&quot;\n<i>Wire</i> · <a href=\"https://e.x/?a=1&amp;b=2\">Read more</a>",
		},
		{
			name: "empty body omits line",
			cfg:  Config{LinkText: "Open"},
			item: news.Item{ID: "u2", Title: "T", Link: "https://e.x/2"},
			want: "📰 <b>T</b>\n<a href=\"https://e.x/2\">Open</a>",
		},
		{
			name: "source hidden",
			item: news.Item{ID: "u3", Title: "T", Body: "b", SourceName: "Wire", Link: "https://e.x/3"},
			want: "📰 <b>T</b>\nb\n<a href=\"https://e.x/3\">Read more</a>",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := fixed(tt.cfg).Format(tt.item)
			if diff := cmp.Diff(tt.want, got.Text); diff != "" {
				t.Fatalf("text mismatch (-want +got):\n%s", diff)
			}
			if got.ItemID != tt.item.ID || got.ParseMode != transport.ParseModeHTML {
				t.Fatalf("unexpected message meta: %+v", got)
			}
			if got.Caption != "" || got.PhotoURL != "" {
				t.Fatalf("caption set without image: %+v", got)
			}
		})
	}
}

func TestFormatLengthCap(t *testing.T) {
	t.Parallel()
	link := "https://example.com/a"
	it := news.Item{ID: link, Title: "Big story", Body: strings.Repeat("word ", 3000), Link: link}
	got := fixed(Config{}).Format(it).Text

	if n := utf8.RuneCountInString(got); n > DefaultLimit {
		t.Fatalf("length = %d, want <= %d", n, DefaultLimit)
	}
	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("want 3 lines, got %d", len(lines))
	}
	if lines[0] != "📰 <b>Big story</b>" {
		t.Fatalf("header line changed: %q", lines[0])
	}
	if !strings.HasSuffix(lines[1], ellipsis) {
		t.Fatalf("body not marked as truncated: ...%q", lines[1][len(lines[1])-20:])
	}
	if lines[2] != `<a href="https://example.com/a">Read more</a>` {
		t.Fatalf("link line changed: %q", lines[2])
	}
}

func TestFormatNeverSplitsEntity(t *testing.T) {
	t.Parallel()
	it := news.Item{ID: "u", Title: "T", Body: strings.Repeat("&", 500), Link: "https://e.x"}
	for limit := 60; limit < 90; limit++ {
		got := fixed(Config{Limit: limit}).Format(it).Text
		if n := utf8.RuneCountInString(got); n > limit {
			t.Fatalf("limit %d: length %d", limit, n)
		}
		body := strings.Split(got, "\n")[1]
		body = strings.TrimSuffix(body, ellipsis)
		if rest := strings.ReplaceAll(body, "&amp;", ""); rest != "" {
			t.Fatalf("limit %d: partial entity in body %q", limit, body)
		}
	}
}

func TestFormatTitleLastResort(t *testing.T) {
	t.Parallel()
	it := news.Item{ID: "u", Title: strings.Repeat("t", 500), Body: "body", Link: "https://e.x/l"}
	got := fixed(Config{Limit: 120}).Format(it).Text

	if n := utf8.RuneCountInString(got); n > 120 {
		t.Fatalf("length = %d", n)
	}
	if strings.Contains(got, "body") {
		t.Fatalf("body should be dropped before the title is cut: %q", got)
	}
	if !strings.Contains(got, ellipsis+"</b>") {
		t.Fatalf("title not truncated: %q", got)
	}
	if !strings.HasSuffix(got, `<a href="https://e.x/l">Read more</a>`) {
		t.Fatalf("link missing: %q", got)
	}
}

func TestFormatCaption(t *testing.T) {
	t.Parallel()
	it := news.Item{ID: "u", Title: "T", Body: strings.Repeat("b", 2000), Link: "https://e.x", ImageURL: "https://e.x/i.jpg"}
	got := fixed(Config{}).Format(it)
	if got.PhotoURL != it.ImageURL {
		t.Fatalf("photo url = %q", got.PhotoURL)
	}
	if n := utf8.RuneCountInString(got.Caption); n > DefaultCaptionLimit {
		t.Fatalf("caption length = %d", n)
	}
	if utf8.RuneCountInString(got.Text) <= utf8.RuneCountInString(got.Caption) {
		t.Fatal("text should keep more of the body than the caption")
	}
}

func TestFormatMarkdownV2(t *testing.T) {
	t.Parallel()
	f := fixed(Config{ParseMode: transport.ParseModeMarkdown})
	got := f.Format(news.Item{ID: "u", Title: "v1.2 (beta)!", Body: "a_b", Link: "https://e.x/(x)"})
	want := "📰 *v1\\.2 \\(beta\\)\\!*\na\\_b\n[Read more](https://e.x/(x\\))"
	if diff := cmp.Diff(want, got.Text); diff != "" {
		t.Fatalf("markdown mismatch (-want +got):\n%s", diff)
	}
	if got.ParseMode != transport.ParseModeMarkdown {
		t.Fatalf("parse mode = %q", got.ParseMode)
	}
}

func TestFormatEscapesHeader(t *testing.T) {
	t.Parallel()
	it := news.Item{ID: "u", Title: "T", Link: "https://e.com"}
	tests := []struct {
		mode string
		want string
	}{
		{transport.ParseModeHTML, "Breaking! &lt;Top&gt; &amp; (live) <b>T</b>\n<a href=\"https://e.com\">Read more</a>"},
		{transport.ParseModeMarkdown, "Breaking\\! <Top\\> & \\(live\\) *T*\n[Read more](https://e.com)"},
	}
	for _, tt := range tests {
		t.Run(tt.mode, func(t *testing.T) {
			t.Parallel()
			f := New(Config{Headers: []string{"Breaking! <Top> & (live)"}, ParseMode: tt.mode}, FixedPicker(0))
			if diff := cmp.Diff(tt.want, f.Format(it).Text); diff != "" {
				t.Fatalf("header not escaped (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSeededPickerDeterministic(t *testing.T) {
	t.Parallel()
	headers := []string{"a", "b", "c", "d"}
	run := func() []string {
		f := New(Config{Headers: headers}, SeededPicker(42))
		var out []string
		for i := 0; i < 16; i++ {
			out = append(out, strings.Fields(f.Format(news.Item{Title: "t"}).Text)[0])
		}
		return out
	}
	if diff := cmp.Diff(run(), run()); diff != "" {
		t.Fatalf("seeded picker not reproducible (-first +second):\n%s", diff)
	}
}

func TestPickers(t *testing.T) {
	t.Parallel()
	if got := FixedPicker(9)(3); got != 2 {
		t.Fatalf("FixedPicker clamp = %d", got)
	}
	rr := RoundRobinPicker()
	var got []int
	for i := 0; i < 5; i++ {
		got = append(got, rr(3))
	}
	if diff := cmp.Diff([]int{0, 1, 2, 0, 1}, got); diff != "" {
		t.Fatalf("round robin (-want +got):\n%s", diff)
	}
	r := RandomPicker()
	for i := 0; i < 50; i++ {
		if v := r(4); v < 0 || v >= 4 {
			t.Fatalf("random picker out of range: %d", v)
		}
	}
}
