// Package news holds the article type shared by the fetch, format and
// dispatch stages.
package news

// Item is a single article candidate returned by a provider.
// ID is the provider URL or an equivalent unique key; it is the dedup identity.
type Item struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Body       string `json:"body,omitempty"`
	SourceName string `json:"source,omitempty"`
	Link       string `json:"link"`
	ImageURL   string `json:"image,omitempty"`
}
