package ports

import "time"

// Document is one unit of text handed to the matcher: a post pulled from a
// timeline, a line of a JSONL feed, or a snapshot of a page.
type Document struct {
	ID            string    `json:"id"`  // stable identity used for dedup (usually the URL)
	URL           string    `json:"url"` // permalink, may equal ID
	Text          string    `json:"text"`
	Author        string    `json:"author_name,omitempty"`
	Handle        string    `json:"author_handle,omitempty"`
	Lang          string    `json:"lang,omitempty"`
	PublishedAt   time.Time `json:"published_at,omitzero"`
	MentionedURLs []string  `json:"mentioned_urls,omitempty"`
	MediaType     string    `json:"media_type,omitempty"` // "Video", "Image", "No media"
	ImageURLs     []string  `json:"images_urls,omitempty"`
	IsRetweet     bool      `json:"is_retweet,omitempty"`
	IsPinned      bool      `json:"is_pinned,omitempty"`
	Replies       int       `json:"num_reply,omitempty"`
	Reposts       int       `json:"num_retweet,omitempty"`
	Likes         int       `json:"num_like,omitempty"`
	Source        string    `json:"source,omitempty"` // "feed", "html", "cli"
}

// Key returns the dedup identity: ID, falling back to URL.
func (d *Document) Key() string {
	if d.ID != "" {
		return d.ID
	}
	return d.URL
}

// DocumentSource delivers documents as they become available.
// Implementations call onDocument from their own goroutine, one document at a
// time. Only one Start should be active per source.
type DocumentSource interface {
	// Start begins delivering documents. Returns once the source is ready.
	Start(onDocument func(Document)) error

	// Stop terminates delivery and waits for the delivery goroutine to
	// exit. Safe to call multiple times.
	Stop()
}
