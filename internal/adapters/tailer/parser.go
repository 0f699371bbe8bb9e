// Package tailer provides tolerant parsing of JSONL document feeds.
//
// Feed lines come from scrapers and exporters that do not agree on a schema:
// a scraper row carries "text" and "author_handle", an API export carries
// "full_text" and a nested "user" object. This parser uses map[string]any
// extraction with multi-path field resolution to survive those differences.
// It never crashes on unexpected input.
package tailer

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
)

// ParseLine parses a single JSONL line into a Document.
// Returns nil, nil for empty lines and for records without any text.
// Returns nil, error for malformed JSON.
// Unknown fields are silently ignored. Missing fields get zero values.
func ParseLine(line []byte) (*ports.Document, error) {
	line = trimBOM(line)
	if len(line) == 0 {
		return nil, nil
	}

	var raw map[string]any
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, errors.Wrap(err, "decode feed line")
	}

	doc := &ports.Document{
		ID:            getStringAny(raw, "id", "id_str", "url", "link"),
		URL:           getStringAny(raw, "url", "link", "permalink"),
		Text:          getStringAny(raw, "text", "full_text", "content", "body"),
		Author:        getStringAny(raw, "author_name", "author", "name"),
		Handle:        getStringAny(raw, "author_handle", "handle", "screen_name"),
		Lang:          getString(raw, "lang"),
		PublishedAt:   getTimeAny(raw, "date", "published_at", "created_at", "timestamp"),
		MentionedURLs: getStrings(raw, "mentioned_urls"),
		MediaType:     getString(raw, "media_type"),
		ImageURLs:     getStrings(raw, "images_urls"),
		IsRetweet:     getBool(raw, "is_retweet"),
		IsPinned:      getBool(raw, "is_pinned"),
		Replies:       getCountAny(raw, "num_reply", "reply_count", "replies"),
		Reposts:       getCountAny(raw, "num_retweet", "retweet_count", "reposts"),
		Likes:         getCountAny(raw, "num_like", "favorite_count", "likes"),
		Source:        "feed",
	}

	// API exports nest the author
	if user := getMap(raw, "user"); user != nil {
		if doc.Author == "" {
			doc.Author = getString(user, "name")
		}
		if doc.Handle == "" {
			doc.Handle = getString(user, "screen_name")
		}
	}
	if doc.Handle != "" && !strings.HasPrefix(doc.Handle, "@") {
		doc.Handle = "@" + doc.Handle
	}

	if strings.TrimSpace(doc.Text) == "" {
		return nil, nil
	}
	return doc, nil
}

// getString safely extracts a string. Returns "" if missing or wrong type.
func getString(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// getStringAny tries multiple keys and returns the first non-empty string found.
// Numeric IDs are rendered without exponent.
func getStringAny(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if v != "" {
				return v
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// getStrings extracts a list of strings, skipping non-string elements.
func getStrings(m map[string]any, key string) []string {
	arr, ok := m[key].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, v := range arr {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// getMap safely extracts a nested map. Returns nil if missing or wrong type.
func getMap(m map[string]any, key string) map[string]any {
	if v, ok := m[key].(map[string]any); ok {
		return v
	}
	return nil
}

// getBool safely extracts a boolean. Accepts "true"/"false" strings.
func getBool(m map[string]any, key string) bool {
	switch v := m[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// getCountAny extracts an engagement count from the first key present.
// Counts may be JSON numbers or display strings such as "1,204" or "3.4K".
func getCountAny(m map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := m[k].(type) {
		case float64:
			return int(v)
		case string:
			if n, ok := ParseCount(v); ok {
				return n
			}
		}
	}
	return 0
}

// ParseCount parses a displayed count: "12", "1,204", "3.4K", "2M".
func ParseCount(s string) (int, bool) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
	if s == "" {
		return 0, false
	}
	mult := 1.0
	switch s[len(s)-1] {
	case 'K', 'k':
		mult = 1e3
		s = s[:len(s)-1]
	case 'M', 'm':
		mult = 1e6
		s = s[:len(s)-1]
	case 'B', 'b':
		mult = 1e9
		s = s[:len(s)-1]
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || f < 0 {
		return 0, false
	}
	return int(f * mult), true
}

// getTimeAny parses the first parseable timestamp among keys.
// Returns zero time on failure.
func getTimeAny(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		if t := ParseTime(getString(m, k)); !t.IsZero() {
			return t
		}
	}
	return time.Time{}
}

// ParseTime parses the timestamp layouts seen in feeds. Returns zero time on failure.
func ParseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05.000Z",
		time.RubyDate, // Mon Jan 02 15:04:05 -0700 2006, API created_at
		"2006-01-02 15:04:05",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// trimBOM strips UTF-8 BOM if present.
func trimBOM(data []byte) []byte {
	if len(data) >= 3 && data[0] == 0xEF && data[1] == 0xBB && data[2] == 0xBF {
		data = data[3:]
	}
	return data
}
