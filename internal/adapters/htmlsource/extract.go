// Package htmlsource extracts documents from timeline HTML: pages saved by a
// browser, or fetched over HTTP. Each post is an article[data-testid=tweet]
// element; fields are read from the same data-testid hooks a scraper uses.
package htmlsource

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
)

// DefaultBase resolves relative permalinks in saved pages.
const DefaultBase = "https://x.com"

// maxPageBytes caps a fetched page.
const maxPageBytes = 16 << 20

var countRe = regexp.MustCompile(`\d[\d,]*`)

// Extract parses every post in an HTML page. base resolves relative links;
// empty means DefaultBase. Posts without text are skipped.
func Extract(r io.Reader, base string) ([]ports.Document, error) {
	if base == "" {
		base = DefaultBase
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return nil, errors.Wrapf(err, "parse base %q", base)
	}

	page, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "parse html")
	}

	var docs []ports.Document
	page.Find(`article[data-testid="tweet"]`).Each(func(_ int, s *goquery.Selection) {
		doc := extractPost(s, baseURL)
		if strings.TrimSpace(doc.Text) == "" {
			return
		}
		docs = append(docs, doc)
	})
	return docs, nil
}

// Fetch downloads a page and extracts its posts. Links resolve against the
// page URL.
func Fetch(ctx context.Context, client *http.Client, pageURL string) ([]ports.Document, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "text/html")

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "fetch %s", pageURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("fetch %s: %s", pageURL, resp.Status)
	}
	return Extract(io.LimitReader(resp.Body, maxPageBytes), pageURL)
}

func extractPost(s *goquery.Selection, base *url.URL) ports.Document {
	textEl := s.Find(`div[data-testid="tweetText"]`).First()
	lang, _ := textEl.Attr("lang")

	doc := ports.Document{
		Text:   strings.TrimSpace(textEl.Text()),
		Lang:   lang,
		Source: "html",
	}
	doc.Author, doc.Handle = authorDetails(s)

	if dt, ok := s.Find("time[datetime]").First().Attr("datetime"); ok {
		if t, err := time.Parse(time.RFC3339Nano, dt); err == nil {
			doc.PublishedAt = t
		}
	}

	if href, ok := s.Find(`a[href*="/status/"]`).First().Attr("href"); ok {
		doc.URL = resolve(base, href)
		doc.ID = doc.URL
	}

	s.Find(`a[href*="http"]`).Each(func(_ int, a *goquery.Selection) {
		if href, ok := a.Attr("href"); ok {
			doc.MentionedURLs = append(doc.MentionedURLs, href)
		}
	})

	switch {
	case s.Find(`div[data-testid="videoPlayer"]`).Length() > 0:
		doc.MediaType = "Video"
	case s.Find(`div[data-testid="tweetPhoto"]`).Length() > 0:
		doc.MediaType = "Image"
		s.Find(`div[data-testid="tweetPhoto"] img`).Each(func(_ int, img *goquery.Selection) {
			if src, ok := img.Attr("src"); ok {
				doc.ImageURLs = append(doc.ImageURLs, src)
			}
		})
	default:
		doc.MediaType = "No media"
	}

	social := s.Find(`[data-testid="socialContext"]`).Text()
	doc.IsRetweet = containsFold(social, "reposted") || containsFold(social, "retweeted")
	doc.IsPinned = containsFold(social, "pinned")

	doc.Replies = ariaCount(s, "reply")
	doc.Reposts = ariaCount(s, "retweet")
	doc.Likes = ariaCount(s, "like")
	return doc
}

// authorDetails reads the display name and @handle from the User-Name block.
func authorDetails(s *goquery.Selection) (name, handle string) {
	s.Find(`div[data-testid="User-Name"] span`).EachWithBreak(func(_ int, span *goquery.Selection) bool {
		// Only leaf spans carry text of their own
		if span.Children().Length() > 0 {
			return true
		}
		text := strings.TrimSpace(span.Text())
		switch {
		case text == "" || text == "·":
		case strings.HasPrefix(text, "@"):
			if handle == "" {
				handle = text
			}
		case name == "":
			name = text
		}
		return handle == ""
	})
	return name, handle
}

// ariaCount reads the first number of an engagement button's aria-label,
// e.g. "1,204 Likes. Like". Missing buttons count as zero.
func ariaCount(s *goquery.Selection, testid string) int {
	label, ok := s.Find(`[data-testid="` + testid + `"]`).First().Attr("aria-label")
	if !ok {
		return 0
	}
	m := countRe.FindString(label)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.ReplaceAll(m, ",", ""))
	if err != nil {
		return 0
	}
	return n
}

func resolve(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), substr)
}
