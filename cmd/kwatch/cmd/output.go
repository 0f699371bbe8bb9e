package cmd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/corey/kwatch/internal/ports"
)

// ANSI color codes for terminal output.
const (
	colorReset   = "\033[0m"
	colorBold    = "\033[1m"
	colorCyan    = "\033[36m"
	colorMagenta = "\033[35m"
	colorGreen   = "\033[32m"
	colorYellow  = "\033[33m"
	colorGray    = "\033[90m"
)

// colorEnabled is resolved once per run from the TTY and NO_COLOR.
var colorEnabled = true

// paint wraps s in an ANSI code when color is enabled.
func paint(code, s string) string {
	if !colorEnabled {
		return s
	}
	return code + s + colorReset
}

// formatMatch formats a MatchResult for terminal display.
//
//	⚡ 2 keywords │ all │ 4.2µs
//	  Ethereum, ETH
//	  Ethereum is up, buy ETH now
func formatMatch(result *socket.MatchResult, text string) string {
	var sb strings.Builder
	if !result.Matched {
		sb.WriteString(fmt.Sprintf("%s │ %s │ %s\n", paint(colorBold, "⚡ no match"), result.Mode, result.Elapsed))
		return sb.String()
	}

	sb.WriteString(fmt.Sprintf("%s │ %s │ %s\n",
		paint(colorBold, fmt.Sprintf("⚡ %d %s", len(result.Keywords), plural(len(result.Keywords), "keyword"))),
		result.Mode, result.Elapsed))
	sb.WriteString("  " + paint(colorGreen, strings.Join(result.Keywords, ", ")) + "\n")
	sb.WriteString("  " + highlight(text, result.Matches) + "\n")
	return sb.String()
}

// highlight marks each span of text. Spans are rune offsets sorted by end;
// overlapping spans are merged into the earlier one.
func highlight(text string, spans []socket.MatchSpan) string {
	runes := []rune(text)
	var sb strings.Builder
	pos := 0
	for _, sp := range spans {
		if sp.Start < pos || sp.End > len(runes) || sp.Start >= sp.End {
			continue
		}
		sb.WriteString(string(runes[pos:sp.Start]))
		sb.WriteString(paint(colorYellow+colorBold, string(runes[sp.Start:sp.End])))
		pos = sp.End
	}
	sb.WriteString(string(runes[pos:]))
	return sb.String()
}

// formatHealth formats a HealthResult for terminal display.
func formatHealth(h *socket.HealthResult) string {
	var sb strings.Builder
	sb.WriteString(paint(colorBold, "⚡ kwatch daemon") + "\n")
	sb.WriteString(fmt.Sprintf("  Status:      %s\n", paint(colorGreen, h.Status)))
	sb.WriteString(fmt.Sprintf("  Dictionary:  %s\n", h.Dictionary))
	sb.WriteString(fmt.Sprintf("  Words:       %d (%d nodes)\n", h.Words, h.Nodes))
	if h.LoadedAt > 0 {
		sb.WriteString(fmt.Sprintf("  Loaded:      %s\n", time.Unix(h.LoadedAt, 0).Format(time.DateTime)))
	}
	sb.WriteString(fmt.Sprintf("  Scan mode:   %s\n", h.ScanMode))
	sb.WriteString(fmt.Sprintf("  Processed:   %d\n", h.Processed))
	sb.WriteString(fmt.Sprintf("  Hits:        %d\n", h.HitCount))
	if h.FeedFile != "" {
		sb.WriteString(fmt.Sprintf("  Feed:        %s\n", h.FeedFile))
	}
	sb.WriteString(fmt.Sprintf("  Uptime:      %s\n", h.Uptime))
	return sb.String()
}

// formatHit renders one hit as a two- or three-line block.
//
//	2024-03-01 12:30  @satoshi  Ethereum, ETH
//	  Ethereum is up, buy ETH now
//	  https://x.com/satoshi/status/1
func formatHit(hit *ports.Hit) string {
	var sb strings.Builder
	doc := hit.Document

	when := hit.MatchedAt
	if !doc.PublishedAt.IsZero() {
		when = doc.PublishedAt
	}
	sb.WriteString("  " + paint(colorGray, when.Local().Format("2006-01-02 15:04")))
	if who := doc.Handle; who != "" || doc.Author != "" {
		if who == "" {
			who = doc.Author
		}
		sb.WriteString("  " + paint(colorCyan, who))
	}
	sb.WriteString("  " + paint(colorGreen, strings.Join(hit.Keywords, ", ")) + "\n")

	text := strings.Join(strings.Fields(doc.Text), " ")
	sb.WriteString("    " + truncate(text, 160) + "\n")
	if doc.URL != "" {
		sb.WriteString("    " + paint(colorMagenta, doc.URL) + "\n")
	}
	return sb.String()
}

// formatHits formats a HitsResult for terminal display.
func formatHits(result *socket.HitsResult) string {
	var sb strings.Builder
	sb.WriteString(paint(colorBold, fmt.Sprintf("⚡ %d of %d %s", result.Count, result.Total, plural(result.Total, "hit"))) + "\n")
	for _, hit := range result.Hits {
		sb.WriteString(formatHit(hit))
	}
	return sb.String()
}

// formatReload formats a ReloadResult for terminal display.
func formatReload(r *socket.ReloadResult) string {
	s := fmt.Sprintf("%s │ %d words │ %d nodes │ %dms\n",
		paint(colorBold, "⚡ reloaded "+r.Dictionary), r.Words, r.Nodes, r.ElapsedMs)
	if r.Skipped > 0 {
		s += paint(colorYellow, fmt.Sprintf("  %d blank %s skipped", r.Skipped, plural(r.Skipped, "entry"))) + "\n"
	}
	return s
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	if strings.HasSuffix(word, "y") {
		return strings.TrimSuffix(word, "y") + "ies"
	}
	return word + "s"
}

// truncate shortens s to max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}

// maskURL keeps scheme and host; hook paths carry the bot token.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "(set)"
	}
	return u.Scheme + "://" + u.Host + "/…"
}
