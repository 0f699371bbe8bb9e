// Package socket implements a JSON-over-Unix-socket protocol for the kwatch daemon.
// The protocol uses newline-delimited JSON: each message is one JSON object + \n.
package socket

import (
	"crypto/sha256"
	"fmt"
	"path/filepath"

	"github.com/corey/kwatch/internal/ports"
)

// SocketPath returns the Unix socket path for a given project root.
// Format: /tmp/kwatch-{first12hex}.sock
func SocketPath(projectRoot string) string {
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		abs = projectRoot
	}
	h := sha256.Sum256([]byte(abs))
	return fmt.Sprintf("/tmp/kwatch-%x.sock", h[:6])
}

// Method names for the protocol.
const (
	MethodMatch    = "match"
	MethodHealth   = "health"
	MethodHits     = "hits"
	MethodReload   = "reload"
	MethodWipe     = "wipe"
	MethodShutdown = "shutdown"
)

// Request is the wire format for client-to-server messages.
type Request struct {
	ID     string `json:"id"`
	Method string `json:"method"`
	Params any    `json:"params,omitempty"`
}

// Response is the wire format for server-to-client messages.
type Response struct {
	ID     string `json:"id"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

// MatchParams is the params for a match request.
type MatchParams struct {
	Text string `json:"text"`
	Mode string `json:"mode,omitempty"` // "first" (default) or "all"
}

// MatchResult is the result of a match request.
type MatchResult struct {
	Matched  bool        `json:"matched"`
	Keywords []string    `json:"keywords"`
	Matches  []MatchSpan `json:"matches"`
	Mode     string      `json:"mode"`
	Elapsed  string      `json:"elapsed"`
}

// MatchSpan is one accepted keyword occurrence. Offsets count runes.
type MatchSpan struct {
	Word  string `json:"word"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// HealthResult is the result of a health request.
type HealthResult struct {
	Status     string `json:"status"`
	Dictionary string `json:"dictionary"`
	Words      int    `json:"words"`
	Nodes      int    `json:"nodes"`
	LoadedAt   int64  `json:"loaded_at"`
	HitCount   int    `json:"hit_count"`
	Processed  int64  `json:"processed"`
	ScanMode   string `json:"scan_mode"`
	FeedFile   string `json:"feed_file,omitempty"`
	Uptime     string `json:"uptime"`
}

// HitsParams is the params for a hits request.
type HitsParams struct {
	Limit int `json:"limit,omitempty"`
}

// HitsResult is the result of a hits request.
type HitsResult struct {
	Hits  []*ports.Hit `json:"hits"`
	Count int          `json:"count"`
	Total int          `json:"total"`
}

// ReloadResult is the result of a reload request.
type ReloadResult struct {
	Dictionary string `json:"dictionary"`
	Words      int    `json:"words"`
	Nodes      int    `json:"nodes"`
	Skipped    int    `json:"skipped"`
	ElapsedMs  int64  `json:"elapsed_ms"`
}
