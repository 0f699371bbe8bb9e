package tailer

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
)

// maxLineBytes caps a single feed line. Longer lines are skipped.
const maxLineBytes = 512 * 1024

// maxSeen bounds the in-memory dedup set.
const maxSeen = 10000

// Tailer watches a feed directory of JSONL files and emits parsed documents.
//
// It finds the most recent .jsonl file, seeks to the end (skipping old
// history unless Replay is set), and polls for new lines. When a newer feed
// file appears (newer mtime), it switches automatically and reads it from
// the beginning.
//
// Thread-safe: Start/Stop can be called from any goroutine.
type Tailer struct {
	dir          string
	pollInterval time.Duration
	replay       bool

	callback func(ports.Document) // called for each parsed document
	onError  func(error)          // called for parse errors (optional)

	// State
	currentFile string
	offset      int64
	seen        map[string]bool // document key dedup set

	mu      sync.Mutex
	running bool
	done    chan struct{}
	started chan struct{} // closed after initial file discovery
	wg      sync.WaitGroup
}

// Config holds parameters for creating a Tailer.
type Config struct {
	// Dir is the feed directory holding *.jsonl files.
	Dir string

	// PollInterval is how often to check for new lines. Default: 500ms.
	PollInterval time.Duration

	// Replay reads the current feed file from the beginning instead of
	// seeking to its end.
	Replay bool

	// OnError is called when a JSONL line fails to parse. Optional.
	OnError func(error)
}

var _ ports.DocumentSource = (*Tailer)(nil)

// New creates a Tailer. Does not start tailing until Start() is called.
func New(cfg Config) *Tailer {
	interval := cfg.PollInterval
	if interval == 0 {
		interval = 500 * time.Millisecond
	}

	return &Tailer{
		dir:          cfg.Dir,
		pollInterval: interval,
		replay:       cfg.Replay,
		onError:      cfg.OnError,
		seen:         make(map[string]bool),
		done:         make(chan struct{}),
		started:      make(chan struct{}),
	}
}

// Start begins the tailing loop in a background goroutine. onDocument is
// called from that goroutine, one document at a time.
func (t *Tailer) Start(onDocument func(ports.Document)) error {
	if onDocument == nil {
		return errors.New("tailer: nil callback")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.running {
		return errors.New("tailer: already started")
	}
	select {
	case <-t.done:
		return errors.New("tailer: stopped")
	default:
	}
	t.running = true
	t.callback = onDocument

	t.wg.Add(1)
	go t.loop()
	return nil
}

// Stop terminates the tailing loop and waits for it to finish.
// Safe to call multiple times.
func (t *Tailer) Stop() {
	t.mu.Lock()
	select {
	case <-t.done:
		// Already stopped
		t.mu.Unlock()
		return
	default:
		close(t.done)
	}
	t.mu.Unlock()
	t.wg.Wait()
}

// Dir returns the directory being watched.
func (t *Tailer) Dir() string {
	return t.dir
}

// CurrentFile returns the JSONL file currently being tailed.
func (t *Tailer) CurrentFile() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.currentFile
}

// Started returns a channel that closes after initial file discovery completes.
// Useful for tests that need to wait for the tailer to be ready before writing.
func (t *Tailer) Started() <-chan struct{} {
	return t.started
}

func (t *Tailer) loop() {
	defer t.wg.Done()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	t.switchToLatestFile(!t.replay)
	close(t.started)
	if t.replay {
		t.readNewLines()
	}

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
			t.checkForNewerFile()
			t.readNewLines()
		}
	}
}

// switchToLatestFile finds the most recent .jsonl file and optionally seeks to end.
func (t *Tailer) switchToLatestFile(seekToEnd bool) {
	latest := t.findLatestJSONL()
	if latest == "" {
		return
	}

	t.mu.Lock()
	t.currentFile = latest
	t.mu.Unlock()

	t.offset = 0
	if seekToEnd {
		if info, err := os.Stat(latest); err == nil {
			t.offset = info.Size()
		}
	}
}

// checkForNewerFile detects a newer feed file (scraper rotated its output).
func (t *Tailer) checkForNewerFile() {
	latest := t.findLatestJSONL()
	if latest == "" {
		return
	}

	t.mu.Lock()
	changed := latest != t.currentFile
	if changed {
		t.currentFile = latest
	}
	t.mu.Unlock()

	if changed {
		// New feed file, start from beginning
		t.offset = 0
	}
}

// readNewLines reads any new content appended since last read.
func (t *Tailer) readNewLines() {
	t.mu.Lock()
	path := t.currentFile
	t.mu.Unlock()

	if path == "" {
		return
	}

	f, err := os.Open(path)
	if err != nil {
		return // file gone or locked, skip this cycle
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return
	}
	if info.Size() < t.offset {
		// File was truncated, start from beginning
		t.offset = 0
	}
	if info.Size() == t.offset {
		return // no new data
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}

	n, _ := readLines(f, func(doc *ports.Document) {
		if key := doc.Key(); key != "" {
			if t.seen[key] {
				return
			}
			t.seen[key] = true
		}
		t.callback(*doc)
	}, t.onError)
	t.offset += n

	// Bound dedup set to prevent unbounded growth
	if len(t.seen) > maxSeen {
		t.seen = make(map[string]bool)
	}
}

// readLines decodes complete lines from r and returns the bytes consumed.
// A trailing line without a newline is left unconsumed so a writer caught
// mid-line is picked up on the next poll.
// Uses ReadBytes('\n') to track exact byte offsets (bufio.Scanner reads
// ahead and corrupts file position tracking).
func readLines(r io.Reader, emit func(*ports.Document), onError func(error)) (int64, error) {
	reader := bufio.NewReaderSize(r, 256*1024)
	var consumed int64
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			if err == io.EOF {
				return consumed, nil
			}
			return consumed, errors.Wrap(err, "read feed")
		}
		consumed += int64(len(line))

		line = trimNewline(line)
		if len(line) == 0 || len(line) > maxLineBytes {
			continue
		}

		doc, parseErr := ParseLine(line)
		if parseErr != nil {
			if onError != nil {
				onError(parseErr)
			}
			continue
		}
		if doc != nil {
			emit(doc)
		}
	}
}

// ReadAll decodes every document in a JSONL stream, including a final line
// without a trailing newline. Duplicate keys are emitted once.
func ReadAll(r io.Reader, onDocument func(ports.Document), onError func(error)) error {
	seen := make(map[string]bool)
	emit := func(doc *ports.Document) {
		if key := doc.Key(); key != "" {
			if seen[key] {
				return
			}
			seen[key] = true
		}
		onDocument(*doc)
	}

	// Terminate the last line so readLines consumes it.
	_, err := readLines(io.MultiReader(r, strings.NewReader("\n")), emit, onError)
	return err
}

// trimNewline removes trailing \n and \r\n from a line.
func trimNewline(line []byte) []byte {
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
	}
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line
}

// findLatestJSONL returns the most recently modified .jsonl file in the feed dir.
func (t *Tailer) findLatestJSONL() string {
	entries, err := os.ReadDir(t.dir)
	if err != nil {
		return ""
	}

	type fileWithTime struct {
		path    string
		modTime time.Time
	}

	var jsonlFiles []fileWithTime
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".jsonl") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		jsonlFiles = append(jsonlFiles, fileWithTime{
			path:    filepath.Join(t.dir, entry.Name()),
			modTime: info.ModTime(),
		})
	}

	if len(jsonlFiles) == 0 {
		return ""
	}

	// Most recent first; name breaks ties for files written in the same tick.
	sort.Slice(jsonlFiles, func(i, j int) bool {
		if !jsonlFiles[i].modTime.Equal(jsonlFiles[j].modTime) {
			return jsonlFiles[i].modTime.After(jsonlFiles[j].modTime)
		}
		return jsonlFiles[i].path > jsonlFiles[j].path
	})

	return jsonlFiles[0].path
}
