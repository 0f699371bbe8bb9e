package app

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/corey/kwatch/internal/domain/automaton"
	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeNotifier records delivered hits.
type fakeNotifier struct {
	mu   sync.Mutex
	hits []*ports.Hit
	err  error
}

func (f *fakeNotifier) Notify(_ context.Context, hit *ports.Hit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, hit)
	return f.err
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hits)
}

// fakeArchiver records archived hits.
type fakeArchiver struct {
	mu   sync.Mutex
	hits []*ports.Hit
	err  error
}

func (f *fakeArchiver) Append(hit *ports.Hit) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits = append(f.hits, hit)
	return f.err
}

func (f *fakeArchiver) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.hits)
}

// writeDict writes a plain-text dictionary into root and returns its path.
func writeDict(t *testing.T, root string, words string) string {
	t.Helper()
	path := filepath.Join(root, "keywords.txt")
	require.NoError(t, os.WriteFile(path, []byte(words), 0644))
	return path
}

// newTestApp creates an App over a temp project with a small text dictionary,
// no HTTP server, and fake notifier/archiver.
func newTestApp(t *testing.T, mutate func(*Config)) (*App, *fakeNotifier, *fakeArchiver) {
	t.Helper()
	root := t.TempDir()
	cfg := Config{
		ProjectRoot: root,
		Dictionary:  writeDict(t, root, "ETH\nEthereum\nBTC\nAI\n"),
		HTTPPort:    -1,
		FeedDir:     disabled,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := New(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { a.Stop() })

	n, ar := &fakeNotifier{}, &fakeArchiver{}
	a.Notifier = n
	a.Archiver = ar
	return a, n, ar
}

// matched runs Check in the configured mode and reports whether it matched.
func matched(t *testing.T, a *App, text string) bool {
	t.Helper()
	res, err := a.Check(text, "")
	assert.NoError(t, err)
	return res.Matched
}

// countHits returns the number of stored hits.
func countHits(t *testing.T, a *App) int {
	t.Helper()
	n, err := a.Store.HitCount()
	require.NoError(t, err)
	return n
}

// =============================================================================
// Construction: dictionary is compiled before anything else is opened
// =============================================================================

func TestNew_RequiresProjectRoot(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)
}

func TestNew_EmbeddedDictionary(t *testing.T) {
	a, _, _ := newTestApp(t, func(c *Config) { c.Dictionary = "" })

	h := a.Health()
	assert.Equal(t, embeddedSource, h.Dictionary)
	assert.Equal(t, 38, h.Words, "BNB and XRP share name and symbol")
	assert.True(t, matched(t, a, "Ethereum is up, buy ETH now"))
}

func TestNew_MissingDictionary(t *testing.T) {
	root := t.TempDir()
	_, err := New(Config{ProjectRoot: root, Dictionary: filepath.Join(root, "nope.txt"), HTTPPort: -1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "load dictionary")

	_, err = os.Stat(NewPaths(root).DB)
	assert.True(t, os.IsNotExist(err), "store must not be created without a matcher")
}

func TestNew_EmptyDictionary(t *testing.T) {
	root := t.TempDir()
	_, err := New(Config{ProjectRoot: root, Dictionary: writeDict(t, root, "# nothing\n\n"), HTTPPort: -1}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dictionary is empty")
}

func TestNew_ExtraKeywords(t *testing.T) {
	a, _, _ := newTestApp(t, func(c *Config) { c.ExtraKeywords = []string{"DOGE", "ETH"} })

	assert.Equal(t, 5, a.Health().Words)
	assert.True(t, matched(t, a, "much DOGE"))
}

func TestNew_DisabledOutputs(t *testing.T) {
	root := t.TempDir()
	a, err := New(Config{
		ProjectRoot: root,
		Dictionary:  writeDict(t, root, "ETH\n"),
		HTTPPort:    -1,
		FeedDir:     disabled,
		ArchiveDir:  disabled,
	}, nil)
	require.NoError(t, err)
	defer a.Stop()

	assert.Nil(t, a.Feed)
	assert.Nil(t, a.Archiver)
	assert.Nil(t, a.Notifier, "no webhook configured")
	assert.Nil(t, a.WebServer)

	hit, err := a.Process(context.Background(), ports.Document{ID: "1", Text: "buy ETH"})
	require.NoError(t, err)
	assert.NotNil(t, hit)
}

// =============================================================================
// Process: dedup, scan, persist, archive, notify
// =============================================================================

func TestProcess_HitFlow(t *testing.T) {
	a, n, ar := newTestApp(t, nil)
	ctx := context.Background()

	doc := ports.Document{ID: "https://x.com/a/status/1", Text: "Ethereum is up, buy ETH now", Source: "feed"}
	hit, err := a.Process(ctx, doc)
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, []string{"Ethereum"}, hit.Keywords, "first mode stops at the first match")
	assert.Equal(t, a.Health().Dictionary, hit.Dictionary)
	assert.False(t, hit.MatchedAt.IsZero())

	assert.Equal(t, 1, n.count())
	assert.Equal(t, 1, ar.count())

	count, err := a.Store.HitCount()
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// Same document again is a duplicate
	hit, err = a.Process(ctx, doc)
	require.NoError(t, err)
	assert.Nil(t, hit)
	assert.Equal(t, 1, n.count())
	assert.Equal(t, int64(1), a.Health().Processed)
}

func TestProcess_NoMatchMarksSeen(t *testing.T) {
	a, n, ar := newTestApp(t, nil)

	hit, err := a.Process(context.Background(), ports.Document{ID: "2", Text: "CRBTCUP and PAID"})
	require.NoError(t, err)
	assert.Nil(t, hit)

	claimed, err := a.Store.MarkSeen("2", time.Now())
	require.NoError(t, err)
	assert.False(t, claimed, "unmatched document is marked seen")
	assert.Zero(t, n.count())
	assert.Zero(t, ar.count())
}

func TestProcess_ScanModeAll(t *testing.T) {
	a, _, _ := newTestApp(t, func(c *Config) { c.ScanMode = "all" })

	hit, err := a.Process(context.Background(), ports.Document{ID: "3", Text: "Ethereum is up, buy ETH now, ETH!"})
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, []string{"Ethereum", "ETH"}, hit.Keywords)
}

func TestProcess_DeliveryFailuresNotFatal(t *testing.T) {
	a, n, ar := newTestApp(t, nil)
	n.err = errors.New("webhook gave up after 6 attempts")
	ar.err = errors.New("disk full")

	hit, err := a.Process(context.Background(), ports.Document{ID: "4", Text: "AI-driven"})
	require.NoError(t, err)
	require.NotNil(t, hit)

	assert.Equal(t, 1, countHits(t, a), "hit is persisted even when delivery fails")
}

func TestProcess_ConcurrentDuplicatesHandledOnce(t *testing.T) {
	a, n, ar := newTestApp(t, nil)
	doc := ports.Document{ID: "https://x.com/a/status/1", Text: "buy ETH now"}

	// The feed and the page poller can deliver the same post at once.
	for round := 0; round < 10; round++ {
		doc.ID = fmt.Sprintf("https://x.com/a/status/%d", round)

		const workers = 32
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			hits int
		)
		start := make(chan struct{})
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				hit, err := a.Process(context.Background(), doc)
				assert.NoError(t, err)
				if hit != nil {
					mu.Lock()
					hits++
					mu.Unlock()
				}
			}()
		}
		close(start)
		wg.Wait()
		require.Equal(t, 1, hits, "round %d", round)
	}

	assert.Equal(t, 10, n.count())
	assert.Equal(t, 10, ar.count())
	assert.Equal(t, 10, countHits(t, a))
	assert.Equal(t, int64(10), a.Health().Processed)
}

func TestProcess_MaxAgeWindow(t *testing.T) {
	a, n, _ := newTestApp(t, func(c *Config) { c.MaxAge = 24 * time.Hour })
	ctx := context.Background()
	now := time.Now()

	tests := []struct {
		name string
		doc  ports.Document
		hit  bool
	}{
		{"recent", ports.Document{ID: "recent", PublishedAt: now.Add(-time.Hour)}, true},
		{"undated", ports.Document{ID: "undated"}, true},
		{"stale", ports.Document{ID: "stale", PublishedAt: now.Add(-25 * time.Hour)}, false},
		{"future", ports.Document{ID: "future", PublishedAt: now.Add(time.Hour)}, false},
		{"pinned stale", ports.Document{ID: "pinned", PublishedAt: now.AddDate(0, -3, 0), IsPinned: true}, false},
		{"pinned recent", ports.Document{ID: "pinned-new", PublishedAt: now.Add(-time.Minute), IsPinned: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.doc.Text = "buy ETH now"
			hit, err := a.Process(ctx, tt.doc)
			require.NoError(t, err)
			assert.Equal(t, tt.hit, hit != nil)

			// Skipped documents are still marked seen
			claimed, err := a.Store.MarkSeen(tt.doc.ID, now)
			require.NoError(t, err)
			assert.False(t, claimed)
		})
	}

	assert.Equal(t, 3, n.count())
	assert.Equal(t, 3, countHits(t, a))
	assert.Equal(t, int64(3), a.Health().Processed, "out-of-window documents are not scanned")
}

func TestProcess_MaxAgeZeroDisablesWindow(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	require.Zero(t, a.Config.MaxAge)

	hit, err := a.Process(context.Background(), ports.Document{
		ID: "old", Text: "buy ETH", PublishedAt: time.Now().AddDate(-1, 0, 0),
	})
	require.NoError(t, err)
	assert.NotNil(t, hit)
}

func TestProcess_EmptyKeyIsNotDeduplicated(t *testing.T) {
	a, n, _ := newTestApp(t, nil)
	doc := ports.Document{Text: "buy BTC"}

	for i := 0; i < 2; i++ {
		hit, err := a.Process(context.Background(), doc)
		require.NoError(t, err)
		require.NotNil(t, hit)
	}
	assert.Equal(t, 2, n.count())
}

// =============================================================================
// Reload: atomic swap, failed rebuild keeps the old matcher
// =============================================================================

func TestReload_SwapsMatcher(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	before := a.Matcher()
	assert.False(t, matched(t, a, "much DOGE"))

	require.NoError(t, os.WriteFile(a.Config.Dictionary, []byte("DOGE\n  \nETH\n"), 0644))
	res, err := a.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, res.Words)
	assert.Equal(t, 1, res.Skipped)
	assert.Equal(t, a.Config.Dictionary, res.Dictionary)

	assert.NotSame(t, before, a.Matcher())
	assert.True(t, matched(t, a, "much DOGE"))
	assert.False(t, matched(t, a, "buy BTC"))
}

func TestReload_FailureKeepsMatcher(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	before := a.Matcher()

	require.NoError(t, os.WriteFile(a.Config.Dictionary, []byte("\n\n"), 0644))
	_, err := a.Reload()
	require.Error(t, err)
	assert.Same(t, before, a.Matcher())

	require.NoError(t, os.Remove(a.Config.Dictionary))
	_, err = a.Reload()
	require.Error(t, err)
	assert.Same(t, before, a.Matcher())
	assert.Equal(t, 4, a.Health().Words)
}

func TestReload_ConcurrentWithChecks(t *testing.T) {
	a, _, _ := newTestApp(t, nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				assert.True(t, matched(t, a, "buy ETH"))
			}
		}()
	}
	for i := 0; i < 10; i++ {
		_, err := a.Reload()
		require.NoError(t, err)
	}
	wg.Wait()
}

// =============================================================================
// Queries: Check, Health, Hits
// =============================================================================

func TestCheck_Modes(t *testing.T) {
	a, _, _ := newTestApp(t, nil)

	first, err := a.Check("Ethereum is up, buy ETH now", "")
	require.NoError(t, err)
	assert.True(t, first.Matched)
	assert.Equal(t, "first", first.Mode)
	assert.Equal(t, []socket.MatchSpan{{Word: "Ethereum", Start: 0, End: 8}}, first.Matches)

	all, err := a.Check("Ethereum is up, buy ETH now", "ALL")
	require.NoError(t, err)
	assert.Equal(t, []string{"Ethereum", "ETH"}, all.Keywords)
	assert.Equal(t, socket.MatchSpan{Word: "ETH", Start: 20, End: 23}, all.Matches[1])
	assert.NotEmpty(t, all.Elapsed)

	miss, err := a.Check("CRBTCUP", "all")
	require.NoError(t, err)
	assert.False(t, miss.Matched)
	assert.NotNil(t, miss.Keywords)
	assert.Empty(t, miss.Matches)

	_, err = a.Check("buy ETH", "al")
	assert.ErrorIs(t, err, automaton.ErrUnknownScanMode)
}

func TestNew_RejectsUnknownScanMode(t *testing.T) {
	root := t.TempDir()
	_, err := New(Config{
		ProjectRoot: root,
		Dictionary:  writeDict(t, root, "ETH\n"),
		ScanMode:    "every",
		HTTPPort:    -1,
		FeedDir:     disabled,
	}, nil)
	assert.ErrorIs(t, err, automaton.ErrUnknownScanMode)
	_, statErr := os.Stat(filepath.Join(root, ".kwatch", "kwatch.db"))
	assert.True(t, os.IsNotExist(statErr), "store is not created")
}

func TestHealthAndHits(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	ctx := context.Background()

	for _, doc := range []ports.Document{
		{ID: "a", Text: "buy BTC"},
		{ID: "b", Text: "nothing here"},
		{ID: "c", Text: "sell ETH"},
	} {
		_, err := a.Process(ctx, doc)
		require.NoError(t, err)
	}

	h := a.Health()
	assert.Equal(t, "ok", h.Status)
	assert.Equal(t, 2, h.HitCount)
	assert.Equal(t, int64(3), h.Processed)
	assert.Equal(t, "first", h.ScanMode)
	assert.NotZero(t, h.LoadedAt)

	res, err := a.Hits(1)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)
	assert.Equal(t, 2, res.Total)
	assert.Equal(t, "c", res.Hits[0].Document.ID, "newest first")
}

func TestHits_Empty(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	res, err := a.Hits(10)
	require.NoError(t, err)
	assert.NotNil(t, res.Hits)
	assert.Zero(t, res.Total)
}

// =============================================================================
// Daemon lifecycle: watcher, feed, pages, socket
// =============================================================================

func TestDaemon_DictionaryChangeRebuilds(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	require.NoError(t, a.Start())

	require.NoError(t, os.WriteFile(a.Config.Dictionary, []byte("ETH\nSOL\n"), 0644))
	assert.Eventually(t, func() bool {
		return matched(t, a, "SOL breaks out")
	}, 3*time.Second, 20*time.Millisecond)

	// A broken edit keeps the last good matcher
	require.NoError(t, os.WriteFile(a.Config.Dictionary, []byte(""), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.True(t, matched(t, a, "SOL breaks out"))
}

func TestDaemon_FeedToHit(t *testing.T) {
	a, n, ar := newTestApp(t, func(c *Config) {
		c.FeedDir = ""
		c.FeedPoll = 20 * time.Millisecond
	})
	require.NoError(t, a.Start())
	<-a.Feed.Started()

	feed := filepath.Join(a.Paths.FeedDir, "timeline.jsonl")
	lines := `{"id":"10","text":"buy ETH now","author_handle":"whale"}` + "\n" +
		`{"id":"11","text":"CRBTCUP"}` + "\n" +
		`{"id":"10","text":"buy ETH now"}` + "\n"
	require.NoError(t, os.WriteFile(feed, []byte(lines), 0644))

	assert.Eventually(t, func() bool {
		return a.Health().Processed == 2
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, 1, n.count())
	assert.Equal(t, 1, ar.count())
	assert.Equal(t, feed, a.Health().FeedFile)
}

func TestDaemon_SocketQueries(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	require.NoError(t, a.Start())

	client := socket.NewClient(a.Server.Addr())
	res, err := client.Match("buy ETH", "all")
	require.NoError(t, err)
	assert.Equal(t, []string{"ETH"}, res.Keywords)

	health, err := client.Health()
	require.NoError(t, err)
	assert.Equal(t, 4, health.Words)

	require.NoError(t, a.Stop())
	assert.False(t, client.Ping())
	require.NoError(t, a.Stop(), "stop is idempotent")
}

func TestFetchPages(t *testing.T) {
	page := `<html><body>
<article data-testid="tweet">
  <a href="/whale/status/7"><time datetime="2024-03-01T12:30:00Z">Mar 1</time></a>
  <div data-testid="tweetText"><span>accumulating BTC</span></div>
</article>
<article data-testid="tweet">
  <a href="/whale/status/8"></a>
  <div data-testid="tweetText"><span>good morning</span></div>
</article>
</body></html>`
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(page))
	}))
	defer ts.Close()

	a, n, _ := newTestApp(t, func(c *Config) {
		c.Pages = []string{ts.URL + "/whale", ts.URL + "/missing\x7f"}
	})

	assert.Equal(t, 1, a.fetchPages())
	assert.Equal(t, 1, n.count())
	assert.Equal(t, 0, a.fetchPages(), "second round sees only duplicates")
	assert.Equal(t, int64(2), a.Health().Processed)
}

func TestWipe(t *testing.T) {
	a, _, _ := newTestApp(t, nil)
	ctx := context.Background()

	_, err := a.Process(ctx, ports.Document{ID: "w1", Text: "buy ETH"})
	require.NoError(t, err)
	require.Equal(t, 1, countHits(t, a))

	require.NoError(t, a.Wipe())
	assert.Zero(t, countHits(t, a))

	// Seen keys are cleared too
	hit, err := a.Process(ctx, ports.Document{ID: "w1", Text: "buy ETH"})
	require.NoError(t, err)
	assert.NotNil(t, hit)
}
