package socket

import (
	"bufio"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Unix Socket Daemon: JSON-over-socket protocol for match, health, hits, reload, wipe
// =============================================================================

// fakeQueries answers with canned data. Check matches a fixed keyword set by
// plain word comparison.
type fakeQueries struct {
	mu        sync.Mutex
	reloads   int
	reloadErr error
	wipes     int
	hits      []*ports.Hit
}

func (f *fakeQueries) Check(text, mode string) (MatchResult, error) {
	switch mode {
	case "":
		mode = "first"
	case "first", "all":
	default:
		return MatchResult{}, errors.Errorf("unknown scan mode %q", mode)
	}
	res := MatchResult{Mode: mode, Keywords: []string{}, Matches: []MatchSpan{}}
	offset := 0
	for _, w := range strings.Fields(text) {
		if w == "BTC" || w == "ETH" {
			res.Matches = append(res.Matches, MatchSpan{Word: w, Start: offset, End: offset + len(w)})
			res.Keywords = append(res.Keywords, w)
			if mode == "first" {
				break
			}
		}
		offset += len(w) + 1
	}
	res.Matched = len(res.Matches) > 0
	return res, nil
}

func (f *fakeQueries) Health() HealthResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	return HealthResult{Status: "ok", Dictionary: "assets.json", Words: 2, Nodes: 7, HitCount: len(f.hits), ScanMode: "first"}
}

func (f *fakeQueries) Hits(limit int) (HitsResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	hits := f.hits
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return HitsResult{Hits: hits, Count: len(hits), Total: len(f.hits)}, nil
}

func (f *fakeQueries) Reload() (ReloadResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reloadErr != nil {
		return ReloadResult{}, f.reloadErr
	}
	f.reloads++
	return ReloadResult{Dictionary: "assets.json", Words: 2, Nodes: 7}, nil
}

func (f *fakeQueries) Wipe() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.wipes++
	f.hits = nil
	return nil
}

func newFake() *fakeQueries {
	var hits []*ports.Hit
	for _, id := range []string{"c", "b", "a"} {
		hits = append(hits, &ports.Hit{
			Document: ports.Document{ID: id, Text: "buy ETH"},
			Keywords: []string{"ETH"},
		})
	}
	return &fakeQueries{hits: hits}
}

// testSocketPath returns a unique socket path for a test.
func testSocketPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.sock")
}

func startServer(t *testing.T, q AppQueries) (*Server, *Client) {
	t.Helper()
	sockPath := testSocketPath(t)
	srv := NewServer(q, sockPath)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { srv.Stop() })
	return srv, NewClient(sockPath)
}

func TestServer_MatchRoundtrip(t *testing.T) {
	_, client := startServer(t, newFake())

	result, err := client.Match("sell BTC buy ETH", "all")
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, []string{"BTC", "ETH"}, result.Keywords)
	assert.Equal(t, MatchSpan{Word: "BTC", Start: 5, End: 8}, result.Matches[0])
	assert.Equal(t, "all", result.Mode)

	result, err = client.Match("sell BTC buy ETH", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"BTC"}, result.Keywords)

	result, err = client.Match("CRBTCUP", "")
	require.NoError(t, err)
	assert.False(t, result.Matched)
	assert.Empty(t, result.Keywords)
}

func TestServer_MatchRejectsUnknownMode(t *testing.T) {
	_, client := startServer(t, newFake())

	result, err := client.Match("sell BTC buy ETH", "al")
	require.Error(t, err)
	assert.Nil(t, result)
	assert.Contains(t, err.Error(), `unknown scan mode "al"`)

	// The error is scoped to its request
	result, err = client.Match("sell BTC", "first")
	require.NoError(t, err)
	assert.True(t, result.Matched)
}

func TestServer_Wipe(t *testing.T) {
	fake := newFake()
	_, client := startServer(t, fake)

	require.NoError(t, client.Wipe())
	fake.mu.Lock()
	assert.Equal(t, 1, fake.wipes)
	fake.mu.Unlock()

	health, err := client.Health()
	require.NoError(t, err)
	assert.Zero(t, health.HitCount)
}

func TestServer_Health(t *testing.T) {
	_, client := startServer(t, newFake())

	health, err := client.Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, 2, health.Words)
	assert.Equal(t, 3, health.HitCount)
	assert.NotEmpty(t, health.Uptime)
}

func TestServer_Hits(t *testing.T) {
	_, client := startServer(t, newFake())

	result, err := client.Hits(2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Count)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, "c", result.Hits[0].Document.ID)

	// Zero limit falls back to the default
	result, err = client.Hits(0)
	require.NoError(t, err)
	assert.Equal(t, 3, result.Count)
}

func TestServer_Reload(t *testing.T) {
	fake := newFake()
	_, client := startServer(t, fake)

	result, err := client.Reload()
	require.NoError(t, err)
	assert.Equal(t, 2, result.Words)
	fake.mu.Lock()
	assert.Equal(t, 1, fake.reloads)
	fake.reloadErr = errors.New("parse assets.json: unexpected end of JSON input")
	fake.mu.Unlock()
	_, err = client.Reload()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected end of JSON input")
}

func TestServer_UnknownMethodAndBadJSON(t *testing.T) {
	srv, client := startServer(t, newFake())

	_, err := client.callWithTimeout(Request{ID: "9", Method: "search"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown method: search")

	conn, err := net.Dial("unix", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()
	conn.Write([]byte("{not json\n"))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, line, "invalid request JSON")
}

func TestServer_Shutdown(t *testing.T) {
	sockPath := testSocketPath(t)
	srv := NewServer(newFake(), sockPath)
	require.NoError(t, srv.Start())

	client := NewClient(sockPath)

	// Verify it's running
	assert.True(t, client.Ping())

	// Send shutdown request, this closes shutdownCh (signals the daemon).
	require.NoError(t, client.Shutdown())

	select {
	case <-srv.ShutdownCh():
	case <-time.After(time.Second):
		t.Fatal("ShutdownCh should be closed after Shutdown request")
	}

	// The daemon is responsible for calling Stop() after receiving the signal.
	require.NoError(t, srv.Stop())

	_, err := os.Stat(sockPath)
	assert.True(t, os.IsNotExist(err), "socket file should be removed after shutdown")
	assert.False(t, client.Ping())
}

func TestServer_StopWithIdleClient(t *testing.T) {
	srv, _ := startServer(t, newFake())

	// An idle connection must not block Stop.
	conn, err := net.Dial("unix", srv.Addr())
	require.NoError(t, err)
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		srv.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on idle connection")
	}
}

func TestServer_ConcurrentClients(t *testing.T) {
	_, client := startServer(t, newFake())

	var wg sync.WaitGroup
	errs := make(chan error, 100)

	// 10 clients x 10 requests each
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				result, err := client.Match("buy ETH", "")
				if err != nil {
					errs <- err
					return
				}
				if !result.Matched {
					errs <- assert.AnError
					return
				}
			}
		}()
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent client error: %v", err)
	}
}

func TestServer_StaleSocket(t *testing.T) {
	sockPath := testSocketPath(t)

	// Create a stale socket file (not a real listener)
	require.NoError(t, os.WriteFile(sockPath, []byte("stale"), 0600))

	srv := NewServer(newFake(), sockPath)
	require.NoError(t, srv.Start(), "should replace stale socket")
	defer srv.Stop()

	health, err := NewClient(sockPath).Health()
	require.NoError(t, err)
	assert.Equal(t, "ok", health.Status)
}

func TestServer_AlreadyRunning(t *testing.T) {
	srv, _ := startServer(t, newFake())

	second := NewServer(newFake(), srv.Addr())
	err := second.Start()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestServer_NilQueries(t *testing.T) {
	assert.Error(t, NewServer(nil, testSocketPath(t)).Start())
}

func TestSocketPath(t *testing.T) {
	p1 := SocketPath("/home/u/project")
	p2 := SocketPath("/home/u/other")
	assert.True(t, strings.HasPrefix(p1, "/tmp/kwatch-"))
	assert.True(t, strings.HasSuffix(p1, ".sock"))
	assert.NotEqual(t, p1, p2)
	assert.Equal(t, p1, SocketPath("/home/u/project"))
}
