package fsnotify

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// fsnotify Watcher Adapter: detect dictionary edits, trigger rebuild
// =============================================================================

// waitForCallback waits up to timeout for the callback channel to receive a value.
func waitForCallback(ch <-chan string, timeout time.Duration) (string, bool) {
	select {
	case v := <-ch:
		return v, true
	case <-time.After(timeout):
		return "", false
	}
}

func startWatcher(t *testing.T, paths ...string) (*Watcher, <-chan string) {
	t.Helper()
	w, err := NewWatcher()
	require.NoError(t, err)
	t.Cleanup(func() { w.Stop() })

	changed := make(chan string, 10)
	require.NoError(t, w.Watch(paths, func(path string) {
		changed <- path
	}))

	// Give watcher time to start
	time.Sleep(50 * time.Millisecond)
	return w, changed
}

func TestWatcher_DetectsFileChange(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "assets.json")
	require.NoError(t, os.WriteFile(dict, []byte(`["BTC"]`), 0644))

	_, changed := startWatcher(t, dict)

	require.NoError(t, os.WriteFile(dict, []byte(`["BTC","ETH"]`), 0644))

	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "expected callback for dictionary change")
	assert.Equal(t, dict, path)
}

func TestWatcher_DetectsAtomicReplace(t *testing.T) {
	// Editors save by writing a temp file and renaming it over the target.
	dir := t.TempDir()
	dict := filepath.Join(dir, "assets.json")
	require.NoError(t, os.WriteFile(dict, []byte(`["BTC"]`), 0644))

	_, changed := startWatcher(t, dict)

	tmp := filepath.Join(dir, ".assets.json.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte(`["SOL"]`), 0644))
	require.NoError(t, os.Rename(tmp, dict))

	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "expected callback for replaced dictionary")
	assert.Equal(t, dict, path)
}

func TestWatcher_DetectsDeletedFile(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "words.txt")
	require.NoError(t, os.WriteFile(dict, []byte("BTC\n"), 0644))

	_, changed := startWatcher(t, dict)

	require.NoError(t, os.Remove(dict))

	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "expected callback for deleted file")
	assert.Equal(t, dict, path)
}

func TestWatcher_IgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	dict := filepath.Join(dir, "assets.json")
	require.NoError(t, os.WriteFile(dict, []byte(`["BTC"]`), 0644))

	_, changed := startWatcher(t, dict)

	// Files next to the dictionary should not trigger a rebuild
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "kwatch.db"), []byte("x"), 0644)

	_, ok := waitForCallback(changed, 500*time.Millisecond)
	assert.False(t, ok, "should not have received callback for unrelated files")

	require.NoError(t, os.WriteFile(dict, []byte(`["ETH"]`), 0644))
	path, ok := waitForCallback(changed, 2*time.Second)
	assert.True(t, ok, "expected callback for dictionary")
	assert.Equal(t, dict, path)
}

func TestWatcher_MultipleFiles(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	a := filepath.Join(dirA, "a.json")
	b := filepath.Join(dirB, "b.yaml")
	require.NoError(t, os.WriteFile(a, []byte(`[]`), 0644))
	require.NoError(t, os.WriteFile(b, []byte("- BTC\n"), 0644))

	_, changed := startWatcher(t, a, b)

	require.NoError(t, os.WriteFile(b, []byte("- ETH\n"), 0644))
	path, ok := waitForCallback(changed, 2*time.Second)
	require.True(t, ok)
	assert.Equal(t, b, path)
}

func TestWatcher_Errors(t *testing.T) {
	w, err := NewWatcher()
	require.NoError(t, err)
	defer w.Stop()

	assert.Error(t, w.Watch(nil, func(string) {}))
	assert.Error(t, w.Watch([]string{"/definitely/not/here/assets.json"}, func(string) {}))
}

func TestWatcher_StopCleanup(t *testing.T) {
	// After Stop(), no more callbacks fire.
	dir := t.TempDir()
	dict := filepath.Join(dir, "assets.json")
	require.NoError(t, os.WriteFile(dict, []byte(`[]`), 0644))

	w, err := NewWatcher()
	require.NoError(t, err)

	callCount := 0
	var mu sync.Mutex
	err = w.Watch([]string{dict}, func(path string) {
		mu.Lock()
		callCount++
		mu.Unlock()
	})
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)

	require.NoError(t, w.Stop())

	mu.Lock()
	countAfterStop := callCount
	mu.Unlock()

	// Write file after stop, should NOT trigger callback
	os.WriteFile(dict, []byte(`["nope"]`), 0644)
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	countAfterWrite := callCount
	mu.Unlock()

	assert.Equal(t, countAfterStop, countAfterWrite, "callbacks fired after Stop()")

	// Double-stop should be safe
	assert.NoError(t, w.Stop())
}
