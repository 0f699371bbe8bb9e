// Package app wires together all adapters and domain logic.
// It provides lifecycle management for the kwatch daemon: create, start, stop.
package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corey/kwatch/dictionaries"
	"github.com/corey/kwatch/internal/adapters/archive"
	"github.com/corey/kwatch/internal/adapters/bbolt"
	fsw "github.com/corey/kwatch/internal/adapters/fsnotify"
	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/corey/kwatch/internal/adapters/tailer"
	"github.com/corey/kwatch/internal/adapters/web"
	"github.com/corey/kwatch/internal/adapters/webhook"
	"github.com/corey/kwatch/internal/domain/automaton"
	"github.com/corey/kwatch/internal/domain/dictionary"
	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// embeddedSource names the built-in dictionary in health output and hits.
const embeddedSource = "embedded:v1"

// dictInfo describes the dictionary the current matcher was built from.
type dictInfo struct {
	Source   string
	Words    int
	Nodes    int
	Skipped  int
	LoadedAt time.Time
}

// App is the top-level container wiring all components together.
type App struct {
	ProjectRoot string
	Paths       *Paths
	Config      Config
	Log         *zap.Logger

	Store     *bbolt.Store
	Watcher   *fsw.Watcher
	Feed      *tailer.Tailer  // nil when feed_dir is "-"
	Notifier  ports.Notifier  // nil when no webhook is configured
	Archiver  ports.Archiver  // nil when archive_dir is "-"
	Server    *socket.Server
	WebServer *web.Server // nil when http_port < 0

	matcher  atomic.Pointer[automaton.Matcher]
	dict     atomic.Pointer[dictInfo]
	reloadMu sync.Mutex // serializes dictionary rebuilds; readers never take it
	scanMode automaton.ScanMode

	processed atomic.Int64
	client    *http.Client // page fetches
	started   time.Time

	ctx      context.Context // cancelled by Stop; bounds notifications and fetches
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates an App with all dependencies wired. Does not start services.
// The dictionary is compiled up front: a missing or empty dictionary is an
// error, so the daemon never runs without a matcher.
func New(cfg Config, log *zap.Logger) (*App, error) {
	if cfg.ProjectRoot == "" {
		return nil, errors.New("project root required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	cfg = cfg.withDefaults()
	paths := NewPaths(cfg.ProjectRoot)
	scanMode, err := automaton.ParseScanMode(cfg.ScanMode)
	if err != nil {
		return nil, errors.Wrap(err, "scan_mode")
	}

	a := &App{
		ProjectRoot: cfg.ProjectRoot,
		Paths:       paths,
		Config:      cfg,
		Log:         log,
		scanMode:    scanMode,
		client:      &http.Client{Timeout: 30 * time.Second},
	}
	a.ctx, a.cancel = context.WithCancel(context.Background())

	if _, err := a.Reload(); err != nil {
		return nil, errors.Wrap(err, "load dictionary")
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		return nil, errors.Wrap(err, "create db dir")
	}
	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "open store")
	}
	a.Store = store

	watcher, err := fsw.NewWatcher()
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "create watcher")
	}
	watcher.OnError = func(err error) {
		log.Warn("dictionary watcher", zap.Error(err))
	}
	a.Watcher = watcher

	if cfg.FeedDir != disabled {
		if err := os.MkdirAll(cfg.FeedDir, 0755); err != nil {
			store.Close()
			watcher.Stop()
			return nil, errors.Wrap(err, "create feed dir")
		}
		a.Feed = tailer.New(tailer.Config{
			Dir:          cfg.FeedDir,
			PollInterval: cfg.FeedPoll,
			Replay:       cfg.ReplayFeed,
			OnError: func(err error) {
				log.Debug("skip feed line", zap.Error(err))
			},
		})
	}

	if cfg.ArchiveDir != disabled {
		a.Archiver = archive.New(cfg.ArchiveDir)
	}

	if cfg.WebhookURL != "" {
		n, err := webhook.New(webhook.Config{
			URL:     cfg.WebhookURL,
			Retries: cfg.WebhookRetries,
			Backoff: cfg.WebhookBackoff,
		})
		if err != nil {
			store.Close()
			watcher.Stop()
			return nil, errors.Wrap(err, "create notifier")
		}
		a.Notifier = n
	}

	// Socket and HTTP servers query the App
	a.Server = socket.NewServer(a, socket.SocketPath(cfg.ProjectRoot))
	if cfg.HTTPPort >= 0 {
		a.WebServer = web.NewServer(a, paths.PortFile)
	}

	return a, nil
}

// Start begins the daemon (socket server + HTTP server + dictionary watcher +
// feed tailer + page poller).
func (a *App) Start() error {
	a.started = time.Now()
	if err := a.Server.Start(); err != nil {
		return errors.Wrap(err, "start server")
	}
	// Start HTTP API, non-fatal if port unavailable
	if a.WebServer != nil {
		httpPort := a.Config.HTTPPort
		if httpPort == 0 {
			httpPort = web.DefaultPort(a.ProjectRoot)
		}
		if err := os.MkdirAll(a.Paths.RunDir, 0755); err != nil {
			a.Log.Warn("create run dir", zap.Error(err))
		}
		if err := a.WebServer.Start(httpPort); err != nil {
			a.Log.Warn("HTTP API unavailable", zap.Error(err))
		} else {
			a.Log.Info("HTTP API listening", zap.String("url", a.WebServer.URL()))
		}
	}
	// Watch the dictionary file, non-fatal if setup fails
	if a.Config.Dictionary != "" {
		if err := a.Watcher.Watch([]string{a.Config.Dictionary}, a.onDictionaryChanged); err != nil {
			a.Log.Warn("dictionary watcher unavailable", zap.Error(err))
		}
	}
	if a.Feed != nil {
		if err := a.Feed.Start(a.onDocument); err != nil {
			a.Log.Warn("feed tailer unavailable", zap.Error(err))
		} else {
			a.Log.Info("tailing feed", zap.String("dir", a.Feed.Dir()), zap.Bool("replay", a.Config.ReplayFeed))
		}
	}
	if len(a.Config.Pages) > 0 {
		a.wg.Add(1)
		go a.pollPages()
	}

	info := a.dict.Load()
	a.Log.Info("daemon started",
		zap.String("socket", a.Server.Addr()),
		zap.String("dictionary", info.Source),
		zap.Int("words", info.Words),
		zap.String("scan_mode", a.scanMode.String()),
		zap.Bool("webhook", a.Notifier != nil),
	)
	return nil
}

// Stop gracefully shuts down all services and closes the store. Idempotent.
func (a *App) Stop() error {
	a.stopOnce.Do(func() {
		a.cancel()
		if a.Feed != nil {
			a.Feed.Stop()
		}
		a.wg.Wait()
		a.Watcher.Stop()
		if a.WebServer != nil {
			a.WebServer.Stop()
		}
		a.Server.Stop()
		if err := a.Store.Close(); err != nil {
			a.Log.Warn("close store", zap.Error(err))
		}
		a.Log.Info("daemon stopped", zap.Int64("processed", a.processed.Load()))
		_ = a.Log.Sync()
	})
	return nil
}

// Matcher returns the matcher currently in use.
func (a *App) Matcher() *automaton.Matcher {
	return a.matcher.Load()
}

// LoadDictionary reads the configured dictionary, or the embedded one when
// none is configured, and appends extra keywords.
func LoadDictionary(cfg Config) (*dictionary.Dictionary, error) {
	var (
		d   *dictionary.Dictionary
		err error
	)
	if cfg.Dictionary == "" {
		d, err = dictionary.LoadFS(dictionaries.FS, "v1")
		if err == nil {
			d.Source = embeddedSource
		}
	} else {
		d, err = dictionary.Load(cfg.Dictionary)
	}
	if err != nil {
		return nil, err
	}
	if len(cfg.ExtraKeywords) > 0 {
		d = d.With(cfg.ExtraKeywords)
	}
	if len(d.Words) == 0 {
		return nil, errors.Errorf("dictionary is empty: %s", d.Source)
	}
	return d, nil
}

// BuildMatcher loads the configured dictionary and compiles it. Used by
// commands that match without a daemon.
func BuildMatcher(cfg Config) (*automaton.Matcher, *dictionary.Dictionary, error) {
	d, err := LoadDictionary(cfg)
	if err != nil {
		return nil, nil, err
	}
	m, err := d.Build()
	if err != nil {
		return nil, nil, errors.Wrap(err, "build matcher")
	}
	return m, d, nil
}

// Reload rebuilds the matcher from the dictionary and swaps it in. On any
// error the previous matcher stays in place. Implements socket.AppQueries.
func (a *App) Reload() (socket.ReloadResult, error) {
	a.reloadMu.Lock()
	defer a.reloadMu.Unlock()

	start := time.Now()
	m, d, err := BuildMatcher(a.Config)
	if err != nil {
		return socket.ReloadResult{}, err
	}

	info := &dictInfo{
		Source:   d.Source,
		Words:    m.Words(),
		Nodes:    m.Nodes(),
		Skipped:  d.Skipped,
		LoadedAt: time.Now(),
	}
	a.matcher.Store(m)
	a.dict.Store(info)

	elapsed := time.Since(start)
	a.Log.Info("dictionary loaded",
		zap.String("source", info.Source),
		zap.Int("words", info.Words),
		zap.Int("nodes", info.Nodes),
		zap.Int("skipped", info.Skipped),
		zap.Duration("elapsed", elapsed),
	)
	return socket.ReloadResult{
		Dictionary: info.Source,
		Words:      info.Words,
		Nodes:      info.Nodes,
		Skipped:    info.Skipped,
		ElapsedMs:  elapsed.Milliseconds(),
	}, nil
}

// onDictionaryChanged rebuilds the matcher after the dictionary file changes.
func (a *App) onDictionaryChanged(path string) {
	if _, err := os.Stat(path); err != nil {
		// Removed or mid-rename; the replacement fires its own event.
		a.Log.Debug("dictionary missing, keeping current matcher", zap.String("path", path))
		return
	}
	if _, err := a.Reload(); err != nil {
		a.Log.Warn("dictionary reload failed, keeping current matcher",
			zap.String("path", path), zap.Error(err))
	}
}

// Check scans text ad hoc. An empty mode uses the configured scan mode; any
// other value must be "first" or "all". Implements socket.AppQueries.
func (a *App) Check(text, mode string) (socket.MatchResult, error) {
	scanMode := a.scanMode
	if mode != "" {
		m, err := automaton.ParseScanMode(mode)
		if err != nil {
			return socket.MatchResult{}, err
		}
		scanMode = m
	}
	return CheckText(a.matcher.Load(), text, scanMode), nil
}

// CheckText scans text with m and renders the result in wire form.
func CheckText(m *automaton.Matcher, text string, mode automaton.ScanMode) socket.MatchResult {
	start := time.Now()
	matches := m.Scan(text, mode)
	elapsed := time.Since(start)

	result := socket.MatchResult{
		Matched:  len(matches) > 0,
		Keywords: automaton.Keywords(matches),
		Matches:  make([]socket.MatchSpan, 0, len(matches)),
		Mode:     mode.String(),
		Elapsed:  elapsed.String(),
	}
	if result.Keywords == nil {
		result.Keywords = []string{}
	}
	for _, mt := range matches {
		result.Matches = append(result.Matches, socket.MatchSpan{Word: mt.Word, Start: mt.Start, End: mt.End})
	}
	return result
}

// Health reports matcher and pipeline state. Implements socket.AppQueries.
func (a *App) Health() socket.HealthResult {
	info := a.dict.Load()
	result := socket.HealthResult{
		Status:     "ok",
		Dictionary: info.Source,
		Words:      info.Words,
		Nodes:      info.Nodes,
		LoadedAt:   info.LoadedAt.Unix(),
		Processed:  a.processed.Load(),
		ScanMode:   a.scanMode.String(),
	}
	if n, err := a.Store.HitCount(); err == nil {
		result.HitCount = n
	} else {
		result.Status = "degraded"
	}
	if a.Feed != nil {
		result.FeedFile = a.Feed.CurrentFile()
	}
	return result
}

// Hits returns up to limit recent hits, newest first. Implements socket.AppQueries.
func (a *App) Hits(limit int) (socket.HitsResult, error) {
	hits, err := a.Store.RecentHits(limit)
	if err != nil {
		return socket.HitsResult{}, errors.Wrap(err, "recent hits")
	}
	total, err := a.Store.HitCount()
	if err != nil {
		return socket.HitsResult{}, errors.Wrap(err, "hit count")
	}
	if hits == nil {
		hits = []*ports.Hit{}
	}
	return socket.HitsResult{Hits: hits, Count: len(hits), Total: total}, nil
}

// Wipe deletes every stored hit and seen key. Implements socket.AppQueries.
func (a *App) Wipe() error {
	if err := a.Store.Wipe(); err != nil {
		return errors.Wrap(err, "wipe store")
	}
	a.Log.Info("hit store wiped")
	return nil
}
