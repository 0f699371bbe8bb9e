package app

import (
	"context"
	"time"

	"github.com/corey/kwatch/internal/adapters/htmlsource"
	"github.com/corey/kwatch/internal/domain/automaton"
	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// Process runs one document through the pipeline: claim its key, drop it
// if it falls outside the MaxAge window, scan it, and on a match persist,
// archive and notify. Returns the hit, or nil when the document was a
// duplicate, too old, or matched nothing.
//
// The key is claimed before anything else, so a document delivered by the
// feed and a page poll at the same time is handled once. Documents without a
// key are never deduplicated. Only the store is fatal: archive and
// notification failures are logged and the hit is still returned.
func (a *App) Process(ctx context.Context, doc ports.Document) (*ports.Hit, error) {
	key := doc.Key()
	now := time.Now()
	claimed, err := a.Store.MarkSeen(key, now)
	if err != nil {
		return nil, errors.Wrap(err, "mark seen")
	}
	if !claimed {
		return nil, nil
	}
	if !a.withinMaxAge(doc, now) {
		a.Log.Debug("skip out-of-window document",
			zap.String("doc", key),
			zap.Time("published_at", doc.PublishedAt),
			zap.Bool("pinned", doc.IsPinned),
		)
		return nil, nil
	}
	a.processed.Add(1)

	matches := a.matcher.Load().Scan(doc.Text, a.scanMode)
	if len(matches) == 0 {
		return nil, nil
	}

	hit := &ports.Hit{
		Document:   doc,
		Keywords:   automaton.Keywords(matches),
		MatchedAt:  now,
		Dictionary: a.dict.Load().Source,
	}
	if err := a.Store.SaveHit(hit); err != nil {
		return nil, errors.Wrap(err, "save hit")
	}

	if a.Archiver != nil {
		if err := a.Archiver.Append(hit); err != nil {
			a.Log.Warn("archive hit", zap.String("doc", key), zap.Error(err))
		}
	}
	if a.Notifier != nil {
		if err := a.Notifier.Notify(ctx, hit); err != nil {
			a.Log.Warn("notify hit", zap.String("doc", key), zap.Error(err))
		}
	}

	a.Log.Info("hit",
		zap.String("doc", key),
		zap.String("source", doc.Source),
		zap.Strings("keywords", hit.Keywords),
	)
	return hit, nil
}

// withinMaxAge reports whether doc was published in [now-MaxAge, now].
// Documents without a publish time pass, as does everything when MaxAge is 0.
// Pinned posts get no exemption: an old pinned post is still old.
func (a *App) withinMaxAge(doc ports.Document, now time.Time) bool {
	if a.Config.MaxAge <= 0 || doc.PublishedAt.IsZero() {
		return true
	}
	return !doc.PublishedAt.Before(now.Add(-a.Config.MaxAge)) && !doc.PublishedAt.After(now)
}

// onDocument is the feed tailer callback.
func (a *App) onDocument(doc ports.Document) {
	if _, err := a.Process(a.ctx, doc); err != nil {
		a.Log.Error("process document", zap.String("doc", doc.Key()), zap.Error(err))
	}
}

// pollPages fetches every configured page now and then once per
// PageInterval until Stop.
func (a *App) pollPages() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.Config.PageInterval)
	defer ticker.Stop()

	for {
		a.fetchPages()
		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// fetchPages runs one polling round. Returns the number of hits.
func (a *App) fetchPages() int {
	hits := 0
	for _, page := range a.Config.Pages {
		if a.ctx.Err() != nil {
			return hits
		}
		docs, err := htmlsource.Fetch(a.ctx, a.client, page)
		if err != nil {
			a.Log.Warn("fetch page", zap.String("url", page), zap.Error(err))
			continue
		}
		for _, doc := range docs {
			hit, err := a.Process(a.ctx, doc)
			if err != nil {
				a.Log.Error("process document", zap.String("doc", doc.Key()), zap.Error(err))
				continue
			}
			if hit != nil {
				hits++
			}
		}
		a.Log.Debug("page fetched", zap.String("url", page), zap.Int("posts", len(docs)))
	}
	return hits
}
