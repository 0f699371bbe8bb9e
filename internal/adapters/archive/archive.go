// Package archive appends hits to daily JSONL files. Writers in separate
// processes (daemon and a one-shot `kwatch scan`) coordinate through an
// advisory lock next to each file, so lines never interleave.
package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/corey/kwatch/internal/ports"
	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

const (
	filePrefix = "hits_"
	fileSuffix = ".jsonl"
	dayLayout  = "2006-01-02"
)

// Archiver writes one JSON line per hit to <dir>/hits_YYYY-MM-DD.jsonl,
// dated by the hit's MatchedAt in local time. Implements ports.Archiver.
type Archiver struct {
	dir string
	now func() time.Time
}

var _ ports.Archiver = (*Archiver)(nil)

// New creates an Archiver rooted at dir. The directory is created on first
// write.
func New(dir string) *Archiver {
	return &Archiver{dir: dir, now: time.Now}
}

// Dir returns the archive directory.
func (a *Archiver) Dir() string {
	return a.dir
}

// PathFor returns the archive file for a given day.
func (a *Archiver) PathFor(t time.Time) string {
	return filepath.Join(a.dir, filePrefix+t.Local().Format(dayLayout)+fileSuffix)
}

// Append writes the hit as one line.
func (a *Archiver) Append(hit *ports.Hit) error {
	if hit == nil {
		return errors.New("archive: nil hit")
	}
	at := hit.MatchedAt
	if at.IsZero() {
		at = a.now()
	}

	line, err := json.Marshal(hit)
	if err != nil {
		return errors.Wrap(err, "encode hit")
	}
	line = append(line, '\n')

	if err := os.MkdirAll(a.dir, 0755); err != nil {
		return errors.Wrap(err, "create archive dir")
	}

	path := a.PathFor(at)
	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrapf(err, "lock %s", filepath.Base(path))
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "open archive")
	}
	if _, err := f.Write(line); err != nil {
		f.Close()
		return errors.Wrap(err, "write archive")
	}
	return errors.Wrap(f.Close(), "close archive")
}

// Files lists archive files, oldest day first.
func (a *Archiver) Files() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "read archive dir")
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		files = append(files, filepath.Join(a.dir, name))
	}
	sort.Strings(files)
	return files, nil
}
