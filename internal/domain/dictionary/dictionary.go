// Package dictionary loads keyword lists from disk or an embedded FS and
// compiles them into an automaton.
//
// Three on-disk formats are understood, chosen by file extension:
//
//	.json   {"data":[{"name":"Bitcoin","symbol":"BTC"}, ...]} or ["BTC", ...]
//	.yaml   ["BTC", ...] or {keywords: ["BTC", ...]}
//	.txt    one keyword per line, # starts a comment
//
// Entries are trimmed. Blank entries are skipped and counted; duplicates are
// collapsed, first occurrence wins.
package dictionary

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/corey/kwatch/internal/domain/automaton"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
)

// Format identifies a dictionary file encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
	FormatText Format = "txt"
)

// ErrUnknownFormat is returned for an extension Parse cannot handle.
var ErrUnknownFormat = errors.New("dictionary: unknown format")

// Listing is the asset listing document: each entry contributes both its
// name and its symbol.
type Listing struct {
	Data []ListingEntry `json:"data"`
}

// ListingEntry is one asset in a Listing.
type ListingEntry struct {
	Name   string `json:"name"`
	Symbol string `json:"symbol"`
}

// Dictionary is a deduplicated keyword list.
type Dictionary struct {
	Words   []string
	Source  string // file path or fs location it was loaded from
	Skipped int    // blank entries dropped while loading
}

// FormatFor picks a Format from a file name's extension.
func FormatFor(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".txt", ".list":
		return FormatText, nil
	}
	return "", errors.Wrapf(ErrUnknownFormat, "%q", name)
}

// Load reads and parses a dictionary file.
func Load(file string) (*Dictionary, error) {
	format, err := FormatFor(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, errors.Wrap(err, "read dictionary")
	}
	d, err := Parse(data, format)
	if err != nil {
		return nil, errors.Wrapf(err, "parse %s", filepath.Base(file))
	}
	d.Source = file
	return d, nil
}

// LoadFS reads every dictionary file in dir (sorted by name) and merges them.
// Returns an error if any file fails to parse or no words were found.
func LoadFS(fsys fs.FS, dir string) (*Dictionary, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, errors.Wrapf(err, "read dictionary dir %q", dir)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var raw []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, err := FormatFor(entry.Name())
		if err != nil {
			continue
		}
		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "read %s", entry.Name())
		}
		words, err := parseRaw(data, format)
		if err != nil {
			return nil, errors.Wrapf(err, "parse %s", entry.Name())
		}
		raw = append(raw, words...)
	}

	d := fromRaw(raw)
	if len(d.Words) == 0 {
		return nil, errors.Errorf("dictionary is empty: no words found in %q", dir)
	}
	d.Source = dir
	return d, nil
}

// Parse decodes data in the given format.
func Parse(data []byte, format Format) (*Dictionary, error) {
	raw, err := parseRaw(data, format)
	if err != nil {
		return nil, err
	}
	return fromRaw(raw), nil
}

func parseRaw(data []byte, format Format) ([]string, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatText:
		return parseText(data)
	}
	return nil, errors.Wrapf(ErrUnknownFormat, "%q", format)
}

func parseJSON(data []byte) ([]string, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var words []string
		if err := json.Unmarshal(trimmed, &words); err != nil {
			return nil, errors.Wrap(err, "decode keyword array")
		}
		return words, nil
	}

	var listing Listing
	if err := json.Unmarshal(trimmed, &listing); err != nil {
		return nil, errors.Wrap(err, "decode listing")
	}
	words := make([]string, 0, 2*len(listing.Data))
	for _, e := range listing.Data {
		words = append(words, e.Name, e.Symbol)
	}
	return words, nil
}

// yamlDoc accepts {keywords: [...]}.
type yamlDoc struct {
	Keywords []string `yaml:"keywords"`
}

func parseYAML(data []byte) ([]string, error) {
	var words []string
	if err := yaml.Unmarshal(data, &words); err == nil {
		return words, nil
	}
	var doc yamlDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}
	return doc.Keywords, nil
}

func parseText(data []byte) ([]string, error) {
	var words []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		words = append(words, line)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "scan text")
	}
	return words, nil
}

// fromRaw trims, drops blanks and dedupes.
func fromRaw(raw []string) *Dictionary {
	d := &Dictionary{Words: make([]string, 0, len(raw))}
	seen := make(map[string]bool, len(raw))
	for _, w := range raw {
		w = strings.TrimSpace(w)
		if w == "" {
			d.Skipped++
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		d.Words = append(d.Words, w)
	}
	return d
}

// Build compiles the dictionary into a frozen matcher.
func (d *Dictionary) Build() (*automaton.Matcher, error) {
	b := automaton.NewBuilder()
	if err := b.InsertAll(d.Words); err != nil {
		return nil, errors.Wrap(err, "insert dictionary")
	}
	return b.Build()
}

// With returns a copy with extra words appended under the same trimming and
// dedup rules. The receiver is not modified.
func (d *Dictionary) With(extra []string) *Dictionary {
	raw := make([]string, 0, len(d.Words)+len(extra))
	raw = append(raw, d.Words...)
	raw = append(raw, extra...)
	out := fromRaw(raw)
	out.Source = d.Source
	out.Skipped += d.Skipped
	return out
}
