package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/corey/kwatch/internal/adapters/htmlsource"
	"github.com/corey/kwatch/internal/adapters/tailer"
	"github.com/corey/kwatch/internal/app"
	"github.com/corey/kwatch/internal/domain/automaton"
	"github.com/corey/kwatch/internal/ports"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	scanAll  bool
	scanJSON bool
	scanBase string
)

var scanCmd = &cobra.Command{
	Use:   "scan <file|url>...",
	Short: "Scan a feed file or timeline page for keywords",
	Long: "Scans documents offline and prints the hits. Sources:\n" +
		"  *.jsonl, *.ndjson   one JSON document per line (\"-\" reads stdin)\n" +
		"  *.html, *.htm       saved timeline page\n" +
		"  http(s)://...       timeline page fetched now\n" +
		"Nothing is stored or sent. Exit status is 0 with hits, 1 without, 2 on error.",
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runScan,
}

func init() {
	scanCmd.Flags().BoolVarP(&scanAll, "all", "a", false, "report every keyword per document")
	scanCmd.Flags().BoolVar(&scanJSON, "json", false, "print hits as JSON lines")
	scanCmd.Flags().StringVar(&scanBase, "base", htmlsource.DefaultBase, "base URL for links in saved HTML")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return failed(err)
	}
	m, dict, err := app.BuildMatcher(cfg)
	if err != nil {
		return failed(err)
	}
	mode, err := automaton.ParseScanMode(cfg.ScanMode)
	if err != nil {
		return failed(err)
	}
	if scanAll {
		mode = automaton.ScanAll
	}

	start := time.Now()
	enc := json.NewEncoder(os.Stdout)
	docs, hits, skipped := 0, 0, 0
	for _, src := range args {
		batch, err := loadDocuments(cmd.Context(), src, func(error) { skipped++ })
		if err != nil {
			return failed(errors.Wrap(err, src))
		}
		docs += len(batch)
		for _, doc := range batch {
			matches := m.Scan(doc.Text, mode)
			if len(matches) == 0 {
				continue
			}
			hits++
			hit := &ports.Hit{
				Document:   doc,
				Keywords:   automaton.Keywords(matches),
				MatchedAt:  time.Now(),
				Dictionary: dict.Source,
			}
			if scanJSON {
				enc.Encode(hit)
			} else {
				fmt.Print(formatHit(hit))
			}
		}
	}

	if !scanJSON {
		summary := fmt.Sprintf("⚡ %d %s in %d %s │ %s",
			hits, plural(hits, "hit"), docs, plural(docs, "document"), time.Since(start).Round(time.Microsecond))
		if skipped > 0 {
			summary += fmt.Sprintf(" │ %d unreadable %s", skipped, plural(skipped, "line"))
		}
		fmt.Println(paint(colorBold, summary))
	}
	if hits == 0 {
		return noMatch()
	}
	return nil
}

// loadDocuments reads every document from one scan source.
func loadDocuments(ctx context.Context, src string, onError func(error)) ([]ports.Document, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		return htmlsource.Fetch(ctx, &http.Client{Timeout: 30 * time.Second}, src)
	}

	var docs []ports.Document
	collect := func(doc ports.Document) { docs = append(docs, doc) }
	if src == "-" {
		return docs, tailer.ReadAll(os.Stdin, collect, onError)
	}

	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(src)) {
	case ".jsonl", ".ndjson":
		err = tailer.ReadAll(f, collect, onError)
		return docs, err
	case ".html", ".htm":
		return htmlsource.Extract(f, scanBase)
	}
	return nil, errors.Errorf("unsupported source %q (want .jsonl, .html or a URL)", filepath.Base(src))
}
