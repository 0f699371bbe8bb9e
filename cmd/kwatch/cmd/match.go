package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/corey/kwatch/internal/app"
	"github.com/corey/kwatch/internal/domain/automaton"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

// maxStdinText caps text read from stdin by match.
const maxStdinText = 1 << 20

var (
	matchAll   bool
	matchLocal bool
	matchJSON  bool
)

var matchCmd = &cobra.Command{
	Use:   "match [text...]",
	Short: "Check text for dictionary keywords",
	Long: "Checks text for whole-word dictionary keywords. Reads stdin when no text is\n" +
		"given. Uses the running daemon's matcher, or compiles the dictionary locally.\n" +
		"Exit status is 0 when a keyword matched, 1 when none did, 2 on error.",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runMatch,
}

func init() {
	matchCmd.Flags().BoolVarP(&matchAll, "all", "a", false, "report every keyword, not just the first")
	matchCmd.Flags().BoolVar(&matchLocal, "local", false, "compile the dictionary locally even if a daemon is running")
	matchCmd.Flags().BoolVar(&matchJSON, "json", false, "print the raw JSON result")
}

func runMatch(cmd *cobra.Command, args []string) error {
	text, err := matchInput(args, os.Stdin, isStdinPipe())
	if err != nil {
		return failed(err)
	}

	mode := ""
	if matchAll {
		mode = automaton.ScanAll.String()
	}
	result, err := matchText(text, mode)
	if err != nil {
		return failed(err)
	}

	if matchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		enc.Encode(result)
	} else {
		fmt.Print(formatMatch(result, text))
	}
	if !result.Matched {
		return noMatch()
	}
	return nil
}

// matchInput joins args, or reads piped stdin when there are none.
func matchInput(args []string, stdin io.Reader, piped bool) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	if !piped {
		return "", errors.New("no text: pass it as arguments or pipe it on stdin")
	}
	data, err := io.ReadAll(io.LimitReader(stdin, maxStdinText))
	if err != nil {
		return "", errors.Wrap(err, "read stdin")
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

// matchText asks the daemon when one is running, otherwise builds the
// matcher from the configured dictionary. An empty mode means the configured
// scan mode.
func matchText(text, mode string) (*socket.MatchResult, error) {
	if !matchLocal {
		client := socket.NewClient(socket.SocketPath(projectRoot()))
		if client.Ping() {
			return client.Match(text, mode)
		}
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if mode == "" {
		mode = cfg.ScanMode
	}
	m, _, err := app.BuildMatcher(cfg)
	if err != nil {
		return nil, err
	}
	scanMode, err := automaton.ParseScanMode(mode)
	if err != nil {
		return nil, err
	}
	result := app.CheckText(m, text, scanMode)
	return &result, nil
}
