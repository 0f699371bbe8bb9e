package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/corey/kwatch/internal/adapters/bbolt"
	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var (
	hitsLimit int
	hitsJSON  bool
	hitsWipe  bool
	hitsForce bool
)

var hitsCmd = &cobra.Command{
	Use:   "hits",
	Short: "Show recent hits, newest first",
	Long: "Shows recent hits from the running daemon, or straight from the hit store when no daemon is running.\n" +
		"With --wipe, deletes every stored hit and seen key instead, so already seen posts can hit again.",
	RunE:  runHits,
}

func init() {
	hitsCmd.Flags().IntVarP(&hitsLimit, "limit", "n", socket.DefaultHitsLimit, "maximum hits to show")
	hitsCmd.Flags().BoolVar(&hitsJSON, "json", false, "print the raw JSON result")
	hitsCmd.Flags().BoolVar(&hitsWipe, "wipe", false, "delete all stored hits and seen keys")
	hitsCmd.Flags().BoolVar(&hitsForce, "force", false, "skip the --wipe confirmation prompt")
}

func runHits(cmd *cobra.Command, args []string) error {
	if hitsWipe {
		return runWipe()
	}
	if hitsLimit <= 0 {
		return errors.New("--limit must be positive")
	}

	result, err := recentHits()
	if err != nil {
		return err
	}
	if result == nil {
		fmt.Println("⚡ no hits yet")
		return nil
	}

	if hitsJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Print(formatHits(result))
	return nil
}

// recentHits asks the daemon, falling back to reading the store directly.
// Returns nil, nil when no store exists yet.
func recentHits() (*socket.HitsResult, error) {
	root := projectRoot()
	client := socket.NewClient(socket.SocketPath(root))
	if client.Ping() {
		return client.Hits(hitsLimit)
	}

	store, err := openStore(root)
	if err != nil || store == nil {
		return nil, err
	}
	defer store.Close()

	hits, err := store.RecentHits(hitsLimit)
	if err != nil {
		return nil, err
	}
	total, err := store.HitCount()
	if err != nil {
		return nil, err
	}
	return &socket.HitsResult{Hits: hits, Count: len(hits), Total: total}, nil
}

// runWipe clears the hit store through the daemon when it is running,
// otherwise directly.
func runWipe() error {
	root := projectRoot()
	if !hitsForce {
		prompt := fmt.Sprintf("⚠ This will delete all hits and seen keys for %s. Continue? [y/N] ", filepath.Base(root))
		if !confirm(os.Stdin, os.Stdout, prompt) {
			fmt.Println("cancelled")
			return nil
		}
	}

	client := socket.NewClient(socket.SocketPath(root))
	if client.Ping() {
		if err := client.Wipe(); err != nil {
			return err
		}
		fmt.Println("⚡ hit store wiped (daemon)")
		return nil
	}

	store, err := openStore(root)
	if err != nil {
		return err
	}
	if store == nil {
		fmt.Println("⚡ no hits to wipe")
		return nil
	}
	defer store.Close()
	if err := store.Wipe(); err != nil {
		return err
	}
	fmt.Println("⚡ hit store wiped")
	return nil
}

// openStore opens the configured hit store for a command running without
// the daemon. Returns nil, nil when no store exists yet.
func openStore(root string) (*bbolt.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(cfg.DBPath); os.IsNotExist(err) {
		return nil, nil
	}
	store, err := bbolt.NewStore(cfg.DBPath)
	if err != nil {
		if isDBLockError(err) {
			return nil, errors.New(diagnoseDBLock(root))
		}
		return nil, err
	}
	return store, nil
}

// confirm writes prompt to out and reports whether the answer read from in
// is yes.
func confirm(in io.Reader, out io.Writer, prompt string) bool {
	fmt.Fprint(out, prompt)
	answer, _ := bufio.NewReader(in).ReadString('\n')
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
