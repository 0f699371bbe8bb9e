package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/corey/kwatch/internal/app"
	"github.com/spf13/cobra"
)

var configYAML bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show configuration",
	Long: "Shows project root, dictionary, store, socket and daemon status. No daemon required.\n" +
		"Settings come from .kwatch/kwatch.yaml (or --config) and KWATCH_* environment variables.",
	RunE: runConfig,
}

func init() {
	configCmd.Flags().BoolVar(&configYAML, "yaml", false, "print the effective configuration as YAML")
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if configYAML {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		fmt.Print(out)
		return nil
	}

	root := cfg.ProjectRoot
	paths := app.NewPaths(root)
	sockPath := socket.SocketPath(root)

	client := socket.NewClient(sockPath)
	daemonRunning := client.Ping()
	daemonStatus := paint(colorYellow, "✗ not running")
	if daemonRunning {
		daemonStatus = paint(colorGreen, "✓ running")
	}

	dictionary := cfg.Dictionary
	if dictionary == "" {
		dictionary = "(embedded asset listing)"
	}
	webhook := "(none)"
	if cfg.WebhookURL != "" {
		webhook = maskURL(cfg.WebhookURL)
	}

	fmt.Println(paint(colorBold, "⚡ kwatch config"))
	fmt.Printf("  Root:        %s\n", root)
	fmt.Printf("  Dictionary:  %s\n", dictionary)
	fmt.Printf("  Scan mode:   %s\n", cfg.ScanMode)
	fmt.Printf("  DB:          %s\n", cfg.DBPath)
	fmt.Printf("  Archive:     %s\n", cfg.ArchiveDir)
	fmt.Printf("  Feed:        %s\n", cfg.FeedDir)
	if len(cfg.Pages) > 0 {
		fmt.Printf("  Pages:       %s (every %s)\n", strings.Join(cfg.Pages, ", "), cfg.PageInterval)
	}
	fmt.Printf("  Webhook:     %s\n", webhook)
	fmt.Printf("  Socket:      %s\n", sockPath)
	fmt.Printf("  Daemon:      %s\n", daemonStatus)

	if daemonRunning {
		if portData, err := os.ReadFile(paths.PortFile); err == nil {
			fmt.Printf("  HTTP API:    http://localhost:%s/api/health\n", strings.TrimSpace(string(portData)))
		}
	}

	return nil
}
