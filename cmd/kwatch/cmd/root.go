package cmd

import (
	"fmt"
	"os"

	"github.com/corey/kwatch/internal/app"
	"github.com/spf13/cobra"
)

var (
	configFile string
	rootFlag   string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "kwatch",
	Short: "Watch text feeds for dictionary keywords",
	Long:  "Whole-word keyword matching over text feeds, with hit storage, JSONL archives and chat webhook alerts.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		colorEnabled = resolveColor()
	},
}

// projectRoot returns the project root (--root, else cwd).
func projectRoot() string {
	if rootFlag != "" {
		return rootFlag
	}
	dir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return dir
}

// loadConfig resolves the configuration for the current project.
func loadConfig() (app.Config, error) {
	return app.LoadConfig(projectRoot(), configFile)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default <root>/.kwatch/kwatch.yaml)")
	rootCmd.PersistentFlags().StringVar(&rootFlag, "root", "", "project root (default current directory)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(hitsCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(configCmd)
}
