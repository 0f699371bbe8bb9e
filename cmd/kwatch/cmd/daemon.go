package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/corey/kwatch/internal/app"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var daemonReplay bool

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the kwatch daemon",
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the foreground",
	Long: "Loads the dictionary, opens the hit store, tails the feed directory and\n" +
		"serves match/health/hits/reload over the project socket and HTTP API.",
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon",
	RunE:  runDaemonStop,
}

func init() {
	daemonStartCmd.Flags().BoolVar(&daemonReplay, "replay", false, "read the current feed file from the beginning")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	sockPath := socket.SocketPath(root)

	// Check if already running
	client := socket.NewClient(sockPath)
	if client.Ping() {
		fmt.Println("⚡ daemon already running")
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if daemonReplay {
		cfg.ReplayFeed = true
	}

	paths := app.NewPaths(root)
	if err := paths.EnsureDirs(); err != nil {
		return errors.Wrap(err, "create .kwatch")
	}

	log, err := app.NewLogger(verbose, paths.DaemonLog)
	if err != nil {
		return err
	}

	// Create fully wired app (matcher, bbolt, watcher, tailer, notifier)
	a, err := app.New(cfg, log)
	if err != nil {
		if isDBLockError(err) {
			return errors.New(diagnoseDBLock(root))
		}
		return errors.Wrap(err, "init")
	}

	if err := a.Start(); err != nil {
		a.Stop()
		return err
	}
	if err := os.WriteFile(paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		log.Sugar().Warnf("write pid file: %v", err)
	}

	health := a.Health()
	fmt.Printf("⚡ kwatch daemon started at %s (%d words, %s)\n", sockPath, health.Words, health.Dictionary)

	// Wait for a signal or a remote shutdown request
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-a.Server.ShutdownCh():
	}

	fmt.Println("\n⚡ shutting down...")
	err = a.Stop()
	paths.CleanEphemeral()
	return err
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	root := projectRoot()
	sockPath := socket.SocketPath(root)
	client := socket.NewClient(sockPath)

	if !client.Ping() {
		fmt.Println("⚡ daemon is not running")
		return nil
	}

	if err := client.Shutdown(); err != nil {
		return err
	}

	fmt.Println("⚡ daemon stopped")
	return nil
}
