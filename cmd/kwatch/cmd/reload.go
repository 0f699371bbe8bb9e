package cmd

import (
	"fmt"

	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Rebuild the daemon's matcher from the dictionary",
	Long:  "Rebuilds the running daemon's matcher. On failure the daemon keeps its current matcher.",
	RunE:  runReload,
}

func runReload(cmd *cobra.Command, args []string) error {
	client := socket.NewClient(socket.SocketPath(projectRoot()))
	if !client.Ping() {
		return errors.New("daemon is not running (start it with: kwatch daemon start)")
	}

	result, err := client.Reload()
	if err != nil {
		return errors.Wrap(err, "reload")
	}
	fmt.Print(formatReload(result))
	return nil
}
