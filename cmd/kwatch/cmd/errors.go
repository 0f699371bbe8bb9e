package cmd

import (
	"fmt"
	"os"

	"github.com/corey/kwatch/internal/adapters/socket"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// isDBLockError reports whether err, once unwrapped, is bbolt giving up on
// the file lock after its open timeout.
func isDBLockError(err error) bool {
	return err != nil && errors.Cause(err) == bolt.ErrTimeout
}

// diagnoseDBLock checks the daemon state and returns actionable guidance
// when a bbolt open fails due to lock contention. It distinguishes three
// scenarios: daemon running, stale socket, and unknown lock holder.
func diagnoseDBLock(root string) string {
	sockPath := socket.SocketPath(root)
	client := socket.NewClient(sockPath)

	if client.Ping() {
		return "hit store is locked by the running daemon\n" +
			"  → query it instead:  kwatch hits\n" +
			"  → or stop it first:  kwatch daemon stop"
	}

	if _, err := os.Stat(sockPath); err == nil {
		return fmt.Sprintf("hit store is locked, daemon socket exists but is not responding\n"+
			"  → a previous daemon may have crashed\n"+
			"  → find the process:  ps aux | grep 'kwatch daemon'\n"+
			"  → kill it:           kill <PID>\n"+
			"  → clean up socket:   rm %s", sockPath)
	}

	return "hit store is locked by another process\n" +
		"  → find the process:  ps aux | grep 'kwatch'\n" +
		"  → kill it:           kill <PID>\n" +
		"  → then retry your command"
}
