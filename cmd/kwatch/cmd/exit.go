package cmd

import (
	"fmt"
	"os"
)

// exitError carries a process exit code out of match and scan, grep style:
// 0 found, 1 nothing found, 2 trouble.
type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err != nil {
		return e.err.Error()
	}
	if e.code == 1 {
		return "no match"
	}
	return fmt.Sprintf("exit status %d", e.code)
}

func (e exitError) Unwrap() error { return e.err }

// noMatch ends a command that ran cleanly but found nothing.
func noMatch() error { return exitError{code: 1} }

// failed reports err on stderr and ends the command with status 2.
// Commands using it set SilenceErrors so cobra does not print it again.
func failed(err error) error {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	return exitError{code: 2, err: err}
}

// ExitCode extracts the exit code carried by err, or -1 if it has none.
func ExitCode(err error) int {
	if e, ok := err.(exitError); ok {
		return e.code
	}
	return -1
}
