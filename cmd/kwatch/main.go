// kwatch watches text feeds for dictionary keywords.
// Whole-word Aho-Corasick matching, hits persisted, archived and pushed to a chat webhook.
package main

import (
	"os"

	"github.com/corey/kwatch/cmd/kwatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		if code := cmd.ExitCode(err); code >= 0 {
			os.Exit(code)
		}
		os.Exit(1)
	}
}
