// Command deepin-anything-tool drives the name index out-of-process: a
// serve subcommand for long-running bring-up, and add/remove/search/sync/
// refresh subcommands that exercise internal/index.Manager directly for
// local testing and ops without a running IPC surface.
package main

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
