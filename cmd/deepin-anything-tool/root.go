package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/UbuntuDDE/deepin-anything/internal/index"
	"github.com/UbuntuDDE/deepin-anything/internal/persist"
)

var logLevel int

var rootCmd = &cobra.Command{
	Use:   "deepin-anything-tool",
	Short: "Filesystem name index: build, search, and maintain LFT caches",
	Long: `deepin-anything-tool drives the filesystem name index described by
the deepin-anything project: it walks mounted partitions into compact
in-memory buffers, persists them as .lft/.LFT cache files, and serves
path/keyword search over them.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().IntVar(&logLevel, "log-level", 0, "0=warn, 1=info, 2=debug")
	rootCmd.AddCommand(serveCmd, addCmd, removeCmd, searchCmd, syncCmd, refreshCmd)
}

// openManager opens the Manager against the resolved cache directory,
// applying the --log-level flag the way SetLogLevel does at runtime.
func openManager() (*index.Manager, error) {
	dir, err := persist.CacheDir()
	if err != nil {
		return nil, err
	}
	m, err := index.New(dir)
	if err != nil {
		return nil, err
	}
	m.SetLogLevel(mapLogLevel(logLevel))
	return m, nil
}

func mapLogLevel(level int) logrus.Level {
	switch {
	case level >= 2:
		return logrus.DebugLevel
	case level == 1:
		return logrus.InfoLevel
	default:
		return logrus.WarnLevel
	}
}
