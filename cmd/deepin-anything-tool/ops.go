package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
)

var autoFlag bool

var addCmd = &cobra.Command{
	Use:   "add PATH",
	Short: "Build (or rebuild) an index rooted at PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := m.AddPath(context.Background(), abs, autoFlag); err != nil {
			return err
		}
		for m.LftBuilding(abs) {
			time.Sleep(100 * time.Millisecond)
		}
		if !m.HasLft(abs) {
			return fmt.Errorf("building the index for %s failed", abs)
		}
		outcomes, err := m.Sync(nil)
		for _, o := range outcomes {
			if o.Err != nil {
				return o.Err
			}
		}
		return err
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove PATH",
	Short: "Drop the index rooted at PATH",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		if _, err := m.Refresh(context.Background(), ""); err != nil {
			return err
		}
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		if err := m.RemovePath(abs); err != nil {
			return err
		}
		_, err = m.Sync(nil)
		return err
	},
}

var (
	searchRegex    bool
	searchMax      int
	searchTimeoutS int
)

var searchCmd = &cobra.Command{
	Use:   "search ROOT PATTERN",
	Short: "Search names under an indexed ROOT",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		if _, err := m.Refresh(context.Background(), ""); err != nil {
			return err
		}
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		var deadline time.Time
		if searchTimeoutS > 0 {
			deadline = time.Now().Add(time.Duration(searchTimeoutS) * time.Second)
		}
		results, _, err := m.Search(abs, args[1], searchRegex, searchMax, deadline, nil)
		if err != nil {
			return err
		}
		for _, r := range results {
			fmt.Println(r.Path)
		}
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Flush every dirty buffer to its cache file",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		outcomes, err := m.Sync(nil)
		if err != nil {
			return err
		}
		for _, o := range outcomes {
			if o.Err != nil {
				fmt.Printf("%s: %v\n", o.RootPath, o.Err)
			}
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Reload cache files from disk into memory",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := openManager()
		if err != nil {
			return err
		}
		defer m.Close()
		loaded, err := m.Refresh(context.Background(), "")
		if err != nil {
			return err
		}
		fmt.Printf("loaded %d index(es)\n", loaded)
		return nil
	},
}

func init() {
	addCmd.Flags().BoolVar(&autoFlag, "auto", false, "mark this index as automatically created")
	searchCmd.Flags().BoolVar(&searchRegex, "regex", false, "treat PATTERN as a regular expression")
	searchCmd.Flags().IntVar(&searchMax, "max", 0, "maximum results to return, 0 for unbounded")
	searchCmd.Flags().IntVar(&searchTimeoutS, "timeout", 0, "search deadline in seconds, 0 for none")
}
