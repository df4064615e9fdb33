package persist

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

const sentinelFilename = ".running"

// ClaimSentinel creates dir's crash-recovery sentinel file and reports
// whether it already existed, meaning the previous run did not shut down
// cleanly (spec.md §4.5 "On startup"). Callers that get crashed=true should
// discard every auto-created cache file before trusting the cache
// directory again.
func ClaimSentinel(dir string) (crashed bool, err error) {
	path := filepath.Join(dir, sentinelFilename)
	if _, statErr := os.Stat(path); statErr == nil {
		crashed = true
	} else if !os.IsNotExist(statErr) {
		return false, errors.Wrap(statErr, "stat sentinel file")
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return false, errors.Wrap(err, "create sentinel file")
	}
	_ = f.Close()
	return crashed, nil
}

// ReleaseSentinel removes dir's sentinel file on clean shutdown.
func ReleaseSentinel(dir string) error {
	path := filepath.Join(dir, sentinelFilename)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "remove sentinel file")
	}
	return nil
}
