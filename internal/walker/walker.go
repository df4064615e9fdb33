// Package walker traverses a directory subtree in preorder, feeding the
// names it finds into an fsbuf.Builder. It mirrors the device-boundary and
// symlink handling the local backend of the pack's reference file-access
// layer uses when asked not to cross filesystem boundaries.
package walker

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/UbuntuDDE/deepin-anything/internal/fsbuf"
)

// Options controls a Walk call.
type Options struct {
	// IncludeHidden includes leading-dot entries. Default (zero value)
	// excludes them.
	IncludeHidden bool

	// Progress is invoked before descending into each directory and after
	// each file is appended. Returning true aborts the walk. Either field
	// may be nil.
	Progress func(fileCount, dirCount int, curDir, curFile string) bool

	Log *logrus.Entry
}

// Result reports how a Walk call ended.
type Result struct {
	Files     int
	Dirs      int
	Completed bool // false when Progress requested an abort
}

// Walk builds bd in preorder from the directory tree rooted at root. It
// does not descend into directories reached only through a symlink, and it
// stops at filesystem boundaries (a child directory whose device id
// differs from root's). Per-entry errors (permission denied, a file
// vanishing mid-walk) are logged and skipped rather than propagated; only
// a failure to stat the root itself is returned. A root directory that
// cannot be listed is logged and yields an empty, completed walk.
func Walk(bd *fsbuf.Builder, root string, opts Options) (Result, error) {
	log := opts.Log
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	rootDev, err := deviceOf(root)
	if err != nil {
		return Result{}, errors.Wrapf(err, "stat walk root %s", root)
	}

	w := &walk{bd: bd, opts: opts, log: log, rootDev: rootDev}
	w.aborted = w.walkDir(root)
	return Result{Files: w.files, Dirs: w.dirs, Completed: !w.aborted}, nil
}

type walk struct {
	bd      *fsbuf.Builder
	opts    Options
	log     *logrus.Entry
	rootDev uint64
	files   int
	dirs    int
	aborted bool
}

// walkDir appends dir's children to bd and recurses into subdirectories.
// It returns true if the walk was aborted by Progress.
func (w *walk) walkDir(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		w.log.WithError(err).WithField("dir", dir).Warn("skipping unreadable directory")
		return false
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, e := range entries {
		name := e.Name()
		if !w.opts.IncludeHidden && len(name) > 0 && name[0] == '.' {
			continue
		}
		full := filepath.Join(dir, name)

		info, err := e.Info()
		if err != nil {
			w.log.WithError(err).WithField("path", full).Warn("skipping entry with unreadable metadata")
			continue
		}

		isSymlink := info.Mode()&os.ModeSymlink != 0
		isDir := e.IsDir() && !isSymlink

		if isDir {
			if w.opts.Progress != nil && w.opts.Progress(w.files, w.dirs, full, "") {
				return true
			}
			dev, err := deviceOf(full)
			if err != nil {
				w.log.WithError(err).WithField("dir", full).Warn("skipping directory, stat failed")
				continue
			}
			if dev != w.rootDev {
				w.log.WithField("dir", full).Debug("skipping mount point, crosses filesystem boundary")
				continue
			}
			if err := w.bd.BeginDir(name); err != nil {
				w.log.WithError(err).WithField("dir", full).Warn("failed to append directory")
				continue
			}
			w.dirs++
			if w.walkDir(full) {
				_ = w.bd.EndDir()
				return true
			}
			if err := w.bd.EndDir(); err != nil {
				w.log.WithError(err).WithField("dir", full).Warn("failed to close directory")
			}
			continue
		}

		// Regular files and symlinks (including symlinked directories,
		// which are recorded as plain files and never descended into).
		if err := w.bd.AddFile(name); err != nil {
			w.log.WithError(err).WithField("path", full).Warn("failed to append file")
			continue
		}
		w.files++
		if w.opts.Progress != nil && w.opts.Progress(w.files, w.dirs, dir, full) {
			return true
		}
	}
	return false
}

func deviceOf(path string) (uint64, error) {
	var st unix.Stat_t
	if err := unix.Lstat(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Dev), nil
}
