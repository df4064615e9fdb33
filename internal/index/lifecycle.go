package index

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/UbuntuDDE/deepin-anything/internal/fsbuf"
	"github.com/UbuntuDDE/deepin-anything/internal/persist"
	"github.com/UbuntuDDE/deepin-anything/internal/serialuri"
)

// syncInterval is the periodic background flush period spec.md §4.6 names.
const syncInterval = 10 * time.Minute

// Start claims the crash-recovery sentinel, discards any auto-created
// cache files left over from an unclean shutdown, loads every surviving
// cache file via Refresh, and launches the periodic sync goroutine. It
// returns a stop function the caller should call during shutdown, before
// the final Sync and Quit.
func (m *Manager) Start(ctx context.Context) (stop func(), err error) {
	crashed, err := persist.ClaimSentinel(m.cacheDir)
	if err != nil {
		return nil, errors.Wrap(err, "claim sentinel")
	}
	if crashed {
		m.log.Warn("previous run did not shut down cleanly, discarding auto-created caches")
		if rmErr := m.discardAutoCaches(); rmErr != nil {
			m.log.WithError(rmErr).Warn("failed to discard stale auto-created caches")
		}
	}

	if _, err := m.Refresh(ctx, ""); err != nil {
		m.log.WithError(err).Warn("initial refresh encountered errors")
	}

	done := make(chan struct{})
	go m.syncLoop(ctx, done)

	return func() { close(done) }, nil
}

// discardAutoCaches removes every .LFT file in the cache directory, called
// once on crash recovery since an auto-created index's buffer state was
// never guaranteed durable across an unclean shutdown.
func (m *Manager) discardAutoCaches() error {
	return filepath.WalkDir(m.cacheDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && persist.IsAutoCreated(d.Name()) {
			_ = os.Remove(p)
		}
		return nil
	})
}

func (m *Manager) syncLoop(ctx context.Context, done <-chan struct{}) {
	limiter := rate.NewLimiter(rate.Every(syncInterval), 1)
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !limiter.Allow() {
				continue
			}
			if _, err := m.Sync(nil); err != nil {
				m.log.WithError(err).Warn("periodic sync failed")
			}
		}
	}
}

// Refresh scans the cache directory for cache files whose serial URI
// starts with uriPrefix (all of them, if uriPrefix is empty), loads each
// via fsbuf.Load, and installs it under every currently mounted alias of
// its partition. Cache files in subdirectories of the cache directory (a
// serial URI's path component) are scanned too. A cache file that fails to
// load or names a partition that is no longer mounted is deleted; when a
// file that fails to load belongs to a partition that is still mounted, a
// rebuild of the same kind (auto or user-requested) is queued instead of
// silently losing it.
func (m *Manager) Refresh(ctx context.Context, uriPrefix string) (loaded int, err error) {
	var names []string
	err = filepath.WalkDir(m.cacheDir, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if !d.IsDir() {
			if rel, relErr := filepath.Rel(m.cacheDir, p); relErr == nil {
				names = append(names, rel)
			}
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, errors.Wrap(err, "read cache directory")
	}

	for _, name := range names {
		if !persist.IsAutoCreated(name) && !persist.IsUserCreated(name) {
			continue
		}
		uri := strings.TrimSuffix(strings.TrimSuffix(name, ".lft"), ".LFT")
		if uriPrefix != "" && !strings.HasPrefix(uri, uriPrefix) {
			continue
		}

		full := filepath.Join(m.cacheDir, name)
		buf, loadErr := fsbuf.Load(full)
		if loadErr != nil {
			m.log.WithError(loadErr).WithField("file", name).Warn("dropping unreadable cache file")
			_ = os.Remove(full)
			if mounts, _ := serialuri.FromSerialURI(uri); len(mounts) > 0 && pathExists(mounts[0]) {
				_ = m.AddPath(ctx, mounts[0], persist.IsAutoCreated(name))
			}
			continue
		}

		mounts := m.resolveAliases(buf.RootPath(), uri)
		if len(mounts) == 0 || mounts[0] == buf.RootPath() && !pathExists(buf.RootPath()) {
			buf.Free()
			m.log.WithField("file", name).Info("dropping cache file, partition no longer mounted")
			_ = os.Remove(full)
			continue
		}

		canonical := mounts[0]
		m.mu.Lock()
		if _, exists := m.byPath[canonical]; exists {
			m.mu.Unlock()
			buf.Free()
			continue
		}
		e := &entry{
			buffer:    buf,
			cacheFile: name,
			auto:      persist.IsAutoCreated(name),
			aliases:   mounts,
		}
		m.byPath[canonical] = e
		for _, a := range mounts {
			m.aliasOf[a] = canonical
		}
		m.mu.Unlock()

		if m.metrics != nil {
			m.metrics.BuffersIndexed.Inc()
		}
		loaded++
	}
	return loaded, nil
}

func pathExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}

// SyncOutcome reports the result of flushing one buffer during Sync.
type SyncOutcome struct {
	RootPath string
	Err      error
}

// Sync writes every dirty buffer to its cache file, optionally restricted
// to the buffers whose root is mount or lies under it (or every buffer, if
// mount is nil), and clears
// the dirty flag of each successfully written buffer. A second call with no
// intervening mutation performs no I/O, since nothing is left dirty.
func (m *Manager) Sync(mount *string) ([]SyncOutcome, error) {
	start := time.Now()
	m.mu.Lock()
	var targets []struct {
		root string
		e    *entry
	}
	for root, e := range m.byPath {
		if e.buffer == nil || !e.dirty {
			continue
		}
		if mount != nil && root != *mount && !hasPathPrefix(root, *mount) {
			continue
		}
		targets = append(targets, struct {
			root string
			e    *entry
		}{root, e})
	}
	m.mu.Unlock()

	var outcomes []SyncOutcome
	for _, t := range targets {
		full := filepath.Join(m.cacheDir, t.e.cacheFile)
		// A cache filename derived from a serial URI that contains '/' (the
		// path-within-partition component) creates nested directories under
		// the cache dir; fsbuf.Save expects its parent to already exist.
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			outcomes = append(outcomes, SyncOutcome{RootPath: t.root, Err: err})
			continue
		}
		err := fsbuf.Save(t.e.buffer, full)
		if err == nil {
			m.mu.Lock()
			t.e.dirty = false
			m.mu.Unlock()
		}
		outcomes = append(outcomes, SyncOutcome{RootPath: t.root, Err: err})
	}

	if m.metrics != nil {
		m.metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}

	m.flushDeleteQueue()
	return outcomes, nil
}

func (m *Manager) flushDeleteQueue() {
	m.mu.Lock()
	queue := m.deleteQueue
	m.deleteQueue = nil
	m.mu.Unlock()
	for _, f := range queue {
		_ = os.Remove(filepath.Join(m.cacheDir, f))
	}
}

// Quit flushes every dirty buffer, frees all in-memory buffers, deletes any
// queued cache files, and releases the crash-recovery sentinel. Callers
// should stop the periodic sync goroutine (via the function Start
// returned) before calling Quit.
func (m *Manager) Quit() error {
	if _, err := m.Sync(nil); err != nil {
		return err
	}

	m.mu.Lock()
	for _, e := range m.byPath {
		if e.buffer != nil {
			e.buffer.Free()
		}
	}
	m.byPath = make(map[string]*entry)
	m.aliasOf = make(map[string]string)
	m.mu.Unlock()

	if err := persist.ReleaseSentinel(m.cacheDir); err != nil {
		return err
	}
	return m.Close()
}
