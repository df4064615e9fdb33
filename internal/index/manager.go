// Package index implements the manager: the component that owns every
// live FS buffer, drives background builds, routes filesystem change
// events to the buffer they affect, and flushes dirty buffers to their
// cache files. It is grounded on the pack's cache-backend Fs type, which
// plays the same role (owning a path→object map, a dirty/pending set, and
// a bolt-backed persistence layer) for a remote-storage cache instead of a
// name index.
package index

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/UbuntuDDE/deepin-anything/internal/fsbuf"
	"github.com/UbuntuDDE/deepin-anything/internal/metrics"
	"github.com/UbuntuDDE/deepin-anything/internal/mountreg"
	"github.com/UbuntuDDE/deepin-anything/internal/persist"
	"github.com/UbuntuDDE/deepin-anything/internal/serialuri"
	"github.com/UbuntuDDE/deepin-anything/internal/walker"
)

// entry is the manager's bookkeeping for one indexed root.
type entry struct {
	buffer     *fsbuf.Buffer
	cacheFile  string
	auto       bool
	dirty      bool
	aliases    []string // every mount path this buffer is installed under
	cancelFunc context.CancelFunc
}

// Manager owns every live FS buffer and coordinates builds, mutations,
// persistence, and mount-event policy. The zero value is not usable; call
// New.
type Manager struct {
	mu      sync.Mutex
	byPath  map[string]*entry // canonical root path -> entry
	aliasOf map[string]string // alias path -> canonical root path

	cacheDir string
	cfg      *persist.Config
	catalog  *persist.Catalog
	metrics  *metrics.Metrics
	log      *logrus.Entry

	sf singleflight.Group

	deleteQueue []string // cache files pending deletion at next sync/shutdown

	walkerLog *logrus.Entry
}

// Option configures a Manager at construction time.
type Option func(*Manager)

// WithMetrics attaches a metrics bundle; callers that don't want metrics
// can omit this option entirely.
func WithMetrics(m *metrics.Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger overrides the default logger.
func WithLogger(log *logrus.Entry) Option {
	return func(mgr *Manager) { mgr.log = log }
}

// New creates a Manager rooted at cacheDir, loading (or initializing) its
// configuration and supplemental catalog.
func New(cacheDir string, opts ...Option) (*Manager, error) {
	cfg, err := persist.LoadConfig(cacheDir)
	if err != nil {
		return nil, errors.Wrap(err, "load manager config")
	}
	catalog, err := persist.OpenCatalog(cacheDir)
	if err != nil {
		return nil, errors.Wrap(err, "open manager catalog")
	}

	m := &Manager{
		byPath:    make(map[string]*entry),
		aliasOf:   make(map[string]string),
		cacheDir:  cacheDir,
		cfg:       cfg,
		catalog:   catalog,
		log:       logrus.NewEntry(logrus.StandardLogger()),
		walkerLog: logrus.NewEntry(logrus.StandardLogger()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Close releases the manager's catalog handle. It does not sync or free
// buffers; callers should call Sync and Quit first during shutdown.
func (m *Manager) Close() error {
	return m.catalog.Close()
}

// AddPath starts a background build for path, installing the resulting
// buffer (and any alias paths of the same partition) on success. auto
// marks the resulting index as automatically created rather than
// user-requested, which governs both its cache file extension and whether
// remove_path is allowed on it later.
func (m *Manager) AddPath(ctx context.Context, path string, auto bool) error {
	if !filepath.IsAbs(path) {
		return newErr(KindInvalidArgs, "path is not absolute: "+path)
	}

	m.mu.Lock()
	if _, busy := m.inFlight(path); busy {
		m.mu.Unlock()
		return newErr(KindBusy, "a build for this path is already in flight: "+path)
	}
	buildCtx, cancel := context.WithCancel(ctx)
	e := &entry{auto: auto, cancelFunc: cancel}
	m.byPath[path] = e
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.BuildsStarted.Inc()
	}

	// The walk runs under singleflight keyed by path. A second AddPath for
	// a path whose build is still in flight does not reach this point: it
	// is refused with KindBusy above.
	go func() {
		_, _, _ = m.sf.Do(path, func() (interface{}, error) {
			m.runBuild(buildCtx, path, auto)
			return nil, nil
		})
	}()
	return nil
}

func (m *Manager) inFlight(path string) (*entry, bool) {
	e, ok := m.byPath[path]
	if !ok || e.buffer != nil {
		return nil, false
	}
	return e, true
}

func (m *Manager) runBuild(ctx context.Context, path string, auto bool) {
	log := m.log.WithField("path", path)

	buf, err := fsbuf.New(0, path)
	if err != nil {
		log.WithError(err).Warn("failed to allocate buffer for build")
		m.failBuild(path)
		return
	}
	bd, err := buf.NewBuilder()
	if err != nil {
		log.WithError(err).Warn("failed to start builder")
		m.failBuild(path)
		return
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, err := walker.Walk(bd, path, walker.Options{
			Log: m.walkerLog.WithField("path", path),
			Progress: func(files, dirs int, curDir, curFile string) bool {
				select {
				case <-gCtx.Done():
					return true
				default:
					return false
				}
			},
		})
		return err
	})
	if err := g.Wait(); err != nil {
		log.WithError(err).Warn("build failed")
		m.failBuild(path)
		return
	}
	if err := bd.Finish(); err != nil {
		log.WithError(err).Warn("build left directories unclosed")
		m.failBuild(path)
		return
	}
	if buf.Tail() == buf.FirstName() {
		log.Debug("build produced an empty tree")
	}
	if ctx.Err() != nil {
		m.failBuild(path)
		return
	}

	if auto && !m.policyAllows(path) {
		log.Info("discarding auto-build, no longer allowed by policy")
		m.failBuild(path)
		return
	}

	uri, _ := serialuri.ToSerialURI(path)
	cacheFile := persist.CacheFilename(uri, auto)
	aliases := m.resolveAliases(path, uri)

	m.mu.Lock()
	m.byPath[path] = &entry{
		buffer:    buf,
		cacheFile: cacheFile,
		auto:      auto,
		dirty:     true,
		aliases:   aliases,
	}
	for _, a := range aliases {
		m.aliasOf[a] = path
	}
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.BuildsCompleted.Inc()
		m.metrics.BuffersIndexed.Inc()
	}
	_ = m.catalog.Put(persist.CatalogEntry{
		RootPath:  path,
		SerialURI: uri,
		CacheFile: cacheFile,
		Auto:      auto,
		LastBuilt: time.Now(),
	})
}

func (m *Manager) resolveAliases(path, uri string) []string {
	if uri == "" {
		return []string{path}
	}
	mounts, err := serialuri.FromSerialURI(uri)
	if err != nil || len(mounts) == 0 {
		return []string{path}
	}
	return mounts
}

func (m *Manager) policyAllows(path string) bool {
	// A removable-device classification would come from mountreg; absent
	// that context here, fall back to the internal policy flag.
	return m.cfg.AutoIndexInternal
}

func (m *Manager) failBuild(path string) {
	if m.metrics != nil {
		m.metrics.BuildsFailed.Inc()
	}
	m.mu.Lock()
	delete(m.byPath, path)
	m.mu.Unlock()
}

// RemovePath frees the buffer owned at path and schedules its cache file
// for deletion. It refuses to remove an auto-created index; the caller
// must disable auto-indexing policy instead.
func (m *Manager) RemovePath(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	root, e := m.resolveEntryLocked(path)
	if e == nil {
		return newErr(KindNotFound, "no index for path: "+path)
	}
	if e.auto {
		return newErr(KindNotSupported, "cannot remove an auto-created index: "+path)
	}

	e.buffer.Free()
	for _, a := range e.aliases {
		delete(m.aliasOf, a)
	}
	delete(m.byPath, root)
	m.deleteQueue = append(m.deleteQueue, e.cacheFile)
	if m.metrics != nil {
		m.metrics.BuffersIndexed.Dec()
	}
	_ = m.catalog.Delete(root)
	return nil
}

func (m *Manager) resolveEntryLocked(path string) (string, *entry) {
	if e, ok := m.byPath[path]; ok {
		return path, e
	}
	if root, ok := m.aliasOf[path]; ok {
		return root, m.byPath[root]
	}
	return "", nil
}

// resolveQueryLocked implements spec.md §4.5's buffer lookup for a query
// path: walk path upward, trimming one trailing segment at a time, until
// some prefix matches a registered root or alias (exact match counts as a
// zero-segment walk). It only considers fully built buffers. It returns
// the owning entry and the registered key (root or alias) that matched,
// so the caller can translate between that key and the buffer's own
// embedded root.
func (m *Manager) resolveQueryLocked(path string) (e *entry, mount string) {
	var best *entry
	var bestMount string
	bestLen := -1
	consider := func(k string, cand *entry) {
		if cand.buffer == nil {
			return
		}
		if path != k && !hasPathPrefix(path, k) {
			return
		}
		if len(k) > bestLen {
			best, bestMount, bestLen = cand, k, len(k)
		}
	}
	for root, cand := range m.byPath {
		consider(root, cand)
		for _, alias := range cand.aliases {
			consider(alias, cand)
		}
	}
	return best, bestMount
}

// resolveBuildingQueryLocked is resolveQueryLocked's counterpart for
// in-flight builds: same upward walk, but matching only entries whose
// buffer has not finished yet.
func (m *Manager) resolveBuildingQueryLocked(path string) *entry {
	var best *entry
	bestLen := -1
	consider := func(k string, cand *entry) {
		if cand.buffer != nil {
			return
		}
		if path != k && !hasPathPrefix(path, k) {
			return
		}
		if len(k) > bestLen {
			best, bestLen = cand, len(k)
		}
	}
	for root, cand := range m.byPath {
		consider(root, cand)
		for _, alias := range cand.aliases {
			consider(alias, cand)
		}
	}
	return best
}

// translateRoot rewrites path, known to lie at or under fromRoot, so it
// lies at or under toRoot instead. Used both to bring a caller-supplied
// alias path into a buffer's own root-relative coordinate space, and to
// bring a buffer-native result path back out to the alias the caller
// queried through.
func translateRoot(path, fromRoot, toRoot string) string {
	if fromRoot == toRoot {
		return path
	}
	rel := strings.TrimPrefix(strings.TrimPrefix(path, fromRoot), "/")
	if toRoot == "/" {
		return "/" + rel
	}
	if rel == "" {
		return toRoot
	}
	return strings.TrimSuffix(toRoot, "/") + "/" + rel
}

// HasLft reports whether path has a fully built (not in-flight) index.
func (m *Manager) HasLft(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, _ := m.resolveQueryLocked(path)
	return e != nil
}

// LftBuilding reports whether a build for path is currently in flight.
func (m *Manager) LftBuilding(path string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveBuildingQueryLocked(path) != nil
}

// CancelBuild cancels the in-flight build for path. It fails with
// KindNotFound when no build for path is in flight.
func (m *Manager) CancelBuild(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byPath[path]
	if !ok || e.buffer != nil {
		return newErr(KindNotFound, "no build in flight for path: "+path)
	}
	e.cancelFunc()
	return nil
}

// AllPaths returns the canonical root path of every fully built index.
func (m *Manager) AllPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.byPath))
	for p, e := range m.byPath {
		if e.buffer != nil {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// HasLftSubdirectories reports whether any indexed root lies strictly
// under path.
func (m *Manager) HasLftSubdirectories(path string) bool {
	prefix := strings.TrimSuffix(path, "/") + "/"
	for _, p := range m.AllPaths() {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// AutoIndexInternal/AutoIndexExternal report the current policy.
func (m *Manager) AutoIndexInternal() bool { return m.cfg.AutoIndexInternal }
func (m *Manager) AutoIndexExternal() bool { return m.cfg.AutoIndexExternal }

// SetAutoIndexInternal/SetAutoIndexExternal update and persist policy.
func (m *Manager) SetAutoIndexInternal(v bool) error {
	m.cfg.AutoIndexInternal = v
	return m.cfg.Save()
}

func (m *Manager) SetAutoIndexExternal(v bool) error {
	m.cfg.AutoIndexExternal = v
	return m.cfg.Save()
}

// SetLogLevel adjusts the manager's logger verbosity.
func (m *Manager) SetLogLevel(level logrus.Level) {
	m.log.Logger.SetLevel(level)
}

// HandleMountEvent applies spec.md §4.5's mount-event policy for ev,
// calling Refresh and/or AddPath as appropriate. MountRemoved events are
// ignored: indexes under the removed mount stay installed and are neither
// synced nor freed here.
func (m *Manager) HandleMountEvent(ctx context.Context, ev mountreg.Event) {
	switch ev.Kind {
	case mountreg.MountAdded:
		loaded, _ := m.Refresh(ctx, "")
		if loaded == 0 {
			allowed := m.cfg.AutoIndexInternal
			if ev.Removable {
				allowed = m.cfg.AutoIndexExternal
			}
			if allowed {
				_ = m.AddPath(ctx, ev.MountPath, true)
			}
		}
	case mountreg.FilesystemAdded, mountreg.FilesystemRemoved:
		// Stale auto-created cache files for a reappearing or vanished
		// device are cleaned up the next time Refresh scans the cache
		// directory and finds them unloadable or unmounted.
	}
}
