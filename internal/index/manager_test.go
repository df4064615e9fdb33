package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/UbuntuDDE/deepin-anything/internal/fsbuf"
)

func mkTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "alpha.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "beta.txt"), []byte("b"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "docs", "notes.txt"), []byte("n"), 0o644))
	return root
}

// buildEntry builds a buffer over root via the walker package's caller
// (fsbuf directly here, to avoid pulling in the walker package's OS
// dependency for a handful of synthetic files) and installs it as a
// manager entry, bypassing AddPath's background build and real-disk
// serial URI resolution so tests are deterministic.
var buildEntrySeq int

func buildEntry(t *testing.T, m *Manager, root string) {
	t.Helper()
	buf, err := fsbuf.New(0, root)
	require.NoError(t, err)
	bd, err := buf.NewBuilder()
	require.NoError(t, err)
	require.NoError(t, bd.AddFile("alpha.txt"))
	require.NoError(t, bd.AddFile("beta.txt"))
	require.NoError(t, bd.BeginDir("docs"))
	require.NoError(t, bd.AddFile("notes.txt"))
	require.NoError(t, bd.EndDir())
	require.NoError(t, bd.Finish())

	buildEntrySeq++
	m.mu.Lock()
	m.byPath[root] = &entry{
		buffer:    buf,
		cacheFile: fmt.Sprintf("serial:test-root-%d.lft", buildEntrySeq),
		aliases:   []string{root},
	}
	m.aliasOf[root] = root
	m.mu.Unlock()
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	m, err := New(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestHasLftAndAllPaths(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	require.False(t, m.HasLft(root))

	buildEntry(t, m, root)
	require.True(t, m.HasLft(root))
	require.Equal(t, []string{root}, m.AllPaths())
}

func TestSearchFindsMatchesAcrossSubdirectories(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	results, _, err := m.Search(root, "notes", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join(root, "docs", "notes.txt"), results[0].Path)
}

func TestSearchRegexBoundedByMaxCount(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	results, cur, err := m.Search(root, `\.txt$`, true, 1, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	more, _, err := m.Search(root, `\.txt$`, true, 10, time.Time{}, &cur)
	require.NoError(t, err)
	require.Len(t, more, 2)
}

func TestInsertRemoveRenameFile(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	require.NoError(t, m.InsertFile(filepath.Join(root, "gamma.txt"), false))
	results, _, err := m.Search(root, "gamma", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, m.RenameFile(filepath.Join(root, "gamma.txt"), filepath.Join(root, "delta.txt")))
	results, _, err = m.Search(root, "gamma", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Empty(t, results)
	results, _, err = m.Search(root, "delta", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	require.NoError(t, m.RemoveFile(filepath.Join(root, "delta.txt")))
	results, _, err = m.Search(root, "delta", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRemovePathRefusesAutoCreatedIndex(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	m.mu.Lock()
	m.byPath[root].auto = true
	m.mu.Unlock()

	err := m.RemovePath(root)
	require.Error(t, err)
	require.True(t, Is(err, KindNotSupported))
}

func TestSyncWritesOnlyDirtyBuffersThenIsIdempotent(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	m.mu.Lock()
	m.byPath[root].dirty = true
	m.mu.Unlock()

	outcomes, err := m.Sync(nil)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)

	_, statErr := os.Stat(filepath.Join(m.cacheDir, m.byPath[root].cacheFile))
	require.NoError(t, statErr)

	// Second call has nothing dirty, so it writes nothing.
	outcomes, err = m.Sync(nil)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

func TestRefreshReloadsSavedBuffer(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)
	m.mu.Lock()
	m.byPath[root].dirty = true
	m.mu.Unlock()

	_, err := m.Sync(nil)
	require.NoError(t, err)

	// Drop the in-memory buffer without deleting its cache file, simulating
	// a fresh process that has only the on-disk state to start from.
	m.mu.Lock()
	m.byPath = make(map[string]*entry)
	m.aliasOf = make(map[string]string)
	m.mu.Unlock()

	loaded, err := m.Refresh(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, 1, loaded)
	require.True(t, m.HasLft(root))
}

func TestAliasMountSharesOneBuffer(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	alias := root + "-alias"
	m.mu.Lock()
	m.byPath[root].aliases = append(m.byPath[root].aliases, alias)
	m.aliasOf[alias] = root
	m.mu.Unlock()

	require.True(t, m.HasLft(alias))
	require.NoError(t, m.InsertFile(filepath.Join(alias, "via-alias.txt"), false))

	results, _, err := m.Search(root, "via-alias", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestSearchAndHasLftResolveAncestorRootForSubdirectoryQuery(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	sub := filepath.Join(root, "docs")
	require.True(t, m.HasLft(sub))

	results, _, err := m.Search(sub, "notes", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join(root, "docs", "notes.txt"), results[0].Path)
}

func TestSearchTranslatesAliasRootInQueryAndResults(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	alias := root + "-alias"
	m.mu.Lock()
	m.byPath[root].aliases = append(m.byPath[root].aliases, alias)
	m.aliasOf[alias] = root
	m.mu.Unlock()

	// Searching through the non-canonical alias must still find matches
	// under the buffer's real root, and report them back with the alias
	// prefix rather than the buffer's own root.
	results, _, err := m.Search(alias, "notes", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join(alias, "docs", "notes.txt"), results[0].Path)

	// A subdirectory of the alias resolves the same way.
	results, _, err = m.Search(filepath.Join(alias, "docs"), "notes", false, 0, time.Time{}, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, filepath.Join(alias, "docs", "notes.txt"), results[0].Path)
}

func TestSyncRestrictsToMountPrefixIncludingNestedRoots(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)
	buildEntry(t, m, root)

	nestedRoot := filepath.Join(root, "docs")
	buildEntry(t, m, nestedRoot)

	m.mu.Lock()
	m.byPath[root].dirty = true
	m.byPath[nestedRoot].dirty = true
	m.mu.Unlock()

	outcomes, err := m.Sync(&root)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)

	m.mu.Lock()
	rootDirty := m.byPath[root].dirty
	nestedDirty := m.byPath[nestedRoot].dirty
	m.mu.Unlock()
	require.False(t, rootDirty)
	require.False(t, nestedDirty)
}

func TestCancelBuildStopsInFlightBuild(t *testing.T) {
	m := newTestManager(t)
	root := mkTree(t)

	ctx, cancel := context.WithCancel(context.Background())
	m.mu.Lock()
	m.byPath[root] = &entry{cancelFunc: cancel}
	m.mu.Unlock()

	require.True(t, m.LftBuilding(root))
	require.NoError(t, m.CancelBuild(root))
	require.ErrorIs(t, ctx.Err(), context.Canceled)

	m.mu.Lock()
	delete(m.byPath, root)
	m.mu.Unlock()
	require.Error(t, m.CancelBuild(root))
}
