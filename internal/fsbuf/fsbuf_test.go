package fsbuf

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSample(t *testing.T) *Buffer {
	t.Helper()
	b, err := New(0, "/tmp/t")
	require.NoError(t, err)

	bd, err := b.NewBuilder()
	require.NoError(t, err)
	require.NoError(t, bd.AddFile("a.txt"))
	require.NoError(t, bd.AddFile("b.txt"))
	require.NoError(t, bd.BeginDir("sub"))
	require.NoError(t, bd.AddFile("c.txt"))
	require.NoError(t, bd.EndDir())
	require.NoError(t, bd.Finish())
	return b
}

func searchAll(t *testing.T, b *Buffer, root string, needle string) []string {
	t.Helper()
	_, start, end, err := b.GetPathRange(root)
	require.NoError(t, err)

	var results []string
	cursor := start
	for cursor < end {
		offs, next, err := b.SearchFiles(cursor, end, make([]uint32, 0, 64), func(name []byte) bool {
			return bytes.Contains(bytes.ToLower(name), bytes.ToLower([]byte(needle)))
		}, nil)
		require.NoError(t, err)
		for _, off := range offs {
			p, err := b.GetPathByNameOff(off)
			require.NoError(t, err)
			results = append(results, p)
		}
		if next == cursor {
			break
		}
		cursor = next
	}
	return results
}

func TestBuildThenSearch(t *testing.T) {
	b := buildSample(t)
	require.True(t, b.WellFormed())

	got := searchAll(t, b, "/tmp/t", "c")
	require.Equal(t, []string{"/tmp/t/sub/c.txt"}, got)
}

func TestEmptyTreeIsWellFormed(t *testing.T) {
	b, err := New(0, "/tmp/empty")
	require.NoError(t, err)
	bd, err := b.NewBuilder()
	require.NoError(t, err)
	require.NoError(t, bd.Finish())
	require.True(t, b.WellFormed())
	require.Equal(t, b.FirstName(), b.Tail())
}

func TestInsertThenSearch(t *testing.T) {
	b := buildSample(t)

	_, err := b.InsertPath("/tmp/t/sub/cc.txt", false)
	require.NoError(t, err)
	require.True(t, b.WellFormed())

	got := searchAll(t, b, "/tmp/t", "cc")
	require.Equal(t, []string{"/tmp/t/sub/cc.txt"}, got)
}

func TestInsertDuplicateFails(t *testing.T) {
	b := buildSample(t)
	_, err := b.InsertPath("/tmp/t/a.txt", false)
	require.Error(t, err)
	require.True(t, Is(err, KindAlreadyExists))
}

func TestInsertMissingParentFails(t *testing.T) {
	b := buildSample(t)
	_, err := b.InsertPath("/tmp/t/nope/d.txt", false)
	require.Error(t, err)
	require.True(t, Is(err, KindParentMissing))
}

func TestRemovePath(t *testing.T) {
	b := buildSample(t)
	ch, err := b.RemovePath("/tmp/t/a.txt")
	require.NoError(t, err)
	require.Equal(t, ChangeRemove, ch.Kind)
	require.True(t, b.WellFormed())

	_, _, found := b.resolveLocked("/tmp/t/a.txt")
	require.False(t, found)

	// sibling b.txt and the sub subtree must survive intact.
	got := searchAll(t, b, "/tmp/t", "c")
	require.Equal(t, []string{"/tmp/t/sub/c.txt"}, got)
}

func TestRemoveDirTakesSubtree(t *testing.T) {
	b := buildSample(t)
	_, err := b.RemovePath("/tmp/t/sub")
	require.NoError(t, err)
	require.True(t, b.WellFormed())

	got := searchAll(t, b, "/tmp/t", "c")
	require.Empty(t, got)
}

func TestRemoveNotFound(t *testing.T) {
	b := buildSample(t)
	_, err := b.RemovePath("/tmp/t/nope.txt")
	require.Error(t, err)
	require.True(t, Is(err, KindNotFound))
}

// TestRenameCrossDirectory reproduces spec scenario 2-3: insert a file under
// sub/, then rename it up into the root, and confirm the old location no
// longer matches while the new one does.
func TestRenameCrossDirectory(t *testing.T) {
	b := buildSample(t)
	_, err := b.InsertPath("/tmp/t/sub/cc.txt", false)
	require.NoError(t, err)

	ch, err := b.RenamePath("/tmp/t/sub/cc.txt", "/tmp/t/cc.txt")
	require.NoError(t, err)
	require.Equal(t, ChangeRename, ch.Kind)
	require.True(t, b.WellFormed())

	require.Empty(t, searchAll(t, b, "/tmp/t/sub", "cc"))
	require.Equal(t, []string{"/tmp/t/cc.txt"}, searchAll(t, b, "/tmp/t", "cc"))
}

func TestRenameSameDirectoryReorders(t *testing.T) {
	b := buildSample(t)
	_, err := b.RenamePath("/tmp/t/a.txt", "/tmp/t/z.txt")
	require.NoError(t, err)
	require.True(t, b.WellFormed())

	require.Empty(t, searchAll(t, b, "/tmp/t", "a.txt"))
	require.Equal(t, []string{"/tmp/t/z.txt"}, searchAll(t, b, "/tmp/t", "z.txt"))
}

func TestRenameDirectoryPreservesChildren(t *testing.T) {
	b := buildSample(t)
	_, err := b.RenamePath("/tmp/t/sub", "/tmp/t/renamed")
	require.NoError(t, err)
	require.True(t, b.WellFormed())

	require.Equal(t, []string{"/tmp/t/renamed/c.txt"}, searchAll(t, b, "/tmp/t", "c.txt"))
}

func TestRenameCollisionFails(t *testing.T) {
	b := buildSample(t)
	_, err := b.RenamePath("/tmp/t/a.txt", "/tmp/t/b.txt")
	require.Error(t, err)
	require.True(t, Is(err, KindAlreadyExists))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	b := buildSample(t)
	dir := t.TempDir()
	name := filepath.Join(dir, "sample.lft")

	require.NoError(t, Save(b, name))

	loaded, err := Load(name)
	require.NoError(t, err)
	require.True(t, loaded.WellFormed())
	require.Equal(t, b.RootPath(), loaded.RootPath())
	require.Equal(t, b.Tail(), loaded.Tail())

	got := searchAll(t, loaded, "/tmp/t", "c")
	require.Equal(t, []string{"/tmp/t/sub/c.txt"}, got)
}

func TestLoadBadMagic(t *testing.T) {
	dir := t.TempDir()
	name := filepath.Join(dir, "bad.lft")
	require.NoError(t, os.WriteFile(name, []byte("not a valid cache file at all"), 0o644))

	_, err := Load(name)
	require.Error(t, err)
	require.True(t, Is(err, KindBadFormat))
}

func TestSearchResumability(t *testing.T) {
	b := buildSample(t)
	_, start, end, err := b.GetPathRange("/tmp/t")
	require.NoError(t, err)

	var oneShot []uint32
	cursor := start
	for cursor < end {
		out, next, err := b.SearchFiles(cursor, end, make([]uint32, 0, 1000), func(name []byte) bool { return true }, nil)
		require.NoError(t, err)
		oneShot = append(oneShot, out...)
		cursor = next
	}

	var chunked []uint32
	cursor = start
	for cursor < end {
		out, next, err := b.SearchFiles(cursor, end, make([]uint32, 0, 1), func(name []byte) bool { return true }, nil)
		require.NoError(t, err)
		chunked = append(chunked, out...)
		if next == cursor {
			cursor++
			continue
		}
		cursor = next
	}

	require.ElementsMatch(t, oneShot, chunked)
}
