package walker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/UbuntuDDE/deepin-anything/internal/fsbuf"
)

func mkTree(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.txt"), []byte("b"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "c.txt"), []byte("c"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("h"), 0o644))
	return root
}

func TestWalkBuildsTree(t *testing.T) {
	root := mkTree(t)

	buf, err := fsbuf.New(0, root)
	require.NoError(t, err)
	bd, err := buf.NewBuilder()
	require.NoError(t, err)

	res, err := Walk(bd, root, Options{})
	require.NoError(t, err)
	require.NoError(t, bd.Finish())
	require.True(t, res.Completed)
	require.Equal(t, 3, res.Files) // a.txt, b.txt, sub/c.txt; .hidden excluded
	require.Equal(t, 1, res.Dirs)

	require.True(t, buf.WellFormed())
	_, start, end, err := buf.GetPathRange(filepath.Join(root, "sub"))
	require.NoError(t, err)
	require.Less(t, start, end)
}

func TestWalkIncludesHiddenWhenRequested(t *testing.T) {
	root := mkTree(t)

	buf, err := fsbuf.New(0, root)
	require.NoError(t, err)
	bd, err := buf.NewBuilder()
	require.NoError(t, err)

	res, err := Walk(bd, root, Options{IncludeHidden: true})
	require.NoError(t, err)
	require.NoError(t, bd.Finish())
	require.Equal(t, 4, res.Files)
}

func TestWalkAbortsOnProgress(t *testing.T) {
	root := mkTree(t)

	buf, err := fsbuf.New(0, root)
	require.NoError(t, err)
	bd, err := buf.NewBuilder()
	require.NoError(t, err)

	calls := 0
	res, err := Walk(bd, root, Options{Progress: func(files, dirs int, curDir, curFile string) bool {
		calls++
		return calls > 1
	}})
	require.NoError(t, err)
	require.False(t, res.Completed)
}
