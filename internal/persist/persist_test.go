package persist

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCacheFilenameEncoding(t *testing.T) {
	require.Equal(t, "serial:1234-ABCD/docs/file.lft", CacheFilename("serial:1234-ABCD/docs/file", false))
	require.Equal(t, "serial:1234-ABCD.LFT", CacheFilename("serial:1234-ABCD", true))
	require.Equal(t, "serial:abc/my%20docs.lft", CacheFilename("serial:abc/my docs", false))
}

func TestIsAutoOrUserCreated(t *testing.T) {
	require.True(t, IsAutoCreated("x.LFT"))
	require.False(t, IsAutoCreated("x.lft"))
	require.True(t, IsUserCreated("x.lft"))
	require.False(t, IsUserCreated("x.LFT"))
}

func TestSentinelDetectsCrash(t *testing.T) {
	dir := t.TempDir()
	crashed, err := ClaimSentinel(dir)
	require.NoError(t, err)
	require.False(t, crashed)

	crashed, err = ClaimSentinel(dir)
	require.NoError(t, err)
	require.True(t, crashed)

	require.NoError(t, ReleaseSentinel(dir))
	crashed, err = ClaimSentinel(dir)
	require.NoError(t, err)
	require.False(t, crashed)
}

func TestConfigRoundTrip(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	require.True(t, cfg.AutoIndexInternal)
	require.False(t, cfg.AutoIndexExternal)

	cfg.AutoIndexExternal = true
	require.NoError(t, cfg.Save())

	reloaded, err := LoadConfig(dir)
	require.NoError(t, err)
	require.True(t, reloaded.AutoIndexInternal)
	require.True(t, reloaded.AutoIndexExternal)
}

func TestCatalogPutAndAll(t *testing.T) {
	dir := t.TempDir()
	cat, err := OpenCatalog(dir)
	require.NoError(t, err)
	defer cat.Close()

	entry := CatalogEntry{
		RootPath:     "/tmp/t",
		SerialURI:    "serial:abc",
		CacheFile:    "serial:abc.lft",
		Auto:         false,
		LastBuilt:    time.Now().Round(time.Second),
		RecordsCount: 3,
	}
	require.NoError(t, cat.Put(entry))

	all, err := cat.All()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, entry.RootPath, all[0].RootPath)
	require.Equal(t, entry.RecordsCount, all[0].RecordsCount)

	require.NoError(t, cat.Delete(entry.RootPath))
	all, err = cat.All()
	require.NoError(t, err)
	require.Empty(t, all)
}
