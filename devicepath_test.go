package castle

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestDeviceNumberStatsRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "somefile")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	_, err := deviceNumber(path)
	require.NoError(t, err)
}

func TestDeviceNumberMissingPathFails(t *testing.T) {
	_, err := deviceNumber(filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
}

func TestDevicePathCacheGrowsByMinor(t *testing.T) {
	var cache devicePathCache

	p0 := cache.pathFor(uint32(unix.Mkdev(0, 0)))
	p3 := cache.pathFor(uint32(unix.Mkdev(0, 3)))
	require.Equal(t, fmt.Sprintf(devicePathFormat, 0), p0)
	require.Equal(t, fmt.Sprintf(devicePathFormat, 3), p3)
	require.Len(t, cache.paths, 4)
}

func TestDevicePathCacheStableOnRepeatedLookup(t *testing.T) {
	var cache devicePathCache

	first := cache.pathFor(uint32(unix.Mkdev(0, 2)))
	second := cache.pathFor(uint32(unix.Mkdev(0, 2)))
	require.Equal(t, first, second)
	require.Len(t, cache.paths, 3)
}
