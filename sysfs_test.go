package castle

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func withFakeSysfsCollections(t *testing.T, names map[string]string) {
	t.Helper()
	dir := t.TempDir()
	for hexID, name := range names {
		collDir := filepath.Join(dir, hexID)
		require.NoError(t, os.MkdirAll(collDir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(collDir, "name"), []byte(name+"\n"), 0o644))
	}
	prev := collectionsSysfsPath
	collectionsSysfsPath = dir
	t.Cleanup(func() { collectionsSysfsPath = prev })
}

func TestFindCollectionMatchesByName(t *testing.T) {
	withFakeSysfsCollections(t, map[string]string{
		"1a": "users",
		"2b": "sessions",
	})

	id, err := FindCollection("sessions")
	require.NoError(t, err)
	require.Equal(t, uint32(0x2b), id)
}

func TestFindCollectionUnknownName(t *testing.T) {
	withFakeSysfsCollections(t, map[string]string{"1a": "users"})

	_, err := FindCollection("nope")
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeCollectionUnknown))
}

func TestListCollectionsReturnsAllNames(t *testing.T) {
	withFakeSysfsCollections(t, map[string]string{
		"1a": "users",
		"2b": "sessions",
	})

	names, err := ListCollections()
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"users", "sessions"}, names)
}
