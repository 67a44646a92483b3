package castle

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// collectionsSysfsPath is where the engine publishes one directory per
// attached collection, named by its hex collection id, each containing
// a "name" file with the collection's human-readable name. A var rather
// than a const so tests can point it at a scratch directory.
var collectionsSysfsPath = "/sys/fs/castle-fs/collections"

// FindCollection looks up an attached collection's id by name, scanning
// the engine's sysfs collection listing. It returns an *Error with
// ErrCodeCollectionUnknown if no attached collection matches.
func FindCollection(name string) (uint32, error) {
	entries, err := os.ReadDir(collectionsSysfsPath)
	if err != nil {
		return 0, fmt.Errorf("castle: reading %s: %w", collectionsSysfsPath, err)
	}

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		namePath := filepath.Join(collectionsSysfsPath, entry.Name(), "name")
		collName, err := readCollectionName(namePath)
		if err != nil {
			continue
		}
		if collName == name {
			id, err := strconv.ParseUint(entry.Name(), 16, 32)
			if err != nil {
				continue
			}
			return uint32(id), nil
		}
	}
	return 0, newError("FindCollection", ErrCodeCollectionUnknown, fmt.Sprintf("no attached collection named %q", name))
}

func readCollectionName(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", scanner.Err()
	}
	return strings.TrimRight(scanner.Text(), "\n"), nil
}

// ListCollections returns the names of every attached collection
// currently published under the engine's sysfs collection listing.
func ListCollections() ([]string, error) {
	entries, err := os.ReadDir(collectionsSysfsPath)
	if err != nil {
		return nil, fmt.Errorf("castle: reading %s: %w", collectionsSysfsPath, err)
	}

	var names []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		namePath := filepath.Join(collectionsSysfsPath, entry.Name(), "name")
		name, err := readCollectionName(namePath)
		if err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
