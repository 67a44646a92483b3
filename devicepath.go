package castle

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// devicePathFormat is how the engine names the block devices it exposes
// per minor number.
const devicePathFormat = "/dev/castle-fs/castle-fs-%d"

// deviceNumber returns the device number (dev_t) backing path, as
// reported by stat(2)'s st_rdev. It is the form claim/attach/detach/
// snapshot speak to the engine.
func deviceNumber(path string) (uint32, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, fmt.Errorf("castle: stat %s: %w", path, err)
	}
	return uint32(st.Rdev), nil
}

// devicePathCache translates a device number back to a path, indexed by
// minor number the way the engine's own minor-to-path convention works:
// paths are assigned densely per minor and never change once observed,
// so they can be cached and grown as higher minors are seen.
type devicePathCache struct {
	mu    sync.Mutex
	paths []string
}

var globalDevicePathCache devicePathCache

func minorOf(devno uint32) int {
	return int(unix.Minor(uint64(devno)))
}

func (c *devicePathCache) pathFor(devno uint32) string {
	minor := minorOf(devno)

	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.paths) <= minor {
		c.paths = append(c.paths, fmt.Sprintf(devicePathFormat, len(c.paths)))
	}
	return c.paths[minor]
}

// devicePath returns the path the engine names the block device
// identified by devno, growing the minor-indexed cache as needed.
func devicePath(devno uint32) string {
	return globalDevicePathCache.pathFor(devno)
}

// ClaimPath claims the block device at path as a slave, returning its
// slave id. It is Claim, resolved through stat(2) instead of a raw
// device number.
func (c *Connection) ClaimPath(path string) (uint32, error) {
	devno, err := deviceNumber(path)
	if err != nil {
		return 0, err
	}
	return c.ctrl.Claim(devno)
}

// AttachPath attaches version for I/O and returns the path of the
// resulting block device.
func (c *Connection) AttachPath(version uint32) (string, error) {
	devno, err := c.ctrl.Attach(version)
	if err != nil {
		return "", err
	}
	return devicePath(devno), nil
}

// DetachPath detaches the block device at path.
func (c *Connection) DetachPath(path string) error {
	devno, err := deviceNumber(path)
	if err != nil {
		return err
	}
	return c.ctrl.Detach(devno)
}

// SnapshotPath takes a snapshot of the version attached at path,
// returning the new version.
func (c *Connection) SnapshotPath(path string) (uint32, error) {
	devno, err := deviceNumber(path)
	if err != nil {
		return 0, err
	}
	return c.ctrl.Snapshot(devno)
}
