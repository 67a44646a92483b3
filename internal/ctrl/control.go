// Package ctrl implements the control-channel half of the client: the
// declarative opcode table and the arity-archetype dispatch that turns
// a CommandSpec plus a handful of argument words into one ioctl against
// the control device.
package ctrl

import (
	"fmt"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/castlefs/castle-client/internal/logging"
	"github.com/castlefs/castle-client/internal/uapi"
)

// Controller owns the control-device file descriptor and serializes
// ioctl dispatch: the engine's control path is not reentrant per fd.
type Controller struct {
	mu     sync.Mutex
	fd     int
	owned  bool
	logger *logging.Logger
}

// NewController opens path (normally constants.DefaultControlPath) and
// returns a Controller ready to issue commands.
func NewController(path string, logger *logging.Logger) (*Controller, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("ctrl: opening %s: %w", path, err)
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{fd: fd, owned: true, logger: logger}, nil
}

// NewControllerFromFd adopts an already-open control fd (e.g. the fd a
// Connection also mmaps its ring over) without taking ownership of it.
func NewControllerFromFd(fd int, logger *logging.Logger) *Controller {
	if logger == nil {
		logger = logging.Default()
	}
	return &Controller{fd: fd, owned: false, logger: logger}
}

func (c *Controller) Close() error {
	if !c.owned {
		return nil
	}
	return unix.Close(c.fd)
}

// call issues one ioctl for op with the given input words, returning the
// engine's output word and its integer return code.
func (c *Controller) call(op Opcode, in [3]uint64) (out uint64, ret int32, err error) {
	spec, ok := specFor(op)
	if !ok {
		return 0, 0, fmt.Errorf("ctrl: unknown opcode %d", op)
	}

	rec := uapi.ControlRecord{Opcode: uint32(op), In: in}
	buf := make([]byte, uapi.SizeControlRecord)
	uapi.MarshalControl(buf, &rec)

	c.logger.Trace("ctrl", "issuing command", "op", spec.Name, "in", in)

	c.mu.Lock()
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(c.fd), uintptr(op), uintptr(unsafe.Pointer(&buf[0])))
	c.mu.Unlock()
	if errno != 0 {
		return 0, 0, fmt.Errorf("ctrl: %s ioctl failed: %w", spec.Name, errno)
	}

	result := uapi.UnmarshalControl(buf)
	c.logger.Trace("ctrl", "command completed", "op", spec.Name, "ret", result.Ret, "out", result.Out)
	return result.Out, result.Ret, nil
}

// do0in0out issues an opcode that takes no arguments and returns no
// output word, failing if ret is non-zero.
func (c *Controller) do0in0out(op Opcode) error {
	_, ret, err := c.call(op, [3]uint64{})
	if err != nil {
		return err
	}
	if ret != 0 {
		return newErrnoError(op, ret)
	}
	return nil
}

// do0in1out issues an opcode that takes no arguments and returns one
// output word, failing if ret is non-zero.
func (c *Controller) do0in1out(op Opcode) (uint64, error) {
	out, ret, err := c.call(op, [3]uint64{})
	if err != nil {
		return 0, err
	}
	if ret != 0 {
		return 0, newErrnoError(op, ret)
	}
	return out, nil
}

func (c *Controller) do1in0out(op Opcode, a1 uint64) error {
	_, ret, err := c.call(op, [3]uint64{a1, 0, 0})
	if err != nil {
		return err
	}
	if ret != 0 {
		return newErrnoError(op, ret)
	}
	return nil
}

func (c *Controller) do1in1out(op Opcode, a1 uint64) (uint64, error) {
	out, ret, err := c.call(op, [3]uint64{a1, 0, 0})
	if err != nil {
		return 0, err
	}
	if ret != 0 {
		return 0, newErrnoError(op, ret)
	}
	return out, nil
}

func (c *Controller) do2in0out(op Opcode, a1, a2 uint64) error {
	_, ret, err := c.call(op, [3]uint64{a1, a2, 0})
	if err != nil {
		return err
	}
	if ret != 0 {
		return newErrnoError(op, ret)
	}
	return nil
}

func (c *Controller) do3in1out(op Opcode, a1, a2, a3 uint64) (uint64, error) {
	out, ret, err := c.call(op, [3]uint64{a1, a2, a3})
	if err != nil {
		return 0, err
	}
	if ret != 0 {
		return 0, newErrnoError(op, ret)
	}
	return out, nil
}

// Claim claims slave device identified by dev, returning its assigned
// slave UUID.
func (c *Controller) Claim(dev uint32) (slaveUUID uint32, err error) {
	out, err := c.do1in1out(OpClaim, uint64(dev))
	return uint32(out), err
}

// Attach attaches version, returning the device number it is exposed
// under.
func (c *Controller) Attach(version uint32) (dev uint32, err error) {
	out, err := c.do1in1out(OpAttach, uint64(version))
	return uint32(out), err
}

// Detach detaches the device currently backed by dev.
func (c *Controller) Detach(dev uint32) error {
	return c.do1in0out(OpDetach, uint64(dev))
}

// Snapshot takes a snapshot of the version attached to dev, returning
// the new version number.
func (c *Controller) Snapshot(dev uint32) (version uint32, err error) {
	out, err := c.do1in1out(OpSnapshot, uint64(dev))
	return uint32(out), err
}

// CollectionAttach attaches version under a named collection,
// returning the collection ID requests reference it by.
func (c *Controller) CollectionAttach(version uint32, name string) (collection uint32, err error) {
	nameBuf := []byte(name)
	if len(nameBuf) == 0 {
		nameBuf = []byte{0}
	}
	out, err := c.do3in1out(OpCollectionAttach,
		uint64(version),
		uint64(uintptr(unsafe.Pointer(&nameBuf[0]))),
		uint64(len(name)))
	return uint32(out), err
}

// CollectionDetach detaches a collection.
func (c *Controller) CollectionDetach(collection uint32) error {
	return c.do1in0out(OpCollectionDetach, uint64(collection))
}

// CollectionSnapshot snapshots the version behind a collection.
func (c *Controller) CollectionSnapshot(collection uint32) (version uint32, err error) {
	out, err := c.do1in1out(OpCollectionSnapshot, uint64(collection))
	return uint32(out), err
}

// Create creates a new version tree of the given byte size, returning
// its root version number.
func (c *Controller) Create(size uint64) (version uint32, err error) {
	out, err := c.do1in1out(OpCreate, size)
	return uint32(out), err
}

// Clone clones version, returning the new version's number.
func (c *Controller) Clone(version uint32) (clone uint32, err error) {
	out, err := c.do1in1out(OpClone, uint64(version))
	return uint32(out), err
}

// DeleteVersion marks version (and its descendants) for deletion.
func (c *Controller) DeleteVersion(version uint32) error {
	return c.do1in0out(OpDeleteVersion, uint64(version))
}

// Init performs one-time engine initialization. Engine-side idempotent,
// but callers should only invoke it once per engine lifetime.
func (c *Controller) Init() error {
	return c.do0in0out(OpInit)
}

// ProtocolVersion returns the engine's wire protocol version, for the
// connect-time handshake: a mismatch against the client's own version is
// a fatal connect failure, not a per-call error.
func (c *Controller) ProtocolVersion() (uint32, error) {
	out, err := c.do0in1out(OpProtocolVersion)
	return uint32(out), err
}

// Fault injects a named fault, for exercising error paths in tests.
func (c *Controller) Fault(faultID, faultArg uint32) error {
	return c.do2in0out(OpFault, uint64(faultID), uint64(faultArg))
}

// SlaveEvacuate begins evacuating a slave device, forcibly if force is
// non-zero.
func (c *Controller) SlaveEvacuate(slaveUUID uint32, force bool) error {
	var f uint64
	if force {
		f = 1
	}
	return c.do2in0out(OpSlaveEvacuate, uint64(slaveUUID), f)
}

// SlaveScan rescans a slave device for new extents.
func (c *Controller) SlaveScan(slaveUUID uint32) error {
	return c.do1in0out(OpSlaveScan, uint64(slaveUUID))
}

// ThreadPriority sets the engine thread's nice value.
func (c *Controller) ThreadPriority(niceValue int32) error {
	return c.do1in0out(OpThreadPriority, uint64(uint32(niceValue)))
}

// DestroyVertree tears down a version tree's on-disk structures.
func (c *Controller) DestroyVertree(vertreeID uint32) error {
	return c.do1in0out(OpDestroyVertree, uint64(vertreeID))
}

// VertreeCompact requests a foreground compaction pass on a version tree.
func (c *Controller) VertreeCompact(vertreeID uint32) error {
	return c.do1in0out(OpVertreeCompact, uint64(vertreeID))
}

// EnvironmentSet sets an engine-side environment variable, for
// diagnostics tooling rather than application code.
func (c *Controller) EnvironmentSet(varID uint32, value string) (ret int32, err error) {
	valBuf := []byte(value)
	if len(valBuf) == 0 {
		valBuf = []byte{0}
	}
	out, err := c.do3in1out(OpEnvironmentSet,
		uint64(varID),
		uint64(uintptr(unsafe.Pointer(&valBuf[0]))),
		uint64(len(value)))
	return int32(out), err
}

// TraceSetup configures the trace output directory.
func (c *Controller) TraceSetup(dir string) error {
	dirBuf := []byte(dir)
	if len(dirBuf) == 0 {
		dirBuf = []byte{0}
	}
	return c.do2in0out(OpTraceSetup, uint64(uintptr(unsafe.Pointer(&dirBuf[0]))), uint64(len(dir)))
}

func (c *Controller) TraceStart() error    { return c.do0in0out(OpTraceStart) }
func (c *Controller) TraceStop() error     { return c.do0in0out(OpTraceStop) }
func (c *Controller) TraceTeardown() error { return c.do0in0out(OpTraceTeardown) }

// SetLogger replaces the controller's logger.
func (c *Controller) SetLogger(logger *logging.Logger) {
	if logger != nil {
		c.logger = logger
	}
}
