// Package castle is a client for a versioned, multi-dimensional key/value
// storage engine exposed through a char device: requests and responses
// pass over a shared-memory ring, and device/version/collection
// management passes over ioctl.
package castle

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/castlefs/castle-client/internal/bufpool"
	"github.com/castlefs/castle-client/internal/constants"
	"github.com/castlefs/castle-client/internal/ctrl"
	"github.com/castlefs/castle-client/internal/logging"
	"github.com/castlefs/castle-client/internal/ring"
	"github.com/castlefs/castle-client/internal/uapi"
)

// State is the Connection's lifecycle stage.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ConnectOptions configures Connect. A zero-value ConnectOptions uses
// the default control path and internal/constants' default tunables.
type ConnectOptions struct {
	// Path overrides the control device path (default
	// constants.DefaultControlPath).
	Path string

	// RingCapacity overrides the request/response ring's slot count;
	// must be a power of two.
	RingCapacity uint32

	// PoolSizeClasses/PoolQuantities override the shared-buffer pool's
	// size classes. Both must be set together, or left nil for defaults.
	PoolSizeClasses []int
	PoolQuantities  []int

	Logger   *logging.Logger
	Observer Observer
}

func (o *ConnectOptions) withDefaults() *ConnectOptions {
	out := *o
	if out.Path == "" {
		out.Path = constants.DefaultControlPath
	}
	if out.RingCapacity == 0 {
		out.RingCapacity = constants.DefaultRingSize
	}
	if out.PoolSizeClasses == nil {
		out.PoolSizeClasses = constants.DefaultPoolSizeClasses
		out.PoolQuantities = constants.DefaultPoolQuantities
	}
	if out.Logger == nil {
		out.Logger = logging.Default()
	}
	if out.Observer == nil {
		out.Observer = NoOpObserver{}
	}
	return &out
}

// Connection is a live attachment to the engine's control device: a
// control channel (internal/ctrl), a request/response ring
// (internal/ring), and a leased shared-buffer pool (internal/bufpool)
// all multiplexed over one fd.
type Connection struct {
	fd      int
	ctrl    *ctrl.Controller
	ring    *ring.Ring
	pool    *bufpool.Pool
	logger  *logging.Logger
	metrics *Metrics

	state     atomic.Int32
	nextToken atomic.Uint32
}

// Connect opens the control device, initializes the engine handshake,
// and maps the request/response ring and buffer pool over the resulting
// fd. The returned Connection is in StateOpen.
func Connect(ctx context.Context, opts *ConnectOptions) (*Connection, error) {
	if opts == nil {
		opts = &ConnectOptions{}
	}
	opts = opts.withDefaults()

	c := &Connection{logger: opts.Logger, metrics: NewMetrics()}
	c.state.Store(int32(StateConnecting))

	fd, err := unix.Open(opts.Path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("castle: opening %s: %w", opts.Path, err)
	}
	c.fd = fd

	c.ctrl = ctrl.NewControllerFromFd(fd, opts.Logger)

	engineVersion, err := c.ctrl.ProtocolVersion()
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("castle: protocol version handshake: %w", err)
	}
	if err := checkProtocolVersion(engineVersion); err != nil {
		unix.Close(fd)
		return nil, err
	}

	pool, err := bufpool.New(fd, opts.PoolSizeClasses, opts.PoolQuantities)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("castle: allocating shared-buffer pool: %w", err)
	}
	c.pool = pool

	r, err := ring.New(fd, opts.RingCapacity, constants.NStateful, c.poke, opts.Logger, opts.Observer)
	if err != nil {
		pool.Destroy()
		unix.Close(fd)
		return nil, fmt.Errorf("castle: mapping request/response ring: %w", err)
	}
	c.ring = r

	c.state.Store(int32(StateOpen))
	return c, nil
}

// CheckProtocolVersion runs the same comparison Connect performs against
// the engine's reported wire protocol version. It is exported so tests
// built on NewTestConnection/FakeEngine — which has no real ioctl
// surface to drive a genuine handshake through — can still exercise the
// connect-time protocol mismatch behavior end to end.
func CheckProtocolVersion(engineVersion uint32) error {
	return checkProtocolVersion(engineVersion)
}

// checkProtocolVersion rejects a connect attempt against an engine
// speaking a different wire protocol than this client. The mismatch is
// fatal: the caller closes the fd without ever mapping a ring, so no
// completion thread starts.
func checkProtocolVersion(engineVersion uint32) error {
	if engineVersion != constants.ProtocolVersion {
		return newError("Connect", ErrCodeNoProtocol,
			fmt.Sprintf("client speaks protocol %d, engine speaks %d", constants.ProtocolVersion, engineVersion))
	}
	return nil
}

// poke notifies the engine that new requests are available on the ring
// when it was previously caught up, by writing a single doorbell byte to
// the control fd. The engine also observes the ring header directly, so
// a lost doorbell only costs latency, never correctness.
func (c *Connection) poke() error {
	_, err := unix.Write(c.fd, []byte{0})
	return err
}

// State returns the connection's current lifecycle stage.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Metrics returns the connection's metrics.
func (c *Connection) Metrics() *Metrics {
	return c.metrics
}

// ReservedSlots returns the ring's current reservation counter: the
// number of N_STATEFUL slots currently held for in-flight stateful ops.
func (c *Connection) ReservedSlots() int32 {
	return c.ring.Reserved()
}

// nextStatefulToken allocates a non-zero token for a new stateful
// operation (big-put, big-get, iterator). Token 0 is reserved to mean
// "stateless" throughout internal/ring's admission logic.
func (c *Connection) nextStatefulToken() uint32 {
	for {
		t := c.nextToken.Add(1)
		if t != 0 {
			return t
		}
	}
}

// Disconnect transitions the connection through Draining to Closed:
// in-flight requests receive synthetic "unattached" completions, the
// ring and pool are torn down, and the control fd is closed.
func (c *Connection) Disconnect(ctx context.Context) error {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateDraining)) {
		// Another call already moved us past Open: let that caller own
		// teardown and report success to everyone else.
		return nil
	}

	var firstErr error
	if err := c.ring.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := c.pool.Destroy(); err != nil && firstErr == nil {
		firstErr = err
	}
	c.metrics.Stop()

	if err := unix.Close(c.fd); err != nil && firstErr == nil {
		firstErr = err
	}
	c.state.Store(int32(StateClosed))
	return firstErr
}

// submitBlockingTagged submits one request and waits for its response,
// recording its completion in c.metrics and translating a non-zero
// engine return into a *Error.
func (c *Connection) submitBlockingTagged(op string, req uapi.RequestRecord) (ring.ResponseSummary, error) {
	if c.State() != StateOpen {
		return ring.ResponseSummary{}, newError(op, ErrCodeUnattached, "connection is not open")
	}

	start := time.Now()
	bc, err := c.ring.SubmitBlocking(req)
	if err != nil {
		return ring.ResponseSummary{}, wrapSubmitError(op, err)
	}
	result, err := bc.Wait()
	latency := uint64(time.Since(start).Nanoseconds())
	c.metrics.recordComplete(uint8(req.Tag), latency, err == nil && result.Err == 0)

	if err != nil {
		return result, wrapSubmitError(op, err)
	}
	if result.Err != 0 {
		return result, wrapEngineError(op, result.Err)
	}
	return result, nil
}

func wrapSubmitError(op string, err error) *Error {
	if err == ring.ErrUnattached {
		return newError(op, ErrCodeUnattached, "connection unattached")
	}
	return &Error{Op: op, Code: ErrCodeEngine, Msg: err.Error(), Inner: err}
}
