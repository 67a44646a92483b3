// Package constants collects the tunables that would otherwise be magic
// numbers scattered through the connection, ring and pool packages.
package constants

import "time"

// Device node and protocol defaults.
const (
	// DefaultControlPath is the character device a connection opens by
	// default. The "castle-fs" segment names the engine, matching the
	// /dev/<engine>/control convention.
	DefaultControlPath = "/dev/castle-fs/control"

	// ProtocolVersion is the wire protocol version this client speaks.
	ProtocolVersion = 1
)

// Ring sizing. The ring capacity must be a power of two so that a slot
// index taken as index modulo capacity stays consistent when the 32-bit
// producer/consumer indices wrap.
const (
	DefaultRingSize = 4096

	// NStateful is the number of ring slots permanently reserved for
	// stateful (multi-chunk) operations: big-put/big-get/put-chunk/
	// get-chunk/iter-start/iter-next/iter-finish. Stateful operations map
	// onto these slots by token modulo NStateful; the ring does not cap
	// how many are outstanding at once, and tokens that map to the same
	// slot share its counter.
	NStateful = 64
)

// Shared-buffer pool size classes, in bytes. Sorted ascending; a lease
// request is satisfied by the smallest class that is >= the requested
// size (least-upper-bound binary search).
var DefaultPoolSizeClasses = []int{
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
	1024 * 1024,
}

// DefaultPoolQuantities mirrors DefaultPoolSizeClasses: how many buffers
// of each class the pool pre-allocates. Smaller classes are used far
// more often than large ones, so the default skews toward them.
var DefaultPoolQuantities = []int{
	64,
	32,
	16,
	8,
	4,
}

// Key codec limits.
const (
	// MaxDimensions bounds the number of dimensions a key may carry;
	// codec.Size rejects keys with more.
	MaxDimensions = 255

	// MaxDimensionLength bounds a single dimension payload.
	MaxDimensionLength = 1 << 16
)

// Large-transfer chunking.
const (
	// DefaultChunkSize is the buffer size used by BigPut/BigGet when the
	// caller doesn't specify one explicitly.
	DefaultChunkSize = 1 << 20
)

// Completion-thread timing.
const (
	// PollTimeout bounds how long the completion thread blocks in a
	// single poll(2) call waiting on {device fd, wake pipe}; it exists
	// only as a liveness backstop, not a steady-state sleep.
	PollTimeout = 5 * time.Second
)
