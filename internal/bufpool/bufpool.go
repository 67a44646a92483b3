// Package bufpool leases pre-allocated shared buffers by size-class, so
// data-plane calls don't pay an mmap round-trip on every request. Lease
// blocks until a buffer is available; release returns a buffer to the
// free list matching its exact size.
package bufpool

import (
	"fmt"
	"sort"
	"sync"

	"github.com/castlefs/castle-client/internal/shmbuf"
)

type class struct {
	size int
	free []*shmbuf.Buffer
}

// Pool is a fixed set of size-classes, each owning a free list of
// pre-allocated shared buffers. Size-classes are sorted ascending at
// construction so Lease can binary-search for the least upper bound.
type Pool struct {
	mu      sync.Mutex
	notEmpty *sync.Cond
	classes []class
	fd      int
	closed  bool
}

// New creates a pool over fd with one class per (sizes[i], quantities[i])
// pair, pre-allocating quantities[i] shared buffers of sizes[i] bytes
// each via internal/shmbuf.
func New(fd int, sizes []int, quantities []int) (*Pool, error) {
	if len(sizes) != len(quantities) {
		return nil, fmt.Errorf("bufpool: sizes and quantities must be the same length")
	}
	order := make([]int, len(sizes))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return sizes[order[a]] < sizes[order[b]] })

	p := &Pool{fd: fd}
	p.notEmpty = sync.NewCond(&p.mu)

	for _, idx := range order {
		c := class{size: sizes[idx]}
		for i := 0; i < quantities[idx]; i++ {
			buf, err := shmbuf.Allocate(fd, sizes[idx])
			if err != nil {
				p.destroyLocked()
				return nil, fmt.Errorf("bufpool: preallocating class %d: %w", sizes[idx], err)
			}
			c.free = append(c.free, buf)
		}
		p.classes = append(p.classes, c)
	}
	return p, nil
}

// classIndexFor returns the index of the smallest class whose size is >=
// requested (a least-upper-bound binary search), or -1 if none is large
// enough.
func (p *Pool) classIndexFor(requested int) int {
	lo, hi := 0, len(p.classes)
	for lo < hi {
		mid := (lo + hi) / 2
		if p.classes[mid].size < requested {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo == len(p.classes) {
		return -1
	}
	return lo
}

// Lease blocks until a free buffer of size >= requested is available,
// then detaches and returns the smallest such buffer. A requested size
// larger than the biggest class fails immediately with an error.
func (p *Pool) Lease(requested int) (*shmbuf.Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	start := p.classIndexFor(requested)
	if start < 0 {
		return nil, fmt.Errorf("bufpool: no size class >= %d bytes", requested)
	}

	for {
		if p.closed {
			return nil, fmt.Errorf("bufpool: pool destroyed")
		}
		for i := start; i < len(p.classes); i++ {
			n := len(p.classes[i].free)
			if n == 0 {
				continue
			}
			buf := p.classes[i].free[n-1]
			p.classes[i].free = p.classes[i].free[:n-1]
			return buf, nil
		}
		p.notEmpty.Wait()
	}
}

// Release returns buf to the free list of the class whose size equals
// buf.Len exactly, and wakes any blocked lessees.
func (p *Pool) Release(buf *shmbuf.Buffer) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.classes {
		if p.classes[i].size == buf.Len {
			p.classes[i].free = append(p.classes[i].free, buf)
			p.notEmpty.Broadcast()
			return nil
		}
	}
	return fmt.Errorf("bufpool: no class of exact size %d to release into", buf.Len)
}

// Destroy releases every remaining buffer and marks the pool unusable.
// Buffers currently leased out are the caller's responsibility; Destroy
// only reclaims what is on a free list at the time it runs.
func (p *Pool) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.destroyLocked()
}

func (p *Pool) destroyLocked() error {
	var firstErr error
	for i := range p.classes {
		for _, buf := range p.classes[i].free {
			if err := buf.Free(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		p.classes[i].free = nil
	}
	p.closed = true
	p.notEmpty.Broadcast()
	return firstErr
}
