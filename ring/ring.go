// Package ring implements the wait-free fixed-capacity SPSC queue that is
// the only form of cross-thread sharing in the venue: exactly one producer
// goroutine and one consumer goroutine per Ring, no locks, no blocking
// calls.
package ring

import "sync/atomic"

// cacheLinePad absorbs the rest of a 64-byte cache line after an 8-byte
// counter, keeping the producer's write index and the consumer's read
// index on separate lines so the two sides never false-share.
const cacheLinePad = 64 - 8

// Ring is a fixed-capacity circular buffer of T. Capacity must be a power
// of two; it is rounded up to the next one if it isn't. Single-producer,
// single-consumer only — concurrent calls to NextForWrite/CommitWrite from
// more than one goroutine, or to Peek/CommitRead from more than one
// goroutine, are undefined.
type Ring[T any] struct {
	buf  []T
	mask uint64
	cap  uint64

	_pad0    [cacheLinePad]byte
	writeSeq uint64
	_pad1    [cacheLinePad]byte
	readSeq  uint64
	_pad2    [cacheLinePad]byte
}

// New allocates a Ring able to hold capacity elements (rounded up to the
// next power of two). The elements are constructed with their zero value
// up front, the way a typed arena is; NextForWrite hands out a pointer
// into that pre-allocated storage rather than allocating per message.
func New[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		capacity = 1
	}
	c := nextPow2(uint64(capacity))
	return &Ring[T]{
		buf:  make([]T, c),
		mask: c - 1,
		cap:  c,
	}
}

func nextPow2(v uint64) uint64 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v |= v >> 32
	v++
	return v
}

// Size returns an estimate of the number of unread elements. Safe to call
// from either side; it is only ever exact immediately after the caller's
// own index update.
func (r *Ring[T]) Size() int {
	write := atomic.LoadUint64(&r.writeSeq)
	read := atomic.LoadUint64(&r.readSeq)
	return int(write - read)
}

// Capacity returns the ring's fixed slot count.
func (r *Ring[T]) Capacity() int {
	return int(r.cap)
}

// NextForWrite returns a mutable handle to the current write slot. The
// producer fills it in place and calls CommitWrite to publish it. Calling
// this when the ring is already full is a programmer error — the producer
// is expected to size its ring for worst-case batch volume — and panics
// rather than silently dropping or blocking, matching the "capacity
// overflow is fatal" contract; callers on threads with a logger recover
// and route the panic through that logger before exiting.
func (r *Ring[T]) NextForWrite() *T {
	write := atomic.LoadUint64(&r.writeSeq)
	read := atomic.LoadUint64(&r.readSeq)
	if write-read >= r.cap {
		panic("ring: capacity exceeded")
	}
	return &r.buf[write&r.mask]
}

// CommitWrite publishes the slot most recently returned by NextForWrite,
// making it visible to the consumer. Must be called exactly once per
// NextForWrite.
func (r *Ring[T]) CommitWrite() {
	atomic.AddUint64(&r.writeSeq, 1)
}

// Peek returns a handle to the oldest unread slot, or (nil, false) if the
// ring is empty. The handle stays valid until CommitRead is called.
func (r *Ring[T]) Peek() (*T, bool) {
	write := atomic.LoadUint64(&r.writeSeq)
	read := atomic.LoadUint64(&r.readSeq)
	if read == write {
		return nil, false
	}
	return &r.buf[read&r.mask], true
}

// CommitRead advances past the slot most recently returned by Peek,
// freeing it for reuse by the producer.
func (r *Ring[T]) CommitRead() {
	atomic.AddUint64(&r.readSeq, 1)
}
