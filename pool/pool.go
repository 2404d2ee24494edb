// Package pool implements the fixed-capacity typed arena used by the
// matching engine's order book: O(1) allocate/free of one plain-data type,
// single-threaded, never shared across goroutines. Ground truth is
// original_source/common/mem_pool.h's forward free-scan allocator.
package pool

import "strconv"

// Pool is a fixed-capacity slab of T. Handles returned by Allocate stay
// valid until Deallocate; no destructor runs on Deallocate, the slot is
// simply reused bitwise by the next Allocate that lands on it.
type Pool[T any] struct {
	store        []T
	free         []bool
	nextFreeIdx  int
}

// New preallocates a pool with room for capacity elements.
func New[T any](capacity int) *Pool[T] {
	free := make([]bool, capacity)
	for i := range free {
		free[i] = true
	}
	return &Pool[T]{
		store: make([]T, capacity),
		free:  free,
	}
}

// Allocate places v into a free slot and returns its arena index and a
// pointer to the stored copy. Fatal (panics) if the pool is exhausted —
// that is a capacity misconfiguration, not a runtime condition the caller
// should handle.
func (p *Pool[T]) Allocate(v T) (int, *T) {
	idx := p.nextFreeIdx
	if !p.free[idx] {
		// The previous Allocate filled the pool; rescan in case a
		// Deallocate has freed a slot since.
		p.advanceNextFree(idx)
		idx = p.nextFreeIdx
		if !p.free[idx] {
			panic("pool: exhausted")
		}
	}
	p.store[idx] = v
	p.free[idx] = false
	p.advanceNextFree(idx)
	return idx, &p.store[idx]
}

// At returns a pointer to the slot at idx, whether or not it is currently
// allocated. Callers that only ever hold indices handed back by Allocate
// never pass a free index here.
func (p *Pool[T]) At(idx int) *T {
	return &p.store[idx]
}

// Deallocate marks idx free again. The slot's contents are left as-is
// (not zeroed) until the next Allocate overwrites them.
func (p *Pool[T]) Deallocate(idx int) {
	if p.free[idx] {
		panic("pool: double free at index " + strconv.Itoa(idx))
	}
	p.free[idx] = true
}

// advanceNextFree scans forward with wraparound for the next free slot,
// mirroring mem_pool.h's updateNextFreeIndex. If no slot is free,
// nextFreeIdx is left on from, and the next Allocate rescans.
func (p *Pool[T]) advanceNextFree(from int) {
	initial := from
	idx := from
	for {
		idx++
		if idx == len(p.store) {
			idx = 0
		}
		if p.free[idx] {
			p.nextFreeIdx = idx
			return
		}
		if idx == initial {
			p.nextFreeIdx = initial
			return
		}
	}
}

