// Package sequencer implements the FIFO sequencer (spec §4.4): it buffers
// the client requests a gateway poll iteration collected, each tagged with
// its kernel receive timestamp, and publishes them to the matching engine
// in ascending timestamp order — a stable sort, so same-timestamp ties
// keep arrival order rather than being reordered by the sort.
package sequencer

import (
	"sort"

	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

// timestamped pairs a request with the kernel receive timestamp (ns since
// epoch) the session layer captured for it.
type timestamped struct {
	rxNs int64
	req  wire.ClientRequest
}

// Sequencer accumulates one poll batch at a time. It is owned by a single
// gateway thread; Add and SequenceAndPublish are never called concurrently.
type Sequencer struct {
	batch    []timestamped
	outbound *ring.Ring[wire.ClientRequest]
}

// New returns a Sequencer that publishes onto outbound.
func New(outbound *ring.Ring[wire.ClientRequest]) *Sequencer {
	return &Sequencer{outbound: outbound}
}

// Add appends one request to the current batch, alongside the kernel
// receive timestamp the gateway observed for it.
func (s *Sequencer) Add(rxNs int64, req wire.ClientRequest) {
	s.batch = append(s.batch, timestamped{rxNs: rxNs, req: req})
}

// SequenceAndPublish stably sorts the current batch by ascending rxNs,
// writes each request in that order to the ME-bound ring, then clears the
// batch for the next poll iteration (spec §4.4).
func (s *Sequencer) SequenceAndPublish() {
	if len(s.batch) == 0 {
		return
	}
	sort.SliceStable(s.batch, func(i, j int) bool {
		return s.batch[i].rxNs < s.batch[j].rxNs
	})
	for _, t := range s.batch {
		*s.outbound.NextForWrite() = t.req
		s.outbound.CommitWrite()
	}
	s.batch = s.batch[:0]
}

// Pending reports how many requests are currently buffered, for tests and
// diagnostics.
func (s *Sequencer) Pending() int {
	return len(s.batch)
}
