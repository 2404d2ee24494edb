// Package mdp implements the market data publisher (spec §4.8): a tee
// that drains the matching engine's outgoing market-update ring, stamps
// each update with the venue-global monotonic incremental sequence number
// at the moment of framing, sends it out over the incremental multicast
// stream, and forwards a copy to the snapshot synthesizer so the two
// publishers never race over who owns the sequence counter.
package mdp

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/ejyy/femto/internal/fatal"
	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/mcast"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

// StampedUpdate pairs a market update with the incremental seq_num it was
// published under — this is what travels on the tee ring to the snapshot
// synthesizer, since it needs last_inc_seq (spec §4.8) to label a
// snapshot round, not just the raw update.
type StampedUpdate struct {
	Seq    uint64
	Update wire.MarketUpdate
}

// Publisher is the incremental-stream half of the MDP.
type Publisher struct {
	updates     *ring.Ring[wire.MarketUpdate]
	incremental *mcast.Publisher
	toSnapshot  *ring.Ring[StampedUpdate]

	nextSeq uint64

	log *logging.Logger

	onSent func()
}

// NewPublisher returns a Publisher draining updates, framing onto
// incremental, and teeing a stamped copy onto toSnapshot. nextSeq starts
// at 1 (spec §3: "venue-global monotonic seq_num starting at 1"). onSent,
// if non-nil, fires once per update framed onto the incremental stream —
// the consumer-side metrics hook (spec §1); cmd/exchange wires it to a
// counter.
func NewPublisher(updates *ring.Ring[wire.MarketUpdate], incremental *mcast.Publisher, toSnapshot *ring.Ring[StampedUpdate], log *logging.Logger, onSent func()) *Publisher {
	return &Publisher{
		updates:     updates,
		incremental: incremental,
		toSnapshot:  toSnapshot,
		nextSeq:     1,
		log:         log,
		onSent:      onSent,
	}
}

// poll drains and frames one pending update, if any. Returns false when
// there was nothing to do this iteration.
func (p *Publisher) poll() bool {
	slot, ok := p.updates.Peek()
	if !ok {
		return false
	}
	upd := *slot
	p.updates.CommitRead()

	seq := p.nextSeq
	p.nextSeq++

	var frame [wire.MarketDataFrameSize]byte
	upd.EncodeFramed(frame[:], seq)
	if err := p.incremental.Send(frame[:]); err != nil {
		p.log.Warn("mdp: incremental send failed", zap.Error(err))
	} else if p.onSent != nil {
		p.onSent()
	}

	*p.toSnapshot.NextForWrite() = StampedUpdate{Seq: seq, Update: upd}
	p.toSnapshot.CommitWrite()

	return true
}

// Run busy-loops poll until done is closed (spec §5).
func (p *Publisher) Run(done <-chan struct{}) {
	runtime.LockOSThread()
	defer fatal.Recover(p.log, "mdp.Publisher.Run")

	for {
		select {
		case <-done:
			return
		default:
		}
		p.poll()
	}
}
