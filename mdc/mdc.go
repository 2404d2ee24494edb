// Package mdc implements the market data consumer (spec §4.9): the
// client-side counterpart to mdp that joins the incremental stream,
// detects gaps, drives a snapshot-stitched recovery, and delivers a
// single in-order update feed downstream. Grounded on
// original_source/trading/market_data/market_data_consumer.h's
// recvCallback/queueMessage/checkSnapshotSync split.
package mdc

import (
	"runtime"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ejyy/femto/internal/fatal"
	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

// Joiner abstracts multicast group membership so tests can substitute an
// in-memory stand-in for the snapshot group's dynamic join/leave without
// opening a real socket every time recovery starts.
type Joiner interface {
	Recv(buf []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Consumer is single-threaded: next_expected_incremental_seq, in_recovery,
// and both staging maps are owned exclusively by its own goroutine (spec
// §5).
type Consumer struct {
	incremental Joiner

	joinSnapshot func() (Joiner, error)
	snapshot     Joiner

	nextExpectedIncSeq uint64
	inRecovery         bool

	snapshotStaging    map[uint64]wire.MarketUpdate
	incrementalStaging map[uint64]wire.MarketUpdate

	out *ring.Ring[wire.MarketUpdate]

	log *logging.Logger

	onResync func()
}

// New returns a Consumer that starts in recovery (spec §4.9: "in_recovery
// initially true — the consumer recovers on startup") with
// next_expected_incremental_seq = 1, publishing recovered/in-order
// updates onto out. joinSnapshot opens the snapshot group on demand.
// onResync, if non-nil, fires once per recovery entered — the
// consumer-side metrics hook (spec §1); cmd/mdc wires it to a counter.
func New(incremental Joiner, joinSnapshot func() (Joiner, error), out *ring.Ring[wire.MarketUpdate], log *logging.Logger, onResync func()) *Consumer {
	return &Consumer{
		incremental:        incremental,
		joinSnapshot:       joinSnapshot,
		nextExpectedIncSeq: 1,
		inRecovery:         true,
		snapshotStaging:    make(map[uint64]wire.MarketUpdate),
		incrementalStaging: make(map[uint64]wire.MarketUpdate),
		out:                out,
		log:                log,
		onResync:           onResync,
	}
}

func (c *Consumer) enterRecovery() {
	c.inRecovery = true
	if c.onResync != nil {
		c.onResync()
	}
	for k := range c.snapshotStaging {
		delete(c.snapshotStaging, k)
	}
	for k := range c.incrementalStaging {
		delete(c.incrementalStaging, k)
	}
	snap, err := c.joinSnapshot()
	if err != nil {
		fatal.On(c.log, "mdc: failed to join snapshot group", zap.Error(err))
		return
	}
	c.snapshot = snap
}

// onIncremental processes one frame from the incremental stream (spec
// §4.9).
func (c *Consumer) onIncremental(seq uint64, upd wire.MarketUpdate) {
	if seq != c.nextExpectedIncSeq && !c.inRecovery {
		c.log.Warn("mdc: incremental gap detected, entering recovery",
			zap.Uint64("expected", c.nextExpectedIncSeq), zap.Uint64("got", seq))
		c.enterRecovery()
	}

	if c.inRecovery {
		c.incrementalStaging[seq] = upd
		c.checkSnapshotSync()
		return
	}

	*c.out.NextForWrite() = upd
	c.out.CommitWrite()
	c.nextExpectedIncSeq++
}

// onSnapshot processes one frame from the snapshot stream (spec §4.9). A
// repeated seq on this channel means a torn round: discard everything
// staged so far before storing the new one.
func (c *Consumer) onSnapshot(seq uint64, upd wire.MarketUpdate) {
	if !c.inRecovery {
		return
	}
	if _, dup := c.snapshotStaging[seq]; dup {
		for k := range c.snapshotStaging {
			delete(c.snapshotStaging, k)
		}
	}
	c.snapshotStaging[seq] = upd
	c.checkSnapshotSync()
}

// checkSnapshotSync implements spec §4.9's resync procedure.
func (c *Consumer) checkSnapshotSync() {
	if len(c.snapshotStaging) == 0 {
		return
	}

	seqs := sortedKeys(c.snapshotStaging)

	if c.snapshotStaging[seqs[0]].Type != wire.UpdateSnapshotStart {
		for k := range c.snapshotStaging {
			delete(c.snapshotStaging, k)
		}
		return
	}

	var finalEvents []wire.MarketUpdate
	for i, seq := range seqs {
		if uint64(i) != seq {
			for k := range c.snapshotStaging {
				delete(c.snapshotStaging, k)
			}
			return
		}
		u := c.snapshotStaging[seq]
		if u.Type != wire.UpdateSnapshotStart && u.Type != wire.UpdateSnapshotEnd {
			finalEvents = append(finalEvents, u)
		}
	}

	lastSeq := seqs[len(seqs)-1]
	endUpdate := c.snapshotStaging[lastSeq]
	if endUpdate.Type != wire.UpdateSnapshotEnd {
		return // still waiting for more of the round.
	}

	nextExpected := uint64(endUpdate.OrderID) + 1

	incSeqs := sortedKeys(c.incrementalStaging)
	started := false
	for _, seq := range incSeqs {
		if seq < nextExpected {
			continue
		}
		if !started {
			if seq != nextExpected {
				return // gap right after the snapshot boundary: wait.
			}
			started = true
		} else if seq != nextExpected {
			return // gap further along: wait.
		}
		finalEvents = append(finalEvents, c.incrementalStaging[seq])
		nextExpected++
	}

	c.publishRecovered(finalEvents, nextExpected)
}

func (c *Consumer) publishRecovered(events []wire.MarketUpdate, nextExpected uint64) {
	for _, u := range events {
		*c.out.NextForWrite() = u
		c.out.CommitWrite()
	}
	c.nextExpectedIncSeq = nextExpected

	for k := range c.snapshotStaging {
		delete(c.snapshotStaging, k)
	}
	for k := range c.incrementalStaging {
		delete(c.incrementalStaging, k)
	}

	if c.snapshot != nil {
		c.snapshot.Close()
		c.snapshot = nil
	}
	c.inRecovery = false
}

func sortedKeys(m map[uint64]wire.MarketUpdate) []uint64 {
	keys := make([]uint64, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// poll runs one non-blocking read attempt against the incremental stream,
// and — while recovering — the snapshot stream too.
func (c *Consumer) poll(buf []byte) {
	c.incremental.SetReadDeadline(time.Now())
	if n, err := c.incremental.Recv(buf); err == nil {
		upd, seq := wire.DecodeMarketUpdate(buf[:n])
		c.onIncremental(seq, upd)
	}
	if c.snapshot != nil {
		c.snapshot.SetReadDeadline(time.Now())
		if n, err := c.snapshot.Recv(buf); err == nil {
			upd, seq := wire.DecodeMarketUpdate(buf[:n])
			c.onSnapshot(seq, upd)
		}
	}
}

// Run busy-loops poll until done is closed (spec §5). buf is sized for
// one market data frame; callers with larger multicast MTUs can pass a
// bigger buffer.
func (c *Consumer) Run(done <-chan struct{}, buf []byte) {
	runtime.LockOSThread()
	defer fatal.Recover(c.log, "mdc.Consumer.Run")

	if c.inRecovery && c.snapshot == nil {
		c.enterRecovery()
	}

	for {
		select {
		case <-done:
			return
		default:
		}
		c.poll(buf)
	}
}
