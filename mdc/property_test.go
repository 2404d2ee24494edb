package mdc

import (
	"reflect"
	"testing"

	"pgregory.net/rapid"

	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/matching"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

// TestPropertyOutputStreamIsGapFreeAndMonotone sweeps many randomly placed,
// randomly sized incremental gaps — each closed by exactly the snapshot
// round a real MDP would stamp for it — and checks spec §8 property 7:
// every seq surfaces on the output stream exactly once, in order, whether
// it arrived directly or was recovered off a snapshot round.
func TestPropertyOutputStreamIsGapFreeAndMonotone(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		out := ring.New[wire.MarketUpdate](512)
		c := New(&fakeJoiner{}, func() (Joiner, error) { return &fakeJoiner{}, nil }, out, logging.New(logging.NewDefaultConfig()), nil)
		c.inRecovery = false
		c.nextExpectedIncSeq = 1

		n := rapid.IntRange(3, 50).Draw(rt, "n")
		// lossEnd stays below n so that a delivered frame follows the gap
		// and reveals it.
		lossStart := rapid.IntRange(1, n-1).Draw(rt, "lossStart")
		lossEnd := rapid.IntRange(lossStart, n-1).Draw(rt, "lossEnd")

		for seq := 1; seq <= n; seq++ {
			if seq >= lossStart && seq <= lossEnd {
				continue // never delivered on the incremental channel
			}
			c.onIncremental(uint64(seq), wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: wire.OrderID(seq)})

			if c.inRecovery && seq == lossEnd+1 {
				// The consumer just noticed the gap on the frame right
				// after the lost range: synthesize the snapshot round a
				// real MDP would have stamped for it, replaying the lost
				// range faithfully (one ADD per lost seq) so every seq
				// still surfaces exactly once.
				k := lossEnd - lossStart + 1
				c.onSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, OrderID: wire.OrderID(lossEnd)})
				for i := 0; i < k; i++ {
					lost := lossStart + i
					c.onSnapshot(uint64(i+1), wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: wire.OrderID(lost)})
				}
				c.onSnapshot(uint64(k+1), wire.MarketUpdate{Type: wire.UpdateSnapshotEnd, OrderID: wire.OrderID(lossEnd)})
			}
		}

		got := drainOut(out)
		if len(got) != n {
			rt.Fatalf("expected all %d seqs to surface exactly once, got %d: %+v", n, len(got), got)
		}
		for i, u := range got {
			want := wire.OrderID(i + 1)
			if u.OrderID != want {
				rt.Fatalf("output position %d: expected seq %d, got %d (stream %+v)", i, want, u.OrderID, got)
			}
		}
	})
}

// captureEmitter is a matching.Emitter that records every market update in
// emission order, each paired with a snapshot of book's resting-order set
// taken at the moment that update was emitted. Book emits a CANCEL before
// it unlinks the order, so the snapshot paired with a CANCEL still holds
// the canceled order. Responses are discarded: the round-trip property
// only concerns the market-data side.
type captureEmitter struct {
	book    *matching.Book
	updates []wire.MarketUpdate
	after   []map[wire.OrderID]matching.OrderView
}

func (c *captureEmitter) Response(wire.ClientResponse) {}

func (c *captureEmitter) Update(u wire.MarketUpdate) {
	c.updates = append(c.updates, u)
	c.after = append(c.after, c.book.Orders())
}

type liveOrderRef struct {
	clientID wire.ClientID
	coid     uint64
}

// TestPropertyMDCOutputReplaysToTheSameBookTheEngineHolds drives a real
// matching.Book through a random add/cancel sequence, captures the market
// updates it emits, injects a single lost seq into the delivery to the
// MDC, and synthesizes the snapshot round a real MDP/synthesizer would
// have produced for that gap. It checks spec §8 property 8: starting from
// an empty book, applying the MDC's recovered output stream against a
// reference book-builder reconstructs exactly the book the engine holds
// at the end of the run.
func TestPropertyMDCOutputReplaysToTheSameBookTheEngineHolds(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		const tickerID wire.TickerID = 7
		b := matching.NewBook(tickerID, 256, 256)
		capture := &captureEmitter{book: b}

		var live []liveOrderRef
		nextCOID := uint64(1)
		ops := rapid.IntRange(2, 25).Draw(rt, "ops")
		for i := 0; i < ops; i++ {
			if len(live) > 0 && rapid.Bool().Draw(rt, "cancel") {
				idx := rapid.IntRange(0, len(live)-1).Draw(rt, "cancelIdx")
				ref := live[idx]
				live = append(live[:idx], live[idx+1:]...)
				b.Cancel(capture, ref.clientID, ref.coid)
			} else {
				clientID := wire.ClientID(rapid.IntRange(1, 5).Draw(rt, "clientID"))
				coid := nextCOID
				nextCOID++
				side := wire.SideBuy
				if rapid.Bool().Draw(rt, "sell") {
					side = wire.SideSell
				}
				price := wire.Price(rapid.IntRange(95, 105).Draw(rt, "price"))
				qty := wire.Qty(rapid.IntRange(1, 15).Draw(rt, "qty"))
				b.Add(capture, clientID, coid, side, price, qty)
				live = append(live, liveOrderRef{clientID, coid})
			}
		}

		m := len(capture.updates)
		if m < 2 {
			return // nothing to drop on this draw; not a meaningful round trip.
		}

		g := rapid.IntRange(1, m-1).Draw(rt, "gapSeq")

		out := ring.New[wire.MarketUpdate](4096)
		c := New(&fakeJoiner{}, func() (Joiner, error) { return &fakeJoiner{}, nil }, out, logging.New(logging.NewDefaultConfig()), nil)
		c.inRecovery = false
		c.nextExpectedIncSeq = 1

		for seq := 1; seq <= m; seq++ {
			if seq == g {
				continue // lost on the wire
			}
			c.onIncremental(uint64(seq), capture.updates[seq-1])

			if c.inRecovery && seq == g+1 {
				// Resting book exactly as of seq g: updates 1..g folded
				// the way the snapshot synthesizer folds them.
				snapshotOf := make(map[wire.OrderID]matching.OrderView)
				for _, u := range capture.updates[:g] {
					switch u.Type {
					case wire.UpdateAdd, wire.UpdateModify:
						snapshotOf[u.OrderID] = matching.OrderView{Side: u.Side, Price: u.Price, Qty: u.Qty}
					case wire.UpdateCancel:
						delete(snapshotOf, u.OrderID)
					}
				}
				c.onSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, OrderID: wire.OrderID(g)})
				c.onSnapshot(1, wire.MarketUpdate{Type: wire.UpdateClear, TickerID: tickerID})
				k := uint64(2)
				for moid, ov := range snapshotOf {
					c.onSnapshot(k, wire.MarketUpdate{
						Type:     wire.UpdateAdd,
						OrderID:  moid,
						TickerID: tickerID,
						Side:     ov.Side,
						Price:    ov.Price,
						Qty:      ov.Qty,
					})
					k++
				}
				c.onSnapshot(k, wire.MarketUpdate{Type: wire.UpdateSnapshotEnd, OrderID: wire.OrderID(g)})
			}
		}

		shadow := make(map[wire.OrderID]matching.OrderView)
		for _, u := range drainOut(out) {
			switch u.Type {
			case wire.UpdateClear:
				shadow = make(map[wire.OrderID]matching.OrderView)
			case wire.UpdateAdd, wire.UpdateModify:
				shadow[u.OrderID] = matching.OrderView{Side: u.Side, Price: u.Price, Qty: u.Qty}
			case wire.UpdateCancel:
				delete(shadow, u.OrderID)
			}
		}

		if final := b.Orders(); !reflect.DeepEqual(shadow, final) {
			rt.Fatalf("replayed book %+v does not match engine's book %+v", shadow, final)
		}
	})
}
