package matching

import (
	"testing"

	"pgregory.net/rapid"

	"github.com/ejyy/femto/wire"
)

// liveOrderRef tracks one order this property test's generator has added
// and not yet canceled, so it can issue a random cancel against a real
// live order instead of a made-up one.
type liveOrderRef struct {
	clientID wire.ClientID
	coid     uint64
}

// randSide draws a uniformly random BUY/SELL side.
func randSide(t *rapid.T) wire.Side {
	if rapid.Bool().Draw(t, "sell") {
		return wire.SideSell
	}
	return wire.SideBuy
}

// runRandomOps feeds a random sequence of add/cancel operations into b,
// calling check after every single operation. client_order_id is drawn
// from a monotonically increasing counter rather than rapid itself, so a
// still-live order is never silently overwritten by a colliding id — a
// test-harness artifact that would otherwise masquerade as an orphan.
func runRandomOps(t *rapid.T, b *Book, rec *recorder, check func()) {
	var live []liveOrderRef
	nextCOID := uint64(1)

	ops := rapid.IntRange(1, 50).Draw(t, "ops")
	for i := 0; i < ops; i++ {
		if len(live) > 0 && rapid.Bool().Draw(t, "cancel") {
			idx := rapid.IntRange(0, len(live)-1).Draw(t, "cancelIdx")
			ref := live[idx]
			live = append(live[:idx], live[idx+1:]...)
			b.Cancel(rec, ref.clientID, ref.coid)
		} else {
			clientID := wire.ClientID(rapid.IntRange(1, 6).Draw(t, "clientID"))
			coid := nextCOID
			nextCOID++
			side := randSide(t)
			price := wire.Price(rapid.IntRange(90, 110).Draw(t, "price"))
			qty := wire.Qty(rapid.IntRange(1, 20).Draw(t, "qty"))
			b.Add(rec, clientID, coid, side, price, qty)
			live = append(live, liveOrderRef{clientID, coid})
		}
		check()
	}
}

// TestPropertyBookInvariantsHoldAfterEveryOperation sweeps random
// add/cancel sequences and checks, after every single operation, the
// standing book invariants spec §8 lists as properties 1, 2, 3 and 4.
func TestPropertyBookInvariantsHoldAfterEveryOperation(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b := newTestBook()
		rec := &recorder{}

		runRandomOps(rt, b, rec, func() {
			assertNoOrphans(rt, b)
			assertSideListsMonotoneNoDuplicates(rt, b)
			assertPrioritiesStrictlyIncreasing(rt, b)
			assertBBOEqualsAggregate(rt, b)
		})
	})
}

// TestPropertyFillQuantityNeverExceedsOriginalQty sweeps random add/cancel
// sequences and checks spec §8 property 6: for every order, the sum of
// ExecQty across its FILLED responses never exceeds the qty it was
// originally added with.
func TestPropertyFillQuantityNeverExceedsOriginalQty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		b := newTestBook()
		rec := &recorder{}

		runRandomOps(rt, b, rec, func() {})

		origQty := make(map[wire.OrderID]wire.Qty)
		execSum := make(map[wire.OrderID]wire.Qty)
		for _, resp := range rec.responses {
			switch resp.Type {
			case wire.ResponseAccepted:
				origQty[resp.MarketOrderID] = resp.LeavesQty
			case wire.ResponseFilled:
				execSum[resp.MarketOrderID] += resp.ExecQty
			}
		}
		for moid, sum := range execSum {
			if sum > origQty[moid] {
				rt.Fatalf("market order %d: exec sum %d exceeds original qty %d", moid, sum, origQty[moid])
			}
		}
	})
}

// collectRestingOrders walks both sides of b directly off the arena pools,
// independent of clientIndex, so assertNoOrphans can cross-check the two
// without reusing the same traversal clientIndex itself might be wrong
// about.
func collectRestingOrders(b *Book) map[int]Order {
	out := make(map[int]Order)
	for _, head := range [2]int{b.bidHead, b.askHead} {
		if head == none {
			continue
		}
		lvl := head
		for {
			l := b.levels.At(lvl)
			cur := l.FirstOrder
			for cur != none {
				ord := b.orders.At(cur)
				out[cur] = *ord
				cur = ord.Next
			}
			lvl = l.Next
			if lvl == head {
				break
			}
		}
	}
	return out
}

// assertNoOrphans checks spec §8 property 1: every live order appears in
// exactly one price-level FIFO and exactly one clientIndex entry.
func assertNoOrphans(t *rapid.T, b *Book) {
	resting := collectRestingOrders(b)

	seen := make(map[int]bool)
	for clientID, byCOID := range b.clientIndex {
		for coid, idx := range byCOID {
			ord, ok := resting[idx]
			if !ok {
				t.Fatalf("clientIndex[%d][%d] points at arena idx %d, absent from every level FIFO", clientID, coid, idx)
			}
			if ord.ClientID != clientID || ord.ClientOrderID != coid {
				t.Fatalf("clientIndex[%d][%d] points at mismatched order %+v", clientID, coid, ord)
			}
			seen[idx] = true
		}
	}
	for idx := range resting {
		if !seen[idx] {
			t.Fatalf("resting order at arena idx %d has no clientIndex entry: orphan", idx)
		}
	}
}

// assertSideListsMonotoneNoDuplicates checks spec §8 property 2.
func assertSideListsMonotoneNoDuplicates(t *rapid.T, b *Book) {
	assertSideMonotone(t, b, b.bidHead, wire.SideBuy)
	assertSideMonotone(t, b, b.askHead, wire.SideSell)
}

func assertSideMonotone(t *rapid.T, b *Book, head int, side wire.Side) {
	if head == none {
		return
	}
	seenPrices := make(map[wire.Price]bool)
	cur := head
	var lastPrice wire.Price
	first := true
	for {
		lvl := b.levels.At(cur)
		if seenPrices[lvl.Price] {
			t.Fatalf("%v side has duplicate price level %d", side, lvl.Price)
		}
		seenPrices[lvl.Price] = true
		if !first && !better(side, lastPrice, lvl.Price) {
			t.Fatalf("%v side not strictly monotone: %d then %d", side, lastPrice, lvl.Price)
		}
		lastPrice = lvl.Price
		first = false
		cur = lvl.Next
		if cur == head {
			return
		}
	}
}

// assertPrioritiesStrictlyIncreasing checks spec §8 property 3 as a
// standing invariant across arbitrary op sequences, not just the one
// hand-picked scenario TestPriorityStrictlyIncreasingWithinLevel covers.
func assertPrioritiesStrictlyIncreasing(t *rapid.T, b *Book) {
	for _, head := range [2]int{b.bidHead, b.askHead} {
		if head == none {
			continue
		}
		lvl := head
		for {
			l := b.levels.At(lvl)
			cur := l.FirstOrder
			var last wire.Priority
			first := true
			for cur != none {
				ord := b.orders.At(cur)
				if !first && ord.Priority <= last {
					t.Fatalf("level %d: priority %d did not strictly increase after %d", lvl, ord.Priority, last)
				}
				last = ord.Priority
				first = false
				cur = ord.Next
			}
			lvl = l.Next
			if lvl == head {
				break
			}
		}
	}
}

// assertBBOEqualsAggregate checks spec §8 property 4, recomputing the
// expected BBO independently off the resting-order set rather than
// through the production recomputeBBO/levelAggregateQty code path.
func assertBBOEqualsAggregate(t *rapid.T, b *Book) {
	resting := collectRestingOrders(b)

	want := EmptyBBO
	if b.bidHead != none {
		price := b.levels.At(b.bidHead).Price
		want.BidPrice = price
		for _, ord := range resting {
			if ord.Side == wire.SideBuy && ord.Price == price {
				want.BidQty += ord.Qty
			}
		}
	}
	if b.askHead != none {
		price := b.levels.At(b.askHead).Price
		want.AskPrice = price
		for _, ord := range resting {
			if ord.Side == wire.SideSell && ord.Price == price {
				want.AskQty += ord.Qty
			}
		}
	}
	if got := b.BBO(); got != want {
		t.Fatalf("BBO() = %+v, independently recomputed aggregate = %+v", got, want)
	}
}
