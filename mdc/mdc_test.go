package mdc

import (
	"testing"
	"time"

	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

// fakeJoiner is an in-memory joiner: Recv drains a pre-loaded queue of
// frames instead of touching a socket.
type fakeJoiner struct {
	queue  []wire.MarketUpdate
	seqs   []uint64
	pos    int
	closed bool
}

func (f *fakeJoiner) Recv(buf []byte) (int, error) {
	if f.pos >= len(f.queue) {
		return 0, errTimeout
	}
	var frame [wire.MarketDataFrameSize]byte
	f.queue[f.pos].EncodeFramed(frame[:], f.seqs[f.pos])
	f.pos++
	n := copy(buf, frame[:])
	return n, nil
}

func (f *fakeJoiner) SetReadDeadline(t time.Time) error { return nil }
func (f *fakeJoiner) Close() error                      { f.closed = true; return nil }

type timeoutError struct{}

func (timeoutError) Error() string   { return "timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

var errTimeout = timeoutError{}

func newTestConsumer(t *testing.T, snap *fakeJoiner) (*Consumer, *ring.Ring[wire.MarketUpdate]) {
	t.Helper()
	out := ring.New[wire.MarketUpdate](64)
	c := New(&fakeJoiner{}, func() (Joiner, error) { return snap, nil }, out, logging.New(logging.NewDefaultConfig()), nil)
	return c, out
}

func drainOut(out *ring.Ring[wire.MarketUpdate]) []wire.MarketUpdate {
	var got []wire.MarketUpdate
	for {
		slot, ok := out.Peek()
		if !ok {
			return got
		}
		got = append(got, *slot)
		out.CommitRead()
	}
}

func TestInOrderIncrementalBypassesRecovery(t *testing.T) {
	c, out := newTestConsumer(t, &fakeJoiner{})
	c.inRecovery = false
	c.nextExpectedIncSeq = 1

	c.onIncremental(1, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 1})
	c.onIncremental(2, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 2})

	got := drainOut(out)
	if len(got) != 2 {
		t.Fatalf("expected 2 in-order updates delivered, got %d", len(got))
	}
	if c.nextExpectedIncSeq != 3 {
		t.Fatalf("expected next_expected_incremental_seq=3, got %d", c.nextExpectedIncSeq)
	}
	if c.inRecovery {
		t.Fatal("expected no recovery on in-order delivery")
	}
}

func TestGapTriggersRecovery(t *testing.T) {
	snap := &fakeJoiner{}
	c, out := newTestConsumer(t, snap)
	c.inRecovery = false
	c.nextExpectedIncSeq = 1

	c.onIncremental(2, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 2})

	if !c.inRecovery {
		t.Fatal("expected a seq gap to enter recovery")
	}
	if len(drainOut(out)) != 0 {
		t.Fatal("expected nothing published while recovering")
	}
	if _, staged := c.incrementalStaging[2]; !staged {
		t.Fatal("expected the gapped message itself to be staged")
	}
}

func TestTornRoundClearsOnDuplicateSnapshotSeq(t *testing.T) {
	c, _ := newTestConsumer(t, &fakeJoiner{})
	c.inRecovery = true

	c.onSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, OrderID: 5})
	c.onSnapshot(1, wire.MarketUpdate{Type: wire.UpdateClear})
	if len(c.snapshotStaging) != 2 {
		t.Fatalf("expected 2 staged snapshot frames, got %d", len(c.snapshotStaging))
	}

	// A repeated seq 1 signals a torn round: everything staged is discarded
	// before the new frame is stored. The resync that follows then discards
	// the lone seq-1 frame as well, since a round must begin with
	// SNAPSHOT_START.
	c.onSnapshot(1, wire.MarketUpdate{Type: wire.UpdateClear})
	if len(c.snapshotStaging) != 0 {
		t.Fatalf("expected torn round to leave nothing staged, got %d entries", len(c.snapshotStaging))
	}
	if _, ok := c.snapshotStaging[0]; ok {
		t.Fatal("expected SNAPSHOT_START to have been discarded by the torn round")
	}
}

// TestFullRecoveryScenario mirrors the walkthrough: next_expected starts at
// 50, seq 52 arrives (a gap), the consumer joins the snapshot group and
// receives a round labeled with last_inc_seq=54, while 52-56 land on the
// incremental channel. Recovery should publish the snapshot's ADDs followed
// by incrementals 55 and 56, landing on next_expected_incremental_seq=57.
func TestFullRecoveryScenario(t *testing.T) {
	snap := &fakeJoiner{}
	c, out := newTestConsumer(t, snap)
	c.inRecovery = false
	c.nextExpectedIncSeq = 50

	// seq 52 arrives instead of the expected 50: enters recovery, and the
	// gapped message itself is staged for later replay.
	c.onIncremental(52, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 1052})
	if !c.inRecovery {
		t.Fatal("expected recovery to start")
	}

	// The rest of the incremental stream keeps arriving while we recover.
	c.onIncremental(53, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 1053})
	c.onIncremental(54, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 1054})
	c.onIncremental(55, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 1055})
	c.onIncremental(56, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 1056})

	// The snapshot round completes with last_inc_seq=54 — incrementals
	// 52-54 are already covered by the snapshot's own ADDs.
	c.onSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, OrderID: 54})
	c.onSnapshot(1, wire.MarketUpdate{Type: wire.UpdateClear, TickerID: 1})
	c.onSnapshot(2, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 900, TickerID: 1})
	c.onSnapshot(3, wire.MarketUpdate{Type: wire.UpdateSnapshotEnd, OrderID: 54})

	if c.inRecovery {
		t.Fatal("expected recovery to complete once the snapshot round and incremental catch-up align")
	}
	if c.nextExpectedIncSeq != 57 {
		t.Fatalf("expected next_expected_incremental_seq=57, got %d", c.nextExpectedIncSeq)
	}
	if !snap.closed {
		t.Fatal("expected the snapshot group to be left once recovery completes")
	}

	got := drainOut(out)
	// CLEAR, ADD(900) from the snapshot, then incrementals 55 and 56.
	if len(got) != 4 {
		t.Fatalf("expected 4 published events, got %d: %+v", len(got), got)
	}
	if got[0].Type != wire.UpdateClear {
		t.Fatalf("expected snapshot CLEAR first, got %+v", got[0])
	}
	if got[1].Type != wire.UpdateAdd || got[1].OrderID != 900 {
		t.Fatalf("expected snapshot ADD(900) second, got %+v", got[1])
	}
	if got[2].OrderID != 1055 || got[3].OrderID != 1056 {
		t.Fatalf("expected incrementals 55 and 56 to follow, got %+v, %+v", got[2], got[3])
	}
}

func TestResyncWaitsWhenIncrementalCatchUpHasAGap(t *testing.T) {
	snap := &fakeJoiner{}
	c, out := newTestConsumer(t, snap)
	c.inRecovery = false
	c.nextExpectedIncSeq = 50

	c.onIncremental(52, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 1})
	// Note: seq 55 never arrives — only 56 does, after the snapshot settles
	// at last_inc_seq=54 (next_expected becomes 55).
	c.onIncremental(56, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 2})

	c.onSnapshot(0, wire.MarketUpdate{Type: wire.UpdateSnapshotStart, OrderID: 54})
	c.onSnapshot(1, wire.MarketUpdate{Type: wire.UpdateSnapshotEnd, OrderID: 54})

	if !c.inRecovery {
		t.Fatal("expected recovery to still be pending: the catch-up window has a gap at seq 55")
	}
	if len(drainOut(out)) != 0 {
		t.Fatal("expected nothing published while the resync is still waiting")
	}
	if snap.closed {
		t.Fatal("expected the snapshot group to remain joined while still waiting")
	}

	// seq 55 finally arrives, closing the gap: recovery should now complete.
	c.onIncremental(55, wire.MarketUpdate{Type: wire.UpdateAdd, OrderID: 3})
	if c.inRecovery {
		t.Fatal("expected recovery to complete once seq 55 closes the catch-up gap")
	}
	if c.nextExpectedIncSeq != 57 {
		t.Fatalf("expected next_expected_incremental_seq=57, got %d", c.nextExpectedIncSeq)
	}
}
