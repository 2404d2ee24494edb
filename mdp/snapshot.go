package mdp

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/ejyy/femto/internal/fatal"
	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/mcast"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

// shadowOrder is the synthesizer's copy of one live order, enough to
// reconstruct an ADD frame during a snapshot round.
type shadowOrder struct {
	Side     wire.Side
	Price    wire.Price
	Qty      wire.Qty
	Priority wire.Priority
}

// SnapshotSynthesizer maintains a shadow of every ticker's book from the
// incremental update tee and periodically re-serializes it onto the
// snapshot multicast stream (spec §4.8).
type SnapshotSynthesizer struct {
	fromMDP  *ring.Ring[StampedUpdate]
	snapshot *mcast.Publisher

	tickerIDs []wire.TickerID
	shadow    map[wire.TickerID]map[wire.OrderID]shadowOrder

	lastIncSeq uint64
	interval   time.Duration

	log *logging.Logger
}

// NewSnapshotSynthesizer returns a synthesizer covering tickerIDs (every
// configured ticker gets a CLEAR each round even if currently empty, so a
// subscriber's shadow book is authoritatively zeroed).
func NewSnapshotSynthesizer(fromMDP *ring.Ring[StampedUpdate], snapshot *mcast.Publisher, tickerIDs []wire.TickerID, interval time.Duration, log *logging.Logger) *SnapshotSynthesizer {
	shadow := make(map[wire.TickerID]map[wire.OrderID]shadowOrder, len(tickerIDs))
	for _, t := range tickerIDs {
		shadow[t] = make(map[wire.OrderID]shadowOrder)
	}
	return &SnapshotSynthesizer{
		fromMDP:   fromMDP,
		snapshot:  snapshot,
		tickerIDs: tickerIDs,
		shadow:    shadow,
		interval:  interval,
		log:       log,
	}
}

// applyUpdate folds one stamped update into the shadow book (spec §4.8:
// "CLEAR empties a ticker; ADD inserts; MODIFY overwrites qty; CANCEL
// removes; TRADE ignored for shadow state") and remembers the highest
// applied incremental seq.
func (s *SnapshotSynthesizer) applyUpdate(su StampedUpdate) {
	u := su.Update
	book := s.shadow[u.TickerID]
	if book == nil {
		book = make(map[wire.OrderID]shadowOrder)
		s.shadow[u.TickerID] = book
	}

	switch u.Type {
	case wire.UpdateClear:
		for id := range book {
			delete(book, id)
		}
	case wire.UpdateAdd:
		book[u.OrderID] = shadowOrder{Side: u.Side, Price: u.Price, Qty: u.Qty, Priority: u.Priority}
	case wire.UpdateModify:
		if ord, ok := book[u.OrderID]; ok {
			ord.Qty = u.Qty
			book[u.OrderID] = ord
		}
	case wire.UpdateCancel:
		delete(book, u.OrderID)
	case wire.UpdateTrade:
		// Ignored for shadow state (spec §4.8).
	}

	if su.Seq > s.lastIncSeq {
		s.lastIncSeq = su.Seq
	}
}

// drainPending applies every currently-available stamped update.
func (s *SnapshotSynthesizer) drainPending() {
	for {
		slot, ok := s.fromMDP.Peek()
		if !ok {
			return
		}
		su := *slot
		s.fromMDP.CommitRead()
		s.applyUpdate(su)
	}
}

// emitSnapshotRound serializes the entire shadow book onto the snapshot
// stream: SNAPSHOT_START, one CLEAR+ADD... per ticker, SNAPSHOT_END — an
// independent per-round seq starting at 0 (spec §4.8).
func (s *SnapshotSynthesizer) emitSnapshotRound() {
	roundSeq := uint64(0)

	s.send(wire.MarketUpdate{Type: wire.UpdateSnapshotStart, OrderID: wire.OrderID(s.lastIncSeq)}, roundSeq)
	roundSeq++

	for _, tickerID := range s.tickerIDs {
		s.send(wire.MarketUpdate{Type: wire.UpdateClear, TickerID: tickerID}, roundSeq)
		roundSeq++

		for orderID, ord := range s.shadow[tickerID] {
			s.send(wire.MarketUpdate{
				Type:     wire.UpdateAdd,
				OrderID:  orderID,
				TickerID: tickerID,
				Side:     ord.Side,
				Price:    ord.Price,
				Qty:      ord.Qty,
				Priority: ord.Priority,
			}, roundSeq)
			roundSeq++
		}
	}

	s.send(wire.MarketUpdate{Type: wire.UpdateSnapshotEnd, OrderID: wire.OrderID(s.lastIncSeq)}, roundSeq)
}

func (s *SnapshotSynthesizer) send(u wire.MarketUpdate, roundSeq uint64) {
	var frame [wire.MarketDataFrameSize]byte
	u.EncodeFramed(frame[:], roundSeq)
	if err := s.snapshot.Send(frame[:]); err != nil {
		s.log.Warn("mdp: snapshot send failed", zap.Error(err))
	}
}

// Run busy-loops draining the tee ring and firing a snapshot round once
// per configured interval (spec §5: no blocking calls inside a loop
// iteration — the interval check is a cheap time comparison, not a sleep
// that would stall draining).
func (s *SnapshotSynthesizer) Run(done <-chan struct{}) {
	runtime.LockOSThread()
	defer fatal.Recover(s.log, "mdp.SnapshotSynthesizer.Run")

	lastRound := time.Now()
	for {
		select {
		case <-done:
			return
		default:
		}
		s.drainPending()

		if time.Since(lastRound) >= s.interval {
			s.emitSnapshotRound()
			lastRound = time.Now()
		}
	}
}
