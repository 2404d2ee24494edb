package matching

import (
	"runtime"

	"go.uber.org/zap"

	"github.com/ejyy/femto/internal/fatal"
	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/wire"
)

// Engine is the single-threaded matching engine loop (spec §4.7): it owns
// one Book per instrument and the two outbound SPSC rings (responses to
// the gateway, market updates to the MDP) that every Book.Add/Cancel call
// writes into via the Emitter interface Engine itself implements.
type Engine struct {
	books map[wire.TickerID]*Book

	responses *ring.Ring[wire.ClientResponse]
	updates   *ring.Ring[wire.MarketUpdate]

	log *logging.Logger
}

// NewEngine allocates one Book per ticker in tickerIDs.
func NewEngine(tickerIDs []wire.TickerID, orderCapacity, levelCapacity, responseRingCap, updateRingCap int, log *logging.Logger) *Engine {
	books := make(map[wire.TickerID]*Book, len(tickerIDs))
	for _, t := range tickerIDs {
		books[t] = NewBook(t, orderCapacity, levelCapacity)
	}
	return &Engine{
		books:     books,
		responses: ring.New[wire.ClientResponse](responseRingCap),
		updates:   ring.New[wire.MarketUpdate](updateRingCap),
		log:       log,
	}
}

// Responses is the SPSC ring the order gateway drains for outbound client
// responses.
func (e *Engine) Responses() *ring.Ring[wire.ClientResponse] { return e.responses }

// Updates is the SPSC ring the MDP drains for market updates.
func (e *Engine) Updates() *ring.Ring[wire.MarketUpdate] { return e.updates }

// Book exposes a ticker's book, primarily for tests and diagnostics.
func (e *Engine) Book(tickerID wire.TickerID) (*Book, bool) {
	b, ok := e.books[tickerID]
	return b, ok
}

// Response implements Emitter by publishing onto the response ring.
func (e *Engine) Response(r wire.ClientResponse) {
	*e.responses.NextForWrite() = r
	e.responses.CommitWrite()
}

// Update implements Emitter by publishing onto the update ring. The
// venue-global seq_num is stamped later, by the MDP, at the moment of
// framing onto the incremental multicast stream (spec §4.8) — the ring
// payload here is deliberately unstamped.
func (e *Engine) Update(u wire.MarketUpdate) {
	*e.updates.NextForWrite() = u
	e.updates.CommitWrite()
}

// Dispatch routes one request to its ticker's book. An unknown ticker or
// request type is a programmer error (fatal), per spec §4.7/§7.
func (e *Engine) Dispatch(req wire.ClientRequest) {
	book, ok := e.books[req.TickerID]
	if !ok {
		fatal.On(e.log, "matching: unknown ticker", zap.Uint32("ticker_id", uint32(req.TickerID)))
		return
	}
	switch req.Type {
	case wire.RequestNew:
		book.Add(e, req.ClientID, req.ClientOrderID, req.Side, req.Price, req.Qty)
	case wire.RequestCancel:
		book.Cancel(e, req.ClientID, req.ClientOrderID)
	default:
		fatal.On(e.log, "matching: unknown request type", zap.Uint8("type", uint8(req.Type)))
	}
}

// Run is the matching engine's dedicated thread: read one request,
// dispatch, repeat, forever, no blocking calls (spec §4.7, §5).
func (e *Engine) Run(inbound *ring.Ring[wire.ClientRequest], done <-chan struct{}) {
	runtime.LockOSThread()
	defer fatal.Recover(e.log, "matching.Engine.Run")

	for {
		select {
		case <-done:
			return
		default:
		}

		slot, ok := inbound.Peek()
		if !ok {
			continue
		}
		req := *slot
		inbound.CommitRead()
		e.Dispatch(req)
	}
}
