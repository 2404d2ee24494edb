// Package matching implements the per-instrument limit order book and the
// single-threaded matching engine loop that dispatches to it (spec §4.6,
// §4.7). Orders and price levels live in fixed-capacity arenas (package
// pool) and are linked by arena index rather than Go pointer, per the
// design note in spec §9 ("avoid recursive node pointers owning each
// other") — an index into a pool.Pool never keeps a pointer chain alive
// through the garbage collector, it is a plain integer.
package matching

import "github.com/ejyy/femto/wire"

// none is the arena-index sentinel meaning "no such order/level".
const none = -1

// Order is one resting or in-flight order. Prev/Next link it into its
// PriceLevel's FIFO; Level is the arena index of the owning PriceLevel.
type Order struct {
	ClientID      wire.ClientID
	ClientOrderID uint64
	MarketOrderID wire.OrderID
	Side          wire.Side
	Price         wire.Price
	Qty           wire.Qty
	Priority      wire.Priority

	Prev  int
	Next  int
	Level int
}

// PriceLevel is one FIFO queue of orders at a single price, linked into
// its side's circular doubly-linked list via Prev/Next (both arena
// indices into the same level pool).
type PriceLevel struct {
	Side  wire.Side
	Price wire.Price

	FirstOrder int
	LastOrder  int
	LastPrio   wire.Priority

	Prev int
	Next int
}

// BBO is the best-bid/best-offer snapshot recomputed after every
// structural change to either side of a book (spec §4.6).
type BBO struct {
	BidPrice wire.Price
	BidQty   wire.Qty
	AskPrice wire.Price
	AskQty   wire.Qty
}

// EmptyBBO is the BBO of a book with no resting liquidity on either side.
var EmptyBBO = BBO{
	BidPrice: wire.InvalidPrice,
	AskPrice: wire.InvalidPrice,
}
