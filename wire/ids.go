// Package wire owns the data model shared by every component: the fixed-
// width identifiers, the client request/response and market update
// records, and their little-endian, packed, no-padding wire encodings
// (spec §3, §6).
package wire

import "math"

// TickerID identifies a tradable instrument.
type TickerID uint32

// ClientID identifies a connected trading client.
type ClientID uint32

// OrderID identifies an order, either a client's own or the venue-assigned
// market order id.
type OrderID uint64

// Price is a signed integer tick. Prices are never fractional (Non-goal).
type Price int64

// Qty is an order quantity in integer units.
type Qty uint32

// Priority is the strictly increasing FIFO rank of an order within its
// price level.
type Priority uint64

// Sentinel "absent/unset" values, one per identifier type.
const (
	InvalidTickerID TickerID = math.MaxUint32
	InvalidClientID ClientID = math.MaxUint32
	InvalidOrderID  OrderID  = math.MaxUint64
	InvalidPrice    Price    = math.MinInt64
	InvalidQty      Qty      = math.MaxUint32
	InvalidPriority Priority = math.MaxUint64
)

// Side is the tri-valued BUY/SELL/INVALID tag.
type Side int8

const (
	SideInvalid Side = 0
	SideBuy     Side = 1
	SideSell    Side = -1
)

// Sign returns +1 for BUY, -1 for SELL, 0 for INVALID — the arithmetic
// companion mapping named in spec §3.
func (s Side) Sign() int {
	return int(s)
}

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "BUY"
	case SideSell:
		return "SELL"
	default:
		return "INVALID"
	}
}
