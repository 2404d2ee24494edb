package matching

import (
	"github.com/ejyy/femto/pool"
	"github.com/ejyy/femto/wire"
)

// Emitter is the side-effect sink a Book writes through: one client
// response and one market update stream, exactly as spec §4.6/§4.7
// describe emission as synchronous writes into SPSC rings owned by the
// gateway and MDP respectively. The Book itself never touches a ring —
// Engine is the only thing that does, which keeps Book unit-testable
// without any goroutines at all.
type Emitter interface {
	Response(wire.ClientResponse)
	Update(wire.MarketUpdate)
}

// Book is one instrument's double-sided, price-ordered limit order book
// (spec §3, §4.6). Orders and PriceLevels are arena-indexed; bidHead/
// askHead are arena indices into levels, none when a side is empty.
type Book struct {
	TickerID wire.TickerID

	orders *pool.Pool[Order]
	levels *pool.Pool[PriceLevel]

	bidHead int
	askHead int

	nextMarketOrderID wire.OrderID

	// clientIndex maps client_id -> client_order_id -> order arena index
	// (spec §3 Book entity).
	clientIndex map[wire.ClientID]map[uint64]int

	bbo BBO

	// RejectSelfMatch is the opt-in self-match-prevention hook named in
	// spec §9 Open Question 3. Off by default: self-match is permitted.
	RejectSelfMatch bool
}

// NewBook allocates a book with room for orderCapacity live orders and
// levelCapacity distinct price levels.
func NewBook(tickerID wire.TickerID, orderCapacity, levelCapacity int) *Book {
	return &Book{
		TickerID:    tickerID,
		orders:      pool.New[Order](orderCapacity),
		levels:      pool.New[PriceLevel](levelCapacity),
		bidHead:     none,
		askHead:     none,
		clientIndex: make(map[wire.ClientID]map[uint64]int),
		bbo:         EmptyBBO,
	}
}

// BBO returns the book's current best-bid/best-offer snapshot.
func (b *Book) BBO() BBO {
	return b.bbo
}

// OrderView is a snapshot of one resting order's book-visible state.
type OrderView struct {
	Side  wire.Side
	Price wire.Price
	Qty   wire.Qty
}

// Orders returns a snapshot of every live resting order, keyed by market
// order id. Exposed for verifying that a market-data replay reconstructs
// the same resting book the matching engine holds (spec §8 property 8).
func (b *Book) Orders() map[wire.OrderID]OrderView {
	out := make(map[wire.OrderID]OrderView)
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
				out[ord.MarketOrderID] = OrderView{Side: ord.Side, Price: ord.Price, Qty: ord.Qty}
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

// Add implements spec §4.6 add(): assigns a market order id, accepts,
// matches against the opposite side, and rests any residual quantity.
func (b *Book) Add(e Emitter, clientID wire.ClientID, clientOrderID uint64, side wire.Side, price wire.Price, qty wire.Qty) {
	b.nextMarketOrderID++
	moid := b.nextMarketOrderID

	e.Response(wire.ClientResponse{
		Type:          wire.ResponseAccepted,
		ClientID:      clientID,
		TickerID:      b.TickerID,
		ClientOrderID: clientOrderID,
		MarketOrderID: moid,
		Side:          side,
		Price:         price,
		LeavesQty:     qty,
	})

	leaves := b.match(e, moid, clientID, clientOrderID, side, price, qty)

	if leaves > 0 {
		headPtr := b.sideHead(side)
		levelIdx := b.findLevel(*headPtr, price)
		if levelIdx == none {
			newIdx, _ := b.levels.Allocate(PriceLevel{
				Side:       side,
				Price:      price,
				FirstOrder: none,
				LastOrder:  none,
			})
			b.insertLevel(headPtr, newIdx, side)
			levelIdx = newIdx
		}

		prio := b.nextPriority(levelIdx)
		orderIdx, _ := b.orders.Allocate(Order{
			ClientID:      clientID,
			ClientOrderID: clientOrderID,
			MarketOrderID: moid,
			Side:          side,
			Price:         price,
			Qty:           leaves,
			Priority:      prio,
			Prev:          none,
			Next:          none,
			Level:         levelIdx,
		})
		b.appendOrder(levelIdx, orderIdx)
		b.levels.At(levelIdx).LastPrio = prio

		if b.clientIndex[clientID] == nil {
			b.clientIndex[clientID] = make(map[uint64]int)
		}
		b.clientIndex[clientID][clientOrderID] = orderIdx

		e.Update(wire.MarketUpdate{
			Type:     wire.UpdateAdd,
			OrderID:  moid,
			TickerID: b.TickerID,
			Side:     side,
			Price:    price,
			Qty:      leaves,
			Priority: prio,
		})
	}

	b.recomputeBBO()
}

// Cancel implements spec §4.6 cancel().
func (b *Book) Cancel(e Emitter, clientID wire.ClientID, clientOrderID uint64) {
	orderIdx, ok := b.lookupOrder(clientID, clientOrderID)
	if !ok {
		e.Response(wire.ClientResponse{
			Type:          wire.ResponseCancelRejected,
			ClientID:      clientID,
			TickerID:      b.TickerID,
			ClientOrderID: clientOrderID,
		})
		return
	}

	ord := b.orders.At(orderIdx)
	e.Response(wire.ClientResponse{
		Type:          wire.ResponseCanceled,
		ClientID:      clientID,
		TickerID:      b.TickerID,
		ClientOrderID: clientOrderID,
		MarketOrderID: ord.MarketOrderID,
		Side:          ord.Side,
		Price:         ord.Price,
		LeavesQty:     ord.Qty,
	})
	e.Update(wire.MarketUpdate{
		Type:     wire.UpdateCancel,
		OrderID:  ord.MarketOrderID,
		TickerID: b.TickerID,
		Side:     ord.Side,
		Price:    ord.Price,
		Priority: ord.Priority,
	})

	levelIdx := ord.Level
	side := ord.Side
	b.unlinkOrder(levelIdx, orderIdx)
	b.forgetOrder(clientID, clientOrderID)
	b.orders.Deallocate(orderIdx)

	if b.levels.At(levelIdx).FirstOrder == none {
		b.removeLevel(b.sideHead(side), levelIdx)
	}

	b.recomputeBBO()
}

// match is the aggressive-order core, spec §4.6 match(...).
func (b *Book) match(e Emitter, aggressorMOID wire.OrderID, aggressorClientID wire.ClientID, aggressorClientOrderID uint64, side wire.Side, price wire.Price, qty wire.Qty) wire.Qty {
	oppositeHeadPtr := b.sideHead(oppositeSide(side))

	for qty > 0 {
		levelIdx := *oppositeHeadPtr
		if levelIdx == none {
			break
		}
		level := b.levels.At(levelIdx)
		if !crosses(side, price, level.Price) {
			break
		}

		orderIdx := level.FirstOrder
		ord := b.orders.At(orderIdx)

		if b.RejectSelfMatch && ord.ClientID == aggressorClientID {
			break
		}

		fillQty := qty
		if ord.Qty < fillQty {
			fillQty = ord.Qty
		}
		tradePrice := ord.Price

		qty -= fillQty
		ord.Qty -= fillQty

		e.Update(wire.MarketUpdate{
			Type:     wire.UpdateTrade,
			OrderID:  aggressorMOID,
			TickerID: b.TickerID,
			Side:     side,
			Price:    tradePrice,
			Qty:      fillQty,
			Priority: wire.InvalidPriority,
		})
		e.Response(wire.ClientResponse{
			Type:          wire.ResponseFilled,
			ClientID:      aggressorClientID,
			TickerID:      b.TickerID,
			ClientOrderID: aggressorClientOrderID,
			MarketOrderID: aggressorMOID,
			Side:          side,
			Price:         tradePrice,
			ExecQty:       fillQty,
			LeavesQty:     qty,
		})
		e.Response(wire.ClientResponse{
			Type:          wire.ResponseFilled,
			ClientID:      ord.ClientID,
			TickerID:      b.TickerID,
			ClientOrderID: ord.ClientOrderID,
			MarketOrderID: ord.MarketOrderID,
			Side:          ord.Side,
			Price:         tradePrice,
			ExecQty:       fillQty,
			LeavesQty:     ord.Qty,
		})

		if ord.Qty == 0 {
			e.Update(wire.MarketUpdate{
				Type:     wire.UpdateCancel,
				OrderID:  ord.MarketOrderID,
				TickerID: b.TickerID,
				Side:     ord.Side,
				Price:    ord.Price,
				Priority: ord.Priority,
			})
			passiveClientID, passiveClientOrderID := ord.ClientID, ord.ClientOrderID
			b.unlinkOrder(levelIdx, orderIdx)
			b.forgetOrder(passiveClientID, passiveClientOrderID)
			b.orders.Deallocate(orderIdx)
			if b.levels.At(levelIdx).FirstOrder == none {
				b.removeLevel(oppositeHeadPtr, levelIdx)
			}
		} else {
			e.Update(wire.MarketUpdate{
				Type:     wire.UpdateModify,
				OrderID:  ord.MarketOrderID,
				TickerID: b.TickerID,
				Side:     ord.Side,
				Price:    ord.Price,
				Qty:      ord.Qty,
				Priority: ord.Priority,
			})
		}
	}

	return qty
}

func (b *Book) lookupOrder(clientID wire.ClientID, clientOrderID uint64) (int, bool) {
	m, ok := b.clientIndex[clientID]
	if !ok {
		return 0, false
	}
	idx, ok := m[clientOrderID]
	return idx, ok
}

func (b *Book) forgetOrder(clientID wire.ClientID, clientOrderID uint64) {
	if m := b.clientIndex[clientID]; m != nil {
		delete(m, clientOrderID)
		if len(m) == 0 {
			delete(b.clientIndex, clientID)
		}
	}
}

func (b *Book) sideHead(side wire.Side) *int {
	if side == wire.SideBuy {
		return &b.bidHead
	}
	return &b.askHead
}

func oppositeSide(side wire.Side) wire.Side {
	if side == wire.SideBuy {
		return wire.SideSell
	}
	return wire.SideBuy
}

// crosses reports whether an aggressor on side at price crosses a resting
// level at restingPrice.
func crosses(side wire.Side, price, restingPrice wire.Price) bool {
	if side == wire.SideBuy {
		return price >= restingPrice
	}
	return price <= restingPrice
}

// better reports whether price a sorts ahead of price b for side (i.e. a
// is the more aggressive/passive-favorable price): descending for bids,
// ascending for asks (spec §3 invariant 3).
func better(side wire.Side, a, b wire.Price) bool {
	if side == wire.SideBuy {
		return a > b
	}
	return a < b
}

func (b *Book) findLevel(head int, price wire.Price) int {
	if head == none {
		return none
	}
	cur := head
	for {
		lvl := b.levels.At(cur)
		if lvl.Price == price {
			return cur
		}
		cur = lvl.Next
		if cur == head {
			return none
		}
	}
}

// insertLevel splices newIdx into the circular list rooted at *headPtr,
// keeping traversal from the head strictly monotone (spec §3 invariant 3).
func (b *Book) insertLevel(headPtr *int, newIdx int, side wire.Side) {
	newLvl := b.levels.At(newIdx)
	if *headPtr == none {
		newLvl.Prev = newIdx
		newLvl.Next = newIdx
		*headPtr = newIdx
		return
	}

	cur := *headPtr
	for {
		curLvl := b.levels.At(cur)
		if better(side, newLvl.Price, curLvl.Price) {
			prev := curLvl.Prev
			b.levels.At(prev).Next = newIdx
			newLvl.Prev = prev
			newLvl.Next = cur
			curLvl.Prev = newIdx
			if cur == *headPtr {
				*headPtr = newIdx
			}
			return
		}
		cur = curLvl.Next
		if cur == *headPtr {
			break
		}
	}

	// newIdx is worse than every existing level: append at the tail, i.e.
	// splice in just before the head.
	tail := b.levels.At(*headPtr).Prev
	b.levels.At(tail).Next = newIdx
	newLvl.Prev = tail
	newLvl.Next = *headPtr
	b.levels.At(*headPtr).Prev = newIdx
}

func (b *Book) removeLevel(headPtr *int, idx int) {
	lvl := b.levels.At(idx)
	if lvl.Next == idx {
		*headPtr = none
	} else {
		b.levels.At(lvl.Prev).Next = lvl.Next
		b.levels.At(lvl.Next).Prev = lvl.Prev
		if *headPtr == idx {
			*headPtr = lvl.Next
		}
	}
	b.levels.Deallocate(idx)
}

// nextPriority returns the priority the next order appended to levelIdx
// should get: last.priority+1, or 1 if the level is currently empty
// (spec §3 invariant 2).
func (b *Book) nextPriority(levelIdx int) wire.Priority {
	lvl := b.levels.At(levelIdx)
	if lvl.FirstOrder == none {
		return 1
	}
	return lvl.LastPrio + 1
}

func (b *Book) appendOrder(levelIdx, orderIdx int) {
	lvl := b.levels.At(levelIdx)
	ord := b.orders.At(orderIdx)
	ord.Level = levelIdx
	ord.Prev = none
	ord.Next = none
	if lvl.FirstOrder == none {
		lvl.FirstOrder = orderIdx
		lvl.LastOrder = orderIdx
		return
	}
	tail := b.orders.At(lvl.LastOrder)
	tail.Next = orderIdx
	ord.Prev = lvl.LastOrder
	lvl.LastOrder = orderIdx
}

func (b *Book) unlinkOrder(levelIdx, orderIdx int) {
	lvl := b.levels.At(levelIdx)
	ord := b.orders.At(orderIdx)
	if ord.Prev != none {
		b.orders.At(ord.Prev).Next = ord.Next
	} else {
		lvl.FirstOrder = ord.Next
	}
	if ord.Next != none {
		b.orders.At(ord.Next).Prev = ord.Prev
	} else {
		lvl.LastOrder = ord.Prev
	}
	ord.Prev, ord.Next = none, none
}

func (b *Book) recomputeBBO() {
	bbo := EmptyBBO
	if b.bidHead != none {
		lvl := b.levels.At(b.bidHead)
		bbo.BidPrice = lvl.Price
		bbo.BidQty = b.levelAggregateQty(b.bidHead)
	}
	if b.askHead != none {
		lvl := b.levels.At(b.askHead)
		bbo.AskPrice = lvl.Price
		bbo.AskQty = b.levelAggregateQty(b.askHead)
	}
	b.bbo = bbo
}

func (b *Book) levelAggregateQty(levelIdx int) wire.Qty {
	lvl := b.levels.At(levelIdx)
	var total wire.Qty
	cur := lvl.FirstOrder
	for cur != none {
		ord := b.orders.At(cur)
		total += ord.Qty
		cur = ord.Next
	}
	return total
}
