package wire

import "encoding/binary"

// UpdateType is the market update discriminator (§6).
type UpdateType uint8

const (
	UpdateClear         UpdateType = 1
	UpdateAdd           UpdateType = 2
	UpdateModify        UpdateType = 3
	UpdateCancel        UpdateType = 4
	UpdateTrade         UpdateType = 5
	UpdateSnapshotStart UpdateType = 6
	UpdateSnapshotEnd   UpdateType = 7
)

// MarketUpdate is the internal (unstamped) form of a market update. The
// venue-global seq_num is assigned by the MDP at the point of publication
// (§4.8), not here. In SNAPSHOT_START/SNAPSHOT_END, OrderID carries the
// incremental seq_num the snapshot round is synchronized to (§3).
type MarketUpdate struct {
	Type     UpdateType
	OrderID  OrderID
	TickerID TickerID
	Side     Side
	Price    Price
	Qty      Qty
	Priority Priority
}

// MarketDataFrameSize is the packed wire size of a market data frame,
// including its leading 8-byte seq_num.
const MarketDataFrameSize = 8 + 1 + 8 + 4 + 1 + 8 + 4 + 8

// EncodeFramed serializes u together with the venue-global seq_num
// assigned to it.
func (u MarketUpdate) EncodeFramed(buf []byte, seqNum uint64) {
	_ = buf[MarketDataFrameSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], seqNum)
	buf[8] = byte(u.Type)
	binary.LittleEndian.PutUint64(buf[9:17], uint64(u.OrderID))
	binary.LittleEndian.PutUint32(buf[17:21], uint32(u.TickerID))
	buf[21] = byte(u.Side)
	binary.LittleEndian.PutUint64(buf[22:30], uint64(u.Price))
	binary.LittleEndian.PutUint32(buf[30:34], uint32(u.Qty))
	binary.LittleEndian.PutUint64(buf[34:42], uint64(u.Priority))
}

// DecodeMarketUpdate parses a MarketDataFrameSize-byte frame and returns
// the update plus its seq_num.
func DecodeMarketUpdate(buf []byte) (MarketUpdate, uint64) {
	_ = buf[MarketDataFrameSize-1]
	seq := binary.LittleEndian.Uint64(buf[0:8])
	return MarketUpdate{
		Type:     UpdateType(buf[8]),
		OrderID:  OrderID(binary.LittleEndian.Uint64(buf[9:17])),
		TickerID: TickerID(binary.LittleEndian.Uint32(buf[17:21])),
		Side:     Side(int8(buf[21])),
		Price:    Price(binary.LittleEndian.Uint64(buf[22:30])),
		Qty:      Qty(binary.LittleEndian.Uint32(buf[30:34])),
		Priority: Priority(binary.LittleEndian.Uint64(buf[34:42])),
	}, seq
}
