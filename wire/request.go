package wire

import "encoding/binary"

// RequestType is the client request discriminator (§6: 1=NEW, 2=CANCEL).
type RequestType uint8

const (
	RequestNew    RequestType = 1
	RequestCancel RequestType = 2
)

// ClientRequest is the internal (deframed) form of a client request — the
// per-client seq_num that precedes it on the wire (§3) travels alongside
// it as SeqNum so the gateway can validate ordering before handing the
// request to the sequencer.
type ClientRequest struct {
	SeqNum        uint64
	Type          RequestType
	ClientID      ClientID
	TickerID      TickerID
	ClientOrderID uint64
	Side          Side
	Price         Price
	Qty           Qty
}

// ClientRequestFrameSize is the packed, no-padding wire size of a client
// request frame per spec §6.
const ClientRequestFrameSize = 8 + 1 + 4 + 4 + 8 + 1 + 8 + 4

// Encode serializes r into buf (which must be at least
// ClientRequestFrameSize bytes) using the little-endian layout of §6.
func (r ClientRequest) Encode(buf []byte) {
	_ = buf[ClientRequestFrameSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], r.SeqNum)
	buf[8] = byte(r.Type)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(r.ClientID))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(r.TickerID))
	binary.LittleEndian.PutUint64(buf[17:25], r.ClientOrderID)
	buf[25] = byte(r.Side)
	binary.LittleEndian.PutUint64(buf[26:34], uint64(r.Price))
	binary.LittleEndian.PutUint32(buf[34:38], uint32(r.Qty))
}

// DecodeClientRequest parses a ClientRequestFrameSize-byte frame.
func DecodeClientRequest(buf []byte) ClientRequest {
	_ = buf[ClientRequestFrameSize-1]
	return ClientRequest{
		SeqNum:        binary.LittleEndian.Uint64(buf[0:8]),
		Type:          RequestType(buf[8]),
		ClientID:      ClientID(binary.LittleEndian.Uint32(buf[9:13])),
		TickerID:      TickerID(binary.LittleEndian.Uint32(buf[13:17])),
		ClientOrderID: binary.LittleEndian.Uint64(buf[17:25]),
		Side:          Side(int8(buf[25])),
		Price:         Price(binary.LittleEndian.Uint64(buf[26:34])),
		Qty:           Qty(binary.LittleEndian.Uint32(buf[34:38])),
	}
}

// ResponseType is the client response discriminator (§6).
type ResponseType uint8

const (
	ResponseAccepted       ResponseType = 1
	ResponseCanceled       ResponseType = 2
	ResponseFilled         ResponseType = 3
	ResponseCancelRejected ResponseType = 4
)

// ClientResponse is the internal form of a client response. The per-client
// outbound sequence number is assigned by the gateway at the moment it is
// written to the wire (§4.5), so it is not a field here.
type ClientResponse struct {
	Type          ResponseType
	ClientID      ClientID
	TickerID      TickerID
	ClientOrderID uint64
	MarketOrderID OrderID
	Side          Side
	Price         Price
	ExecQty       Qty
	LeavesQty     Qty
}

// ClientResponseFrameSize is the packed wire size of a response frame,
// including its leading 8-byte outbound seq_num.
const ClientResponseFrameSize = 8 + 1 + 4 + 4 + 8 + 8 + 1 + 8 + 4 + 4

// EncodeFramed serializes a response together with the outbound seq_num
// the gateway has assigned it.
func (r ClientResponse) EncodeFramed(buf []byte, outboundSeq uint64) {
	_ = buf[ClientResponseFrameSize-1]
	binary.LittleEndian.PutUint64(buf[0:8], outboundSeq)
	buf[8] = byte(r.Type)
	binary.LittleEndian.PutUint32(buf[9:13], uint32(r.ClientID))
	binary.LittleEndian.PutUint32(buf[13:17], uint32(r.TickerID))
	binary.LittleEndian.PutUint64(buf[17:25], r.ClientOrderID)
	binary.LittleEndian.PutUint64(buf[25:33], uint64(r.MarketOrderID))
	buf[33] = byte(r.Side)
	binary.LittleEndian.PutUint64(buf[34:42], uint64(r.Price))
	binary.LittleEndian.PutUint32(buf[42:46], uint32(r.ExecQty))
	binary.LittleEndian.PutUint32(buf[46:50], uint32(r.LeavesQty))
}

// DecodeClientResponse parses a ClientResponseFrameSize-byte frame and
// returns the response plus its outbound seq_num.
func DecodeClientResponse(buf []byte) (ClientResponse, uint64) {
	_ = buf[ClientResponseFrameSize-1]
	seq := binary.LittleEndian.Uint64(buf[0:8])
	return ClientResponse{
		Type:          ResponseType(buf[8]),
		ClientID:      ClientID(binary.LittleEndian.Uint32(buf[9:13])),
		TickerID:      TickerID(binary.LittleEndian.Uint32(buf[13:17])),
		ClientOrderID: binary.LittleEndian.Uint64(buf[17:25]),
		MarketOrderID: OrderID(binary.LittleEndian.Uint64(buf[25:33])),
		Side:          Side(int8(buf[33])),
		Price:         Price(binary.LittleEndian.Uint64(buf[34:42])),
		ExecQty:       Qty(binary.LittleEndian.Uint32(buf[42:46])),
		LeavesQty:     Qty(binary.LittleEndian.Uint32(buf[46:50])),
	}, seq
}
