// Package gateway implements the order gateway (spec §4.5): a TCP front
// end that terminates per-client connections, enforces per-client inbound
// sequence discipline, forwards valid requests to the FIFO sequencer, and
// fans matching-engine responses back out to the owning session. Grounded
// directly on original_source/exchange/order_server/order_server.h's
// recvCallback/recvFinishedCallback/run split.
package gateway

import (
	"runtime"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ejyy/femto/internal/fatal"
	"github.com/ejyy/femto/internal/logging"
	"github.com/ejyy/femto/netpoll"
	"github.com/ejyy/femto/ring"
	"github.com/ejyy/femto/sequencer"
	"github.com/ejyy/femto/wire"
)

// clientState is one client's sequence-discipline bookkeeping (spec
// §4.5). owningSession is nil until the client's first valid message.
type clientState struct {
	expectedInboundSeq uint64
	nextOutboundSeq    uint64
	owningSession      *netpoll.Session
	correlationID      string
}

// Gateway owns the TCP server, the FIFO sequencer, and every client's
// sequence/session state. It implements netpoll.Handler so the server can
// dispatch straight into it with no intermediate vtable hop.
type Gateway struct {
	server *netpoll.Server[*Gateway]
	seq    *sequencer.Sequencer

	meResponses *ring.Ring[wire.ClientResponse]

	clients map[wire.ClientID]*clientState

	log *logging.Logger

	drops      func(reason string)
	sequenced  func()
	onResponse func(wire.ResponseType)
}

// New builds a Gateway that forwards sequenced requests onto meInbound and
// drains meResponses for delivery back to clients. drops, sequenced, and
// onResponse are the gateway's sole observability hooks (spec §1: metrics
// and logging are external collaborators, never a hot-path dependency):
// drops fires once per dropped inbound request with a short reason string,
// sequenced fires once per request handed to the sequencer, and onResponse
// fires once per response drained back out to a client. Any of the three
// may be nil.
func New(meInbound *ring.Ring[wire.ClientRequest], meResponses *ring.Ring[wire.ClientResponse], log *logging.Logger, drops func(reason string), sequenced func(), onResponse func(wire.ResponseType)) *Gateway {
	g := &Gateway{
		seq:         sequencer.New(meInbound),
		meResponses: meResponses,
		clients:     make(map[wire.ClientID]*clientState),
		log:         log,
		drops:       drops,
		sequenced:   sequenced,
		onResponse:  onResponse,
	}
	g.server = netpoll.NewServer[*Gateway](g)
	return g
}

// Listen starts accepting client TCP connections.
func (g *Gateway) Listen(iface string, port int) error {
	return g.server.Listen(iface, port)
}

func (g *Gateway) state(clientID wire.ClientID) *clientState {
	st, ok := g.clients[clientID]
	if !ok {
		st = &clientState{expectedInboundSeq: 1, nextOutboundSeq: 1, correlationID: uuid.NewString()}
		g.clients[clientID] = st
	}
	return st
}

func (g *Gateway) drop(reason string) {
	if g.drops != nil {
		g.drops(reason)
	}
}

// OnRecv implements netpoll.Handler: frame whatever whole client requests
// are now available in s's inbound buffer, apply the gateway's
// session-binding and sequence checks to each, and hand survivors to the
// sequencer with their kernel receive timestamp (spec §4.5 recvCallback).
func (g *Gateway) OnRecv(s *netpoll.Session, kernelRxNs int64) {
	buf := s.InboundBytes()
	consumed := 0
	for consumed+wire.ClientRequestFrameSize <= len(buf) {
		frame := buf[consumed : consumed+wire.ClientRequestFrameSize]
		req := wire.DecodeClientRequest(frame)
		consumed += wire.ClientRequestFrameSize

		st := g.state(req.ClientID)

		if st.owningSession == nil {
			st.owningSession = s
			g.log.Debug("gateway: bound client to session",
				zap.Uint32("client_id", uint32(req.ClientID)),
				zap.String("session", st.correlationID))
		} else if st.owningSession != s {
			g.log.Warn("gateway: request from wrong session, dropping",
				zap.Uint32("client_id", uint32(req.ClientID)))
			g.drop("wrong_session")
			continue
		}

		if req.SeqNum != st.expectedInboundSeq {
			g.log.Warn("gateway: sequence gap, dropping",
				zap.Uint32("client_id", uint32(req.ClientID)),
				zap.Uint64("expected", st.expectedInboundSeq),
				zap.Uint64("got", req.SeqNum))
			g.drop("seq_gap")
			continue
		}
		st.expectedInboundSeq++

		g.seq.Add(kernelRxNs, req)
		if g.sequenced != nil {
			g.sequenced()
		}
	}
	s.ConsumeInbound(consumed)
}

// OnRecvAllFinished implements netpoll.Handler: one poll iteration's worth
// of requests, across every session, is now sequenced and pushed to the
// ME (spec §4.5 recvFinishedCallback).
func (g *Gateway) OnRecvAllFinished() {
	g.seq.SequenceAndPublish()
}

// DrainResponses writes every currently-available ME response out to its
// owning client's session buffer, stamping the per-client outbound
// sequence number (spec §4.5 outbound). A response for a client with no
// owning session is a protocol-corruption programmer error: fatal.
func (g *Gateway) DrainResponses() {
	for {
		slot, ok := g.meResponses.Peek()
		if !ok {
			return
		}
		resp := *slot
		g.meResponses.CommitRead()

		st := g.state(resp.ClientID)
		if st.owningSession == nil {
			fatal.On(g.log, "gateway: response with no owning session",
				zap.Uint32("client_id", uint32(resp.ClientID)))
			return
		}

		var frame [wire.ClientResponseFrameSize]byte
		resp.EncodeFramed(frame[:], st.nextOutboundSeq)
		st.owningSession.Send(frame[:])
		st.nextOutboundSeq++

		if g.onResponse != nil {
			g.onResponse(resp.Type)
		}
	}
}

// Poll drives one iteration of the gateway's loop: accept new connections,
// run one send/recv pass over every session (which synchronously triggers
// OnRecv/OnRecvAllFinished), then drain ME responses into the owning
// sessions' outbound buffers (spec §4.5, mirroring order_server.h's run()).
// Those buffered frames reach the socket on the next Poll's send/recv pass.
func (g *Gateway) Poll() error {
	if err := g.server.Poll(); err != nil {
		return err
	}
	g.server.SendAndRecv()
	g.DrainResponses()
	return nil
}

// Run busy-loops Poll until done is closed (spec §5: cooperative shutdown
// flag, no blocking calls inside a loop iteration).
func (g *Gateway) Run(done <-chan struct{}) {
	runtime.LockOSThread()
	defer fatal.Recover(g.log, "gateway.Gateway.Run")
	for {
		select {
		case <-done:
			g.server.Close()
			return
		default:
		}
		if err := g.Poll(); err != nil {
			fatal.On(g.log, "gateway: poll failed", zap.Error(err))
			return
		}
	}
}
