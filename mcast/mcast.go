// Package mcast implements the connectionless multicast transport (spec
// §4: "Multicast transport — connectionless publish/subscribe with group
// join/leave"). Frames on both the incremental and snapshot streams are
// raw, fixed-layout bytes a subscriber with no venue affiliation must be
// able to decode (spec §6) — that rules out a transport that owns its own
// message envelope (the DOMAIN STACK note on why go.nanomsg.org/mangos is
// not wired here), so this is a thin wrapper over net.UDPConn rather than
// a messaging library: stdlib's multicast UDP support (ListenMulticastUDP,
// WriteToUDP) already gives exactly the join/leave/send/receive shape the
// component needs, and no example repo in the pack carries a UDP
// multicast library to prefer over it.
package mcast

import (
	"net"
	"time"
)

// Publisher sends frames to one multicast group:port.
type Publisher struct {
	conn *net.UDPConn
	addr *net.UDPAddr
}

// NewPublisher resolves group:port and opens a UDP socket to send to it.
// iface, if non-empty, pins the outbound interface (IGMP-joinable per
// spec §6).
func NewPublisher(iface string, group string, port int) (*Publisher, error) {
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}

	var laddr *net.UDPAddr
	if iface != "" {
		ifi, err := net.InterfaceByName(iface)
		if err != nil {
			return nil, err
		}
		addrs, err := ifi.Addrs()
		if err != nil {
			return nil, err
		}
		for _, a := range addrs {
			if ipNet, ok := a.(*net.IPNet); ok && ipNet.IP.To4() != nil {
				laddr = &net.UDPAddr{IP: ipNet.IP}
				break
			}
		}
	}

	conn, err := net.DialUDP("udp4", laddr, addr)
	if err != nil {
		return nil, err
	}
	return &Publisher{conn: conn, addr: addr}, nil
}

// Send transmits one frame. Multicast has no backpressure or delivery
// guarantee by design (spec §5); a lost datagram is the MDC's problem to
// recover from, not this layer's.
func (p *Publisher) Send(frame []byte) error {
	_, err := p.conn.Write(frame)
	return err
}

// Close releases the underlying socket.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

// Subscriber joins a multicast group and receives frames from it.
// Constructing one is the "join"; Close is the "leave" (spec §4.9 MDC
// joins/leaves the snapshot group dynamically during recovery).
type Subscriber struct {
	conn *net.UDPConn
}

// NewSubscriber joins group:port on iface (required for IGMP join — the
// kernel needs to know which interface to send the membership report on).
func NewSubscriber(iface string, group string, port int) (*Subscriber, error) {
	var ifi *net.Interface
	if iface != "" {
		var err error
		ifi, err = net.InterfaceByName(iface)
		if err != nil {
			return nil, err
		}
	}
	addr := &net.UDPAddr{IP: net.ParseIP(group), Port: port}
	conn, err := net.ListenMulticastUDP("udp4", ifi, addr)
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn}, nil
}

// Recv reads one datagram into buf, non-blocking-ish via an immediate
// read deadline check left to the caller's poll loop discipline — callers
// that need a truly non-blocking poll should call SetReadDeadline before
// Recv, matching the rest of the venue's "never block a loop iteration"
// rule (spec §5).
func (s *Subscriber) Recv(buf []byte) (int, error) {
	return s.conn.Read(buf)
}

// SetReadDeadline exposes the underlying conn's deadline so a caller can
// poll without blocking (spec §5: no blocking calls inside a loop
// iteration).
func (s *Subscriber) SetReadDeadline(t time.Time) error {
	return s.conn.SetReadDeadline(t)
}

// Close leaves the multicast group.
func (s *Subscriber) Close() error {
	return s.conn.Close()
}
