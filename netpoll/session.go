package netpoll

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// sessionBufferSize bounds one connection's inbound/outbound staging
// buffers. A client that never drains (reads) or a gateway that never
// consumes framed bytes fast enough hits this as a hard cap rather than
// an unbounded allocation.
const sessionBufferSize = 64 * 1024

// Session is one accepted, non-blocking TCP connection (spec §4.3). Data
// read from the wire accumulates in inbound; ConsumeInbound is how the
// owner (the gateway) removes bytes once it has framed and dispatched
// them — framing and alignment are the caller's responsibility, not the
// session's.
type Session struct {
	FD int

	inbound    []byte
	inboundLen int

	outbound    []byte
	outboundLen int

	oob []byte

	// Dead is set once a non-EAGAIN error occurs on this session's fd;
	// the owning Server evicts it at the end of the same SendAndRecv pass.
	Dead bool
}

// NewSession wraps an already-accepted or otherwise-connected socket fd.
// Server.Poll calls it for every connection it accepts.
func NewSession(fd int) *Session {
	return &Session{
		FD:       fd,
		inbound:  make([]byte, sessionBufferSize),
		outbound: make([]byte, sessionBufferSize),
		oob:      make([]byte, unix.CmsgSpace(16)),
	}
}

// InboundBytes returns the currently buffered, not-yet-consumed bytes.
func (s *Session) InboundBytes() []byte {
	return s.inbound[:s.inboundLen]
}

// ConsumeInbound drops the first n bytes of the inbound buffer, shifting
// whatever remains to the front.
func (s *Session) ConsumeInbound(n int) {
	if n <= 0 {
		return
	}
	remaining := s.inboundLen - n
	copy(s.inbound, s.inbound[n:s.inboundLen])
	s.inboundLen = remaining
}

// Send appends bytes to the outbound buffer; actual transmission is
// deferred to the session's next sendAndRecv (spec §4.3 send()).
func (s *Session) Send(data []byte) {
	if s.outboundLen+len(data) > len(s.outbound) {
		panic("netpoll: outbound buffer exceeded")
	}
	n := copy(s.outbound[s.outboundLen:], data)
	s.outboundLen += n
}

// sendAndRecv performs one non-blocking read (capturing the kernel receive
// timestamp via SO_TIMESTAMP ancillary data) and, if outbound has pending
// bytes, one non-blocking write of the whole buffer. Returns true if bytes
// were read this iteration.
func (s *Session) sendAndRecv(h Handler) bool {
	n, oobn, _, _, err := unix.Recvmsg(s.FD, s.inbound[s.inboundLen:], s.oob, unix.MSG_DONTWAIT)
	read := false
	if err != nil {
		if err != unix.EAGAIN && err != unix.EWOULDBLOCK {
			s.Dead = true
		}
	} else if n == 0 {
		s.Dead = true
	} else {
		s.inboundLen += n
		kernelRxNs := parseKernelTimestamp(s.oob[:oobn])
		h.OnRecv(s, kernelRxNs)
		read = true
	}

	if s.outboundLen > 0 {
		if _, err := unix.Write(s.FD, s.outbound[:s.outboundLen]); err != nil {
			s.Dead = true
		}
		s.outboundLen = 0
	}

	return read
}

// parseKernelTimestamp extracts the SCM_TIMESTAMP ancillary data a
// recvmsg() call captured, mirroring original_source/Chapter4/tcp_socket.cpp's
// cmsg handling: a struct timeval {sec int64; usec int64} on amd64/arm64,
// read as two little-endian 64-bit words rather than via an unsafe cast,
// to stay in the same manual-packing idiom the wire package uses.
func parseKernelTimestamp(oob []byte) int64 {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return 0
	}
	for _, scm := range msgs {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_TIMESTAMP {
			continue
		}
		if len(scm.Data) < 16 {
			continue
		}
		sec := int64(binary.LittleEndian.Uint64(scm.Data[0:8]))
		usec := int64(binary.LittleEndian.Uint64(scm.Data[8:16]))
		return sec*1_000_000_000 + usec*1_000
	}
	return 0
}
