package netpoll

import (
	"errors"

	"golang.org/x/sys/unix"
)

var errNotInet4 = errors.New("netpoll: listening socket is not IPv4")

// Handler is injected into a Server at construction (spec §9: "pass a
// handler as a generic type parameter to avoid dynamic dispatch on the
// hot path"). OnRecv fires once per session that produced bytes during a
// poll iteration; OnRecvAllFinished fires exactly once per iteration, and
// only if at least one session produced bytes.
type Handler interface {
	OnRecv(s *Session, kernelRxNs int64)
	OnRecvAllFinished()
}

// Server owns a listening socket and every session accepted from it
// (spec §4.3: "the server holds a listening socket and a list of live
// sessions"). H is monomorphized per concrete handler type, so dispatch
// to OnRecv/OnRecvAllFinished is a direct call, not an interface vtable
// lookup, on the poll hot path.
type Server[H Handler] struct {
	listenFD int
	sessions []*Session
	handler  H
}

// NewServer returns a Server that will invoke handler's callbacks.
func NewServer[H Handler](handler H) *Server[H] {
	return &Server[H]{listenFD: -1, handler: handler}
}

// Listen starts listening for connections on iface:port (spec §4.3
// listen()).
func (srv *Server[H]) Listen(iface string, port int) error {
	fd, err := listen(iface, port)
	if err != nil {
		return err
	}
	srv.listenFD = fd
	return nil
}

// Sessions exposes the live session list for diagnostics.
func (srv *Server[H]) Sessions() []*Session {
	return srv.sessions
}

// Addr returns the listening socket's bound port, useful after Listen was
// called with port 0 to let the kernel pick one.
func (srv *Server[H]) Addr() (int, error) {
	sa, err := unix.Getsockname(srv.listenFD)
	if err != nil {
		return 0, err
	}
	in4, ok := sa.(*unix.SockaddrInet4)
	if !ok {
		return 0, errNotInet4
	}
	return in4.Port, nil
}

// Poll accepts zero or more new connections non-blockingly; each accepted
// session starts participating in the next SendAndRecv (spec §4.3 poll()).
func (srv *Server[H]) Poll() error {
	for {
		fd, ok, err := acceptNonBlocking(srv.listenFD)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		srv.sessions = append(srv.sessions, NewSession(fd))
	}
}

// SendAndRecv runs one non-blocking read+write pass over every live
// session, evicts any session that errored, and invokes
// OnRecvAllFinished exactly once if any session produced bytes this pass
// (spec §4.3 send_and_recv()).
func (srv *Server[H]) SendAndRecv() {
	anyRecv := false
	live := srv.sessions[:0]
	for _, s := range srv.sessions {
		if s.sendAndRecv(srv.handler) {
			anyRecv = true
		}
		if s.Dead {
			unix.Close(s.FD)
			continue
		}
		live = append(live, s)
	}
	srv.sessions = live

	if anyRecv {
		srv.handler.OnRecvAllFinished()
	}
}

// Close shuts down the listening socket and every live session.
func (srv *Server[H]) Close() {
	if srv.listenFD >= 0 {
		unix.Close(srv.listenFD)
		srv.listenFD = -1
	}
	for _, s := range srv.sessions {
		unix.Close(s.FD)
	}
	srv.sessions = nil
}
