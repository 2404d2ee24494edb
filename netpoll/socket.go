// Package netpoll implements the non-blocking TCP session layer (spec
// §4.3): a listening socket that accepts connections without blocking,
// and per-connection send/recv that captures the kernel's own receive
// timestamp (SO_TIMESTAMP) rather than a userspace time.Now() call —
// the FIFO sequencer orders requests by this timestamp (spec §4.4), so
// it has to come from the kernel, not from whenever Go happened to get
// scheduled to read the socket.
package netpoll

import (
	"golang.org/x/sys/unix"
)

// listen creates a non-blocking, listening IPv4 TCP socket bound to port
// on iface (if iface is non-empty, SO_BINDTODEVICE restricts it to that
// interface, mirroring original_source's SocketCfg.iface).
func listen(iface string, port int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, 0)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if iface != "" {
		if err := unix.BindToDevice(fd, iface); err != nil {
			unix.Close(fd)
			return -1, err
		}
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	addr := &unix.SockaddrInet4{Port: port}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, err
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// acceptNonBlocking accepts zero or one pending connection without
// blocking; ok is false (no error) when there was nothing to accept.
func acceptNonBlocking(listenFD int) (fd int, ok bool, err error) {
	nfd, _, aerr := unix.Accept4(listenFD, unix.SOCK_NONBLOCK)
	if aerr != nil {
		if aerr == unix.EAGAIN || aerr == unix.EWOULDBLOCK {
			return -1, false, nil
		}
		return -1, false, aerr
	}
	if err := unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
		unix.Close(nfd)
		return -1, false, err
	}
	if err := unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1); err != nil {
		unix.Close(nfd)
		return -1, false, err
	}
	return nfd, true, nil
}
