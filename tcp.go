package socknet

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/socknet/internal/handle"
)

// TCPSocket is a TCP socket opened by OpenTCP. It is either listening
// (opened on a wildcard host) and produces connections through Accept, or
// initiating (opened on a concrete host) and carries a single outbound
// stream.
type TCPSocket struct {
	socket
	listening bool
	addr      Address
}

// OpenTCP opens a TCP socket on n.
//
// When addr's host is AnyHost or NoneHost the socket listens on addr's port
// (SO_REUSEADDR per Options.ReuseAddr, Options.ListenBacklog pending
// connections, non-blocking accepts). Otherwise it connects to addr,
// blocking until the handshake completes or fails.
//
// Every failure wraps ErrBindFailed.
func OpenTCP(n *Net, addr Address) (*TCPSocket, error) {
	if !addr.IsValid() {
		return nil, newSocketError("open_tcp", "", ErrBindFailed, unix.EINVAL)
	}

	kind := "tcp-initiator"
	if addr.IsWildcard() {
		kind = "tcp-listener"
	}
	l, err := n.acquire(kind)
	if err != nil {
		return nil, err
	}

	var fd int
	if addr.IsWildcard() {
		fd, err = listenTCP(addr, n.opts)
	} else {
		fd, err = connectTCP(addr, n.opts)
	}
	if err != nil {
		l.release()
		logrus.WithFields(logrus.Fields{
			"component": "TCPSocket",
			"function":  "OpenTCP",
			"address":   addr.String(),
			"mode":      kind,
			"error":     err.Error(),
		}).Error("Failed to open TCP socket")
		return nil, err
	}

	s := &TCPSocket{
		socket:    socket{fd: handle.New(fd, kind), lease: l},
		listening: addr.IsWildcard(),
		addr:      addr,
	}

	logrus.WithFields(logrus.Fields{
		"component": "TCPSocket",
		"function":  "OpenTCP",
		"address":   addr.String(),
		"socket":    s.fd.String(),
	}).Debug("Opened TCP socket")

	return s, nil
}

func listenTCP(addr Address, opts *Options) (int, error) {
	// A listener on 255.255.255.255 binds the wildcard host.
	bindAddr := addr
	if addr.IP() == NoneHost {
		bindAddr, _ = AddressFrom(AnyHost, addr.Port())
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, newSocketError("socket", bindAddr.String(), ErrBindFailed, err)
	}
	if opts.ReuseAddr {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
			unix.Close(fd)
			return -1, newSocketError("setsockopt", bindAddr.String(), ErrBindFailed, err)
		}
	}
	if err := unix.Bind(fd, bindAddr.sockaddr()); err != nil {
		unix.Close(fd)
		return -1, newSocketError("bind", bindAddr.String(), ErrBindFailed, err)
	}
	if err := unix.Listen(fd, opts.ListenBacklog); err != nil {
		unix.Close(fd)
		return -1, newSocketError("listen", bindAddr.String(), ErrBindFailed, err)
	}
	return fd, nil
}

func connectTCP(addr Address, opts *Options) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, newSocketError("socket", addr.String(), ErrBindFailed, err)
	}
	for {
		err = unix.Connect(fd, addr.sockaddr())
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return -1, newSocketError("connect", addr.String(), ErrBindFailed, err)
	}
	if opts.NoDelay {
		if err := setNoDelay(fd); err != nil {
			unix.Close(fd)
			return -1, newSocketError("setsockopt", addr.String(), ErrBindFailed, err)
		}
	}
	return fd, nil
}

// Listening reports whether the socket accepts connections.
func (s *TCPSocket) Listening() bool {
	return s.listening
}

func (s *TCPSocket) base() *socket {
	if s == nil {
		return nil
	}
	return &s.socket
}

// LocalAddress returns the bound address. For a listener opened on port 0
// this reports the port the kernel assigned.
func (s *TCPSocket) LocalAddress() (Address, error) {
	return s.localAddress()
}

// RemoteAddress returns the peer of an initiating socket.
func (s *TCPSocket) RemoteAddress() (Address, error) {
	if s.fd.Closed() {
		return Address{}, ErrClosed
	}
	if s.listening {
		return Address{}, ErrNotConnected
	}
	return s.remoteAddress()
}

// Accept takes one pending inbound connection without blocking. It returns
// (nil, nil) when no connection is pending; use a SocketSet to wait for one.
func (s *TCPSocket) Accept() (*Conn, error) {
	fd, err := s.sysfd()
	if err != nil {
		return nil, err
	}
	if !s.listening {
		logrus.WithFields(logrus.Fields{
			"component": "TCPSocket",
			"function":  "Accept",
			"socket":    s.fd.String(),
		}).Warn("Accept called on an initiating socket")
		return nil, ErrNotListening
	}

	var (
		nfd int
		sa  unix.Sockaddr
	)
	for {
		// The accepted descriptor is blocking: stream I/O on a Conn waits
		// for data, like the initiating side.
		nfd, sa, err = unix.Accept4(fd, unix.SOCK_CLOEXEC)
		if err != unix.EINTR {
			break
		}
	}
	switch err {
	case nil:
	case unix.EAGAIN, unix.ECONNABORTED:
		return nil, nil
	default:
		return nil, &SocketError{Op: "accept", Addr: s.addr.String(), Err: err}
	}

	return newConn(s, nfd, sa)
}

// Read reads from an initiating socket.
func (s *TCPSocket) Read(p []byte) (int, error) {
	if s.listening && !s.fd.Closed() {
		return 0, ErrNotConnected
	}
	return s.read(p)
}

// Write writes all of p to an initiating socket.
func (s *TCPSocket) Write(p []byte) (int, error) {
	if s.listening && !s.fd.Closed() {
		return 0, ErrNotConnected
	}
	return s.write(p)
}

// Close releases the socket. It fails with ErrRegistered while the socket is
// in a SocketSet and with ErrClosed when called again. Connections already
// accepted stay open.
func (s *TCPSocket) Close() error {
	return s.close()
}
