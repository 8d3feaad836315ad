package socknet

import (
	"errors"
	"io"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/socknet/internal/handle"
)

// Socket is anything that can be registered in a SocketSet: a *TCPSocket,
// a *Conn or a *UDPSocket.
type Socket interface {
	// LocalAddress returns the address the socket is bound to.
	LocalAddress() (Address, error)

	base() *socket
}

// socket is the state shared by every socket type: the owned descriptor,
// the lease on the creating Net and the set currently borrowing it.
type socket struct {
	fd    *handle.FD
	lease *lease
	set   *SocketSet
	ready bool
}

// baseOf returns the shared state behind s, or nil for a nil interface or a
// nil *TCPSocket, *Conn or *UDPSocket.
func baseOf(s Socket) *socket {
	if s == nil {
		return nil
	}
	return s.base()
}

func (s *socket) sysfd() (int, error) {
	return s.fd.Sysfd()
}

// Registered reports whether the socket is currently borrowed by a SocketSet.
func (s *socket) Registered() bool {
	return s.set != nil
}

func (s *socket) localAddress() (Address, error) {
	fd, err := s.sysfd()
	if err != nil {
		return Address{}, err
	}
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return Address{}, &SocketError{Op: "getsockname", Err: err}
	}
	addr, ok := addressFromSockaddr(sa)
	if !ok {
		return Address{}, &SocketError{Op: "getsockname", Err: unix.EAFNOSUPPORT}
	}
	return addr, nil
}

func (s *socket) remoteAddress() (Address, error) {
	fd, err := s.sysfd()
	if err != nil {
		return Address{}, err
	}
	sa, err := unix.Getpeername(fd)
	if err != nil {
		return Address{}, &SocketError{Op: "getpeername", Err: err}
	}
	addr, ok := addressFromSockaddr(sa)
	if !ok {
		return Address{}, &SocketError{Op: "getpeername", Err: unix.EAFNOSUPPORT}
	}
	return addr, nil
}

// close releases the descriptor and the lease. A socket borrowed by a set
// is left open and ErrRegistered is returned.
func (s *socket) close() error {
	if s.set != nil {
		logrus.WithFields(logrus.Fields{
			"component": "socket",
			"function":  "close",
			"socket":    s.fd.String(),
		}).Warn("Refusing to close socket registered in a socket set")
		return ErrRegistered
	}

	name := s.fd.String()
	err := s.fd.Close()
	if errors.Is(err, handle.ErrClosed) {
		return ErrClosed
	}
	s.lease.release()

	logrus.WithFields(logrus.Fields{
		"component": "socket",
		"function":  "close",
		"socket":    name,
	}).Debug("Closed socket")

	if err != nil {
		return &SocketError{Op: "close", Err: err}
	}
	return nil
}

// read performs one blocking read(2). A zero-byte read on a non-empty
// buffer means the peer shut down its side.
func (s *socket) read(p []byte) (int, error) {
	fd, err := s.sysfd()
	if err != nil {
		return 0, err
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.Read(fd, p)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, &SocketError{Op: "read", Err: err}
		}
		if n == 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// write writes all of p, retrying short writes.
func (s *socket) write(p []byte) (int, error) {
	fd, err := s.sysfd()
	if err != nil {
		return 0, err
	}
	written := 0
	for written < len(p) {
		n, err := unix.Write(fd, p[written:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return written, &SocketError{Op: "write", Err: err}
		}
		written += n
	}
	return written, nil
}

func setNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}
