package socknet

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/socknet/internal/handle"
)

// Conn is an accepted TCP connection. It owns its descriptor outright:
// nothing is shared with the listener that produced it.
type Conn struct {
	socket
	peer Address
}

func newConn(listener *TCPSocket, nfd int, sa unix.Sockaddr) (*Conn, error) {
	l, err := listener.lease.net.acquire("tcp-conn")
	if err != nil {
		unix.Close(nfd)
		return nil, err
	}

	if listener.lease.net.opts.NoDelay {
		if err := setNoDelay(nfd); err != nil {
			logrus.WithFields(logrus.Fields{
				"component": "Conn",
				"function":  "newConn",
				"error":     err.Error(),
			}).Debug("Failed to set TCP_NODELAY on accepted connection")
		}
	}

	peer, _ := addressFromSockaddr(sa)
	c := &Conn{
		socket: socket{fd: handle.New(nfd, "tcp-conn"), lease: l},
		peer:   peer,
	}

	logrus.WithFields(logrus.Fields{
		"component": "Conn",
		"function":  "newConn",
		"peer":      peer.String(),
		"socket":    c.fd.String(),
	}).Debug("Accepted connection")

	return c, nil
}

// PeerAddress returns the remote endpoint as reported by accept(2).
func (c *Conn) PeerAddress() Address {
	return c.peer
}

func (c *Conn) base() *socket {
	if c == nil {
		return nil
	}
	return &c.socket
}

// LocalAddress returns the local endpoint of the connection.
func (c *Conn) LocalAddress() (Address, error) {
	return c.localAddress()
}

// Read reads from the connection, blocking until data arrives. It returns
// io.EOF once the peer has shut down its side.
func (c *Conn) Read(p []byte) (int, error) {
	return c.read(p)
}

// Write writes all of p to the connection.
func (c *Conn) Write(p []byte) (int, error) {
	return c.write(p)
}

// Close releases the connection. It fails with ErrRegistered while the
// connection is in a SocketSet and with ErrClosed when called again.
func (c *Conn) Close() error {
	return c.close()
}
