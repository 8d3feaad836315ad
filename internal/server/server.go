// Package server implements the socknet serve loop: a TCP listener and a
// UDP socket multiplexed through one SocketSet, echoing stream bytes back to
// their sender and classifying datagrams by channel.
package server

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/socknet"
)

// Config selects the ports to serve on. Port 0 picks an ephemeral port.
type Config struct {
	TCPPort uint16
	UDPPort uint16
}

// Stats counts what a Server has handled so far.
type Stats struct {
	Accepted  int
	Closed    int
	Echoed    int
	Datagrams int
}

// Server owns its sockets and set. It is driven by calling Step in a loop
// from a single goroutine.
type Server struct {
	listener *socknet.TCPSocket
	udp      *socknet.UDPSocket
	set      *socknet.SocketSet
	conns    []*socknet.Conn
	buf      []byte
	stats    Stats
}

// New opens the listener, the UDP socket and the set on n.
func New(n *socknet.Net, cfg Config) (*Server, error) {
	bind, err := n.Resolve("", cfg.TCPPort)
	if err != nil {
		return nil, err
	}
	listener, err := socknet.OpenTCP(n, bind)
	if err != nil {
		return nil, err
	}
	udp, err := socknet.OpenUDP(n, cfg.UDPPort)
	if err != nil {
		listener.Close()
		return nil, err
	}
	set, err := socknet.NewSocketSetWithCapacity(n, 2)
	if err != nil {
		udp.Close()
		listener.Close()
		return nil, err
	}

	s := &Server{
		listener: listener,
		udp:      udp,
		set:      set,
		buf:      make([]byte, 4096),
	}
	for _, sock := range []socknet.Socket{listener, udp} {
		if err := set.Push(sock); err != nil {
			s.Close()
			return nil, err
		}
	}
	return s, nil
}

// TCPAddress returns the listener's bound address.
func (s *Server) TCPAddress() (socknet.Address, error) {
	return s.listener.LocalAddress()
}

// UDPAddress returns the UDP socket's bound address.
func (s *Server) UDPAddress() (socknet.Address, error) {
	return s.udp.LocalAddress()
}

// Stats returns the counters accumulated so far.
func (s *Server) Stats() Stats {
	return s.stats
}

// Step waits up to timeout for activity and handles every ready socket.
// It returns the number of sockets that were ready.
func (s *Server) Step(timeout time.Duration) (int, error) {
	count, err := s.set.ActiveCount(timeout)
	if err != nil || count == 0 {
		return 0, err
	}

	if s.set.Ready(s.listener) {
		if err := s.acceptAll(); err != nil {
			return count, err
		}
	}
	if s.set.Ready(s.udp) {
		if err := s.drainUDP(); err != nil {
			return count, err
		}
	}

	live := s.conns[:0]
	for _, conn := range s.conns {
		if !s.set.Ready(conn) {
			live = append(live, conn)
			continue
		}
		if s.echo(conn) {
			live = append(live, conn)
		}
	}
	s.conns = live
	return count, nil
}

func (s *Server) acceptAll() error {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			return err
		}
		if conn == nil {
			return nil
		}
		if err := s.set.Push(conn); err != nil {
			conn.Close()
			return err
		}
		s.conns = append(s.conns, conn)
		s.stats.Accepted++

		logrus.WithFields(logrus.Fields{
			"component": "Server",
			"function":  "acceptAll",
			"peer":      conn.PeerAddress().String(),
		}).Info("Accepted connection")
	}
}

// echo copies one read back to the peer. It reports whether conn stays open.
func (s *Server) echo(conn *socknet.Conn) bool {
	n, err := conn.Read(s.buf)
	if err == nil {
		if _, err = conn.Write(s.buf[:n]); err == nil {
			s.stats.Echoed += n
			return true
		}
	}

	fields := logrus.Fields{
		"component": "Server",
		"function":  "echo",
		"peer":      conn.PeerAddress().String(),
	}
	if !errors.Is(err, io.EOF) {
		fields["error"] = err.Error()
	}
	logrus.WithFields(fields).Info("Connection closed")

	s.set.Remove(conn)
	conn.Close()
	s.stats.Closed++
	return false
}

func (s *Server) drainUDP() error {
	channel0 := s.udp.Channels()[0]
	for {
		dg, err := s.udp.Recv(s.buf)
		if err != nil {
			return err
		}
		if dg == nil {
			return nil
		}
		s.stats.Datagrams++

		// The first sender claims channel 0.
		if _, bound := channel0.Peer(); !bound {
			if err := channel0.Bind(dg.Addr); err != nil {
				return err
			}
			dg.Channel = 0
		}

		logrus.WithFields(logrus.Fields{
			"component": "Server",
			"function":  "drainUDP",
			"from":      dg.Addr.String(),
			"channel":   dg.Channel,
			"bytes":     len(dg.Data),
		}).Info("Received datagram")
	}
}

// Close closes every connection, the set and both sockets, in that order.
func (s *Server) Close() error {
	var errs []error
	for _, conn := range s.conns {
		s.set.Remove(conn)
		if err := conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.conns = nil

	if err := s.set.Close(); err != nil && !errors.Is(err, socknet.ErrClosed) {
		errs = append(errs, err)
	}
	for _, c := range []io.Closer{s.udp, s.listener} {
		if err := c.Close(); err != nil && !errors.Is(err, socknet.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close server: %w", errors.Join(errs...))
	}
	return nil
}
