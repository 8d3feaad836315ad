package socknet

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Channel is a view of one slot in a UDPSocket's channel table. It owns
// nothing: binding through one Channel value is visible through every other
// Channel value for the same slot.
type Channel struct {
	sock *UDPSocket
	id   int
}

// ID returns the channel id.
func (c Channel) ID() int {
	return c.id
}

// Bind associates the channel with peer, replacing any previous binding.
// Datagrams from peer are tagged with this channel unless a lower channel is
// bound to the same peer.
func (c Channel) Bind(peer Address) error {
	if c.sock == nil || c.sock.fd.Closed() {
		return ErrClosed
	}
	if !peer.IsValid() {
		return newSocketError("bind_channel", "", ErrBindFailed, unix.EINVAL)
	}

	previous := c.sock.peers[c.id]
	c.sock.peers[c.id] = peer

	logrus.WithFields(logrus.Fields{
		"component": "Channel",
		"function":  "Bind",
		"channel":   c.id,
		"peer":      peer.String(),
		"previous":  previous.String(),
	}).Debug("Bound UDP channel")
	return nil
}

// Unbind clears the channel's binding.
func (c Channel) Unbind() error {
	if c.sock == nil || c.sock.fd.Closed() {
		return ErrClosed
	}
	c.sock.peers[c.id] = Address{}

	logrus.WithFields(logrus.Fields{
		"component": "Channel",
		"function":  "Unbind",
		"channel":   c.id,
	}).Debug("Unbound UDP channel")
	return nil
}

// Peer returns the bound peer, if any.
func (c Channel) Peer() (Address, bool) {
	if c.sock == nil {
		return Address{}, false
	}
	peer := c.sock.peers[c.id]
	return peer, peer.IsValid()
}

// Send sends data to the bound peer.
func (c Channel) Send(data []byte) error {
	if c.sock == nil || c.sock.fd.Closed() {
		return ErrClosed
	}
	peer, ok := c.Peer()
	if !ok {
		return &SocketError{Op: "send", Err: ErrChannelUnbound}
	}
	return c.sock.SendTo(data, peer)
}
