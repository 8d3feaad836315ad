package socknet

import (
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/socknet/internal/handle"
	"github.com/opd-ai/socknet/limits"
)

// NoChannel tags datagrams whose sender is not bound to any channel.
const NoChannel = -1

// Datagram is one received UDP datagram.
type Datagram struct {
	// Channel is the lowest channel bound to Addr, or NoChannel.
	Channel int
	// Addr is the sender.
	Addr Address
	// Data aliases the buffer passed to Recv.
	Data []byte
	// Truncated is set when the datagram did not fit the buffer and Data
	// holds only its first len(buf) bytes.
	Truncated bool
}

// UDPSocket is a bound UDP endpoint with a fixed table of address-filter
// channels. Channel values returned by Channels are views into that table.
type UDPSocket struct {
	socket
	peers [limits.MaxUDPChannels]Address
}

// OpenUDP binds a UDP socket to 0.0.0.0:port on n. Port 0 picks an ephemeral
// port; LocalAddress reports it. Failures wrap ErrBindFailed.
func OpenUDP(n *Net, port uint16) (*UDPSocket, error) {
	l, err := n.acquire("udp")
	if err != nil {
		return nil, err
	}

	bindAddr, _ := AddressFrom(AnyHost, port)
	fd, err := bindUDP(bindAddr)
	if err != nil {
		l.release()
		logrus.WithFields(logrus.Fields{
			"component": "UDPSocket",
			"function":  "OpenUDP",
			"address":   bindAddr.String(),
			"error":     err.Error(),
		}).Error("Failed to open UDP socket")
		return nil, err
	}

	u := &UDPSocket{socket: socket{fd: handle.New(fd, "udp"), lease: l}}

	logrus.WithFields(logrus.Fields{
		"component": "UDPSocket",
		"function":  "OpenUDP",
		"address":   bindAddr.String(),
		"socket":    u.fd.String(),
	}).Debug("Opened UDP socket")

	return u, nil
}

func bindUDP(addr Address) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_UDP)
	if err != nil {
		return -1, newSocketError("socket", addr.String(), ErrBindFailed, err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_BROADCAST, 1); err != nil {
		unix.Close(fd)
		return -1, newSocketError("setsockopt", addr.String(), ErrBindFailed, err)
	}
	if err := unix.Bind(fd, addr.sockaddr()); err != nil {
		unix.Close(fd)
		return -1, newSocketError("bind", addr.String(), ErrBindFailed, err)
	}
	return fd, nil
}

func (u *UDPSocket) base() *socket {
	if u == nil {
		return nil
	}
	return &u.socket
}

// LocalAddress returns the bound address.
func (u *UDPSocket) LocalAddress() (Address, error) {
	return u.localAddress()
}

// Channels returns views of all channel slots, indexed by channel id.
func (u *UDPSocket) Channels() [limits.MaxUDPChannels]Channel {
	var chans [limits.MaxUDPChannels]Channel
	for id := range chans {
		chans[id] = Channel{sock: u, id: id}
	}
	return chans
}

// Channel returns the view of one channel slot.
func (u *UDPSocket) Channel(id int) (Channel, error) {
	if err := limits.ValidateChannel(id); err != nil {
		return Channel{}, newSocketError("channel", "", ErrInvalidChannel, err)
	}
	return Channel{sock: u, id: id}, nil
}

// classify returns the lowest channel bound to addr, or NoChannel.
func (u *UDPSocket) classify(addr Address) int {
	for id, peer := range u.peers {
		if peer.IsValid() && peer == addr {
			return id
		}
	}
	return NoChannel
}

// SendTo sends one datagram to addr.
func (u *UDPSocket) SendTo(data []byte, addr Address) error {
	fd, err := u.sysfd()
	if err != nil {
		return err
	}
	if !addr.IsValid() {
		return &SocketError{Op: "sendto", Err: unix.EDESTADDRREQ}
	}
	if err := limits.ValidateDatagram(data); err != nil {
		return &SocketError{Op: "sendto", Addr: addr.String(), Err: err}
	}
	for {
		err = unix.Sendto(fd, data, 0, addr.sockaddr())
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		return &SocketError{Op: "sendto", Addr: addr.String(), Err: err}
	}
	return nil
}

// Recv takes one queued datagram without blocking, returning (nil, nil)
// when none is queued. Datagrams longer than buf are truncated and marked
// Truncated; an empty buf is replaced by one of limits.MaxDatagramSize bytes.
func (u *UDPSocket) Recv(buf []byte) (*Datagram, error) {
	fd, err := u.sysfd()
	if err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		buf = make([]byte, limits.MaxDatagramSize)
	}

	var (
		n  int
		sa unix.Sockaddr
	)
	for {
		n, sa, err = unix.Recvfrom(fd, buf, unix.MSG_TRUNC)
		if err != unix.EINTR {
			break
		}
	}
	switch err {
	case nil:
	case unix.EAGAIN:
		return nil, nil
	default:
		return nil, &SocketError{Op: "recvfrom", Err: err}
	}

	truncated := n > len(buf)
	if truncated {
		logrus.WithFields(logrus.Fields{
			"component": "UDPSocket",
			"function":  "Recv",
			"size":      n,
			"buffer":    len(buf),
		}).Debug("Truncated datagram to buffer size")
		n = len(buf)
	}

	from, _ := addressFromSockaddr(sa)
	return &Datagram{
		Channel:   u.classify(from),
		Addr:      from,
		Data:      buf[:n],
		Truncated: truncated,
	}, nil
}

// Close releases the socket and clears its channel table. It fails with
// ErrRegistered while the socket is in a SocketSet and with ErrClosed when
// called again.
func (u *UDPSocket) Close() error {
	if err := u.close(); err != nil {
		return err
	}
	u.peers = [limits.MaxUDPChannels]Address{}
	return nil
}
