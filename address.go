package socknet

import (
	"encoding/binary"
	"fmt"
	"net"
	"net/netip"

	"golang.org/x/sys/unix"
)

var (
	// AnyHost is the wildcard host used to bind listening sockets.
	AnyHost = netip.IPv4Unspecified()

	// NoneHost is the limited broadcast address. Like AnyHost it selects
	// listening mode when passed to OpenTCP.
	NoneHost = netip.AddrFrom4([4]byte{255, 255, 255, 255})
)

// Address is an immutable IPv4 socket address: a 32-bit host and a 16-bit
// port. The zero value is not a valid address.
type Address struct {
	ap netip.AddrPort
}

// AddressFrom builds an Address from an IPv4 (or IPv4-mapped IPv6) host.
func AddressFrom(ip netip.Addr, port uint16) (Address, error) {
	ip = ip.Unmap()
	if !ip.Is4() {
		return Address{}, fmt.Errorf("address %s is not IPv4", ip)
	}
	return Address{ap: netip.AddrPortFrom(ip, port)}, nil
}

// AddressFromHost builds an Address from a host in network byte order
// interpreted as a big-endian integer, e.g. 0x7f000001 for 127.0.0.1.
func AddressFromHost(host uint32, port uint16) Address {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], host)
	return Address{ap: netip.AddrPortFrom(netip.AddrFrom4(b), port)}
}

// ParseAddress parses "a.b.c.d:port".
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, err
	}
	return AddressFrom(ap.Addr(), ap.Port())
}

// IP returns the host part.
func (a Address) IP() netip.Addr {
	return a.ap.Addr()
}

// Host returns the host as a big-endian 32-bit integer.
func (a Address) Host() uint32 {
	if !a.IsValid() {
		return 0
	}
	b := a.ap.Addr().As4()
	return binary.BigEndian.Uint32(b[:])
}

// Port returns the port.
func (a Address) Port() uint16 {
	return a.ap.Port()
}

// AddrPort returns the address as a netip.AddrPort.
func (a Address) AddrPort() netip.AddrPort {
	return a.ap
}

// IsValid reports whether the address was constructed rather than zero.
func (a Address) IsValid() bool {
	return a.ap.IsValid()
}

// IsWildcard reports whether the host selects listening mode in OpenTCP.
func (a Address) IsWildcard() bool {
	ip := a.ap.Addr()
	return ip == AnyHost || ip == NoneHost
}

// WithPort returns a copy of a with the port replaced.
func (a Address) WithPort(port uint16) Address {
	return Address{ap: netip.AddrPortFrom(a.ap.Addr(), port)}
}

// String implements fmt.Stringer.
func (a Address) String() string {
	if !a.IsValid() {
		return "<none>"
	}
	return a.ap.String()
}

// TCPAddr converts a to a *net.TCPAddr for interoperating with the net package.
func (a Address) TCPAddr() *net.TCPAddr {
	return net.TCPAddrFromAddrPort(a.ap)
}

// UDPAddr converts a to a *net.UDPAddr for interoperating with the net package.
func (a Address) UDPAddr() *net.UDPAddr {
	return net.UDPAddrFromAddrPort(a.ap)
}

func (a Address) sockaddr() *unix.SockaddrInet4 {
	return &unix.SockaddrInet4{Addr: a.ap.Addr().As4(), Port: int(a.ap.Port())}
}

// addressFromSockaddr converts a kernel socket address. IPv4-mapped IPv6
// addresses are unmapped; anything else yields ok == false.
func addressFromSockaddr(sa unix.Sockaddr) (Address, bool) {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return Address{ap: netip.AddrPortFrom(netip.AddrFrom4(sa.Addr), uint16(sa.Port))}, true
	case *unix.SockaddrInet6:
		ip := netip.AddrFrom16(sa.Addr).Unmap()
		if ip.Is4() {
			return Address{ap: netip.AddrPortFrom(ip, uint16(sa.Port))}, true
		}
	}
	return Address{}, false
}
