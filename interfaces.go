package socknet

import (
	"net/netip"

	"github.com/sirupsen/logrus"
	"github.com/vishvananda/netlink"
)

// LocalAddresses returns the IPv4 addresses assigned to the host's network
// interfaces, loopback included, with port 0.
func (n *Net) LocalAddresses() ([]Address, error) {
	if err := n.check(); err != nil {
		return nil, err
	}

	addrs, err := netlink.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		return nil, &SocketError{Op: "local_addresses", Err: err}
	}

	result := make([]Address, 0, len(addrs))
	for _, a := range addrs {
		ip, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		addr, err := AddressFrom(ip, 0)
		if err != nil {
			continue
		}
		result = append(result, addr)
	}

	logrus.WithFields(logrus.Fields{
		"component": "Net",
		"function":  "LocalAddresses",
		"count":     len(result),
	}).Debug("Enumerated local addresses")

	return result, nil
}
