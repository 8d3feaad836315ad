package socknet

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Resolver turns host names into socket addresses and back.
type Resolver interface {
	// Resolve maps host and port to an IPv4 Address. An empty host yields
	// the wildcard address 0.0.0.0:port used to bind listeners.
	Resolve(ctx context.Context, host string, port uint16) (Address, error)

	// ResolveIP maps addr's host back to a name.
	ResolveIP(ctx context.Context, addr Address) (string, error)
}

// resolveLiteral handles the cases every resolver shares: the wildcard and
// literal IPv4 hosts. ok is false when a lookup is required.
func resolveLiteral(host string, port uint16) (Address, bool, error) {
	if host == "" {
		addr, err := AddressFrom(AnyHost, port)
		return addr, true, err
	}
	ip, err := netip.ParseAddr(host)
	if err != nil {
		return Address{}, false, nil
	}
	addr, err := AddressFrom(ip, port)
	if err != nil {
		return Address{}, true, newSocketError("resolve", host, ErrResolveFailed, err)
	}
	return addr, true, nil
}

// SystemResolver resolves through the operating system (hosts file, NSS and
// the configured nameservers) via net.DefaultResolver.
type SystemResolver struct{}

// Resolve implements Resolver.
func (SystemResolver) Resolve(ctx context.Context, host string, port uint16) (Address, error) {
	if addr, ok, err := resolveLiteral(host, port); ok {
		return addr, err
	}

	ips, err := net.DefaultResolver.LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return Address{}, newSocketError("resolve", host, ErrResolveFailed, err)
	}
	for _, ip := range ips {
		if addr, err := AddressFrom(ip, port); err == nil {
			return addr, nil
		}
	}
	return Address{}, newSocketError("resolve", host, ErrResolveFailed, errors.New("no IPv4 address"))
}

// ResolveIP implements Resolver.
func (SystemResolver) ResolveIP(ctx context.Context, addr Address) (string, error) {
	if !addr.IsValid() {
		return "", newSocketError("resolve_ip", "", ErrResolveFailed, errors.New("invalid address"))
	}
	names, err := net.DefaultResolver.LookupAddr(ctx, addr.IP().String())
	if err != nil {
		return "", newSocketError("resolve_ip", addr.IP().String(), ErrResolveFailed, err)
	}
	if len(names) == 0 {
		return "", newSocketError("resolve_ip", addr.IP().String(), ErrResolveFailed, errors.New("no names"))
	}
	return strings.TrimSuffix(names[0], "."), nil
}

const (
	defaultDNSPort = "53"

	// Shorter than typical caller deadlines so the context wins races.
	dnsClientTimeout = 3 * time.Second
)

// DNSResolver queries one nameserver directly with A and PTR requests,
// bypassing the system resolver configuration.
type DNSResolver struct {
	server string
	client *dns.Client
}

// NewDNSResolver creates a resolver for server, given as "host" or
// "host:port" (port 53 when omitted).
func NewDNSResolver(server string) (*DNSResolver, error) {
	address := server
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, defaultDNSPort)
	}
	if _, _, err := net.SplitHostPort(address); err != nil {
		return nil, fmt.Errorf("invalid nameserver address %q: %w", server, err)
	}

	return &DNSResolver{
		server: address,
		client: &dns.Client{
			Net:     "udp",
			Timeout: dnsClientTimeout,
		},
	}, nil
}

// Server returns the nameserver address in host:port form.
func (r *DNSResolver) Server() string {
	return r.server
}

// Resolve implements Resolver.
func (r *DNSResolver) Resolve(ctx context.Context, host string, port uint16) (Address, error) {
	if addr, ok, err := resolveLiteral(host, port); ok {
		return addr, err
	}

	resp, err := r.exchange(ctx, dns.Fqdn(host), dns.TypeA)
	if err != nil {
		return Address{}, newSocketError("resolve", host, ErrResolveFailed, err)
	}
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			ip, ok := netip.AddrFromSlice(a.A)
			if !ok {
				continue
			}
			if addr, err := AddressFrom(ip, port); err == nil {
				return addr, nil
			}
		}
	}
	return Address{}, newSocketError("resolve", host, ErrResolveFailed, errors.New("no A record"))
}

// ResolveIP implements Resolver.
func (r *DNSResolver) ResolveIP(ctx context.Context, addr Address) (string, error) {
	if !addr.IsValid() {
		return "", newSocketError("resolve_ip", "", ErrResolveFailed, errors.New("invalid address"))
	}
	name, err := dns.ReverseAddr(addr.IP().String())
	if err != nil {
		return "", newSocketError("resolve_ip", addr.IP().String(), ErrResolveFailed, err)
	}

	resp, err := r.exchange(ctx, name, dns.TypePTR)
	if err != nil {
		return "", newSocketError("resolve_ip", addr.IP().String(), ErrResolveFailed, err)
	}
	for _, rr := range resp.Answer {
		if ptr, ok := rr.(*dns.PTR); ok {
			return strings.TrimSuffix(ptr.Ptr, "."), nil
		}
	}
	return "", newSocketError("resolve_ip", addr.IP().String(), ErrResolveFailed, errors.New("no PTR record"))
}

func (r *DNSResolver) exchange(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	req := new(dns.Msg)
	req.SetQuestion(name, qtype)
	req.RecursionDesired = true

	resp, _, err := r.client.ExchangeContext(ctx, req, r.server)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "DNSResolver",
			"function":  "exchange",
			"server":    r.server,
			"query":     fmt.Sprintf("%s %s", name, dns.TypeToString[qtype]),
			"error":     err.Error(),
		}).Debug("Nameserver query failed")
		return nil, err
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, fmt.Errorf("nameserver answered %s", dns.RcodeToString[resp.Rcode])
	}
	return resp, nil
}
