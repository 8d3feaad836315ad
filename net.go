package socknet

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// active holds the single live Net of the process.
var active atomic.Pointer[Net]

// Net is the capability token proving the network subsystem is initialized.
// Every socket and socket set holds a lease on the Net that created it, and
// Quit refuses to tear the Net down while any lease is outstanding.
type Net struct {
	opts     *Options
	resolver Resolver

	mu     sync.Mutex
	closed bool
	nextID uint64
	leases map[uint64]string
}

// Init initializes the network subsystem. Only one Net may be live at a
// time; a second Init before Quit fails with ErrInitFailed. A nil opts uses
// NewOptions.
func Init(opts *Options) (*Net, error) {
	if opts == nil {
		opts = NewOptions()
	}
	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
	}

	resolver := Resolver(SystemResolver{})
	if opts.Nameserver != "" {
		dnsResolver, err := NewDNSResolver(opts.Nameserver)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
		resolver = dnsResolver
	}

	n := &Net{
		opts:     opts,
		resolver: resolver,
		leases:   make(map[uint64]string),
	}
	if !active.CompareAndSwap(nil, n) {
		return nil, fmt.Errorf("%w: network subsystem already initialized", ErrInitFailed)
	}

	logrus.WithFields(logrus.Fields{
		"component":  "Net",
		"function":   "Init",
		"backlog":    opts.ListenBacklog,
		"nameserver": opts.Nameserver,
	}).Debug("Network subsystem initialized")

	return n, nil
}

// Options returns the options the Net was initialized with.
func (n *Net) Options() *Options {
	return n.opts
}

// Resolver returns the resolver used by Resolve and ResolveIP.
func (n *Net) Resolver() Resolver {
	return n.resolver
}

// Quit tears the subsystem down. It fails with ErrResourcesOpen while any
// socket or socket set derived from n is still open, and with ErrNetClosed
// when called twice.
func (n *Net) Quit() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return ErrNetClosed
	}
	if len(n.leases) > 0 {
		open := n.openKindsLocked()
		logrus.WithFields(logrus.Fields{
			"component": "Net",
			"function":  "Quit",
			"open":      open,
		}).Warn("Refusing to tear down network subsystem with open resources")
		return fmt.Errorf("%w: %d outstanding (%v)", ErrResourcesOpen, len(n.leases), open)
	}

	n.closed = true
	active.CompareAndSwap(n, nil)

	logrus.WithFields(logrus.Fields{
		"component": "Net",
		"function":  "Quit",
	}).Debug("Network subsystem torn down")
	return nil
}

// OpenResources returns the number of sockets and sets still holding a lease.
func (n *Net) OpenResources() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.leases)
}

// Resolve resolves host and port with the configured resolver, bounded by
// Options.ResolveTimeout. An empty host yields the wildcard bind address.
func (n *Net) Resolve(host string, port uint16) (Address, error) {
	if err := n.check(); err != nil {
		return Address{}, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n.opts.ResolveTimeout))
	defer cancel()
	return n.resolver.Resolve(ctx, host, port)
}

// ResolveIP performs a reverse lookup of addr's host.
func (n *Net) ResolveIP(addr Address) (string, error) {
	if err := n.check(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(n.opts.ResolveTimeout))
	defer cancel()
	return n.resolver.ResolveIP(ctx, addr)
}

func (n *Net) check() error {
	if n == nil {
		return ErrNetClosed
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return ErrNetClosed
	}
	return nil
}

func (n *Net) openKindsLocked() []string {
	kinds := make([]string, 0, len(n.leases))
	for _, kind := range n.leases {
		kinds = append(kinds, kind)
	}
	sort.Strings(kinds)
	return kinds
}

// lease ties a socket or set to the Net that created it.
type lease struct {
	net  *Net
	id   uint64
	once sync.Once
}

func (n *Net) acquire(kind string) (*lease, error) {
	if n == nil {
		return nil, ErrNetClosed
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil, ErrNetClosed
	}
	n.nextID++
	n.leases[n.nextID] = kind
	return &lease{net: n, id: n.nextID}, nil
}

func (l *lease) release() {
	if l == nil {
		return
	}
	l.once.Do(func() {
		l.net.mu.Lock()
		delete(l.net.leases, l.id)
		l.net.mu.Unlock()
	})
}
