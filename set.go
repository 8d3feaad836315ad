package socknet

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/opd-ai/socknet/internal/handle"
	"github.com/opd-ai/socknet/limits"
)

// SocketSet waits for readability on many sockets at once.
//
// Registration is a borrow: the caller keeps ownership of each socket, but a
// registered socket refuses Close with ErrRegistered until it is removed
// from the set or the set is closed. A socket can be in at most one set.
type SocketSet struct {
	lease    *lease
	epfd     *handle.FD
	capacity int
	members  []*socket
	byFD     map[int32]*socket
	events   []unix.EpollEvent
}

// NewSocketSet allocates a set with Options.DefaultSetCapacity.
func NewSocketSet(n *Net) (*SocketSet, error) {
	capacity := 1
	if n != nil && n.opts != nil {
		capacity = n.opts.DefaultSetCapacity
	}
	return NewSocketSetWithCapacity(n, capacity)
}

// NewSocketSetWithCapacity allocates a set for capacity sockets. A capacity
// below 1 is treated as 1. The set grows on demand; see Push.
func NewSocketSetWithCapacity(n *Net, capacity int) (*SocketSet, error) {
	if capacity < 1 {
		capacity = 1
	}
	if err := limits.ValidateSetCapacity(capacity); err != nil {
		return nil, newSocketError("alloc_set", "", ErrAllocFailed, err)
	}

	l, err := n.acquire("socket-set")
	if err != nil {
		return nil, err
	}

	epfd, err := allocEpoll()
	if err != nil {
		l.release()
		return nil, err
	}

	set := &SocketSet{
		lease:    l,
		epfd:     epfd,
		capacity: capacity,
		members:  make([]*socket, 0, capacity),
		byFD:     make(map[int32]*socket, capacity),
		events:   make([]unix.EpollEvent, capacity),
	}

	logrus.WithFields(logrus.Fields{
		"component": "SocketSet",
		"function":  "NewSocketSetWithCapacity",
		"capacity":  capacity,
		"handle":    epfd.String(),
	}).Debug("Allocated socket set")

	return set, nil
}

func allocEpoll() (*handle.FD, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, newSocketError("epoll_create", "", ErrAllocFailed, err)
	}
	return handle.New(fd, "epoll"), nil
}

func epollAdd(epfd *handle.FD, s *socket) error {
	efd, err := epfd.Sysfd()
	if err != nil {
		return err
	}
	fd, err := s.sysfd()
	if err != nil {
		return err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(fd)}
	if err := unix.EpollCtl(efd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return &SocketError{Op: "epoll_ctl", Err: err}
	}
	return nil
}

// Len returns the number of registered sockets.
func (set *SocketSet) Len() int {
	return len(set.members)
}

// Cap returns the number of sockets the set holds before it must grow.
func (set *SocketSet) Cap() int {
	return set.capacity
}

// Reserve makes room for at least additional more sockets. Growth doubles
// the capacity until it fits, allocates a new multiplexing handle,
// re-registers every socket and releases the old handle. On failure the set
// is unchanged and the error wraps ErrAllocFailed.
func (set *SocketSet) Reserve(additional int) error {
	if set.epfd.Closed() {
		return ErrClosed
	}
	if additional > limits.MaxSetCapacity-len(set.members) {
		return newSocketError("grow_set", "", ErrAllocFailed,
			fmt.Errorf("%w: %d more than %d registered exceeds %d",
				limits.ErrCapacityOutOfRange, additional, len(set.members), limits.MaxSetCapacity))
	}
	need := len(set.members) + additional
	if need <= set.capacity {
		return nil
	}

	newCap := set.capacity
	for newCap < need && newCap < limits.MaxSetCapacity {
		newCap *= 2
	}
	if newCap > limits.MaxSetCapacity {
		newCap = limits.MaxSetCapacity
	}
	if err := limits.ValidateSetCapacity(newCap); err != nil {
		return newSocketError("grow_set", "", ErrAllocFailed, err)
	}

	epfd, err := allocEpoll()
	if err != nil {
		return err
	}
	for _, s := range set.members {
		if err := epollAdd(epfd, s); err != nil {
			epfd.Close()
			return newSocketError("grow_set", "", ErrAllocFailed, err)
		}
	}

	old := set.epfd
	set.epfd = epfd
	set.capacity = newCap
	set.events = make([]unix.EpollEvent, newCap)
	if err := old.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"component": "SocketSet",
			"function":  "Reserve",
			"error":     err.Error(),
		}).Warn("Failed to release previous multiplexing handle")
	}

	logrus.WithFields(logrus.Fields{
		"component":    "SocketSet",
		"function":     "Reserve",
		"capacity":     newCap,
		"reregistered": len(set.members),
	}).Debug("Grew socket set")

	return nil
}

// Push registers s. A full set grows first (see Reserve). Pushing a closed
// socket fails with ErrClosed, and a socket already in a set with
// ErrRegistered.
func (set *SocketSet) Push(s Socket) error {
	if set.epfd.Closed() {
		return ErrClosed
	}
	b := baseOf(s)
	if b == nil || b.fd.Closed() {
		return ErrClosed
	}
	if b.set != nil {
		return ErrRegistered
	}

	if len(set.members) == set.capacity {
		if err := set.Reserve(1); err != nil {
			return err
		}
	}
	if err := epollAdd(set.epfd, b); err != nil {
		return err
	}

	fd, _ := b.sysfd()
	set.members = append(set.members, b)
	set.byFD[int32(fd)] = b
	b.set = set
	b.ready = false

	logrus.WithFields(logrus.Fields{
		"component": "SocketSet",
		"function":  "Push",
		"socket":    b.fd.String(),
		"len":       len(set.members),
		"capacity":  set.capacity,
	}).Debug("Registered socket")

	return nil
}

// Remove deregisters s, identified by handle identity. It reports whether s
// was registered; removing an absent socket does nothing.
func (set *SocketSet) Remove(s Socket) bool {
	b := baseOf(s)
	if b == nil || b.set != set {
		return false
	}

	idx := -1
	for i, m := range set.members {
		if m == b {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}

	set.release(b)
	set.members = append(set.members[:idx], set.members[idx+1:]...)

	logrus.WithFields(logrus.Fields{
		"component": "SocketSet",
		"function":  "Remove",
		"socket":    b.fd.String(),
		"len":       len(set.members),
	}).Debug("Deregistered socket")

	return true
}

// release drops the kernel registration and the borrow of b.
func (set *SocketSet) release(b *socket) {
	fd, err := b.sysfd()
	if err == nil {
		delete(set.byFD, int32(fd))
		if efd, err := set.epfd.Sysfd(); err == nil {
			if err := unix.EpollCtl(efd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
				logrus.WithFields(logrus.Fields{
					"component": "SocketSet",
					"function":  "release",
					"socket":    b.fd.String(),
					"error":     err.Error(),
				}).Warn("Failed to deregister socket from multiplexing handle")
			}
		}
	}
	b.set = nil
	b.ready = false
}

// ActiveCount waits for registered sockets to become readable and returns
// how many are. A zero timeout polls without waiting, a negative timeout
// waits indefinitely, and otherwise the call returns 0 once timeout expires
// with nothing ready. Sub-millisecond positive timeouts round up to 1ms.
//
// Readiness of individual sockets is reported by Ready until the next call.
func (set *SocketSet) ActiveCount(timeout time.Duration) (int, error) {
	efd, err := set.epfd.Sysfd()
	if err != nil {
		return 0, err
	}
	for _, m := range set.members {
		m.ready = false
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		n, err := unix.EpollWait(efd, set.events, waitMillis(timeout))
		if err == unix.EINTR {
			if timeout > 0 {
				timeout = time.Until(deadline)
				if timeout <= 0 {
					return 0, nil
				}
			}
			continue
		}
		if err != nil {
			return 0, &SocketError{Op: "epoll_wait", Err: err}
		}

		count := 0
		for _, ev := range set.events[:n] {
			if m, ok := set.byFD[ev.Fd]; ok && !m.ready {
				m.ready = true
				count++
			}
		}
		return count, nil
	}
}

func waitMillis(timeout time.Duration) int {
	switch {
	case timeout < 0:
		return -1
	case timeout == 0:
		return 0
	}
	ms := (timeout + time.Millisecond - 1) / time.Millisecond
	if ms > 1<<31-1 {
		return -1
	}
	return int(ms)
}

// Ready reports whether s was readable at the last ActiveCount.
func (set *SocketSet) Ready(s Socket) bool {
	b := baseOf(s)
	return b != nil && b.set == set && b.ready
}

// Close deregisters every socket, which makes them closable again, and
// releases the multiplexing handle. The sockets themselves stay open.
func (set *SocketSet) Close() error {
	if set.epfd.Closed() {
		return ErrClosed
	}
	for _, m := range set.members {
		set.release(m)
	}
	set.members = nil

	err := set.epfd.Close()
	set.lease.release()

	logrus.WithFields(logrus.Fields{
		"component": "SocketSet",
		"function":  "Close",
	}).Debug("Released socket set")

	if err != nil {
		return fmt.Errorf("release socket set: %w", err)
	}
	return nil
}
