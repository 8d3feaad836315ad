// Package socknet manages the lifetime of raw TCP and UDP sockets and
// multiplexes readiness across many of them.
//
// Every resource is opened from a Net, the capability token proving the
// subsystem is initialized:
//
//	n, err := socknet.Init(socknet.NewOptions())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer n.Quit()
//
//	addr, err := n.Resolve("", 7000) // wildcard: listen
//	listener, err := socknet.OpenTCP(n, addr)
//	defer listener.Close()
//
//	set, err := socknet.NewSocketSetWithCapacity(n, 8)
//	defer set.Close()
//	set.Push(listener)
//
//	if count, _ := set.ActiveCount(time.Second); count > 0 && set.Ready(listener) {
//	    conn, err := listener.Accept()
//	    ...
//	}
//
// # Ownership
//
// Each TCPSocket, Conn, UDPSocket and SocketSet owns exactly one descriptor
// and releases it exactly once. Close is not idempotent: a second Close, or
// any operation after Close, returns ErrClosed and never touches the old
// descriptor number.
//
// Net.Quit fails with ErrResourcesOpen while anything opened from the Net is
// still open, so resources are torn down strictly before their Net.
//
// A socket pushed into a SocketSet is borrowed by the set. Its owner keeps
// the value and may use it for I/O, but Close returns ErrRegistered until the
// socket is removed with SocketSet.Remove or the set is closed.
//
// # Polling
//
// TCPSocket.Accept and UDPSocket.Recv never block; they return nil when
// nothing is pending. SocketSet.ActiveCount is the only call that waits, for
// at most its timeout. Conn and initiating TCPSocket reads block until data
// arrives.
//
// # UDP channels
//
// Each UDPSocket has limits.MaxUDPChannels channels. Binding a channel to a
// peer tags that peer's datagrams with the channel id on receipt; the lowest
// matching id wins.
//
// # Concurrency
//
// Sockets and sets are meant to be driven from one goroutine. Callers that
// share them across goroutines must serialize every call themselves. Only the
// Net's bookkeeping is internally synchronized.
//
// # Platform
//
// The package uses epoll and netlink and therefore builds on Linux only.
package socknet
