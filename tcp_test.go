package socknet

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

// openTestListener opens a listener on an ephemeral port and returns it with
// the loopback address clients should dial.
func openTestListener(t *testing.T, n *Net) (*TCPSocket, Address) {
	t.Helper()
	bind, err := n.Resolve("", 0)
	require.NoError(t, err)

	listener, err := OpenTCP(n, bind)
	require.NoError(t, err)
	closeLater(t, listener)

	local, err := listener.LocalAddress()
	require.NoError(t, err)
	require.NotZero(t, local.Port())

	dial, err := ParseAddress("127.0.0.1:0")
	require.NoError(t, err)
	return listener, dial.WithPort(local.Port())
}

// acceptWithin polls Accept until a connection arrives.
func acceptWithin(t *testing.T, listener *TCPSocket, timeout time.Duration) *Conn {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := listener.Accept()
		require.NoError(t, err)
		if conn != nil {
			closeLater(t, conn)
			return conn
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("no connection accepted within %v", timeout)
	return nil
}

func TestOpenTCP_Listener(t *testing.T) {
	n := newTestNet(t)
	listener, _ := openTestListener(t, n)

	assert.True(t, listener.Listening())
	local, err := listener.LocalAddress()
	require.NoError(t, err)
	assert.Equal(t, AnyHost, local.IP())

	_, err = listener.RemoteAddress()
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = listener.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrNotConnected)
	_, err = listener.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestOpenTCP_NoneHostListens(t *testing.T) {
	n := newTestNet(t)
	addr, err := AddressFrom(NoneHost, 0)
	require.NoError(t, err)

	listener, err := OpenTCP(n, addr)
	require.NoError(t, err)
	closeLater(t, listener)

	assert.True(t, listener.Listening())
	local, err := listener.LocalAddress()
	require.NoError(t, err)
	assert.Equal(t, AnyHost, local.IP())
}

func TestOpenTCP_BindFailed(t *testing.T) {
	n := newTestNet(t)
	_, dial := openTestListener(t, n)

	taken, err := AddressFrom(AnyHost, dial.Port())
	require.NoError(t, err)

	// A second listener on the same port fails even with SO_REUSEADDR,
	// because the first one is still listening.
	_, err = OpenTCP(n, taken)
	assert.ErrorIs(t, err, ErrBindFailed)
	assert.ErrorIs(t, err, unix.EADDRINUSE)

	_, err = OpenTCP(n, Address{})
	assert.ErrorIs(t, err, ErrBindFailed)

	assert.Equal(t, 1, n.OpenResources(), "failed opens must not hold a lease")
}

func TestOpenTCP_ConnectRefused(t *testing.T) {
	n := newTestNet(t)
	_, dial := openTestListener(t, n)

	// Find a port nobody listens on by closing a fresh listener.
	probe, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := probe.Addr().(*net.TCPAddr).Port
	require.NoError(t, probe.Close())

	_, err = OpenTCP(n, dial.WithPort(uint16(port)))
	assert.ErrorIs(t, err, ErrBindFailed)
	assert.ErrorIs(t, err, unix.ECONNREFUSED)
}

func TestAccept_NothingPending(t *testing.T) {
	n := newTestNet(t)
	listener, _ := openTestListener(t, n)

	conn, err := listener.Accept()
	assert.NoError(t, err)
	assert.Nil(t, conn)
}

func TestAccept_OneConnPerAttempt(t *testing.T) {
	n := newTestNet(t)
	listener, dial := openTestListener(t, n)

	clients := make([]net.Conn, 3)
	for i := range clients {
		c, err := net.Dial("tcp", dial.String())
		require.NoError(t, err)
		defer c.Close()
		clients[i] = c
	}

	peers := make(map[string]bool)
	for range clients {
		conn := acceptWithin(t, listener, 2*time.Second)
		peers[conn.PeerAddress().String()] = true
	}
	for _, c := range clients {
		assert.True(t, peers[c.LocalAddr().String()], "missing peer %s", c.LocalAddr())
	}

	conn, err := listener.Accept()
	assert.NoError(t, err)
	assert.Nil(t, conn, "no further connection is pending")
}

func TestAccept_OnInitiator(t *testing.T) {
	n := newTestNet(t)
	listener, dial := openTestListener(t, n)

	client, err := OpenTCP(n, dial)
	require.NoError(t, err)
	closeLater(t, client)
	acceptWithin(t, listener, 2*time.Second)

	assert.False(t, client.Listening())
	_, err = client.Accept()
	assert.ErrorIs(t, err, ErrNotListening)
}

// A listener on an ephemeral port accepts a connection from an initiating
// socket; the accepted connection reports the initiator's address and
// survives the listener being closed.
func TestTCP_EndToEnd(t *testing.T) {
	n := newTestNet(t)
	listener, dial := openTestListener(t, n)

	client, err := OpenTCP(n, dial)
	require.NoError(t, err)
	closeLater(t, client)

	conn := acceptWithin(t, listener, 2*time.Second)

	clientLocal, err := client.LocalAddress()
	require.NoError(t, err)
	assert.Equal(t, clientLocal, conn.PeerAddress())

	clientRemote, err := client.RemoteAddress()
	require.NoError(t, err)
	assert.Equal(t, dial, clientRemote)

	connLocal, err := conn.LocalAddress()
	require.NoError(t, err)
	assert.Equal(t, dial, connLocal)

	require.NoError(t, listener.Close())

	_, err = client.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))

	_, err = conn.Write([]byte("pong"))
	require.NoError(t, err)
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(buf))

	require.NoError(t, client.Close())
	_, err = conn.Read(buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestTCP_UseAfterClose(t *testing.T) {
	n := newTestNet(t)
	listener, dial := openTestListener(t, n)

	client, err := OpenTCP(n, dial)
	require.NoError(t, err)
	conn := acceptWithin(t, listener, 2*time.Second)

	require.NoError(t, conn.Close())
	assert.ErrorIs(t, conn.Close(), ErrClosed)
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = conn.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrClosed)
	_, err = conn.LocalAddress()
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, client.Close())
	assert.ErrorIs(t, client.Close(), ErrClosed)
	_, err = client.RemoteAddress()
	assert.ErrorIs(t, err, ErrClosed)

	require.NoError(t, listener.Close())
	assert.ErrorIs(t, listener.Close(), ErrClosed)
	_, err = listener.Accept()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = listener.LocalAddress()
	assert.ErrorIs(t, err, ErrClosed)
	_, err = listener.Read(make([]byte, 1))
	assert.ErrorIs(t, err, ErrClosed)
}
