package socknet

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNameserver serves a fixed zone on a random loopback UDP port:
// host.test. A 10.9.8.7 and the matching PTR record.
func startTestNameserver(t *testing.T) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)

	mux := dns.NewServeMux()
	mux.HandleFunc("host.test.", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		if req.Question[0].Qtype == dns.TypeA {
			rr, _ := dns.NewRR("host.test. 60 IN A 10.9.8.7")
			resp.Answer = append(resp.Answer, rr)
		}
		_ = w.WriteMsg(resp)
	})
	mux.HandleFunc("7.8.9.10.in-addr.arpa.", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		rr, _ := dns.NewRR("7.8.9.10.in-addr.arpa. 60 IN PTR host.test.")
		resp.Answer = append(resp.Answer, rr)
		_ = w.WriteMsg(resp)
	})
	mux.HandleFunc(".", func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetRcode(req, dns.RcodeNameError)
		_ = w.WriteMsg(resp)
	})

	started := make(chan struct{})
	server := &dns.Server{PacketConn: pc, Handler: mux, NotifyStartedFunc: func() { close(started) }}
	go func() { _ = server.ActivateAndServe() }()
	t.Cleanup(func() { _ = server.Shutdown() })

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("nameserver did not start")
	}
	return pc.LocalAddr().String()
}

func TestResolveLiteral(t *testing.T) {
	resolvers := map[string]Resolver{
		"system": SystemResolver{},
		"dns":    &DNSResolver{server: "127.0.0.1:1", client: &dns.Client{Timeout: time.Millisecond}},
	}

	for name, r := range resolvers {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			addr, err := r.Resolve(ctx, "", 7000)
			require.NoError(t, err)
			assert.Equal(t, "0.0.0.0:7000", addr.String())
			assert.True(t, addr.IsWildcard())

			addr, err = r.Resolve(ctx, "127.0.0.1", 80)
			require.NoError(t, err)
			assert.Equal(t, "127.0.0.1:80", addr.String())

			_, err = r.Resolve(ctx, "::1", 80)
			assert.ErrorIs(t, err, ErrResolveFailed)
		})
	}
}

func TestSystemResolver_Localhost(t *testing.T) {
	addr, err := SystemResolver{}.Resolve(context.Background(), "localhost", 22)
	require.NoError(t, err)
	assert.True(t, addr.IP().IsLoopback())
	assert.Equal(t, uint16(22), addr.Port())
}

func TestSystemResolver_Failure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := SystemResolver{}.Resolve(ctx, "no-such-host.invalid", 1)
	assert.ErrorIs(t, err, ErrResolveFailed)

	_, err = SystemResolver{}.ResolveIP(ctx, Address{})
	assert.ErrorIs(t, err, ErrResolveFailed)
}

func TestNewDNSResolver(t *testing.T) {
	r, err := NewDNSResolver("192.0.2.1")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1:53", r.Server())

	r, err = NewDNSResolver("192.0.2.1:5353")
	require.NoError(t, err)
	assert.Equal(t, "192.0.2.1:5353", r.Server())
}

func TestDNSResolver_Queries(t *testing.T) {
	server := startTestNameserver(t)
	r, err := NewDNSResolver(server)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("A record", func(t *testing.T) {
		addr, err := r.Resolve(ctx, "host.test", 443)
		require.NoError(t, err)
		assert.Equal(t, "10.9.8.7:443", addr.String())
	})

	t.Run("NXDOMAIN", func(t *testing.T) {
		_, err := r.Resolve(ctx, "missing.test", 443)
		assert.ErrorIs(t, err, ErrResolveFailed)
	})

	t.Run("PTR record", func(t *testing.T) {
		addr, err := ParseAddress("10.9.8.7:0")
		require.NoError(t, err)
		name, err := r.ResolveIP(ctx, addr)
		require.NoError(t, err)
		assert.Equal(t, "host.test", name)
	})

	t.Run("PTR missing", func(t *testing.T) {
		addr, err := ParseAddress("10.0.0.1:0")
		require.NoError(t, err)
		_, err = r.ResolveIP(ctx, addr)
		assert.ErrorIs(t, err, ErrResolveFailed)
	})
}
