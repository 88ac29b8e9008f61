package resolver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startFakeServer runs a minimal DNS server on loopback UDP, answering
// every query for name with a single A record, until the test ends.
func startFakeServer(t *testing.T, name string, ip net.IP, ttl uint32) string {
	t.Helper()

	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { pc.Close() })

	mux := dns.NewServeMux()
	mux.HandleFunc(dns.Fqdn(name), func(w dns.ResponseWriter, req *dns.Msg) {
		resp := new(dns.Msg)
		resp.SetReply(req)
		for _, q := range req.Question {
			if q.Qtype == dns.TypeA {
				rr := &dns.A{
					Hdr: dns.RR_Header{Name: q.Name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
					A:   ip,
				}
				resp.Answer = append(resp.Answer, rr)
			}
		}
		_ = w.WriteMsg(resp)
	})

	srv := &dns.Server{PacketConn: pc, Handler: mux}
	go srv.ActivateAndServe()
	t.Cleanup(func() { srv.Shutdown() })

	return pc.LocalAddr().String()
}

func TestDNSResolverLookupA(t *testing.T) {
	addr := startFakeServer(t, "example.test.", net.ParseIP("203.0.113.7"), 300)

	r := NewDNSResolver([]string{addr}, []time.Duration{2 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	records, err := r.LookupA(ctx, "example.test")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "203.0.113.7", records[0].Name)
	assert.Equal(t, 300*time.Second, records[0].TTL)
}

func TestDNSResolverNoServers(t *testing.T) {
	r := NewDNSResolver(nil, nil)
	_, err := r.LookupA(context.Background(), "example.test")
	assert.Error(t, err)
}

func TestDNSResolverPickServerRoundRobin(t *testing.T) {
	r := NewDNSResolver([]string{"a", "b", "c"}, nil)
	seen := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		s, err := r.pickServer()
		require.NoError(t, err)
		seen = append(seen, s)
	}
	assert.Equal(t, []string{"a", "b", "c", "a", "b", "c"}, seen)
}
