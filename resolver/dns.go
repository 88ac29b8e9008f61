package resolver

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/miekg/dns"
)

// DNSResolver issues queries against a fixed set of nameservers, cycling
// between them and retrying with DefaultTimeouts's increasing timeout
// sequence, per client.Resolver.pickServer / queryUDP / _reissue. A
// truncated UDP response is automatically retried over TCP, mirroring
// client.Resolver.filterAnswers's "requery over TCP" branch.
type DNSResolver struct {
	servers  []string
	timeouts []time.Duration
	next     atomic.Uint64
}

// NewDNSResolver builds a resolver querying the given "host:port"
// nameserver addresses in round-robin order. If timeouts is nil,
// DefaultTimeouts is used.
func NewDNSResolver(servers []string, timeouts []time.Duration) *DNSResolver {
	if len(timeouts) == 0 {
		timeouts = DefaultTimeouts
	}
	return &DNSResolver{servers: servers, timeouts: timeouts}
}

// pickServer returns the next nameserver in round-robin order, per
// client.Resolver.pickServer.
func (r *DNSResolver) pickServer() (string, error) {
	if len(r.servers) == 0 {
		return "", fmt.Errorf("resolver: no nameservers configured")
	}
	i := r.next.Add(1) - 1
	return r.servers[i%uint64(len(r.servers))], nil
}

// exchange sends msg to a nameserver, retrying with the configured
// increasing-timeout sequence on failure, and reissuing over TCP if the
// UDP response comes back truncated.
func (r *DNSResolver) exchange(ctx context.Context, msg *dns.Msg) (*dns.Msg, error) {
	server, err := r.pickServer()
	if err != nil {
		return nil, asFailure(err)
	}

	var lastErr error
	for _, timeout := range r.timeouts {
		client := &dns.Client{Net: "udp", Timeout: timeout}
		resp, _, exchangeErr := client.ExchangeContext(ctx, msg, server)
		if exchangeErr != nil {
			lastErr = exchangeErr
			if ctx.Err() != nil {
				break
			}
			continue
		}
		if resp.Truncated {
			tcpClient := &dns.Client{Net: "tcp", Timeout: timeout}
			tcpResp, _, tcpErr := tcpClient.ExchangeContext(ctx, msg, server)
			if tcpErr != nil {
				lastErr = tcpErr
				continue
			}
			return tcpResp, nil
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("resolver: query timed out against %s", server)
	}
	return nil, asFailure(lastErr)
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) (*dns.Msg, error) {
	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), qtype)
	msg.RecursionDesired = true
	return r.exchange(ctx, msg)
}

func (r *DNSResolver) LookupA(ctx context.Context, name string) ([]Record, error) {
	resp, err := r.query(ctx, name, dns.TypeA)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rr := range resp.Answer {
		if a, ok := rr.(*dns.A); ok {
			out = append(out, Record{Name: a.A.String(), TTL: ttlOf(rr)})
		}
	}
	return out, nil
}

func (r *DNSResolver) LookupAAAA(ctx context.Context, name string) ([]Record, error) {
	resp, err := r.query(ctx, name, dns.TypeAAAA)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rr := range resp.Answer {
		if aaaa, ok := rr.(*dns.AAAA); ok {
			out = append(out, Record{Name: aaaa.AAAA.String(), TTL: ttlOf(rr)})
		}
	}
	return out, nil
}

func (r *DNSResolver) LookupMX(ctx context.Context, name string) ([]MXRecord, error) {
	resp, err := r.query(ctx, name, dns.TypeMX)
	if err != nil {
		return nil, err
	}
	var out []MXRecord
	for _, rr := range resp.Answer {
		if mx, ok := rr.(*dns.MX); ok {
			out = append(out, MXRecord{Preference: mx.Preference, Exchange: mx.Mx, TTL: ttlOf(rr)})
		}
	}
	return out, nil
}

func (r *DNSResolver) LookupNS(ctx context.Context, name string) ([]Record, error) {
	resp, err := r.query(ctx, name, dns.TypeNS)
	if err != nil {
		return nil, err
	}
	var out []Record
	for _, rr := range resp.Answer {
		if ns, ok := rr.(*dns.NS); ok {
			out = append(out, Record{Name: ns.Ns, TTL: ttlOf(rr)})
		}
	}
	return out, nil
}

func (r *DNSResolver) LookupSRV(ctx context.Context, name string) ([]SRVRecord, error) {
	resp, err := r.query(ctx, name, dns.TypeSRV)
	if err != nil {
		return nil, err
	}
	var out []SRVRecord
	for _, rr := range resp.Answer {
		if srv, ok := rr.(*dns.SRV); ok {
			out = append(out, SRVRecord{
				Priority: srv.Priority,
				Weight:   srv.Weight,
				Port:     srv.Port,
				Target:   srv.Target,
				TTL:      ttlOf(rr),
			})
		}
	}
	return out, nil
}

func (r *DNSResolver) LookupTXT(ctx context.Context, name string) ([]string, error) {
	resp, err := r.query(ctx, name, dns.TypeTXT)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, rr := range resp.Answer {
		if txt, ok := rr.(*dns.TXT); ok {
			for _, s := range txt.Txt {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func ttlOf(rr dns.RR) time.Duration {
	return time.Duration(rr.Header().Ttl) * time.Second
}

var _ Resolver = (*DNSResolver)(nil)
