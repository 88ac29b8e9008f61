package resolver

import (
	"context"
	"fmt"

	"github.com/miekg/dns"
)

// LookupZone performs a full zone transfer (AXFR) against the next
// nameserver, per client.Resolver.lookupZone: a single TCP connection
// that streams every record in the zone rather than a single-answer
// query/response.
func (r *DNSResolver) LookupZone(ctx context.Context, name string) ([]dns.RR, error) {
	server, err := r.pickServer()
	if err != nil {
		return nil, asFailure(err)
	}

	msg := new(dns.Msg)
	msg.SetAxfr(dns.Fqdn(name))

	transfer := &dns.Transfer{}
	envelopes, err := transfer.In(msg, server)
	if err != nil {
		return nil, asFailure(err)
	}

	var records []dns.RR
	for envelope := range envelopes {
		if envelope.Error != nil {
			return nil, asFailure(envelope.Error)
		}
		records = append(records, envelope.RR...)
		if ctx.Err() != nil {
			return nil, asFailure(ctx.Err())
		}
	}
	if len(records) == 0 {
		return nil, asFailure(fmt.Errorf("resolver: empty zone transfer from %s", server))
	}
	return records, nil
}
