// Package resolver implements name resolution on top of miekg/dns,
// adapted from twisted.names.client.Resolver: a UDP query with an
// increasing-timeout retry sequence, falling back to TCP when a response
// is truncated.
package resolver

import (
	"context"
	"time"

	"github.com/joeycumines/reactor/deferred"
)

// DefaultTimeouts is client.Resolver's default retry sequence: issue the
// query, and if no answer arrives within the first timeout, reissue with
// the next (longer) one, giving up once the sequence is exhausted.
var DefaultTimeouts = []time.Duration{
	1 * time.Second,
	3 * time.Second,
	11 * time.Second,
	45 * time.Second,
}

// Record is one resolved name/address pair plus its record's remaining
// time-to-live, mirroring the (name, ttl) tuples client.py threads through
// its lookup* methods.
type Record struct {
	Name string
	TTL  time.Duration
}

// Resolver looks up DNS records, retrying against the configured
// nameservers with increasing timeouts until an answer arrives or the
// timeout sequence is exhausted.
type Resolver interface {
	LookupA(ctx context.Context, name string) ([]Record, error)
	LookupAAAA(ctx context.Context, name string) ([]Record, error)
	LookupMX(ctx context.Context, name string) ([]MXRecord, error)
	LookupNS(ctx context.Context, name string) ([]Record, error)
	LookupSRV(ctx context.Context, name string) ([]SRVRecord, error)
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// MXRecord is a mail exchange record: a priority-ordered mail server name.
type MXRecord struct {
	Preference uint16
	Exchange   string
	TTL        time.Duration
}

// SRVRecord is a service record, per RFC 2782.
type SRVRecord struct {
	Priority uint16
	Weight   uint16
	Port     uint16
	Target   string
	TTL      time.Duration
}

// asFailure wraps err as a *deferred.FailureValue tagged
// KindNameResolutionError. Every lookup error from this package carries
// that one Kind, so it does not separate "not found" from transport
// failures; an NXDOMAIN answer is not an error and yields no records.
func asFailure(err error) error {
	if err == nil {
		return nil
	}
	return deferred.NewFailureValue(err, deferred.KindNameResolutionError)
}
