package wrapper

import (
	"net"
	"sync"

	"github.com/joeycumines/reactor/deferred"
	"github.com/joeycumines/reactor/transport"
)

// PeerLimitFactory wraps a Factory, rejecting new connections from a peer
// host once that host already has Limit live connections; the port of a
// "host:port" peer string is not part of the count's key. Mirrors
// twisted.protocols.policies.LimitConnectionsByPeer.
type PeerLimitFactory struct {
	inner transport.Factory
	limit int

	mu    sync.Mutex
	count map[string]int
}

// NewPeerLimitFactory wraps inner, capping concurrent connections from any
// single peer address at limit.
func NewPeerLimitFactory(inner transport.Factory, limit int) *PeerLimitFactory {
	return &PeerLimitFactory{inner: inner, limit: limit, count: make(map[string]int)}
}

func (f *PeerLimitFactory) BuildProtocol(peer string) transport.Protocol {
	key := peer
	if host, _, err := net.SplitHostPort(peer); err == nil {
		key = host
	}
	f.mu.Lock()
	if f.count[key] >= f.limit {
		f.mu.Unlock()
		return nil
	}
	f.count[key]++
	f.mu.Unlock()

	inner := f.inner.BuildProtocol(peer)
	if inner == nil {
		f.release(key)
		return nil
	}
	return &peerLimitProtocol{inner: inner, factory: f, peer: key}
}

func (f *PeerLimitFactory) release(peer string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.count[peer] > 0 {
		f.count[peer]--
	}
}

type peerLimitProtocol struct {
	inner   transport.Protocol
	factory *PeerLimitFactory
	peer    string
}

func (p *peerLimitProtocol) MakeConnection(t transport.Transport) { p.inner.MakeConnection(t) }
func (p *peerLimitProtocol) ConnectionMade()                       { p.inner.ConnectionMade() }
func (p *peerLimitProtocol) DataReceived(data []byte)              { p.inner.DataReceived(data) }

func (p *peerLimitProtocol) ConnectionLost(reason *deferred.FailureValue) {
	p.factory.release(p.peer)
	p.inner.ConnectionLost(reason)
}
