// Package wrapper implements the cross-cutting Factory/Protocol wrapping
// policies from twisted.protocols.policies: rate limiting, per-peer
// connection limits, idle timeouts, mid-stream protocol switching, and
// at-most-once TLS upgrade. Each wrapper generalizes policies.py's
// ProtocolWrapper/WrappingFactory pattern into a small, composable
// transport.Protocol/transport.Factory decorator.
package wrapper

import (
	"net"
	"sync"
	"time"

	catrate "github.com/joeycumines/go-catrate"

	"github.com/joeycumines/reactor/deferred"
	"github.com/joeycumines/reactor/transport"
)

// ThrottleFactory wraps a Factory so every connection it produces draws on
// one go-catrate Limiter, keyed by the peer string BuildProtocol receives
// plus direction (connections built for the same peer string count against
// the same budget). Mirrors twisted.protocols.policies.ThrottlingFactory,
// with the counter itself backed by go-catrate's sliding-window
// implementation instead of ThrottlingFactory's hand-rolled one.
type ThrottleFactory struct {
	inner     transport.Factory
	limiter   *catrate.Limiter
	scheduler deferred.Scheduler
}

// NewThrottleFactory wraps inner, allowing at most the given count of reads
// or writes per window duration (e.g. map[time.Second]100 permits 100 per
// second), scheduling pause/resume via scheduler (normally a *reactor.Reactor).
func NewThrottleFactory(inner transport.Factory, rates map[time.Duration]int, scheduler deferred.Scheduler) *ThrottleFactory {
	return &ThrottleFactory{inner: inner, limiter: catrate.NewLimiter(rates), scheduler: scheduler}
}

func (f *ThrottleFactory) BuildProtocol(peer string) transport.Protocol {
	inner := f.inner.BuildProtocol(peer)
	if inner == nil {
		return nil
	}
	return &throttleProtocol{inner: inner, limiter: f.limiter, scheduler: f.scheduler, peer: peer}
}

// throttleProtocol acts as both the wrapped protocol (delegating
// DataReceived/ConnectionLost to inner) and, per spec §4.6's
// WrappingFactory/WrappingProtocol pattern, as inner's Transport -- so
// inner's Write/RegisterProducer calls go through here, where the write
// cap can pause inner's own registered producer. Over the read cap, bytes
// are never dropped: delivery to inner is merely delayed by the
// excess/limit slack the limiter reports, preserving property 7 (every
// byte delivered, in order, exactly once).
type throttleProtocol struct {
	inner     transport.Protocol
	limiter   *catrate.Limiter
	scheduler deferred.Scheduler
	peer      string

	mu          sync.Mutex
	real        transport.Transport
	pending     [][]byte
	readPaused  bool
	producer    transport.Producer
	writePaused bool
}

func (p *throttleProtocol) MakeConnection(t transport.Transport) {
	p.mu.Lock()
	p.real = t
	p.mu.Unlock()
	p.inner.MakeConnection(p)
}

func (p *throttleProtocol) ConnectionMade() { p.inner.ConnectionMade() }

func (p *throttleProtocol) DataReceived(data []byte) {
	p.mu.Lock()
	if p.readPaused {
		p.pending = append(p.pending, append([]byte(nil), data...))
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	p.deliver(append([]byte(nil), data...))
}

// deliver attempts to hand chunk to inner, pausing delivery for the slack
// reported by the limiter (excess/limit seconds, approximated by the time
// until the next permitted event) rather than discarding it, per §4.6.
func (p *throttleProtocol) deliver(chunk []byte) {
	next, ok := p.limiter.Allow(p.peer + "|r")
	if ok {
		p.inner.DataReceived(chunk)
		return
	}
	slack := time.Until(next)
	if slack < 0 {
		slack = 0
	}
	p.mu.Lock()
	p.readPaused = true
	p.pending = append(p.pending, chunk)
	p.mu.Unlock()
	p.scheduler.ScheduleOnce(slack.Seconds(), p.resumeReads)
}

// resumeReads flushes bytes buffered while reads were paused, stopping (and
// requeuing the remainder untouched, in order) the instant a chunk re-trips
// the limiter, so delivery order is never disturbed by a chunk further down
// the queue racing ahead of one that is still throttled.
func (p *throttleProtocol) resumeReads() {
	p.mu.Lock()
	p.readPaused = false
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for i, chunk := range pending {
		p.mu.Lock()
		paused := p.readPaused
		if paused {
			p.pending = append(p.pending, pending[i:]...)
		}
		p.mu.Unlock()
		if paused {
			return
		}
		p.deliver(chunk)
	}
}

func (p *throttleProtocol) ConnectionLost(reason *deferred.FailureValue) {
	p.inner.ConnectionLost(reason)
}

// Write is inner's path to the real transport; it never buffers or drops
// bytes (outbound writes are the caller's own data, not subject to reorder
// concerns the way inbound delivery is), but over the write cap it pauses
// inner's own registered producer for the cap's slack, per §4.6's "pauses
// the inner protocol's registered producer for the write cap."
func (p *throttleProtocol) Write(data []byte) error {
	next, ok := p.limiter.Allow(p.peer + "|w")
	if !ok {
		p.mu.Lock()
		producer := p.producer
		already := p.writePaused
		p.writePaused = true
		p.mu.Unlock()
		if producer != nil && !already {
			producer.PauseProducing()
			slack := time.Until(next)
			if slack < 0 {
				slack = 0
			}
			p.scheduler.ScheduleOnce(slack.Seconds(), p.resumeWrites)
		}
	}
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.Write(data)
}

func (p *throttleProtocol) resumeWrites() {
	p.mu.Lock()
	p.writePaused = false
	producer := p.producer
	p.mu.Unlock()
	if producer != nil {
		producer.ResumeProducing()
	}
}

func (p *throttleProtocol) WriteSequence(data [][]byte) error {
	for _, chunk := range data {
		if err := p.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (p *throttleProtocol) LoseConnection() error {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.LoseConnection()
}

func (p *throttleProtocol) AbortConnection() error {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.AbortConnection()
}

func (p *throttleProtocol) GetPeer() net.Addr {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.GetPeer()
}

func (p *throttleProtocol) GetHost() net.Addr {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.GetHost()
}

func (p *throttleProtocol) RegisterProducer(producer transport.Producer, streaming bool) error {
	p.mu.Lock()
	p.producer = producer
	real := p.real
	p.mu.Unlock()
	return real.RegisterProducer(producer, streaming)
}

func (p *throttleProtocol) UnregisterProducer() {
	p.mu.Lock()
	p.producer = nil
	real := p.real
	p.mu.Unlock()
	real.UnregisterProducer()
}

var _ transport.Transport = (*throttleProtocol)(nil)
