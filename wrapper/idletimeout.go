package wrapper

import (
	"net"
	"sync"

	"github.com/joeycumines/reactor/deferred"
	"github.com/joeycumines/reactor/transport"
)

// IdleTimeoutFactory wraps a Factory so every connection it produces is
// dropped after it goes idleSeconds without any write or DataReceived
// call, mirroring twisted.protocols.policies.TimeoutFactory /
// TimeoutMixin.setTimeout.
type IdleTimeoutFactory struct {
	inner       transport.Factory
	idleSeconds float64
	scheduler   deferred.Scheduler
}

// NewIdleTimeoutFactory wraps inner; scheduler (typically a *reactor.Reactor)
// arms and reschedules each connection's idle timer.
func NewIdleTimeoutFactory(inner transport.Factory, idleSeconds float64, scheduler deferred.Scheduler) *IdleTimeoutFactory {
	return &IdleTimeoutFactory{inner: inner, idleSeconds: idleSeconds, scheduler: scheduler}
}

func (f *IdleTimeoutFactory) BuildProtocol(peer string) transport.Protocol {
	inner := f.inner.BuildProtocol(peer)
	if inner == nil {
		return nil
	}
	p := &idleTimeoutProtocol{inner: inner, idleSeconds: f.idleSeconds, scheduler: f.scheduler}
	return p
}

// idleTimeoutProtocol resets its idle timer on DataReceived and on every
// write, per spec §4.6 ("starts a reactor timer ... and on every reset
// event (write, writeSequence, dataReceived)"). To see writes, it also
// acts as inner's Transport, the same WrappingFactory/WrappingProtocol
// pattern throttleProtocol uses: inner's Write/WriteSequence calls come
// through here rather than bypassing straight to the real transport.
type idleTimeoutProtocol struct {
	inner       transport.Protocol
	idleSeconds float64
	scheduler   deferred.Scheduler

	mu      sync.Mutex
	real    transport.Transport
	timer   deferred.Canceller
	stopped bool
}

func (p *idleTimeoutProtocol) MakeConnection(t transport.Transport) {
	p.mu.Lock()
	p.real = t
	p.mu.Unlock()
	p.inner.MakeConnection(p)
	p.resetTimer()
}

func (p *idleTimeoutProtocol) ConnectionMade() { p.inner.ConnectionMade() }

func (p *idleTimeoutProtocol) DataReceived(data []byte) {
	p.resetTimer()
	p.inner.DataReceived(data)
}

func (p *idleTimeoutProtocol) ConnectionLost(reason *deferred.FailureValue) {
	p.mu.Lock()
	p.stopped = true
	if p.timer != nil {
		p.timer.Cancel()
	}
	p.mu.Unlock()
	p.inner.ConnectionLost(reason)
}

func (p *idleTimeoutProtocol) resetTimer() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	if p.timer != nil {
		p.timer.Cancel()
	}
	p.timer = p.scheduler.ScheduleOnce(p.idleSeconds, p.onTimeout)
	p.mu.Unlock()
}

func (p *idleTimeoutProtocol) onTimeout() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	real := p.real
	p.mu.Unlock()
	if real != nil {
		real.AbortConnection()
	}
}

// Write resets the idle timer (a write is activity, per §4.6) before
// forwarding to the real transport.
func (p *idleTimeoutProtocol) Write(data []byte) error {
	p.resetTimer()
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.Write(data)
}

// WriteSequence resets the idle timer once before forwarding, matching
// §4.6's reset-on-writeSequence.
func (p *idleTimeoutProtocol) WriteSequence(data [][]byte) error {
	p.resetTimer()
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.WriteSequence(data)
}

func (p *idleTimeoutProtocol) LoseConnection() error {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.LoseConnection()
}

func (p *idleTimeoutProtocol) AbortConnection() error {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.AbortConnection()
}

func (p *idleTimeoutProtocol) GetPeer() net.Addr {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.GetPeer()
}

func (p *idleTimeoutProtocol) GetHost() net.Addr {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.GetHost()
}

func (p *idleTimeoutProtocol) RegisterProducer(producer transport.Producer, streaming bool) error {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	return real.RegisterProducer(producer, streaming)
}

func (p *idleTimeoutProtocol) UnregisterProducer() {
	p.mu.Lock()
	real := p.real
	p.mu.Unlock()
	real.UnregisterProducer()
}

var _ transport.Transport = (*idleTimeoutProtocol)(nil)
