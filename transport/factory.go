package transport

import (
	"math"
	"math/rand"
	"sync"

	"github.com/joeycumines/reactor/deferred"
)

// Factory builds a Protocol for each incoming server-side connection,
// mirroring twisted.internet.protocol.Factory.
type Factory interface {
	BuildProtocol(peer string) Protocol
}

// FactoryFunc adapts a plain function to a Factory.
type FactoryFunc func(peer string) Protocol

func (f FactoryFunc) BuildProtocol(peer string) Protocol { return f(peer) }

// FactoryController is implemented by factories that track how many
// ports/connectors currently have them attached, per spec §3/§4.5: a
// reference count (numPorts) of active attachments, with StartFactory
// invoked on the first attach and StopFactory invoked on the last detach.
// A listening port or Connector calls DoStart when it starts using a
// Factory and DoStop when it stops, mirroring
// twisted.internet.protocol.Factory.doStart/doStop.
type FactoryController interface {
	DoStart() error
	DoStop()
}

// BaseFactory implements the FactoryController ref-count bookkeeping so
// concrete factories only need to supply the optional StartFactory/
// StopFactory hooks (OnStartFactory/OnStopFactory) invoked exactly once
// across however many ports or connectors attach to the same instance.
type BaseFactory struct {
	OnStartFactory func() error
	OnStopFactory  func()

	mu       sync.Mutex
	numPorts int
}

// DoStart increments the reference count, calling OnStartFactory only when
// transitioning from zero to one attachment.
func (f *BaseFactory) DoStart() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.numPorts++
	if f.numPorts == 1 && f.OnStartFactory != nil {
		return f.OnStartFactory()
	}
	return nil
}

// DoStop decrements the reference count, calling OnStopFactory only when
// the last attachment detaches. Calling DoStop with no outstanding
// attachment is a no-op, matching Twisted's defensive numPorts >= 0 guard.
func (f *BaseFactory) DoStop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.numPorts == 0 {
		return
	}
	f.numPorts--
	if f.numPorts == 0 && f.OnStopFactory != nil {
		f.OnStopFactory()
	}
}

// NumPorts reports the current reference count.
func (f *BaseFactory) NumPorts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.numPorts
}

// ClientFactory additionally hears about connection attempts that never
// reach Protocol.ConnectionLost: a dial that fails outright, or a
// connection that a Connector gives up on. Mirrors
// twisted.internet.protocol.ClientFactory.
type ClientFactory interface {
	Factory
	ClientConnectionFailed(connector *Connector, reason *deferred.FailureValue)
	ClientConnectionLost(connector *Connector, reason *deferred.FailureValue)
}

// BaseClientFactory provides no-op ClientConnectionFailed/Lost hooks, plus
// the BaseFactory ref-counted start/stop lifecycle.
type BaseClientFactory struct {
	BaseFactory
	Build func(peer string) Protocol
}

func (f *BaseClientFactory) BuildProtocol(peer string) Protocol {
	if f.Build == nil {
		return nil
	}
	return f.Build(peer)
}
func (f *BaseClientFactory) ClientConnectionFailed(*Connector, *deferred.FailureValue) {}
func (f *BaseClientFactory) ClientConnectionLost(*Connector, *deferred.FailureValue)   {}

// Reconnection back-off constants, reproduced from
// twisted.internet.protocol.ReconnectingClientFactory verbatim (spec §6):
// a 1 second initial delay, geometric growth by e each attempt, +/-11.96%
// jitter, capped at one hour.
const (
	initialDelaySeconds = 1.0
	delayFactor         = 2.7182818284590451 // e
	jitterFraction      = 0.11962656472       // twisted's own literal
	maxDelaySeconds     = 3600.0
)

// ReconnectingClientFactory wraps a ClientFactory with Twisted's
// exponential-backoff-with-jitter reconnection policy.
// ClientConnectionFailed and ClientConnectionLost both trigger a
// reconnection attempt (via Scheduler) unless StopTrying has been called.
type ReconnectingClientFactory struct {
	inner     ClientFactory
	connector func() *Connector
	scheduler deferred.Scheduler
	randFn    func() float64

	mu          sync.Mutex
	delay       float64
	retries     int
	maxRetries  int // 0 means unlimited
	stopped     bool
	pendingCall deferred.Canceller
}

// NewReconnectingClientFactory wraps inner, using scheduler to arm
// reconnection timers and connect to create a fresh Connector for each
// attempt.
func NewReconnectingClientFactory(inner ClientFactory, scheduler deferred.Scheduler, connect func() *Connector) *ReconnectingClientFactory {
	return &ReconnectingClientFactory{
		inner:     inner,
		connector: connect,
		scheduler: scheduler,
		randFn:    rand.Float64,
		delay:     initialDelaySeconds,
	}
}

// SetMaxRetries caps the number of reconnection attempts; 0 (the default)
// means unlimited, matching Twisted's default maxRetries=None.
func (f *ReconnectingClientFactory) SetMaxRetries(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxRetries = n
}

func (f *ReconnectingClientFactory) BuildProtocol(peer string) Protocol {
	f.resetDelay()
	return f.inner.BuildProtocol(peer)
}

// DoStart forwards to the wrapped factory's FactoryController, if any, so
// wrapping with reconnection logic doesn't drop the ref-counted
// start/stop lifecycle.
func (f *ReconnectingClientFactory) DoStart() error {
	if c, ok := f.inner.(FactoryController); ok {
		return c.DoStart()
	}
	return nil
}

// DoStop forwards to the wrapped factory's FactoryController, if any.
func (f *ReconnectingClientFactory) DoStop() {
	if c, ok := f.inner.(FactoryController); ok {
		c.DoStop()
	}
}

func (f *ReconnectingClientFactory) ClientConnectionFailed(connector *Connector, reason *deferred.FailureValue) {
	f.inner.ClientConnectionFailed(connector, reason)
	f.retry()
}

func (f *ReconnectingClientFactory) ClientConnectionLost(connector *Connector, reason *deferred.FailureValue) {
	f.inner.ClientConnectionLost(connector, reason)
	f.retry()
}

// resetDelay restores the backoff to its initial state after a successful
// connection, per ReconnectingClientFactory.resetDelay.
func (f *ReconnectingClientFactory) resetDelay() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = initialDelaySeconds
	f.retries = 0
	if f.pendingCall != nil {
		f.pendingCall.Cancel()
		f.pendingCall = nil
	}
}

// StopTrying cancels any pending reconnection attempt and prevents further
// ones, per ReconnectingClientFactory.stopTrying.
func (f *ReconnectingClientFactory) StopTrying() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
	if f.pendingCall != nil {
		f.pendingCall.Cancel()
		f.pendingCall = nil
	}
}

func (f *ReconnectingClientFactory) retry() {
	f.mu.Lock()
	if f.stopped {
		f.mu.Unlock()
		return
	}
	if f.maxRetries > 0 && f.retries >= f.maxRetries {
		f.mu.Unlock()
		return
	}
	f.retries++

	f.delay = math.Min(f.delay*delayFactor, maxDelaySeconds)
	jitter := 1 + (f.randFn()*2-1)*jitterFraction
	delay := f.delay * jitter
	f.mu.Unlock()

	call := f.scheduler.ScheduleOnce(delay, func() {
		c := f.connector()
		c.Connect()
	})

	f.mu.Lock()
	f.pendingCall = call
	f.mu.Unlock()
}
