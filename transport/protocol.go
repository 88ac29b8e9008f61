// Package transport defines the Transport/Protocol contract and the
// Factory/Connector lifecycle that drive connections through a reactor,
// adapted from twisted.internet.interfaces and twisted.internet.protocol.
package transport

import (
	"net"

	"github.com/joeycumines/reactor/deferred"
)

// Transport is the write-side, connection-control surface a Protocol is
// handed via Protocol.MakeConnection. It mirrors
// twisted.internet.interfaces.ITransport plus the producer/consumer flow
// control methods (IConsumer/IProducer).
type Transport interface {
	// Write sends data; it must not block the reactor goroutine for long
	// (callers register as a producer instead of writing unboundedly).
	Write(data []byte) error
	// WriteSequence is Write for multiple buffers, sent as one logical
	// unit where the underlying transport supports it.
	WriteSequence(data [][]byte) error
	// LoseConnection starts an orderly close: pending writes flush, then
	// ConnectionLost fires exactly once.
	LoseConnection() error
	// AbortConnection immediately closes the connection without flushing.
	AbortConnection() error
	// GetPeer and GetHost report connection endpoints.
	GetPeer() net.Addr
	GetHost() net.Addr

	// RegisterProducer attaches a Producer that will be asked to
	// resume/pause writing as this transport's outgoing buffer drains or
	// fills. streaming selects push (true) vs pull (false) semantics, per
	// IConsumer.registerProducer.
	RegisterProducer(p Producer, streaming bool) error
	// UnregisterProducer detaches the current producer, if any.
	UnregisterProducer()
}

// Producer is the flow-control callback surface a Transport drives. A push
// producer is told to Pause when the transport's buffer is full and Resume
// when it drains; a pull producer's ResumeProducing is called once per unit
// of demand instead.
type Producer interface {
	PauseProducing()
	ResumeProducing()
	StopProducing()
}

// Protocol is the read-side, event-driven surface a Transport drives.
// Exactly one ConnectionMade call precedes zero or more DataReceived
// calls, followed by exactly one ConnectionLost call -- the core invariant
// this module tests for every transport implementation. It mirrors
// twisted.internet.interfaces.IProtocol.
type Protocol interface {
	// MakeConnection is called once, before ConnectionMade, to hand the
	// protocol its Transport. Kept distinct from ConnectionMade (as
	// Twisted does) so wrapper code can intercept it.
	MakeConnection(t Transport)
	// ConnectionMade is called once the connection is fully established.
	ConnectionMade()
	// DataReceived delivers a chunk of inbound bytes. May be called zero
	// or more times, never after ConnectionLost.
	DataReceived(data []byte)
	// ConnectionLost is called exactly once, with the reason the
	// connection ended (KindConnectionDone for a clean close).
	ConnectionLost(reason *deferred.FailureValue)
}

// BaseProtocol provides no-op implementations of the Protocol methods a
// concrete protocol doesn't need to override, the same convenience
// twisted.internet.protocol.Protocol (via BaseProtocol) provides over the
// bare interface.
type BaseProtocol struct {
	Transport Transport
}

func (p *BaseProtocol) MakeConnection(t Transport) { p.Transport = t }
func (p *BaseProtocol) ConnectionMade()             {}
func (p *BaseProtocol) DataReceived([]byte)         {}
func (p *BaseProtocol) ConnectionLost(*deferred.FailureValue) {}
