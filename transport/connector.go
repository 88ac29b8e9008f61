package transport

import (
	"context"
	"net"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/joeycumines/reactor/deferred"
)

// ConnectorState enumerates a Connector's lifecycle, mirroring
// twisted.internet.base.BaseConnector's state machine
// (disconnected/connecting/connected).
type ConnectorState int

const (
	ConnectorDisconnected ConnectorState = iota
	ConnectorConnecting
	ConnectorConnected
)

// Dialer is the subset of *net.Dialer a Connector needs, narrowed to allow
// substituting a test double.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Connector drives a single client connection attempt (and, through a
// ClientFactory, its reconnection policy) against a network address. It
// mirrors twisted.internet.protocol.ClientCreator / Connector.
type Connector struct {
	ID uuid.UUID

	network string
	address string
	dialer  Dialer
	factory ClientFactory
	submit  func(func()) error
	onWire  func(net.Conn, Protocol) Transport

	mu       sync.Mutex
	state    ConnectorState
	cancel   context.CancelFunc
	conn     net.Conn
}

// NewConnector builds a Connector for network/address. submit is used to
// hand connection events back onto the reactor goroutine (Reactor.Submit),
// and onWire wraps a raw net.Conn plus the protocol the factory built into
// a concrete Transport (see transport/tcp.go).
func NewConnector(network, address string, dialer Dialer, factory ClientFactory, submit func(func()) error, onWire func(net.Conn, Protocol) Transport) *Connector {
	id, _ := uuid.NewV7()
	return &Connector{
		ID:      id,
		network: network,
		address: address,
		dialer:  dialer,
		factory: factory,
		submit:  submit,
		onWire:  onWire,
	}
}

// State returns the connector's current lifecycle state.
func (c *Connector) State() ConnectorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts (or restarts) a dial attempt. It is safe to call again
// after a previous attempt has failed or disconnected. Per spec §3/§4.5,
// a Connector attaching to its factory counts toward the factory's
// ref-counted start/stop lifecycle: DoStart runs here (if the factory
// implements FactoryController), matched by DoStop once this attempt's
// connection ends, however it ends.
func (c *Connector) Connect() *deferred.Deferred {
	result := deferred.New()

	c.mu.Lock()
	if c.state != ConnectorDisconnected {
		c.mu.Unlock()
		result.Errback(deferred.NewFailureFromString("transport: connector already connecting or connected", deferred.KindUserError))
		return result
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.state = ConnectorConnecting
	c.mu.Unlock()

	if ctrl, ok := c.factory.(FactoryController); ok {
		if err := ctrl.DoStart(); err != nil {
			c.mu.Lock()
			c.state = ConnectorDisconnected
			c.mu.Unlock()
			result.Errback(deferred.NewFailureValue(err, deferred.KindUnspecified))
			return result
		}
	}

	go func() {
		conn, err := c.dialer.DialContext(ctx, c.network, c.address)
		c.submit(func() {
			if err != nil {
				c.mu.Lock()
				c.state = ConnectorDisconnected
				c.mu.Unlock()
				c.doStop()
				failure := deferred.NewFailureValue(err, classifyDialError(err))
				c.factory.ClientConnectionFailed(c, failure)
				result.Errback(failure)
				return
			}

			c.mu.Lock()
			c.conn = conn
			c.state = ConnectorConnected
			c.mu.Unlock()

			proto := c.factory.BuildProtocol(conn.RemoteAddr().String())
			if proto == nil {
				conn.Close()
				c.mu.Lock()
				c.state = ConnectorDisconnected
				c.mu.Unlock()
				c.doStop()
				failure := deferred.NewFailureFromString("transport: factory declined connection", deferred.KindUserError)
				result.Errback(failure)
				return
			}

			tr := c.onWire(conn, proto)
			proto.MakeConnection(tr)
			proto.ConnectionMade()
			result.Callback(proto)
		})
	}()

	return result
}

// doStop detaches from the factory's ref-counted lifecycle, mirroring the
// DoStart call made at the top of Connect.
func (c *Connector) doStop() {
	if ctrl, ok := c.factory.(FactoryController); ok {
		ctrl.DoStop()
	}
}

// StopConnecting aborts an in-flight dial attempt, mirroring
// Connector.stopConnecting.
func (c *Connector) StopConnecting() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == ConnectorConnecting && c.cancel != nil {
		c.cancel()
	}
}

// Disconnect closes an established connection.
func (c *Connector) Disconnect() error {
	c.mu.Lock()
	conn := c.conn
	c.state = ConnectorDisconnected
	c.mu.Unlock()
	c.doStop()
	if conn == nil {
		return nil
	}
	return conn.Close()
}

// NotifyConnectionLost informs the connector's factory that the connection
// it established has ended, continuing the ClientFactory contract once the
// wrapped Transport observes ConnectionLost.
func (c *Connector) NotifyConnectionLost(reason *deferred.FailureValue) {
	c.mu.Lock()
	c.state = ConnectorDisconnected
	c.mu.Unlock()
	c.doStop()
	c.factory.ClientConnectionLost(c, reason)
}

// connectorAddr is a tagged-tuple net.Addr (family via Network(), the
// dial target via String()) returned by GetDestination when no live
// connection exists to ask for a real net.Addr.
type connectorAddr struct {
	network string
	address string
}

func (a connectorAddr) Network() string { return a.network }
func (a connectorAddr) String() string  { return a.address }

// GetDestination always returns a valid tagged address identifying the
// peer this Connector dials, per spec §4.5, regardless of connection
// state.
func (c *Connector) GetDestination() net.Addr {
	return connectorAddr{network: c.network, address: c.address}
}

func classifyDialError(err error) deferred.Kind {
	if err == nil {
		return deferred.KindUnspecified
	}
	if errIsTimeout(err) {
		return deferred.KindTimeout
	}
	if errIsRefused(err) {
		return deferred.KindConnectionRefused
	}
	return deferred.KindUnspecified
}

// errIsTimeout/errIsRefused are small, dependency-free classifiers built on
// net.OpError's coarse Timeout()/string checks; no errno-level
// classification (EADDRINUSE, ECONNRESET, ...) exists in this module.
func errIsTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if t, ok := err.(timeouter); ok {
		return t.Timeout()
	}
	return false
}

func errIsRefused(err error) bool {
	return err != nil && strings.Contains(err.Error(), "refused")
}
