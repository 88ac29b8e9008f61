package transport

import (
	"context"
	"io"
	"net"
	"sync"

	"github.com/joeycumines/reactor/deferred"
)

// tcpTransport implements Transport over a net.Conn. Reads happen on a
// dedicated goroutine per connection (net.Conn has no portable way to
// expose its file descriptor for direct reactor polling across
// platforms), but every Protocol callback it drives is marshaled back onto
// the reactor goroutine via submit, preserving this module's single
// callback thread invariant.
type tcpTransport struct {
	conn   net.Conn
	submit func(func()) error
	proto  Protocol

	mu       sync.Mutex
	closed   bool
	producer Producer
}

// NewTCPTransport wraps conn for proto, delivering DataReceived and
// ConnectionLost calls through submit (normally Reactor.Submit). It starts
// the background read loop immediately.
func NewTCPTransport(conn net.Conn, proto Protocol, submit func(func()) error) Transport {
	t := &tcpTransport{conn: conn, submit: submit, proto: proto}
	go t.readLoop()
	return t
}

func (t *tcpTransport) readLoop() {
	buf := make([]byte, 64*1024)
	for {
		n, err := t.conn.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			t.submit(func() {
				t.proto.DataReceived(chunk)
			})
		}
		if err != nil {
			t.finish(err)
			return
		}
	}
}

func (t *tcpTransport) finish(err error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	var kind deferred.Kind
	var reason *deferred.FailureValue
	if err == io.EOF {
		kind = deferred.KindConnectionDone
		reason = deferred.NewFailureFromString("connection closed cleanly", kind)
	} else {
		kind = deferred.KindConnectionLost
		reason = deferred.NewFailureValue(err, kind)
	}
	t.submit(func() {
		t.proto.ConnectionLost(reason)
	})
}

func (t *tcpTransport) Write(data []byte) error {
	_, err := t.conn.Write(data)
	return err
}

func (t *tcpTransport) WriteSequence(data [][]byte) error {
	for _, chunk := range data {
		if err := t.Write(chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *tcpTransport) LoseConnection() error {
	return t.conn.Close()
}

func (t *tcpTransport) AbortConnection() error {
	return t.conn.Close()
}

func (t *tcpTransport) GetPeer() net.Addr { return t.conn.RemoteAddr() }
func (t *tcpTransport) GetHost() net.Addr { return t.conn.LocalAddr() }

func (t *tcpTransport) RegisterProducer(p Producer, streaming bool) error {
	t.mu.Lock()
	t.producer = p
	t.mu.Unlock()
	if streaming {
		p.ResumeProducing()
	}
	return nil
}

func (t *tcpTransport) UnregisterProducer() {
	t.mu.Lock()
	t.producer = nil
	t.mu.Unlock()
}

// TCPServer accepts connections on a listener and hands each one to
// factory, mirroring twisted.internet.tcp.Port built atop a Factory.
type TCPServer struct {
	listener net.Listener
	factory  Factory
	submit   func(func()) error

	stopOnce sync.Once
	stopCh   chan struct{}
}

// ListenTCP starts listening on address and returns a TCPServer that must
// have Serve called to begin accepting.
func ListenTCP(network, address string) (*TCPServer, error) {
	l, err := net.Listen(network, address)
	if err != nil {
		return nil, err
	}
	return &TCPServer{listener: l, stopCh: make(chan struct{})}, nil
}

// Addr returns the listener's bound address.
func (s *TCPServer) Addr() net.Addr { return s.listener.Addr() }

// Serve accepts connections until Stop is called or ctx is canceled,
// dispatching each to factory.BuildProtocol and wiring it to a
// tcpTransport whose callbacks run via submit. Serve counts as this port
// attaching to factory: if factory implements FactoryController, DoStart
// runs here (its start hook fires only for the first port attached to the
// factory) and DoStop runs when Stop ends the accept loop.
func (s *TCPServer) Serve(ctx context.Context, factory Factory, submit func(func()) error) error {
	s.factory = factory
	s.submit = submit

	if c, ok := factory.(FactoryController); ok {
		if err := c.DoStart(); err != nil {
			return err
		}
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.stopCh:
		}
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return nil
			default:
				return err
			}
		}
		s.handle(conn)
	}
}

func (s *TCPServer) handle(conn net.Conn) {
	proto := s.factory.BuildProtocol(conn.RemoteAddr().String())
	if proto == nil {
		conn.Close()
		return
	}
	s.submit(func() {
		tr := NewTCPTransport(conn, proto, s.submit)
		proto.MakeConnection(tr)
		proto.ConnectionMade()
	})
}

// Stop closes the listener, ending Serve's accept loop, and detaches from
// the factory (DoStop), matching Serve's DoStart attach.
func (s *TCPServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.listener.Close()
		if c, ok := s.factory.(FactoryController); ok {
			c.DoStop()
		}
	})
}
