package transport

import (
	"net"
	"sync"
)

// DatagramProtocol is the connectionless counterpart to Protocol: instead
// of a byte stream, it receives whole datagrams each tagged with the
// sender's address. Mirrors
// twisted.internet.protocol.DatagramProtocol.
type DatagramProtocol interface {
	MakeConnection(t DatagramTransport)
	DatagramReceived(data []byte, addr net.Addr)
	ConnectionRefused()
}

// DatagramTransport is the write-side surface handed to a DatagramProtocol.
type DatagramTransport interface {
	Write(data []byte, addr net.Addr) error
	ConnectionLost() error
	GetHost() net.Addr
}

type udpTransport struct {
	conn   *net.UDPConn
	submit func(func()) error
	proto  DatagramProtocol

	mu     sync.Mutex
	closed bool
}

// ListenUDP opens a UDP socket on address and begins delivering datagrams
// to proto via submit once Serve-equivalent reading starts (readLoop runs
// immediately in a background goroutine, matching tcpTransport's approach).
func ListenUDP(network, address string, proto DatagramProtocol, submit func(func()) error) (DatagramTransport, error) {
	addr, err := net.ResolveUDPAddr(network, address)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP(network, addr)
	if err != nil {
		return nil, err
	}
	t := &udpTransport{conn: conn, submit: submit, proto: proto}
	submit(func() {
		proto.MakeConnection(t)
	})
	go t.readLoop()
	return t, nil
}

func (t *udpTransport) readLoop() {
	buf := make([]byte, 65507)
	for {
		n, addr, err := t.conn.ReadFrom(buf)
		if err != nil {
			return
		}
		chunk := append([]byte(nil), buf[:n]...)
		t.submit(func() {
			t.proto.DatagramReceived(chunk, addr)
		})
	}
}

func (t *udpTransport) Write(data []byte, addr net.Addr) error {
	_, err := t.conn.WriteTo(data, addr)
	return err
}

func (t *udpTransport) ConnectionLost() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *udpTransport) GetHost() net.Addr { return t.conn.LocalAddr() }
