package wrapper

import (
	"sync"

	"github.com/joeycumines/reactor/deferred"
	"github.com/joeycumines/reactor/transport"
)

// ErrAlreadySwitched is returned by Switcher.Switch if called more than
// once on the same connection, mirroring amp.py's ProtocolSwitched guard
// (a box connection may switch protocols at most once).
var ErrAlreadySwitched = deferred.NewFailureFromString("wrapper: protocol already switched", deferred.KindProtocolViolation)

// Switcher wraps a Protocol so that, at any point after ConnectionMade, a
// single call to Switch hands all subsequent DataReceived calls (including
// any bytes already buffered from the packet that triggered the switch) to
// a brand-new Protocol instead. It generalizes amp.py's _SwitchBox /
// ProtocolSwitchCommand, which lets an AMP connection hand itself off to
// an arbitrary other protocol mid-stream.
type Switcher struct {
	mu       sync.Mutex
	current  transport.Protocol
	self     transport.Transport
	switched bool
}

// NewSwitcher wraps initial as the connection's starting protocol.
func NewSwitcher(initial transport.Protocol) *Switcher {
	return &Switcher{current: initial}
}

func (s *Switcher) MakeConnection(t transport.Transport) {
	s.mu.Lock()
	s.self = t
	current := s.current
	s.mu.Unlock()
	current.MakeConnection(t)
}

func (s *Switcher) ConnectionMade() {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	current.ConnectionMade()
}

func (s *Switcher) DataReceived(data []byte) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	current.DataReceived(data)
}

func (s *Switcher) ConnectionLost(reason *deferred.FailureValue) {
	s.mu.Lock()
	current := s.current
	s.mu.Unlock()
	current.ConnectionLost(reason)
}

// Switch replaces the active inner protocol with next, wiring it up with
// the same Transport and immediately delivering any leftover bytes from
// the packet that triggered the switch. It fails with ErrAlreadySwitched
// if called a second time on this connection.
func (s *Switcher) Switch(next transport.Protocol, leftover []byte) error {
	s.mu.Lock()
	if s.switched {
		s.mu.Unlock()
		return ErrAlreadySwitched
	}
	s.switched = true
	s.current = next
	self := s.self
	s.mu.Unlock()

	next.MakeConnection(self)
	next.ConnectionMade()
	if len(leftover) > 0 {
		next.DataReceived(leftover)
	}
	return nil
}
