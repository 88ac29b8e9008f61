package wrapper

import (
	"crypto/tls"
	"net"
	"sync"

	"github.com/joeycumines/reactor/deferred"
)

// ErrOnlyOneTLS is returned by TLSUpgrader.StartTLS if called more than
// once on the same connection, mirroring amp.py's OnlyOneTLS: a connection
// may upgrade to TLS at most once.
var ErrOnlyOneTLS = deferred.NewFailureFromString("wrapper: connection already upgraded to TLS", deferred.KindProtocolViolation)

// TLSUpgrader gates a net.Conn's transition to TLS so it can happen at
// most once. Upgrading a live transport's underlying connection mid-stream
// (rather than negotiating TLS from the first byte) is inherently
// stateful, so this type owns the single mutable "have we upgraded yet"
// bit the rest of the stack checks before calling StartTLS.
type TLSUpgrader struct {
	mu       sync.Mutex
	upgraded bool
}

// StartTLS wraps conn in a server-side TLS connection using config. It
// returns ErrOnlyOneTLS if called a second time.
func (u *TLSUpgrader) StartTLS(conn net.Conn, config *tls.Config) (net.Conn, error) {
	u.mu.Lock()
	if u.upgraded {
		u.mu.Unlock()
		return nil, ErrOnlyOneTLS
	}
	u.upgraded = true
	u.mu.Unlock()

	return tls.Server(conn, config), nil
}

// StartTLSClient is StartTLS's client-side counterpart.
func (u *TLSUpgrader) StartTLSClient(conn net.Conn, config *tls.Config) (net.Conn, error) {
	u.mu.Lock()
	if u.upgraded {
		u.mu.Unlock()
		return nil, ErrOnlyOneTLS
	}
	u.upgraded = true
	u.mu.Unlock()

	return tls.Client(conn, config), nil
}

// Upgraded reports whether StartTLS/StartTLSClient has already run.
func (u *TLSUpgrader) Upgraded() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.upgraded
}
