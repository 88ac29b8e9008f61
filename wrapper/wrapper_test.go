package wrapper

import (
	"crypto/tls"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor/deferred"
	"github.com/joeycumines/reactor/transport"
)

type countingProtocol struct {
	mu       sync.Mutex
	received [][]byte
	lost     bool
}

func (p *countingProtocol) MakeConnection(transport.Transport) {}
func (p *countingProtocol) ConnectionMade()                    {}
func (p *countingProtocol) DataReceived(data []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.received = append(p.received, append([]byte(nil), data...))
}
func (p *countingProtocol) ConnectionLost(*deferred.FailureValue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lost = true
}

func (p *countingProtocol) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.received)
}

func TestThrottleFactoryBuffersInsteadOfDroppingReads(t *testing.T) {
	inner := &countingProtocol{}
	sched := &fakeScheduler{}
	factory := NewThrottleFactory(transport.FactoryFunc(func(string) transport.Protocol {
		return inner
	}), map[time.Duration]int{time.Hour: 2}, sched)

	proto := factory.BuildProtocol("peer")
	require.NotNil(t, proto)
	proto.MakeConnection(&closeTrackingTransport{})

	want := [][]byte{[]byte("a"), []byte("b"), []byte("c"), []byte("d"), []byte("e")}
	for _, b := range want {
		proto.DataReceived(b)
	}

	// Over budget: the excess is buffered, not dropped.
	assert.Equal(t, 2, inner.count())
	tp := proto.(*throttleProtocol)
	tp.mu.Lock()
	pendingLen := len(tp.pending)
	tp.mu.Unlock()
	assert.Equal(t, 3, pendingLen)
	require.Len(t, sched.calls, 1)

	// A resume call only flushes what the limiter now permits (still none,
	// same window); nothing is lost and order is preserved.
	sched.fireAll()
	assert.Equal(t, 2, inner.count())
	tp.mu.Lock()
	pendingLen = len(tp.pending)
	tp.mu.Unlock()
	assert.Equal(t, 3, pendingLen)

	for i, got := range inner.received {
		assert.Equal(t, want[i], got)
	}
}

func TestThrottleFactoryEventuallyDeliversAllBytesInOrder(t *testing.T) {
	inner := &countingProtocol{}
	sched := &fakeScheduler{}
	factory := NewThrottleFactory(transport.FactoryFunc(func(string) transport.Protocol {
		return inner
	}), map[time.Duration]int{10 * time.Millisecond: 1}, sched)

	proto := factory.BuildProtocol("peer")
	require.NotNil(t, proto)
	proto.MakeConnection(&closeTrackingTransport{})

	want := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, b := range want {
		proto.DataReceived(b)
	}

	deadline := time.Now().Add(time.Second)
	for inner.count() < len(want) && time.Now().Before(deadline) {
		time.Sleep(15 * time.Millisecond)
		sched.fireAll()
	}

	require.Equal(t, len(want), inner.count())
	for i, w := range want {
		assert.Equal(t, w, inner.received[i])
	}
}

func TestPeerLimitFactoryRejectsOverLimit(t *testing.T) {
	built := 0
	factory := NewPeerLimitFactory(transport.FactoryFunc(func(string) transport.Protocol {
		built++
		return &countingProtocol{}
	}), 1)

	first := factory.BuildProtocol("1.2.3.4")
	require.NotNil(t, first)
	second := factory.BuildProtocol("1.2.3.4")
	assert.Nil(t, second)

	first.ConnectionLost(nil)

	third := factory.BuildProtocol("1.2.3.4")
	assert.NotNil(t, third)
	assert.Equal(t, 2, built)
}

type fakeScheduler struct {
	mu    sync.Mutex
	calls []func()
}

func (s *fakeScheduler) ScheduleOnce(delay float64, fn func()) deferred.Canceller {
	s.mu.Lock()
	s.calls = append(s.calls, fn)
	s.mu.Unlock()
	return fakeCanceller{}
}

func (s *fakeScheduler) fireAll() {
	s.mu.Lock()
	calls := s.calls
	s.calls = nil
	s.mu.Unlock()
	for _, fn := range calls {
		fn()
	}
}

type fakeCanceller struct{}

func (fakeCanceller) Cancel() {}

type closeTrackingTransport struct {
	transport.Transport
	aborted bool
}

func (t *closeTrackingTransport) AbortConnection() error {
	t.aborted = true
	return nil
}

func TestIdleTimeoutFactoryAbortsOnTimeout(t *testing.T) {
	sched := &fakeScheduler{}
	inner := &countingProtocol{}
	factory := NewIdleTimeoutFactory(transport.FactoryFunc(func(string) transport.Protocol {
		return inner
	}), 5, sched)

	proto := factory.BuildProtocol("peer")
	tr := &closeTrackingTransport{}
	proto.MakeConnection(tr)

	sched.fireAll()
	assert.True(t, tr.aborted)
}

func TestSwitcherSwitchOnce(t *testing.T) {
	first := &countingProtocol{}
	second := &countingProtocol{}
	sw := NewSwitcher(first)

	sw.DataReceived([]byte("to first"))
	assert.Equal(t, 1, first.count())

	err := sw.Switch(second, []byte("leftover"))
	require.NoError(t, err)
	assert.Equal(t, 1, second.count())

	sw.DataReceived([]byte("to second"))
	assert.Equal(t, 2, second.count())
	assert.Equal(t, 1, first.count())

	err = sw.Switch(second, nil)
	assert.ErrorIs(t, err, ErrAlreadySwitched)
}

func TestTLSUpgraderOnce(t *testing.T) {
	server, client := net.Pipe()
	defer server.Close()
	defer client.Close()

	u := &TLSUpgrader{}
	cfg := &tls.Config{InsecureSkipVerify: true}

	_, err := u.StartTLS(server, cfg)
	require.NoError(t, err)
	assert.True(t, u.Upgraded())

	_, err = u.StartTLS(server, cfg)
	assert.ErrorIs(t, err, ErrOnlyOneTLS)
}
