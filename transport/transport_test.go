package transport

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/reactor/deferred"
)

// inlineSubmit runs callbacks synchronously, standing in for
// Reactor.Submit in tests that don't need a live reactor.
func inlineSubmit(fn func()) error {
	fn()
	return nil
}

type recordingProtocol struct {
	mu          sync.Mutex
	made        bool
	received    [][]byte
	lostReason  *deferred.FailureValue
	lostCh      chan struct{}
	transport   Transport
}

func newRecordingProtocol() *recordingProtocol {
	return &recordingProtocol{lostCh: make(chan struct{})}
}

func (p *recordingProtocol) MakeConnection(t Transport) {
	p.mu.Lock()
	p.transport = t
	p.mu.Unlock()
}
func (p *recordingProtocol) ConnectionMade() {
	p.mu.Lock()
	p.made = true
	p.mu.Unlock()
}
func (p *recordingProtocol) DataReceived(data []byte) {
	p.mu.Lock()
	p.received = append(p.received, append([]byte(nil), data...))
	p.mu.Unlock()
}
func (p *recordingProtocol) ConnectionLost(reason *deferred.FailureValue) {
	p.mu.Lock()
	p.lostReason = reason
	p.mu.Unlock()
	close(p.lostCh)
}

// TestTCPServerRoundTrip covers the connection lifecycle invariant: one
// MakeConnection/ConnectionMade, N DataReceived, one ConnectionLost.
func TestTCPServerRoundTrip(t *testing.T) {
	server, err := ListenTCP("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer server.Stop()

	proto := newRecordingProtocol()
	factory := FactoryFunc(func(peer string) Protocol { return proto })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go server.Serve(ctx, factory, inlineSubmit)

	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello"))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		proto.mu.Lock()
		defer proto.mu.Unlock()
		return len(proto.received) == 1
	}, time.Second, 5*time.Millisecond)

	proto.mu.Lock()
	assert.True(t, proto.made)
	assert.Equal(t, []byte("hello"), proto.received[0])
	proto.mu.Unlock()

	conn.Close()

	select {
	case <-proto.lostCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for ConnectionLost")
	}
	assert.NotNil(t, proto.lostReason)
}

func TestReconnectingClientFactoryBackoff(t *testing.T) {
	inner := &BaseClientFactory{Build: func(peer string) Protocol { return newRecordingProtocol() }}

	var scheduled []float64
	var mu sync.Mutex
	sched := schedulerFunc(func(delay float64, fn func()) deferred.Canceller {
		mu.Lock()
		scheduled = append(scheduled, delay)
		mu.Unlock()
		return noopCanceller{}
	})

	rf := NewReconnectingClientFactory(inner, sched, func() *Connector { return nil })
	rf.randFn = func() float64 { return 0.5 } // neutralize jitter

	rf.ClientConnectionFailed(nil, nil)
	rf.ClientConnectionFailed(nil, nil)
	rf.ClientConnectionFailed(nil, nil)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, scheduled, 3)
	assert.InDelta(t, delayFactor, scheduled[0], 0.05)
	assert.InDelta(t, delayFactor*delayFactor, scheduled[1], 0.2)
	assert.InDelta(t, delayFactor*delayFactor*delayFactor, scheduled[2], 0.8)
}

func TestReconnectingClientFactoryStopTrying(t *testing.T) {
	inner := &BaseClientFactory{}
	called := 0
	sched := schedulerFunc(func(delay float64, fn func()) deferred.Canceller {
		called++
		return noopCanceller{}
	})
	rf := NewReconnectingClientFactory(inner, sched, func() *Connector { return nil })
	rf.StopTrying()
	rf.ClientConnectionFailed(nil, nil)
	assert.Equal(t, 0, called)
}

type schedulerFunc func(delay float64, fn func()) deferred.Canceller

func (f schedulerFunc) ScheduleOnce(delay float64, fn func()) deferred.Canceller {
	return f(delay, fn)
}

type noopCanceller struct{}

func (noopCanceller) Cancel() {}

// TestBaseFactoryRefCountsStartStopOnce verifies that StartFactory/
// StopFactory each fire exactly once across multiple attach/detach pairs,
// matching spec §3/§4.5's numPorts-based doStart/doStop contract.
func TestBaseFactoryRefCountsStartStopOnce(t *testing.T) {
	var starts, stops int
	f := &BaseFactory{
		OnStartFactory: func() error { starts++; return nil },
		OnStopFactory:  func() { stops++ },
	}

	require.NoError(t, f.DoStart())
	require.NoError(t, f.DoStart())
	assert.Equal(t, 1, starts)
	assert.Equal(t, 2, f.NumPorts())

	f.DoStop()
	assert.Equal(t, 0, stops)
	f.DoStop()
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, f.NumPorts())

	// Extra DoStop beyond the matching DoStart count is a no-op.
	f.DoStop()
	assert.Equal(t, 1, stops)
}

func TestTCPServerAttachesAndDetachesFactory(t *testing.T) {
	server, err := ListenTCP("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	var starts, stops int
	factory := &BaseClientFactory{
		Build: func(peer string) Protocol { return newRecordingProtocol() },
	}
	factory.OnStartFactory = func() error { starts++; return nil }
	factory.OnStopFactory = func() { stops++ }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		server.Serve(ctx, factory, inlineSubmit)
		close(done)
	}()

	require.Eventually(t, func() bool { return factory.NumPorts() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, starts)

	server.Stop()
	<-done
	assert.Equal(t, 1, stops)
	assert.Equal(t, 0, factory.NumPorts())
}

func TestConnectorGetDestination(t *testing.T) {
	c := NewConnector("tcp", "example.invalid:1234", nil, nil, nil, nil)
	dest := c.GetDestination()
	assert.Equal(t, "tcp", dest.Network())
	assert.Equal(t, "example.invalid:1234", dest.String())
}
