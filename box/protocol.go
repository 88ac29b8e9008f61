package box

import (
	"sync"

	"github.com/google/uuid"

	"github.com/joeycumines/reactor/deferred"
	"github.com/joeycumines/reactor/transport"
)

// Responder handles one incoming command's request box and returns the
// response box to send back (or an error to report as a remote
// failure). Registered ahead of time per command name: the compile-time
// responder registry spec §9 substitutes for amp.py's reflection-based
// dispatch.
type Responder func(args *Box) (*Box, error)

// Command bundles a command's wire name with the error codes its
// Responder may report, so callers can Check/Trap the resulting
// FailureValue's Kind the same way for a remote error as for a local
// one of the same shape.
type Command struct {
	Name   string
	Errors ErrorMap
}

// Protocol is a transport.Protocol driving the framed box wire format:
// incoming boxes bearing "_ask" are dispatched to a registered
// Responder and answered; boxes this side's own Call sent are
// correlated by ask tag to fire the matching Deferred.
type Protocol struct {
	transport.BaseProtocol

	responders map[string]Responder
	errorMaps  map[string]ErrorMap
	decoder    Decoder

	mu      sync.Mutex
	pending map[string]*deferred.Deferred
	// callCmd maps an outstanding Call's ask tag to its command name.
	callCmd map[string]string
	locked  bool // set true after a protocol switch (spec §4.6)
}

// NewProtocol builds a box Protocol with a fixed, compile-time
// responder registry: cmds and their Responders must line up 1:1.
func NewProtocol(cmds []Command, responders map[string]Responder) *Protocol {
	errorMaps := make(map[string]ErrorMap, len(cmds))
	for _, c := range cmds {
		if c.Errors != nil {
			errorMaps[c.Name] = c.Errors
		}
	}
	return &Protocol{
		responders: responders,
		errorMaps:  errorMaps,
		pending:    make(map[string]*deferred.Deferred),
		callCmd:    make(map[string]string),
	}
}

// Call sends a request box for command name, returning a Deferred that
// fires with the response Box on success or errbacks with a
// *deferred.FailureValue (Kind resolved via that command's ErrorMap) on
// failure.
func (p *Protocol) Call(name string, args *Box) *deferred.Deferred {
	d := deferred.New()

	if p.Transport == nil {
		d.Errback(deferred.NewFailureFromString("box: call on unconnected protocol", deferred.KindUserError))
		return d
	}

	tag := uuid.NewString()
	req := NewBox()
	for _, k := range args.Keys() {
		v, _ := args.Get(k)
		req.Set(k, v)
	}
	req.SetString(KeyCommand, name)
	req.SetString(KeyAsk, tag)

	p.mu.Lock()
	if p.locked {
		p.mu.Unlock()
		d.Errback(deferred.NewFailureFromString("box: protocol switched, no further commands accepted", deferred.KindProtocolViolation))
		return d
	}
	p.pending[tag] = d
	p.callCmd[tag] = name
	p.mu.Unlock()

	if err := p.send(req); err != nil {
		p.mu.Lock()
		delete(p.pending, tag)
		delete(p.callCmd, tag)
		p.mu.Unlock()
		d.Errback(err)
	}
	return d
}

func (p *Protocol) send(b *Box) error {
	data, err := b.Serialize()
	if err != nil {
		return err
	}
	return p.Transport.Write(data)
}

func (p *Protocol) DataReceived(data []byte) {
	boxes, err := p.decoder.Feed(data)
	for _, b := range boxes {
		p.handleBox(b)
	}
	if err != nil && p.Transport != nil {
		p.Transport.AbortConnection()
	}
}

func (p *Protocol) handleBox(b *Box) {
	if ask, ok := b.Get(KeyAsk); ok {
		p.handleAsk(string(ask), b)
		return
	}
	if answer, ok := b.Get(KeyAnswer); ok {
		p.resolvePending(string(answer), b, nil)
		return
	}
	if errTag, ok := b.Get(KeyError); ok {
		p.resolvePending(string(errTag), b, b)
		return
	}
}

func (p *Protocol) handleAsk(tag string, req *Box) {
	name := req.GetString(KeyCommand)
	responder, ok := p.responders[name]
	if !ok {
		p.sendError(tag, ErrorCodeUnhandled, "no responder registered for command "+name)
		return
	}

	resp, err := responder(req)
	if err != nil {
		p.sendError(tag, ErrorCodeUnknown, err.Error())
		return
	}

	out := NewBox()
	if resp != nil {
		for _, k := range resp.Keys() {
			v, _ := resp.Get(k)
			out.Set(k, v)
		}
	}
	out.SetString(KeyAnswer, tag)
	if sendErr := p.send(out); sendErr != nil && p.Transport != nil {
		p.Transport.AbortConnection()
	}
}

func (p *Protocol) sendError(tag string, code ErrorCode, description string) {
	out := NewBox()
	out.SetString(KeyError, tag)
	out.SetString(KeyErrorCode, string(code))
	out.SetString(KeyErrorDescription, description)
	if sendErr := p.send(out); sendErr != nil && p.Transport != nil {
		p.Transport.AbortConnection()
	}
}

func (p *Protocol) resolvePending(tag string, box *Box, errBox *Box) {
	p.mu.Lock()
	d, ok := p.pending[tag]
	name := p.callCmd[tag]
	if ok {
		delete(p.pending, tag)
		delete(p.callCmd, tag)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if errBox == nil {
		d.Callback(box)
		return
	}

	code := ErrorCode(errBox.GetString(KeyErrorCode))
	description := errBox.GetString(KeyErrorDescription)
	kind := DefaultErrorMap.KindFor(code)
	if m, ok := p.errorMaps[name]; ok {
		if k, known := m[code]; known {
			kind = k
		}
	}
	d.Errback(deferred.NewFailureFromString(description, kind))
}

// ConnectionLost fails every outstanding Call with the connection's
// closing reason, so no caller waits on a Deferred that will never fire.
func (p *Protocol) ConnectionLost(reason *deferred.FailureValue) {
	p.mu.Lock()
	pending := p.pending
	p.pending = make(map[string]*deferred.Deferred)
	p.callCmd = make(map[string]string)
	p.mu.Unlock()

	for _, d := range pending {
		d.Errback(reason)
	}
}

// Lock prevents any further Call from this side, the state a protocol
// switch (spec §4.6) leaves the outer box protocol in once control has
// handed off to a replacement protocol.
func (p *Protocol) Lock() {
	p.mu.Lock()
	p.locked = true
	p.mu.Unlock()
}

var _ transport.Protocol = (*Protocol)(nil)
