// Package box implements the framed request/response command protocol
// from spec §4.8: an ordered key/value mapping ("box") serialized as
// length-prefixed fields, with call/answer correlation via an ask tag.
// Adapted from twisted's amp.py (AmpBox/BinaryBoxProtocol), redesigned
// per the project's own design notes to dispatch through a compile-time
// responder registry instead of amp.py's reflection-based command
// lookup.
package box

import (
	"bytes"
	"encoding/binary"

	"github.com/joeycumines/reactor/deferred"
)

const (
	// MaxKeyLen is the largest permitted key length: the wire format
	// uses a 2-byte length prefix, but invariant 6 additionally caps
	// keys at 255 bytes.
	MaxKeyLen = 255
	// MaxValueLen is the largest permitted value length, the full
	// range of the 2-byte length prefix.
	MaxValueLen = 65535
)

// Box is an ordered key/value mapping, the unit of exchange for the
// framed protocol. Key order is preserved because some responders (and
// all tests) depend on deterministic serialization.
type Box struct {
	keys   []string
	values map[string][]byte
}

// NewBox returns an empty Box.
func NewBox() *Box {
	return &Box{values: make(map[string][]byte)}
}

// Set assigns key=value, appending key to the iteration order the first
// time it's seen.
func (b *Box) Set(key string, value []byte) *Box {
	if _, exists := b.values[key]; !exists {
		b.keys = append(b.keys, key)
	}
	b.values[key] = value
	return b
}

// SetString is Set for a string value.
func (b *Box) SetString(key, value string) *Box {
	return b.Set(key, []byte(value))
}

// Get returns key's value and whether it was present.
func (b *Box) Get(key string) ([]byte, bool) {
	v, ok := b.values[key]
	return v, ok
}

// GetString is Get decoded as a string; empty string if absent.
func (b *Box) GetString(key string) string {
	v, _ := b.values[key]
	return string(v)
}

// Keys returns the box's keys in insertion order.
func (b *Box) Keys() []string {
	return append([]string(nil), b.keys...)
}

// ErrKeyTooLong and ErrValueTooLong are returned by Serialize when a
// box violates invariant 6.
var (
	ErrKeyTooLong   = deferred.NewFailureFromString("box: key must be 1 to 255 bytes", deferred.KindProtocolViolation)
	ErrValueTooLong = deferred.NewFailureFromString("box: value exceeds 65535 bytes", deferred.KindProtocolViolation)
	ErrEmptyBox     = deferred.NewFailureFromString("box: empty box is not permitted on the wire", deferred.KindProtocolViolation)
	ErrTruncated    = deferred.NewFailureFromString("box: truncated frame", deferred.KindProtocolViolation)
)

// Serialize encodes b as a sequence of 2-byte-length-prefixed key/value
// pairs terminated by a zero-length key, per spec §4.8's wire format.
func (b *Box) Serialize() ([]byte, error) {
	if len(b.keys) == 0 {
		return nil, ErrEmptyBox
	}
	var buf bytes.Buffer
	for _, key := range b.keys {
		if len(key) == 0 || len(key) > MaxKeyLen {
			return nil, ErrKeyTooLong
		}
		value := b.values[key]
		if len(value) > MaxValueLen {
			return nil, ErrValueTooLong
		}
		writeLengthPrefixed(&buf, []byte(key))
		writeLengthPrefixed(&buf, value)
	}
	// End-of-box marker: a zero-length key.
	binary.Write(&buf, binary.BigEndian, uint16(0))
	return buf.Bytes(), nil
}

func writeLengthPrefixed(buf *bytes.Buffer, data []byte) {
	binary.Write(buf, binary.BigEndian, uint16(len(data)))
	buf.Write(data)
}

// ParseBox decodes a single box from the front of data, returning the
// parsed Box, the number of bytes consumed, and whether a complete box
// was available. If the buffered bytes don't yet contain a full box,
// ok is false and no bytes should be consumed; a malformed box (e.g. an
// odd dangling value) returns an error.
func ParseBox(data []byte) (box *Box, consumed int, ok bool, err error) {
	b := NewBox()
	offset := 0

	for {
		keyLen, n, complete := readLength(data[offset:])
		if !complete {
			return nil, 0, false, nil
		}
		offset += n

		if keyLen == 0 {
			// End-of-box marker.
			if len(b.keys) == 0 {
				return nil, 0, false, ErrEmptyBox
			}
			return b, offset, true, nil
		}
		if keyLen > MaxKeyLen {
			return nil, 0, false, ErrKeyTooLong
		}
		if offset+int(keyLen) > len(data) {
			return nil, 0, false, nil
		}
		key := string(data[offset : offset+int(keyLen)])
		offset += int(keyLen)

		valueLen, n, complete := readLength(data[offset:])
		if !complete {
			return nil, 0, false, nil
		}
		offset += n
		if valueLen > MaxValueLen {
			return nil, 0, false, ErrValueTooLong
		}
		if offset+int(valueLen) > len(data) {
			return nil, 0, false, nil
		}
		value := append([]byte(nil), data[offset:offset+int(valueLen)]...)
		offset += int(valueLen)

		b.Set(key, value)
	}
}

func readLength(data []byte) (length uint16, consumed int, ok bool) {
	if len(data) < 2 {
		return 0, 0, false
	}
	return binary.BigEndian.Uint16(data[:2]), 2, true
}

// Decoder incrementally parses a stream of boxes out of a growing byte
// buffer, the role amp.py's BinaryBoxProtocol.dataReceived plays for
// stitching TCP chunks back into whole boxes.
type Decoder struct {
	buf []byte
}

// Feed appends data to the decoder's internal buffer and returns every
// complete box that buffer now contains, removing their bytes.
func (d *Decoder) Feed(data []byte) ([]*Box, error) {
	d.buf = append(d.buf, data...)

	var boxes []*Box
	for {
		b, consumed, ok, err := ParseBox(d.buf)
		if err != nil {
			return boxes, err
		}
		if !ok {
			break
		}
		boxes = append(boxes, b)
		d.buf = d.buf[consumed:]
	}
	return boxes, nil
}
