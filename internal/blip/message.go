// Package blip implements the BLIP messaging protocol: a multiplexed,
// framed, priority-and-ack-driven request/response protocol layered over a
// WebSocket.
package blip

import (
	"fmt"
)

// MessageType is the low 3 bits of a frame's flags byte.
type MessageType uint8

const (
	TypeRequest MessageType = iota
	TypeResponse
	TypeError
	TypeAckRequest
	TypeAckResponse
)

func (t MessageType) String() string {
	switch t {
	case TypeRequest:
		return "Request"
	case TypeResponse:
		return "Response"
	case TypeError:
		return "Error"
	case TypeAckRequest:
		return "AckRequest"
	case TypeAckResponse:
		return "AckResponse"
	default:
		return fmt.Sprintf("MessageType(%d)", uint8(t))
	}
}

// Flags is the frame header's single flags byte: the low 3 bits hold the
// MessageType, the rest are independent bit flags.
type Flags uint8

const (
	typeMask Flags = 0x07

	FlagCompressed Flags = 0x08
	FlagUrgent     Flags = 0x10
	FlagNoReply    Flags = 0x20
	FlagMoreComing Flags = 0x40
)

func (f Flags) Type() MessageType   { return MessageType(f & typeMask) }
func (f Flags) Has(bit Flags) bool  { return f&bit != 0 }
func withType(f Flags, t MessageType) Flags {
	return (f &^ typeMask) | Flags(t)
}

// MessageNo is a per-direction, per-connection monotonically increasing
// message identifier.
type MessageNo uint64

// maxPropertiesSize is the enforced ceiling on an encoded properties slab.
const maxPropertiesSize = 100 * 1024

// Properties is a BLIP message's header dictionary: an ordered set of
// key/value string pairs.
type Properties struct {
	keys   []string
	values []string
}

// NewProperties builds a Properties set from alternating key, value pairs.
func NewProperties(kv ...string) *Properties {
	p := &Properties{}
	for i := 0; i+1 < len(kv); i += 2 {
		p.Set(kv[i], kv[i+1])
	}
	return p
}

// Get returns the value for key and whether it was present.
func (p *Properties) Get(key string) (string, bool) {
	if p == nil {
		return "", false
	}
	for i, k := range p.keys {
		if k == key {
			return p.values[i], true
		}
	}
	return "", false
}

// Set adds or replaces the value for key.
func (p *Properties) Set(key, value string) {
	for i, k := range p.keys {
		if k == key {
			p.values[i] = value
			return
		}
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
}

// Each calls fn for every key/value pair, in insertion order.
func (p *Properties) Each(fn func(key, value string)) {
	if p == nil {
		return
	}
	for i, k := range p.keys {
		fn(k, p.values[i])
	}
}

// Profile is shorthand for the conventional "Profile" property, which names
// the handler that should receive a request.
func (p *Properties) Profile() string {
	v, _ := p.Get(PropProfile)
	return v
}

// encode renders the properties as BLIP's null-terminated key/value slab:
// each string (including the final one) is followed by a single 0x00 byte.
func (p *Properties) encode() []byte {
	if p == nil || len(p.keys) == 0 {
		return nil
	}
	var buf []byte
	for i, k := range p.keys {
		buf = append(buf, k...)
		buf = append(buf, 0)
		buf = append(buf, p.values[i]...)
		buf = append(buf, 0)
	}
	return buf
}

// decodeProperties parses the null-terminated key/value slab produced by
// encode. The slab must end with the final value's terminator; an odd
// number of fields (a key with no terminated value) is a protocol error.
func decodeProperties(buf []byte) (*Properties, error) {
	p := &Properties{}
	if len(buf) == 0 {
		return p, nil
	}
	if buf[len(buf)-1] != 0 {
		return nil, &Error{Kind: ProtocolViolation, Message: "properties slab not null-terminated"}
	}
	fields := splitNulTerminated(buf)
	if len(fields)%2 != 0 {
		return nil, &Error{Kind: ProtocolViolation, Message: "properties slab has an unterminated trailing key"}
	}
	for i := 0; i < len(fields); i += 2 {
		p.Set(fields[i], fields[i+1])
	}
	return p, nil
}

func splitNulTerminated(buf []byte) []string {
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			out = append(out, string(buf[start:i]))
			start = i + 1
		}
	}
	return out
}
