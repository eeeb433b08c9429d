package blip

import "github.com/adred-codev/blip/internal/varint"

// incomingAckThreshold is how many raw received bytes of a single message
// trigger a synthesized ack frame back to the peer.
const incomingAckThreshold = 50000

// MessageIn is an incoming message being assembled frame by frame.
type MessageIn struct {
	msgNo   MessageNo
	msgType MessageType
	urgent  bool
	noReply bool

	propertiesSize   int
	propertiesKnown  bool
	slab             []byte
	body             []byte
	properties       *Properties

	rawBytesReceived uint64
	ackedBytes       uint64
	complete         bool
	began            bool

	errDomain string
	errCode   int
}

// addFrame appends one frame's decompressed payload, routing bytes into the
// properties slab until propertiesSize is reached and into body afterward.
// last reports whether this was the frame with no MoreComing flag.
func (m *MessageIn) addFrame(decoded []byte, last bool) error {
	m.rawBytesReceived += uint64(len(decoded))
	if !m.propertiesKnown {
		n, consumed, err := readUvarintPrefix(decoded)
		if err != nil {
			return &Error{Kind: ProtocolViolation, Message: "malformed properties-size prefix", Cause: err}
		}
		if n > maxPropertiesSize {
			return &Error{Kind: ProtocolViolation, Message: "properties size over limit"}
		}
		m.propertiesSize = int(n)
		m.propertiesKnown = true
		decoded = decoded[consumed:]
	}
	for len(decoded) > 0 && len(m.slab) < m.propertiesSize {
		need := m.propertiesSize - len(m.slab)
		n := need
		if n > len(decoded) {
			n = len(decoded)
		}
		m.slab = append(m.slab, decoded[:n]...)
		decoded = decoded[n:]
	}
	if len(m.slab) == m.propertiesSize && m.properties == nil {
		props, err := decodeProperties(m.slab)
		if err != nil {
			return err
		}
		m.properties = props
	}
	m.body = append(m.body, decoded...)
	if last {
		if len(m.slab) < m.propertiesSize {
			return &Error{Kind: ProtocolViolation, Message: "message ended before its properties"}
		}
		m.complete = true
	}
	return nil
}

// Properties returns the message's header dictionary, or nil until its
// properties slab has been fully received, which may take more than one
// frame.
func (m *MessageIn) Properties() *Properties { return m.properties }

// Body returns the bytes received so far (the complete body, once Complete
// fires).
func (m *MessageIn) Body() []byte { return m.body }

// Profile is shorthand for Properties().Profile().
func (m *MessageIn) Profile() string { return m.properties.Profile() }

// Error reports the PeerError this message carries, if its type is
// TypeError.
func (m *MessageIn) Error() *Error {
	if m.msgType != TypeError {
		return nil
	}
	return &Error{Kind: PeerError, Domain: m.errDomain, Code: m.errCode, Message: "peer returned an error"}
}

func readUvarintPrefix(buf []byte) (uint64, int, error) {
	return varint.Uvarint(buf)
}
