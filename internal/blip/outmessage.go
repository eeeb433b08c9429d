package blip

import (
	"sync"

	"github.com/adred-codev/blip/internal/varint"
)

// defaultFrameSize and urgentFrameSize bound the body bytes per frame; see
// Connection.frameSizeFor for which one a given frame gets.
const (
	defaultFrameSize = 4 * 1024
	urgentFrameSize  = 16 * 1024
)

// icebox freezes an outgoing message once this many bytes are unacked.
const icedThreshold = 128 * 1024

// DataSource supplies a MessageOut's body incrementally for streamed
// content too large to hold in memory. It returns a fresh slice each call,
// or a zero-length slice to signal EOF.
type DataSource func() ([]byte, error)

// Progress describes a MessageOut's lifecycle for the host's optional
// progress callback.
type Progress int

const (
	ProgressSending Progress = iota
	ProgressAwaitingReply
	ProgressComplete
	ProgressDisconnected
)

// MessageBuilder assembles an outgoing message before it is sent.
type MessageBuilder struct {
	Properties *Properties
	Body       []byte
	DataSource DataSource
	Urgent     bool
	NoReply    bool
	Compressed bool
}

// NewRequest returns a builder for a request with the given profile.
func NewRequest(profile string) *MessageBuilder {
	b := &MessageBuilder{Properties: NewProperties()}
	b.Properties.Set(PropProfile, profile)
	return b
}

// MessageOut is a message queued for transmission: either a request
// awaiting a response, or a reply to an incoming request.
type MessageOut struct {
	mu sync.Mutex

	msgNo      MessageNo
	msgType    MessageType
	urgent     bool
	noReply    bool
	compressed bool

	properties []byte // encoded once, sent with frame 0
	body       []byte
	source     DataSource

	sentProperties bool
	bodyOffset     int
	unackedBytes   uint64
	totalSentBytes uint64
	iced           bool

	onProgress func(Progress, *MessageIn, error)
}

func newMessageOut(msgNo MessageNo, msgType MessageType, b *MessageBuilder) *MessageOut {
	m := &MessageOut{
		msgNo:      msgNo,
		msgType:    msgType,
		urgent:     b.Urgent,
		noReply:    b.NoReply,
		compressed: b.Compressed,
		properties: b.Properties.encode(),
		body:       b.Body,
		source:     b.DataSource,
	}
	return m
}

// notify invokes the message's progress callback, if any.
func (m *MessageOut) notify(p Progress, resp *MessageIn, err error) {
	if m.onProgress != nil {
		m.onProgress(p, resp, err)
	}
}

// nextFrameBody pulls the next frame's payload, reporting whether more
// frames remain after this one. Frame 0 always carries the whole
// properties-size prefix and properties slab, even when those alone exceed
// maxBody; body/source bytes then fill the frame up to maxBody in total.
func (m *MessageOut) nextFrameBody(maxBody int) (payload []byte, moreComing bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []byte
	if !m.sentProperties {
		out = append(out, encodePropertiesPrefix(m.properties)...)
		m.sentProperties = true
	}
	remaining := maxBody - len(out)
	for remaining > 0 {
		if m.bodyOffset < len(m.body) {
			n := remaining
			if avail := len(m.body) - m.bodyOffset; avail < n {
				n = avail
			}
			out = append(out, m.body[m.bodyOffset:m.bodyOffset+n]...)
			m.bodyOffset += n
			remaining -= n
			continue
		}
		if m.source != nil {
			chunk, serr := m.source()
			if serr != nil {
				return out, false, serr
			}
			if len(chunk) == 0 {
				m.source = nil
				break
			}
			m.body = append(m.body, chunk...)
			continue
		}
		break
	}
	done := m.bodyOffset >= len(m.body) && m.source == nil
	return out, !done, nil
}

func encodePropertiesPrefix(props []byte) []byte {
	prefixed := varint.AppendUvarint(nil, uint64(len(props)))
	return append(prefixed, props...)
}
