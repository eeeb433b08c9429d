package blip

import (
	"fmt"
	"sync"

	"github.com/adred-codev/blip/internal/metrics"
)

// State is a Connection's position in its lifecycle.
type State int

const (
	StateClosed State = iota
	StateConnecting
	StateConnected
	StateClosing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "Closed"
	case StateConnecting:
		return "Connecting"
	case StateConnected:
		return "Connected"
	case StateClosing:
		return "Closing"
	case StateDisconnected:
		return "Disconnected"
	default:
		return "Unknown"
	}
}

// HandlerFunc answers an incoming request. The returned builder, if
// non-nil, is sent back as the response; a nil return with no error leaves
// the request unanswered (legal only if it was sent NoReply).
type HandlerFunc func(req *MessageIn) (*MessageBuilder, error)

type handlerEntry struct {
	profile    string
	atBeginning bool
	fn         HandlerFunc
}

// Delegate receives Connection-level lifecycle events. All callbacks run
// inline on the engine's actor goroutine and must not block.
type Delegate interface {
	OnHTTPResponse(status int, headers map[string][]string)
	OnTLSCertificate(der []byte)
	OnConnect()
	OnClose(status int, newState State)
	OnRequestBeginning(msg *MessageIn)
	OnRequestReceived(msg *MessageIn)
}

// NopConnectionDelegate implements Delegate with no-ops, for embedding.
type NopConnectionDelegate struct{}

func (NopConnectionDelegate) OnHTTPResponse(int, map[string][]string)   {}
func (NopConnectionDelegate) OnTLSCertificate([]byte)                    {}
func (NopConnectionDelegate) OnConnect()                                {}
func (NopConnectionDelegate) OnClose(int, State)                        {}
func (NopConnectionDelegate) OnRequestBeginning(*MessageIn)              {}
func (NopConnectionDelegate) OnRequestReceived(*MessageIn)               {}

// DefaultCompressionLevel is the deflate level hosts should use when the
// BLIPCompressionLevel option is absent.
const DefaultCompressionLevel = 6

// Options configures a Connection at construction.
type Options struct {
	// CompressionLevel is 0..9; 0 disables compression entirely.
	CompressionLevel int
}

// Connection is one BLIP engine instance atop a WebSocket. Its internals —
// outbox, icebox, the pending-message maps, the codec, and the handler
// registry — are all private to its single actor goroutine. SendRequest,
// SetRequestHandler and Close post a command and return immediately; State
// posts a command and waits for the actor's answer.
type Connection struct {
	ws       WebSocket
	delegate Delegate
	opts     Options

	cmds chan func()
	done chan struct{}

	// actor-private state below; touched only inside the command loop.
	state State
	codec *codec

	nextMsgNo        MessageNo
	lastReceivedReqNo MessageNo

	outbox []*MessageOut
	icebox []*MessageOut

	// Running CRC32C accumulators over the raw (pre-compression) payload
	// bytes of every non-ack frame, one per direction. writeChecksum pairs
	// with the peer's read accumulator and vice versa.
	writeChecksum uint32
	readChecksum  uint32

	pendingResponses map[MessageNo]*MessageOut
	pendingRequests  map[MessageNo]*MessageIn
	incomingResponses map[MessageNo]*MessageIn

	handlers []handlerEntry

	writable bool

	closeOnce sync.Once
}

// NewConnection builds a Connection over ws. Call Start to begin.
func NewConnection(ws WebSocket, delegate Delegate, opts Options) (*Connection, error) {
	level := opts.CompressionLevel
	if level < 0 || level > 9 {
		return nil, fmt.Errorf("blip: invalid BLIPCompressionLevel %d", level)
	}
	c, err := newCodec(level)
	if err != nil {
		return nil, err
	}
	conn := &Connection{
		ws:                ws,
		delegate:          delegate,
		opts:              opts,
		cmds:              make(chan func(), 64),
		done:              make(chan struct{}),
		codec:             c,
		nextMsgNo:         1,
		pendingResponses:  map[MessageNo]*MessageOut{},
		pendingRequests:   map[MessageNo]*MessageIn{},
		incomingResponses: map[MessageNo]*MessageIn{},
	}
	return conn, nil
}

// Start connects the underlying WebSocket and begins the actor loop. The
// socket is handed a posting wrapper, not the Connection itself, so that
// a transport invoking delegate callbacks from its own read-pump
// goroutine still serializes onto the actor loop rather than racing it.
func (c *Connection) Start() error {
	go c.run()
	c.post(func() {
		c.state = StateConnecting
		if err := c.ws.Connect(actorDelegate{c}); err != nil {
			c.failTransport(err)
		}
	})
	return nil
}

// actorDelegate reposts every WebSocketDelegate callback onto the
// connection's actor goroutine. Transports must invoke delegate methods
// only through a value like this one, never by holding a raw *Connection.
type actorDelegate struct{ c *Connection }

func (d actorDelegate) OnHTTPResponse(status int, headers map[string][]string) {
	d.c.post(func() { d.c.OnHTTPResponse(status, headers) })
}
func (d actorDelegate) OnTLSCertificate(der []byte) {
	d.c.post(func() { d.c.OnTLSCertificate(der) })
}
func (d actorDelegate) OnConnect() { d.c.post(d.c.OnConnect) }
func (d actorDelegate) OnClose(status int) {
	d.c.post(func() { d.c.OnClose(status) })
}
func (d actorDelegate) OnWritable() { d.c.post(d.c.OnWritable) }
func (d actorDelegate) OnMessage(data []byte, isBinary bool) {
	d.c.post(func() { d.c.OnMessage(data, isBinary) })
}

// run is the connection's single serial command loop.
func (c *Connection) run() {
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.done:
			return
		}
	}
}

// post enqueues fn to run on the actor goroutine. Safe to call from any
// goroutine; a no-op once the connection has terminated.
func (c *Connection) post(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

// SendRequest builds and enqueues an outgoing request, returning the
// MessageOut handle for progress tracking. onProgress, if non-nil, is
// invoked on the actor goroutine for each lifecycle event.
func (c *Connection) SendRequest(b *MessageBuilder, onProgress func(Progress, *MessageIn, error)) *MessageOut {
	m := newMessageOut(0, TypeRequest, b)
	m.onProgress = onProgress
	c.post(func() {
		if len(m.properties) > maxPropertiesSize {
			m.notify(ProgressDisconnected, nil, &Error{Kind: ProtocolViolation, Message: "properties exceed size limit"})
			return
		}
		if c.state != StateConnected && c.state != StateConnecting {
			m.notify(ProgressDisconnected, nil, cancelledError())
			return
		}
		m.msgNo = c.nextMsgNo
		c.nextMsgNo++
		m.compressed = m.compressed || c.codec.enabled()
		c.enqueue(m)
	})
	return m
}

// SetRequestHandler registers fn to receive requests whose Profile property
// equals profile. If atBeginning, fn is invoked once properties are
// complete (body may still be streaming); otherwise once the request is
// fully received.
func (c *Connection) SetRequestHandler(profile string, atBeginning bool, fn HandlerFunc) {
	c.post(func() {
		c.handlers = append(c.handlers, handlerEntry{profile, atBeginning, fn})
	})
}

// Close initiates a graceful shutdown.
func (c *Connection) Close(code int, message string) {
	c.post(func() {
		if c.state == StateClosed || c.state == StateClosing || c.state == StateDisconnected {
			return
		}
		c.state = StateClosing
		_ = c.ws.Close(code, message)
	})
}

// Terminate tears down reference cycles. Only legal once closed.
func (c *Connection) Terminate() error {
	if c.State() != StateClosed && c.State() != StateDisconnected {
		return fmt.Errorf("blip: Terminate called while connection is %v", c.State())
	}
	c.closeOnce.Do(func() { close(c.done) })
	return nil
}

// State reports the connection's current lifecycle state. Safe to call
// from any goroutine; may be stale by one transition.
func (c *Connection) State() State {
	result := make(chan State, 1)
	select {
	case c.cmds <- func() { result <- c.state }:
		return <-result
	case <-c.done:
		return StateClosed
	}
}

// enqueue inserts an outgoing message into the outbox and nudges the
// writer. Requeues from the write loop itself use insert directly.
func (c *Connection) enqueue(m *MessageOut) {
	c.insert(m)
	c.kickWriter()
}

// insert places m in the outbox per the priority discipline: an urgent
// message goes in right after the last existing urgent message, but leaves
// one non-urgent message between urgents when possible, so urgent traffic
// cannot completely starve regular traffic. Non-urgent messages are FIFO.
func (c *Connection) insert(m *MessageOut) {
	if !m.urgent {
		c.outbox = append(c.outbox, m)
		return
	}
	insertAt := len(c.outbox)
	lastUrgent := -1
	for i, q := range c.outbox {
		if q.urgent {
			lastUrgent = i
		}
	}
	if lastUrgent >= 0 {
		insertAt = lastUrgent + 1
		if insertAt < len(c.outbox) && !c.outbox[insertAt].urgent {
			insertAt++ // leave the one non-urgent message already there
		}
	}
	c.outbox = append(c.outbox, nil)
	copy(c.outbox[insertAt+1:], c.outbox[insertAt:])
	c.outbox[insertAt] = m
}

func (c *Connection) kickWriter() {
	if c.writable {
		c.pumpOutbox()
	}
}

// pumpOutbox drains as much of the outbox as the socket will accept.
func (c *Connection) pumpOutbox() {
	for len(c.outbox) > 0 {
		m := c.outbox[0]
		size := c.frameSizeFor(m)
		body, more, err := m.nextFrameBody(size)
		if err != nil {
			m.notify(ProgressDisconnected, nil, err)
			c.outbox = c.outbox[1:]
			continue
		}
		flags := withType(0, m.msgType)
		if m.urgent {
			flags |= FlagUrgent
		}
		if m.noReply {
			flags |= FlagNoReply
		}
		payload := body
		if m.compressed && c.codec.enabled() {
			compressed, cerr := c.codec.compress(body)
			if cerr != nil {
				m.notify(ProgressDisconnected, nil, cerr)
				c.outbox = c.outbox[1:]
				continue
			}
			payload = compressed
			flags |= FlagCompressed
		}
		if more {
			flags |= FlagMoreComing
		}
		c.writeChecksum = updateChecksum(c.writeChecksum, body)
		frame := encodeFrameHeader(nil, m.msgNo, flags)
		frame = append(frame, payload...)
		frame = appendChecksumValue(frame, c.writeChecksum)

		m.totalSentBytes += uint64(len(body))
		m.unackedBytes += uint64(len(body))
		m.notify(ProgressSending, nil, nil)

		stillWritable, serr := c.ws.Send(frame)
		if serr != nil {
			c.failTransport(serr)
			return
		}
		c.writable = stillWritable
		metrics.FramesSent.WithLabelValues(m.msgType.String()).Inc()
		metrics.BytesSent.Add(float64(len(frame)))

		c.outbox = c.outbox[1:]
		switch {
		case more:
			if m.unackedBytes >= icedThreshold {
				m.iced = true
				c.icebox = append(c.icebox, m)
				metrics.MessagesIced.Inc()
			} else {
				c.insert(m)
			}
		default:
			if m.msgType == TypeRequest && !m.noReply {
				c.pendingResponses[m.msgNo] = m
				m.notify(ProgressAwaitingReply, nil, nil)
			}
		}
		if !c.writable {
			return
		}
	}
}

// frameSizeFor picks the per-frame body budget: the larger size for an
// urgent message, for a message alone in the outbox, or when the next queued
// message is not urgent; the default size only for a non-urgent message with
// an urgent one queued behind it.
func (c *Connection) frameSizeFor(m *MessageOut) int {
	if m.urgent {
		return urgentFrameSize
	}
	if len(c.outbox) == 1 {
		return urgentFrameSize
	}
	if !c.outbox[1].urgent {
		return urgentFrameSize
	}
	return defaultFrameSize
}

func (c *Connection) failTransport(err error) {
	c.cancelEverything(transportError(err))
	c.state = StateDisconnected
	c.delegate.OnClose(-1, c.state)
}

// cancelEverything delivers a single terminal progress event to every
// outstanding outgoing message, including requests still awaiting a reply.
// Partially received incoming messages are discarded without any event.
func (c *Connection) cancelEverything(err error) {
	for _, m := range c.outbox {
		m.notify(ProgressDisconnected, nil, err)
	}
	for _, m := range c.icebox {
		m.notify(ProgressDisconnected, nil, err)
	}
	for _, m := range c.pendingResponses {
		m.notify(ProgressDisconnected, nil, err)
	}
	c.outbox = nil
	c.icebox = nil
	c.pendingResponses = map[MessageNo]*MessageOut{}
	c.pendingRequests = map[MessageNo]*MessageIn{}
	c.incomingResponses = map[MessageNo]*MessageIn{}
}
