package blip

import (
	"strconv"

	"github.com/adred-codev/blip/internal/metrics"
)

// This file implements WebSocketDelegate on *Connection: the callbacks the
// transport triggers. They always run on the actor goroutine, because
// transports are handed an actorDelegate (connection.go), which reposts each
// callback onto the actor loop.

func (c *Connection) OnHTTPResponse(status int, headers map[string][]string) {
	c.delegate.OnHTTPResponse(status, headers)
}

func (c *Connection) OnTLSCertificate(der []byte) {
	c.delegate.OnTLSCertificate(der)
}

func (c *Connection) OnConnect() {
	c.state = StateConnected
	c.writable = true
	c.delegate.OnConnect()
	c.pumpOutbox()
}

func (c *Connection) OnClose(status int) {
	wasNormal := status == 1000
	c.cancelEverything(cancelledError())
	if wasNormal {
		c.state = StateClosed
	} else {
		c.state = StateDisconnected
	}
	c.delegate.OnClose(status, c.state)
}

func (c *Connection) OnWritable() {
	c.writable = true
	c.pumpOutbox()
}

// OnMessage handles one inbound WebSocket frame. Text frames are ignored
// (with no warning sink available at this layer beyond the protocol error
// path reserved for binary malformed frames).
func (c *Connection) OnMessage(data []byte, isBinary bool) {
	if !isBinary {
		return
	}
	if c.state == StateDisconnected || c.state == StateClosed {
		return // a decode error already tore the connection down
	}
	if err := c.handleFrame(data); err != nil {
		c.protocolFailure(err)
	}
}

func (c *Connection) protocolFailure(err error) {
	c.cancelEverything(err)
	c.state = StateDisconnected
	_ = c.ws.Close(1002, "protocol error")
	c.delegate.OnClose(1002, c.state)
}

// handleFrame parses, decompresses, checksums, and dispatches a single
// received BLIP frame. Ack frames carry no checksum and bypass the codec
// entirely; everything else ends in a 4-byte trailer holding the sender's
// running CRC, verified here against this direction's own accumulator.
func (c *Connection) handleFrame(raw []byte) error {
	msgNo, flags, consumed, err := decodeFrameHeader(raw)
	if err != nil {
		return err
	}
	msgType := flags.Type()
	metrics.FramesReceived.WithLabelValues(msgType.String()).Inc()
	metrics.BytesReceived.Add(float64(len(raw)))

	if msgType == TypeAckRequest || msgType == TypeAckResponse {
		return c.handleAck(msgNo, msgType, raw[consumed:])
	}

	payload, sum, ok := splitChecksum(raw[consumed:])
	if !ok {
		return &Error{Kind: ProtocolViolation, Message: "frame truncated before checksum"}
	}

	var decoded []byte
	if flags.Has(FlagCompressed) {
		decoded, err = c.codec.decompress(nil, payload)
		if err != nil {
			return &Error{Kind: ProtocolViolation, Message: "decompression failed", Cause: err}
		}
	} else {
		decoded = payload
	}
	c.readChecksum = updateChecksum(c.readChecksum, decoded)
	if c.readChecksum != sum {
		metrics.ChecksumFailures.Inc()
		return &Error{Kind: ProtocolViolation, Message: "frame checksum mismatch"}
	}

	more := flags.Has(FlagMoreComing)

	switch msgType {
	case TypeRequest:
		return c.handleIncomingRequest(msgNo, flags, decoded, !more)
	case TypeResponse, TypeError:
		return c.handleIncomingResponse(msgNo, msgType, decoded, !more)
	default:
		// Unknown message types are ignored for forward compatibility.
		return nil
	}
}

func (c *Connection) handleIncomingRequest(msgNo MessageNo, flags Flags, decoded []byte, last bool) error {
	msg, existing := c.pendingRequests[msgNo]
	if !existing {
		if msgNo != c.lastReceivedReqNo+1 {
			return &Error{Kind: ProtocolViolation, Message: "incoming request number out of order"}
		}
		c.lastReceivedReqNo = msgNo
		msg = &MessageIn{msgNo: msgNo, msgType: TypeRequest, urgent: flags.Has(FlagUrgent), noReply: flags.Has(FlagNoReply)}
		c.pendingRequests[msgNo] = msg
	}
	if err := msg.addFrame(decoded, last); err != nil {
		return err
	}
	c.maybeAck(msg)

	// The "beginning" callbacks require a complete properties dictionary,
	// which can straddle frames when the slab is large.
	if !msg.began && msg.properties != nil {
		msg.began = true
		c.delegate.OnRequestBeginning(msg)
		for _, h := range c.handlers {
			if h.atBeginning && h.profile == msg.Profile() {
				c.dispatch(h, msg)
			}
		}
	}
	if last {
		delete(c.pendingRequests, msgNo)
		c.delegate.OnRequestReceived(msg)
		dispatched := false
		for _, h := range c.handlers {
			if !h.atBeginning && h.profile == msg.Profile() {
				c.dispatch(h, msg)
				dispatched = true
			}
		}
		if !dispatched && !msg.noReply {
			c.sendAutoReply(msg, &Error{Kind: ProtocolViolation, Domain: ErrorDomainBLIP, Code: 404, Message: "no handler for profile"})
		}
	}
	return nil
}

func (c *Connection) dispatch(h handlerEntry, msg *MessageIn) {
	defer func() {
		if r := recover(); r != nil && !msg.noReply {
			c.sendAutoReply(msg, &Error{Kind: ProtocolViolation, Domain: ErrorDomainBLIP, Code: 501, Message: "unexpected exception"})
		}
	}()
	reply, err := h.fn(msg)
	if err != nil {
		if !msg.noReply {
			c.sendAutoReply(msg, err)
		}
		return
	}
	if reply != nil && !msg.noReply {
		c.sendResponse(msg.msgNo, reply)
	}
}

func (c *Connection) sendAutoReply(req *MessageIn, err error) {
	b := &MessageBuilder{Properties: NewProperties()}
	domain, code, message := ErrorDomainBLIP, 501, err.Error()
	if be, ok := err.(*Error); ok {
		if be.Domain != "" {
			domain = be.Domain
		}
		if be.Code != 0 {
			code = be.Code
		}
		message = be.Message
	}
	b.Properties.Set(PropErrorDomain, domain)
	b.Properties.Set(PropErrorCode, strconv.Itoa(code))
	b.Body = []byte(message)
	m := newMessageOut(req.msgNo, TypeError, b)
	m.compressed = c.codec.enabled()
	c.enqueue(m)
}

func (c *Connection) sendResponse(msgNo MessageNo, b *MessageBuilder) {
	m := newMessageOut(msgNo, TypeResponse, b)
	m.compressed = m.compressed || c.codec.enabled()
	c.enqueue(m)
}

func (c *Connection) handleIncomingResponse(msgNo MessageNo, msgType MessageType, decoded []byte, last bool) error {
	out, ok := c.pendingResponses[msgNo]
	if !ok {
		return nil // response to a message we no longer track; ignore
	}
	msg, assembling := c.incomingResponses[msgNo]
	if !assembling {
		msg = &MessageIn{msgNo: msgNo, msgType: msgType}
		c.incomingResponses[msgNo] = msg
	}
	if err := msg.addFrame(decoded, last); err != nil {
		return err
	}
	c.maybeAck(msg)
	if msgType == TypeError {
		if d, ok := msg.properties.Get(PropErrorDomain); ok {
			msg.errDomain = d
		}
		if cd, ok := msg.properties.Get(PropErrorCode); ok {
			if n, err := strconv.Atoi(cd); err == nil {
				msg.errCode = n
			}
		}
	}
	if last {
		delete(c.pendingResponses, msgNo)
		delete(c.incomingResponses, msgNo)
		if msgType == TypeError {
			out.notify(ProgressComplete, msg, msg.Error())
		} else {
			out.notify(ProgressComplete, msg, nil)
		}
	}
	return nil
}

// maybeAck synthesizes an ack frame once another incomingAckThreshold bytes
// of this message have arrived. Ack frames bypass the codec and carry no
// checksum trailer, so a peer mid-stream can still parse them.
func (c *Connection) maybeAck(msg *MessageIn) {
	if msg.rawBytesReceived-msg.ackedBytes < incomingAckThreshold {
		return
	}
	msg.ackedBytes = msg.rawBytesReceived
	ackType := TypeAckRequest
	if msg.msgType != TypeRequest {
		ackType = TypeAckResponse
	}
	flags := withType(0, ackType)
	frame := encodeFrameHeader(nil, msg.msgNo, flags)
	frame = append(frame, ackPayload(msg.rawBytesReceived)...)
	_, _ = c.ws.Send(frame)
	metrics.FramesSent.WithLabelValues(ackType.String()).Inc()
	metrics.BytesSent.Add(float64(len(frame)))
}

// ackMatches pairs an ack frame with the class of outgoing message it
// acknowledges: request and response number spaces are independent, so an
// AckRequest for msgNo 5 must not touch an outgoing response numbered 5.
func ackMatches(ackType MessageType, m *MessageOut) bool {
	if ackType == TypeAckRequest {
		return m.msgType == TypeRequest
	}
	return m.msgType == TypeResponse || m.msgType == TypeError
}

// handleAck applies a peer ack to the matching outgoing message, wherever
// it currently sits (outbox or icebox), thawing it if it drops below the
// icebox threshold.
func (c *Connection) handleAck(msgNo MessageNo, ackType MessageType, payload []byte) error {
	bytesReceived, err := decodeAckPayload(payload)
	if err != nil {
		return err
	}
	for _, m := range c.outbox {
		if m.msgNo == msgNo && ackMatches(ackType, m) {
			applyAck(m, bytesReceived)
			return nil
		}
	}
	for i, m := range c.icebox {
		if m.msgNo == msgNo && ackMatches(ackType, m) {
			applyAck(m, bytesReceived)
			if m.unackedBytes < icedThreshold {
				m.iced = false
				c.icebox = append(c.icebox[:i], c.icebox[i+1:]...)
				c.enqueue(m)
			}
			return nil
		}
	}
	// Ack of an unknown message: silently ignored, per spec.
	return nil
}

func applyAck(m *MessageOut, bytesReceived uint64) {
	if bytesReceived > m.totalSentBytes {
		return
	}
	m.unackedBytes = m.totalSentBytes - bytesReceived
}
