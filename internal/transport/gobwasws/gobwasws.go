// Package gobwasws adapts a raw net.Conn WebSocket, handshaken with
// github.com/gobwas/ws, to blip.WebSocket: a binary-framed read/write
// pump pair in the style of the teacher server's readPump/writePump.
package gobwasws

import (
	"bufio"
	"net"
	"sync"
	"time"

	"github.com/adred-codev/blip/internal/blip"
	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/rs/zerolog"
)

// ProtocolName is the WebSocket subprotocol BLIP peers negotiate.
const ProtocolName = "BLIP_3"

const (
	pingPeriod = 30 * time.Second
	pongWait   = 60 * time.Second
	writeWait  = 10 * time.Second
)

// Socket implements blip.WebSocket over an already-upgraded net.Conn.
// Delegate callbacks are always posted back onto the owning Connection's
// actor goroutine (via the delegate's own post-respecting methods), never
// invoked directly from the read pump, so the adapter never violates the
// engine's single-actor-owns-its-state invariant.
type Socket struct {
	conn   net.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	closeOnce sync.Once
	closed    chan struct{}
}

// New wraps conn. Call Connect (invoked by blip.NewConnection's Start) to
// begin the read pump.
func New(conn net.Conn, logger zerolog.Logger) *Socket {
	return &Socket{conn: conn, logger: logger, closed: make(chan struct{})}
}

// Connect implements blip.WebSocket: starts the read pump, delivering
// every frame to delegate.OnMessage, and reports OnConnect immediately
// since the handshake already completed before New was called.
func (s *Socket) Connect(delegate blip.WebSocketDelegate) error {
	delegate.OnConnect()
	go s.readPump(delegate)
	go s.pingLoop()
	return nil
}

func (s *Socket) readPump(delegate blip.WebSocketDelegate) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("gobwasws: read pump panic recovered")
		}
		s.shutdown(delegate, 1006)
	}()

	for {
		_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
		msg, op, err := wsutil.ReadClientData(s.conn)
		if err != nil {
			return
		}
		switch op {
		case ws.OpBinary:
			delegate.OnMessage(msg, true)
		case ws.OpText:
			delegate.OnMessage(msg, false)
		case ws.OpClose:
			s.shutdown(delegate, 1000)
			return
		case ws.OpPing, ws.OpPong:
			// handled implicitly; nothing further required
		}
	}
}

func (s *Socket) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.writeMu.Lock()
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := wsutil.WriteServerMessage(s.conn, ws.OpPing, nil)
			s.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-s.closed:
			return
		}
	}
}

// Send writes one frame, reporting whether the connection remains
// writable (this adapter has no internal backpressure buffer, so it is
// always true barring a write error).
func (s *Socket) Send(frame []byte) (bool, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	buf := bufio.NewWriter(s.conn)
	if err := wsutil.WriteServerMessage(buf, ws.OpBinary, frame); err != nil {
		return false, err
	}
	if err := buf.Flush(); err != nil {
		return false, err
	}
	return true, nil
}

// Close closes the underlying connection.
func (s *Socket) Close(code int, message string) error {
	s.writeMu.Lock()
	_ = wsutil.WriteServerMessage(s.conn, ws.OpClose, ws.NewCloseFrameBody(ws.StatusCode(code), message))
	s.writeMu.Unlock()
	s.closeOnce.Do(func() { close(s.closed) })
	return s.conn.Close()
}

func (s *Socket) shutdown(delegate blip.WebSocketDelegate, code int) {
	s.closeOnce.Do(func() { close(s.closed) })
	_ = s.conn.Close()
	delegate.OnClose(code)
}
