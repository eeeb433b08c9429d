package blip

// WebSocket is the transport capability the engine consumes. Connection
// owns the WebSocket outright: it is never shared, and Delegate callbacks
// are invoked inline on the engine's actor goroutine.
type WebSocket interface {
	// Connect dials (or accepts) the underlying socket and wires delegate
	// as the receiver of its events.
	Connect(delegate WebSocketDelegate) error
	// Send writes one binary frame. The returned bool reports whether the
	// socket remains immediately writable.
	Send(frame []byte) (stillWritable bool, err error)
	// Close begins a graceful WebSocket close handshake.
	Close(code int, message string) error
}

// WebSocketDelegate receives events from a WebSocket. All callbacks are
// invoked on the engine's single actor goroutine and must not block.
type WebSocketDelegate interface {
	OnHTTPResponse(status int, headers map[string][]string)
	OnTLSCertificate(der []byte)
	OnConnect()
	OnClose(status int)
	OnWritable()
	OnMessage(data []byte, isBinary bool)
}

// NopDelegate provides no-op implementations of every WebSocketDelegate
// method, for embedding by adapters that only care about a subset.
type NopDelegate struct{}

func (NopDelegate) OnHTTPResponse(int, map[string][]string) {}
func (NopDelegate) OnTLSCertificate([]byte)                  {}
func (NopDelegate) OnConnect()                              {}
func (NopDelegate) OnClose(int)                              {}
func (NopDelegate) OnWritable()                              {}
func (NopDelegate) OnMessage([]byte, bool)                   {}
