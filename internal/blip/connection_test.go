package blip

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

// pipeWS connects two Connections back to back in-process: Send on one
// side posts the frame onto the other side's actor goroutine, preserving
// the single-actor-owns-its-state invariant without a real socket.
type pipeWS struct {
	mu       sync.Mutex
	peer     *Connection
	delegate WebSocketDelegate
	sent     [][]byte // every frame passed to Send, in order
}

func (w *pipeWS) Connect(delegate WebSocketDelegate) error {
	w.delegate = delegate
	delegate.OnConnect()
	return nil
}

func (w *pipeWS) Send(frame []byte) (bool, error) {
	cp := append([]byte(nil), frame...)
	w.mu.Lock()
	peer := w.peer
	w.sent = append(w.sent, cp)
	w.mu.Unlock()
	peer.post(func() { peer.OnMessage(cp, true) })
	return true, nil
}

func (w *pipeWS) Close(code int, message string) error {
	w.mu.Lock()
	peer := w.peer
	w.mu.Unlock()
	if peer != nil {
		peer.post(func() { peer.OnClose(1000) })
	}
	return nil
}

type testDelegate struct {
	NopConnectionDelegate
}

func newPair(t *testing.T, opts Options) (a, b *Connection) {
	t.Helper()
	wsA := &pipeWS{}
	wsB := &pipeWS{}
	var err error
	a, err = NewConnection(wsA, testDelegate{}, opts)
	if err != nil {
		t.Fatalf("NewConnection a: %v", err)
	}
	b, err = NewConnection(wsB, testDelegate{}, opts)
	if err != nil {
		t.Fatalf("NewConnection b: %v", err)
	}
	wsA.peer, wsB.peer = b, a
	if err := a.Start(); err != nil {
		t.Fatalf("a.Start: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("b.Start: %v", err)
	}
	return a, b
}

func TestRequestResponseRoundTrip(t *testing.T) {
	a, b := newPair(t, Options{CompressionLevel: 6})

	b.SetRequestHandler("Echo", false, func(req *MessageIn) (*MessageBuilder, error) {
		return &MessageBuilder{Properties: NewProperties(), Body: req.Body()}, nil
	})

	var progress []Progress
	var mu sync.Mutex
	done := make(chan *MessageIn, 1)

	req := NewRequest("Echo")
	req.Body = []byte("hi")
	a.SendRequest(req, func(p Progress, resp *MessageIn, err error) {
		mu.Lock()
		progress = append(progress, p)
		mu.Unlock()
		if p == ProgressComplete {
			done <- resp
		}
	})

	select {
	case resp := <-done:
		if string(resp.Body()) != "hi" {
			t.Fatalf("response body = %q, want %q", resp.Body(), "hi")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(progress) < 2 || progress[0] != ProgressSending {
		t.Fatalf("progress sequence = %v, want to start with Sending", progress)
	}
	sawAwaiting := false
	for _, p := range progress {
		if p == ProgressAwaitingReply {
			sawAwaiting = true
		}
	}
	if !sawAwaiting {
		t.Fatalf("progress sequence = %v, missing AwaitingReply", progress)
	}
}

func TestCompressedSmallBodyProducesSingleCompressedFrame(t *testing.T) {
	a, b := newPair(t, Options{CompressionLevel: 6})

	received := make(chan *MessageIn, 1)
	b.SetRequestHandler("Test", false, func(req *MessageIn) (*MessageBuilder, error) {
		received <- req
		return &MessageBuilder{Properties: NewProperties()}, nil
	})

	req := NewRequest("Test")
	req.Body = []byte("abcde")
	req.Compressed = true
	a.SendRequest(req, nil)

	select {
	case msg := <-received:
		if string(msg.Body()) != "abcde" {
			t.Fatalf("decompressed body = %q, want %q", msg.Body(), "abcde")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	wsA := a.ws.(*pipeWS)
	wsA.mu.Lock()
	frames := append([][]byte(nil), wsA.sent...)
	wsA.mu.Unlock()
	if len(frames) != 1 {
		t.Fatalf("sender emitted %d frames, want 1", len(frames))
	}
	_, flags, _, err := decodeFrameHeader(frames[0])
	if err != nil {
		t.Fatalf("decodeFrameHeader: %v", err)
	}
	if !flags.Has(FlagCompressed) || flags.Has(FlagMoreComing) {
		t.Fatalf("frame flags = %#x, want Compressed set and MoreComing clear", uint8(flags))
	}
}

func TestMultiFrameCompressedMessagesShareCodecState(t *testing.T) {
	a, b := newPair(t, Options{CompressionLevel: 6})

	b.SetRequestHandler("Echo", false, func(req *MessageIn) (*MessageBuilder, error) {
		return &MessageBuilder{Properties: NewProperties(), Body: req.Body()}, nil
	})

	// Two bodies each larger than a frame, sent back to back: the second
	// message's frames decode against dictionary state left by the first,
	// and the running checksum spans every frame of both.
	first := bytes.Repeat([]byte("0123456789abcdef"), 4096)  // 64 KiB
	second := bytes.Repeat([]byte("quick brown foxes "), 4096)

	for _, body := range [][]byte{first, second} {
		done := make(chan *MessageIn, 1)
		req := NewRequest("Echo")
		req.Body = body
		a.SendRequest(req, func(p Progress, resp *MessageIn, err error) {
			if p == ProgressComplete {
				done <- resp
			}
			if p == ProgressDisconnected {
				t.Errorf("message disconnected: %v", err)
				done <- nil
			}
		})
		select {
		case resp := <-done:
			if resp == nil {
				t.Fatal("no response")
			}
			if !bytes.Equal(resp.Body(), body) {
				t.Fatalf("echoed body differs: got %d bytes, want %d", len(resp.Body()), len(body))
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for echoed response")
		}
	}
}

func TestAckInducedUnfreezing(t *testing.T) {
	a, b := newPair(t, Options{CompressionLevel: 0})

	gotAll := make(chan struct{}, 1)
	totalBody := 300 * 1024
	var receivedLen int
	var mu sync.Mutex
	b.SetRequestHandler("Bulk", false, func(req *MessageIn) (*MessageBuilder, error) {
		mu.Lock()
		receivedLen = len(req.Body())
		mu.Unlock()
		gotAll <- struct{}{}
		return nil, nil
	})

	offset := 0
	source := func() ([]byte, error) {
		if offset >= totalBody {
			return nil, nil
		}
		n := 64 * 1024
		if offset+n > totalBody {
			n = totalBody - offset
		}
		chunk := make([]byte, n)
		offset += n
		return chunk, nil
	}

	req := &MessageBuilder{Properties: NewProperties(), DataSource: source}
	req.Properties.Set(PropProfile, "Bulk")
	req.NoReply = true
	m := a.SendRequest(req, nil)

	select {
	case <-gotAll:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bulk message to arrive")
	}

	mu.Lock()
	defer mu.Unlock()
	if receivedLen != totalBody {
		t.Fatalf("received %d bytes, want %d", receivedLen, totalBody)
	}
	_ = m
}

func TestPriorityDisciplineDoesNotStarveNonUrgent(t *testing.T) {
	a, b := newPair(t, Options{CompressionLevel: 0})

	const n = 5
	var mu sync.Mutex
	completedOrder := make([]string, 0, 2*n)
	doneCh := make(chan struct{}, 2*n)

	b.SetRequestHandler("Work", false, func(req *MessageIn) (*MessageBuilder, error) {
		return &MessageBuilder{Properties: NewProperties(), Body: req.Body()}, nil
	})

	send := func(label string, urgent bool) {
		req := NewRequest("Work")
		req.Body = []byte(label)
		req.Urgent = urgent
		a.SendRequest(req, func(p Progress, resp *MessageIn, err error) {
			if p == ProgressComplete {
				mu.Lock()
				completedOrder = append(completedOrder, label)
				mu.Unlock()
				doneCh <- struct{}{}
			}
		})
	}

	for i := 0; i < n; i++ {
		send("urgent", true)
		send("normal", false)
	}

	for i := 0; i < 2*n; i++ {
		select {
		case <-doneCh:
		case <-time.After(2 * time.Second):
			t.Fatal("timed out waiting for all messages to complete")
		}
	}

	mu.Lock()
	defer mu.Unlock()
	lastUrgentIdx := -1
	firstNormalIdx := -1
	for i, label := range completedOrder {
		if label == "urgent" {
			lastUrgentIdx = i
		}
		if label == "normal" && firstNormalIdx == -1 {
			firstNormalIdx = i
		}
	}
	if firstNormalIdx == -1 || lastUrgentIdx == -1 {
		t.Fatalf("completedOrder missing a class: %v", completedOrder)
	}
	if firstNormalIdx > lastUrgentIdx {
		t.Fatalf("no non-urgent message completed before the last urgent one: %v", completedOrder)
	}
}
