package blip

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/flate"
)

// inflateWindowSize is deflate's back-reference window: the amount of
// trailing plaintext history carried between frames as the inflater's
// preset dictionary.
const inflateWindowSize = 32 * 1024

// codec owns the connection's compression state. The deflater is a single
// persistent flate.Writer whose dictionary spans every message on the
// connection, so frames of distinct messages must never be interleaved
// mid-compression; callers are responsible for finishing one frame before
// starting the next. The inflate side mirrors that continuity by keeping
// the trailing plaintext window and priming each frame's reader with it:
// sync flush leaves the stream byte-aligned at a block boundary, so a fresh
// reader with the prior window as preset dictionary decodes exactly what a
// persistent inflater would.
type codec struct {
	level    int
	deflateW *flate.Writer
	deflateB bytes.Buffer

	window []byte
}

// newCodec builds a codec at the given deflate level. level 0 disables
// compression: outgoing frames are never marked Compressed, though the
// inflate side still works in case the peer compresses.
func newCodec(level int) (*codec, error) {
	c := &codec{level: level}
	if level > 0 {
		w, err := flate.NewWriter(&c.deflateB, level)
		if err != nil {
			return nil, fmt.Errorf("blip: creating deflate writer: %w", err)
		}
		c.deflateW = w
	}
	return c, nil
}

// enabled reports whether this codec compresses outgoing frames.
func (c *codec) enabled() bool { return c.level > 0 }

// compress deflates plaintext with SyncFlush and strips the trailing
// 00 00 FF FF terminator flate always emits at a flush boundary, since the
// reader re-synthesizes it before inflating. The returned slice is only
// valid until the next call to compress.
func (c *codec) compress(plaintext []byte) ([]byte, error) {
	c.deflateB.Reset()
	if _, err := c.deflateW.Write(plaintext); err != nil {
		return nil, fmt.Errorf("blip: deflate write: %w", err)
	}
	if err := c.deflateW.Flush(); err != nil {
		return nil, fmt.Errorf("blip: deflate flush: %w", err)
	}
	out := c.deflateB.Bytes()
	if len(out) >= len(deflateTerminator) && bytes.HasSuffix(out, deflateTerminator[:]) {
		out = out[:len(out)-len(deflateTerminator)]
	}
	return out, nil
}

// decompress reinserts the elided terminator and inflates a single frame's
// compressed payload, appending the plaintext to dst and folding it into
// the rolling dictionary window.
func (c *codec) decompress(dst []byte, compressed []byte) ([]byte, error) {
	in := make([]byte, 0, len(compressed)+len(deflateTerminator))
	in = append(in, compressed...)
	in = append(in, deflateTerminator[:]...)
	r := flate.NewReaderDict(bytes.NewReader(in), c.window)

	start := len(dst)
	buf := make([]byte, 4096)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			dst = append(dst, buf[:n]...)
		}
		if err != nil {
			// The input ends at the synthesized terminator (a sync-flush
			// boundary, not a real end of stream), so the reader reports
			// running out of input rather than a clean EOF. Both mean
			// "this frame is fully decoded".
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return dst, fmt.Errorf("blip: inflate: %w", err)
		}
	}
	c.extendWindow(dst[start:])
	return dst, nil
}

func (c *codec) extendWindow(plaintext []byte) {
	c.window = append(c.window, plaintext...)
	if excess := len(c.window) - inflateWindowSize; excess > 0 {
		c.window = append(c.window[:0], c.window[excess:]...)
	}
}
