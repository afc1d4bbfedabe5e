package bifaci

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// readChunkSize is how much FrameReader asks the stream for at a time.
const readChunkSize = 32 * 1024

// Reassembler turns arbitrarily split stream bytes back into whole frames.
// Each frame is a 4-byte big-endian length prefix followed by that many bytes.
type Reassembler struct {
	buf      []byte
	maxFrame int
}

// NewReassembler creates a Reassembler rejecting frames larger than maxFrame.
func NewReassembler(maxFrame int) *Reassembler {
	return &Reassembler{maxFrame: maxFrame}
}

// Feed appends newly available bytes and returns every frame they complete,
// in stream order. A length prefix over the limit is fatal: the frames
// completed before it are returned together with the error.
func (r *Reassembler) Feed(p []byte) ([][]byte, error) {
	r.buf = append(r.buf, p...)

	var frames [][]byte
	consumed := 0
	for len(r.buf)-consumed >= 4 {
		length := binary.BigEndian.Uint32(r.buf[consumed : consumed+4])

		// Enforce max_frame limit
		if uint64(length) > uint64(r.maxFrame) {
			r.compact(consumed)
			return frames, &BusError{
				Type:    BusErrorTypeFrameTooLarge,
				Message: fmt.Sprintf("frame size %d exceeds max_frame limit %d", length, r.maxFrame),
			}
		}

		end := consumed + 4 + int(length)
		if end > len(r.buf) {
			break
		}
		frame := make([]byte, length)
		copy(frame, r.buf[consumed+4:end])
		frames = append(frames, frame)
		consumed = end
	}
	r.compact(consumed)
	return frames, nil
}

// compact drops the first n bytes, releasing the old backing array.
func (r *Reassembler) compact(n int) {
	if n == 0 {
		return
	}
	if n == len(r.buf) {
		r.buf = nil
		return
	}
	rest := make([]byte, len(r.buf)-n)
	copy(rest, r.buf[n:])
	r.buf = rest
}

// Buffered returns the number of bytes held for an incomplete frame.
func (r *Reassembler) Buffered() int {
	return len(r.buf)
}

// FrameReader reads length-prefixed frames from a stream
type FrameReader struct {
	reader io.Reader
	limits Limits
	asm    *Reassembler
	chunk  []byte
	ready  [][]byte
	err    error // sticky: returned once ready is drained
}

// NewFrameReader creates a new FrameReader
func NewFrameReader(r io.Reader) *FrameReader {
	limits := DefaultLimits()
	return &FrameReader{
		reader: r,
		limits: limits,
		asm:    NewReassembler(limits.MaxFrame),
		chunk:  make([]byte, readChunkSize),
	}
}

// SetLimits updates the reader's limits
func (fr *FrameReader) SetLimits(limits Limits) {
	fr.limits = ClampLimits(limits)
	fr.asm.maxFrame = fr.limits.MaxFrame
}

// ReadFrame returns the next whole frame body (without its length prefix).
//
// A stream that ends between frames yields io.EOF; one that ends inside a
// frame yields io.ErrUnexpectedEOF.
func (fr *FrameReader) ReadFrame() ([]byte, error) {
	for len(fr.ready) == 0 {
		if fr.err != nil {
			return nil, fr.err
		}
		n, err := fr.reader.Read(fr.chunk)
		if n > 0 {
			frames, ferr := fr.asm.Feed(fr.chunk[:n])
			fr.ready = append(fr.ready, frames...)
			if ferr != nil {
				fr.err = ferr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) && fr.asm.Buffered() > 0 {
				err = io.ErrUnexpectedEOF
			}
			fr.err = err
		}
	}

	frame := fr.ready[0]
	fr.ready[0] = nil
	fr.ready = fr.ready[1:]
	return frame, nil
}

// FrameWriter writes length-prefixed frames to a stream. It is not safe for
// concurrent use; the Bus serializes writes.
type FrameWriter struct {
	writer io.Writer
	limits Limits
}

// NewFrameWriter creates a new FrameWriter
func NewFrameWriter(w io.Writer) *FrameWriter {
	return &FrameWriter{
		writer: w,
		limits: DefaultLimits(),
	}
}

// SetLimits updates the writer's limits
func (fw *FrameWriter) SetLimits(limits Limits) {
	fw.limits = ClampLimits(limits)
}

// WriteFrame writes one frame: a 4-byte big-endian length prefix, then body.
// Prefix and body go out in a single Write so a frame is never interleaved.
func (fw *FrameWriter) WriteFrame(body []byte) error {
	// Enforce max_frame limit
	if len(body) > fw.limits.MaxFrame {
		return &BusError{
			Type:    BusErrorTypeFrameTooLarge,
			Message: fmt.Sprintf("encoded frame size %d exceeds max_frame limit %d", len(body), fw.limits.MaxFrame),
		}
	}

	buf := make([]byte, 4+len(body))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(body)))
	copy(buf[4:], body)

	if _, err := fw.writer.Write(buf); err != nil {
		return err
	}
	return nil
}

// WriteEnvelope encodes env and writes it as one frame.
func (fw *FrameWriter) WriteEnvelope(env *Envelope) error {
	body, err := EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return fw.WriteFrame(body)
}

// ReadEnvelope reads one frame and decodes it. Decoding errors (including
// unknown actions) are returned with the partially decoded envelope when
// one is available.
func (fr *FrameReader) ReadEnvelope() (*Envelope, error) {
	body, err := fr.ReadFrame()
	if err != nil {
		return nil, err
	}
	return DecodeEnvelope(body)
}
