// Package wire implements the length-prefixed JSON frame protocol used
// between the core and plugin child processes, and the typed message
// envelope carried inside each frame.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DefaultMaxFrame is the recommended frame size ceiling (10 MiB).
const DefaultMaxFrame = 10 * 1024 * 1024

// lengthPrefixSize is the width of the frame's length header.
const lengthPrefixSize = 4

// FrameReader reads length-prefixed frames from a stream.
type FrameReader struct {
	r       io.Reader
	maxSize uint32
}

// NewFrameReader wraps r, rejecting any frame whose declared length exceeds maxSize.
func NewFrameReader(r io.Reader, maxSize uint32) *FrameReader {
	if maxSize == 0 {
		maxSize = DefaultMaxFrame
	}
	return &FrameReader{r: r, maxSize: maxSize}
}

// ReadFrame reads one frame and returns its raw payload bytes.
func (f *FrameReader) ReadFrame() ([]byte, error) {
	var lenBuf [lengthPrefixSize]byte
	if _, err := io.ReadFull(f.r, lenBuf[:]); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, ErrShortRead
		}
		return nil, fmt.Errorf("wire: read length prefix: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > f.maxSize {
		return nil, ErrTooLarge
	}
	payload := make([]byte, n)
	if n > 0 {
		if _, err := io.ReadFull(f.r, payload); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return nil, ErrShortRead
			}
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}
	return payload, nil
}

// FrameWriter writes length-prefixed frames to a stream.
type FrameWriter struct {
	w       io.Writer
	maxSize uint32
}

// NewFrameWriter wraps w, rejecting any payload larger than maxSize.
func NewFrameWriter(w io.Writer, maxSize uint32) *FrameWriter {
	if maxSize == 0 {
		maxSize = DefaultMaxFrame
	}
	return &FrameWriter{w: w, maxSize: maxSize}
}

// WriteFrame writes payload as a single length-prefixed frame.
func (f *FrameWriter) WriteFrame(payload []byte) error {
	if uint32(len(payload)) > f.maxSize {
		return ErrTooLarge
	}
	var lenBuf [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := f.w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("wire: write length prefix: %w", err)
	}
	if _, err := f.w.Write(payload); err != nil {
		return fmt.Errorf("wire: write payload: %w", err)
	}
	if flusher, ok := f.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}
