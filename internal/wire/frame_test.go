package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf, 0)
	payloads := [][]byte{
		[]byte(`{"hello":"world"}`),
		[]byte(`{}`),
		[]byte(``),
	}
	for _, p := range payloads {
		require.NoError(t, w.WriteFrame(p))
	}

	r := NewFrameReader(&buf, 0)
	for _, want := range payloads {
		got, err := r.ReadFrame()
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestFrameReader_ShortRead(t *testing.T) {
	buf := bytes.NewBuffer([]byte{0, 0, 0, 10, 'a', 'b'})
	r := NewFrameReader(buf, 0)
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrShortRead)
}

func TestFrameWriter_TooLarge(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf, 1024)
	big := make([]byte, 2048)
	err := w.WriteFrame(big)
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestFrameReader_RejectsOversizedDeclaredLength(t *testing.T) {
	var lenBuf [4]byte
	lenBuf[0], lenBuf[1], lenBuf[2], lenBuf[3] = 0x00, 0x20, 0x00, 0x00 // ~2MiB
	buf := bytes.NewBuffer(lenBuf[:])
	r := NewFrameReader(buf, 1024)
	_, err := r.ReadFrame()
	require.ErrorIs(t, err, ErrTooLarge)
}

func TestMultipleFramesSequentialDecode(t *testing.T) {
	var buf bytes.Buffer
	w := NewFrameWriter(&buf, 0)
	n := 5
	for i := 0; i < n; i++ {
		require.NoError(t, w.WriteFrame([]byte("frame")))
	}
	r := NewFrameReader(&buf, 0)
	count := 0
	for {
		b, err := r.ReadFrame()
		if err != nil {
			break
		}
		require.Equal(t, []byte("frame"), b)
		count++
	}
	require.Equal(t, n, count)
}
