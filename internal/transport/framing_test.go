package transport

import (
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFrameReaderForwardsValidLinesAndDiscardsMalformed(t *testing.T) {
	r, w := io.Pipe()
	fr := newFrameReader(r, zap.NewNop())

	go func() {
		_, _ = w.Write([]byte("{\"a\":1}\n"))
		_, _ = w.Write([]byte("not json\n"))
		_, _ = w.Write([]byte("{\"b\":2}\n"))
		w.Close()
	}()

	var frames []string
	timeout := time.After(2 * time.Second)
loop:
	for {
		select {
		case frame, ok := <-fr.Frames():
			if !ok {
				break loop
			}
			frames = append(frames, string(frame))
		case <-timeout:
			t.Fatal("timed out reading frames")
		}
	}
	if assert.Len(t, frames, 2) {
		assert.Equal(t, `{"a":1}`, frames[0])
		assert.Equal(t, `{"b":2}`, frames[1])
	}

	select {
	case <-fr.Closed():
	case <-time.After(time.Second):
		t.Fatal("closed channel should fire once the reader hits EOF")
	}
}

func TestFrameReaderSkipsBlankLines(t *testing.T) {
	r := strings.NewReader("\n{\"x\":true}\n\n")
	fr := newFrameReader(r, zap.NewNop())

	select {
	case frame := <-fr.Frames():
		assert.Equal(t, `{"x":true}`, string(frame))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	select {
	case _, ok := <-fr.Frames():
		assert.False(t, ok, "channel should close after the single frame")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
}
