package transport

import (
	"bufio"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"
)

// frameReader implements the single-\n-delimited framing rule shared by
// the stdio, SSH, and Docker transports: messages are separated by a
// single LF, a partial trailing fragment is retained until more bytes
// arrive, and a malformed single line is logged and discarded without
// closing the transport.
type frameReader struct {
	scanner *bufio.Scanner
	logger  *zap.Logger
	out     chan []byte
	closed  chan struct{}
	once    sync.Once
}

// newFrameReader starts a goroutine that scans r line by line, validates
// each line as a JSON object, and forwards valid frames on the returned
// channel. The channel and the closed signal are closed together when r
// reaches EOF or errors.
func newFrameReader(r io.Reader, logger *zap.Logger) *frameReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	fr := &frameReader{
		scanner: scanner,
		logger:  logger,
		out:     make(chan []byte, 64),
		closed:  make(chan struct{}),
	}
	go fr.run()
	return fr
}

func (fr *frameReader) run() {
	defer fr.once.Do(func() {
		close(fr.out)
		close(fr.closed)
	})

	for fr.scanner.Scan() {
		line := fr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if !json.Valid(line) {
			fr.logger.Warn("discarding malformed JSON-RPC line", zap.ByteString("line", truncate(line, 200)))
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)
		fr.out <- frame
	}
	if err := fr.scanner.Err(); err != nil {
		fr.logger.Debug("frame reader stopped", zap.Error(err))
	}
}

func (fr *frameReader) Frames() <-chan []byte   { return fr.out }
func (fr *frameReader) Closed() <-chan struct{} { return fr.closed }

func truncate(b []byte, n int) []byte {
	if len(b) <= n {
		return b
	}
	return b[:n]
}
