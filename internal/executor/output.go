package executor

import (
	"bytes"
	"os"
	"sync"
	"time"
)

const (
	chunkSize   = 32 * 1024
	chunkBuffer = 4
)

// capture collects one output stream of a child process. The reader
// goroutine hands chunks over a small bounded channel, so a stream nobody
// drains eventually blocks the child on a full pipe.
type capture struct {
	r      *os.File
	chunks chan []byte
	buf    bytes.Buffer
	eof    bool

	closeOnce sync.Once
}

func newCapture(r *os.File) *capture {
	return &capture{
		r:      r,
		chunks: make(chan []byte, chunkBuffer),
	}
}

func (c *capture) read() {
	defer close(c.chunks)
	for {
		b := make([]byte, chunkSize)
		n, err := c.r.Read(b)
		if n > 0 {
			c.chunks <- b[:n]
		}
		if err != nil {
			return
		}
	}
}

func (c *capture) close() {
	c.closeOnce.Do(func() {
		c.r.Close()
		// Unblock a reader stuck on a full channel
		go func() {
			for range c.chunks {
			}
		}()
	})
}

// drainPair moves chunks from both streams into their buffers until both
// reach EOF or stop fires. A nil stop drains to EOF.
func drainPair(stdout, stderr *capture, stop <-chan time.Time) {
	for !stdout.eof || !stderr.eof {
		var outC, errC <-chan []byte
		if !stdout.eof {
			outC = stdout.chunks
		}
		if !stderr.eof {
			errC = stderr.chunks
		}
		select {
		case b, ok := <-outC:
			stdout.take(b, ok)
		case b, ok := <-errC:
			stderr.take(b, ok)
		case <-stop:
			return
		}
	}
}

func (c *capture) take(b []byte, ok bool) {
	if !ok {
		c.eof = true
		return
	}
	c.buf.Write(b)
}
