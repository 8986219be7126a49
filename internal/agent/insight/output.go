package insight

import (
	"bytes"
	"sync"
)

const truncatedNote = "\n[output truncated]"

// cappedBuffer collects program output up to max bytes. Writes never fail so
// a chatty program keeps running; the excess is dropped.
type cappedBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	max       int
	truncated bool
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	room := b.max - b.buf.Len()
	if b.max <= 0 {
		room = len(p)
	}
	switch {
	case room >= len(p):
		b.buf.Write(p)
	case room > 0:
		b.buf.Write(p[:room])
		b.truncated = true
	default:
		b.truncated = true
	}
	return len(p), nil
}

func (b *cappedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.truncated {
		return b.buf.String() + truncatedNote
	}
	return b.buf.String()
}
