// Package bufpool provides reusable fixed-size byte buffers for chunk
// copies, so concurrent chunk writes do not churn the garbage collector.
package bufpool

import "sync"

// DefaultBufSize is the copy-buffer size used for chunk streaming.
const DefaultBufSize = 256 * 1024

// Pool hands out byte buffers of a fixed size.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool of bufSize-byte buffers. Non-positive sizes fall
// back to DefaultBufSize.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		bufSize = DefaultBufSize
	}
	p := &Pool{bufSize: bufSize}
	p.pool.New = func() interface{} {
		return make([]byte, bufSize)
	}
	return p
}

// Get returns a buffer of exactly BufSize bytes.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer for reuse. Buffers smaller than BufSize are
// discarded.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// BufSize returns the size of buffers handed out by this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}
