// Package sequencer writes an arbitrary-order stream of chunk payloads
// into fixed offsets of a staging file. Writes targeting the same file
// are strictly serialized in arrival order; writes for different files
// proceed concurrently. Correctness of the assembled file depends on
// offset addressing, not on completion order.
package sequencer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/programadorcaro/nenoflix-uploader/internal/bufpool"
	"github.com/programadorcaro/nenoflix-uploader/internal/integrity"
)

// ErrSizeMismatch reports a chunk whose written byte count deviates
// from the expected size by more than the tolerance.
var ErrSizeMismatch = errors.New("chunk size mismatch")

// WriteRequest describes one chunk write.
type WriteRequest struct {
	StagingPath string
	ChunkIndex  int
	TotalChunks int
	ChunkSize   int64
	TotalSize   int64
	Body        io.Reader
}

// Result reports the outcome of one chunk write. Err is nil on success.
type Result struct {
	ChunkIndex   int
	BytesWritten int64
	Err          error
}

// Sequencer owns the per-path write queues.
type Sequencer struct {
	mu     sync.Mutex
	tails  map[string]chan struct{}
	pool   *bufpool.Pool
	logger *slog.Logger
}

// New creates a sequencer.
func New(logger *slog.Logger) *Sequencer {
	return &Sequencer{
		tails:  make(map[string]chan struct{}),
		pool:   bufpool.New(bufpool.DefaultBufSize),
		logger: logger,
	}
}

// enqueue appends this writer to the FIFO queue for path. The returned
// wait channel is closed when the predecessor finishes; done must be
// called exactly once when this writer finishes.
func (s *Sequencer) enqueue(path string) (wait <-chan struct{}, done func()) {
	next := make(chan struct{})

	s.mu.Lock()
	prev := s.tails[path]
	s.tails[path] = next
	s.mu.Unlock()

	done = func() {
		close(next)
		s.mu.Lock()
		if s.tails[path] == next {
			delete(s.tails, path)
		}
		s.mu.Unlock()
	}
	return prev, done
}

// WriteChunk durably writes one chunk at its offset in the staging
// file. It blocks until every previously enqueued write for the same
// staging path has finished. Failures are returned in the Result and
// release the queue so later chunks can still be attempted.
func (s *Sequencer) WriteChunk(ctx context.Context, req WriteRequest) Result {
	wait, done := s.enqueue(req.StagingPath)
	defer done()

	if wait != nil {
		select {
		case <-wait:
		case <-ctx.Done():
			return s.fail(req, ctx.Err())
		}
	}
	if err := ctx.Err(); err != nil {
		return s.fail(req, err)
	}

	n, err := s.writeAt(req)
	if err != nil {
		return s.fail(req, err)
	}
	return Result{ChunkIndex: req.ChunkIndex, BytesWritten: n}
}

// expectedSize is the chunk's planned size: ChunkSize for every chunk
// except the last, which covers the remainder of the file.
func expectedSize(req WriteRequest) int64 {
	offset := int64(req.ChunkIndex) * req.ChunkSize
	if req.ChunkIndex == req.TotalChunks-1 {
		return req.TotalSize - offset
	}
	return req.ChunkSize
}

func (s *Sequencer) writeAt(req WriteRequest) (int64, error) {
	offset := int64(req.ChunkIndex) * req.ChunkSize
	expected := expectedSize(req)

	if err := os.MkdirAll(filepath.Dir(req.StagingPath), 0o755); err != nil {
		return 0, fmt.Errorf("create staging dir: %w", err)
	}

	f, err := os.OpenFile(req.StagingPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open staging file: %w", err)
	}
	defer f.Close()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek to offset %d: %w", offset, err)
	}

	buf := s.pool.Get()
	n, err := io.CopyBuffer(f, req.Body, buf)
	s.pool.Put(buf)
	if err != nil {
		return n, fmt.Errorf("stream chunk payload: %w", err)
	}

	if !integrity.WithinTolerance(n, expected) {
		return n, fmt.Errorf("%w: chunk %d wrote %d bytes, expected %d",
			ErrSizeMismatch, req.ChunkIndex, n, expected)
	}

	// Re-stat to catch silent truncation behind our back.
	fi, err := f.Stat()
	if err != nil {
		return n, fmt.Errorf("stat staging file: %w", err)
	}
	if fi.Size()+integrity.SizeTolerance < offset+n {
		return n, fmt.Errorf("%w: staging file is %d bytes, chunk %d should end at %d",
			ErrSizeMismatch, fi.Size(), req.ChunkIndex, offset+n)
	}

	return n, nil
}

func (s *Sequencer) fail(req WriteRequest, err error) Result {
	s.logger.Error("chunk write failed",
		"path", req.StagingPath, "chunk", req.ChunkIndex, "error", err)
	return Result{ChunkIndex: req.ChunkIndex, Err: err}
}
