package sequencer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func chunkPayload(index int, size int64) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte((index*31 + i) % 251)
	}
	return payload
}

func TestWriteChunk_SingleChunk(t *testing.T) {
	seq := New(testLogger())
	path := filepath.Join(t.TempDir(), "u1", "movie.mkv")
	payload := chunkPayload(0, 1024)

	res := seq.WriteChunk(context.Background(), WriteRequest{
		StagingPath: path,
		ChunkIndex:  0,
		TotalChunks: 1,
		ChunkSize:   1024,
		TotalSize:   1024,
		Body:        bytes.NewReader(payload),
	})
	if res.Err != nil {
		t.Fatalf("WriteChunk: %v", res.Err)
	}
	if res.BytesWritten != 1024 {
		t.Errorf("BytesWritten = %d, want 1024", res.BytesWritten)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("staging file content differs from payload")
	}
}

func TestWriteChunk_AnyPermutationAssemblesInOrder(t *testing.T) {
	const (
		totalChunks = 5
		chunkSize   = int64(8 * 1024)
	)
	totalSize := chunkSize*(totalChunks-1) + 1000 // short last chunk

	var want bytes.Buffer
	payloads := make([][]byte, totalChunks)
	for i := 0; i < totalChunks; i++ {
		size := chunkSize
		if i == totalChunks-1 {
			size = totalSize - chunkSize*int64(i)
		}
		payloads[i] = chunkPayload(i, size)
		want.Write(payloads[i])
	}

	rng := rand.New(rand.NewSource(42))
	for trial := 0; trial < 8; trial++ {
		seq := New(testLogger())
		path := filepath.Join(t.TempDir(), "movie.mkv")

		order := rng.Perm(totalChunks)
		var wg sync.WaitGroup
		results := make([]Result, totalChunks)
		for _, idx := range order {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = seq.WriteChunk(context.Background(), WriteRequest{
					StagingPath: path,
					ChunkIndex:  idx,
					TotalChunks: totalChunks,
					ChunkSize:   chunkSize,
					TotalSize:   totalSize,
					Body:        bytes.NewReader(payloads[idx]),
				})
			}(idx)
		}
		wg.Wait()

		for i, res := range results {
			if res.Err != nil {
				t.Fatalf("trial %d: chunk %d failed: %v", trial, i, res.Err)
			}
		}
		got, err := os.ReadFile(path)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(got, want.Bytes()) {
			t.Fatalf("trial %d (order %v): assembled file differs from index-ordered concatenation", trial, order)
		}
	}
}

func TestWriteChunk_SizeMismatch(t *testing.T) {
	seq := New(testLogger())
	path := filepath.Join(t.TempDir(), "movie.mkv")

	// Payload is 2KB short of the declared chunk size.
	res := seq.WriteChunk(context.Background(), WriteRequest{
		StagingPath: path,
		ChunkIndex:  0,
		TotalChunks: 2,
		ChunkSize:   64 * 1024,
		TotalSize:   128 * 1024,
		Body:        bytes.NewReader(make([]byte, 62*1024)),
	})
	if res.Err == nil {
		t.Fatal("short chunk should fail validation")
	}
	if !errors.Is(res.Err, ErrSizeMismatch) {
		t.Errorf("error = %v, want ErrSizeMismatch", res.Err)
	}
}

func TestWriteChunk_ShortLastChunkWithinTolerance(t *testing.T) {
	seq := New(testLogger())
	path := filepath.Join(t.TempDir(), "movie.mkv")
	chunkSize := int64(64 * 1024)
	totalSize := chunkSize + 500

	res := seq.WriteChunk(context.Background(), WriteRequest{
		StagingPath: path,
		ChunkIndex:  1,
		TotalChunks: 2,
		ChunkSize:   chunkSize,
		TotalSize:   totalSize,
		Body:        bytes.NewReader(make([]byte, 500)),
	})
	if res.Err != nil {
		t.Fatalf("last chunk of 500 bytes should pass: %v", res.Err)
	}
	if res.BytesWritten != 500 {
		t.Errorf("BytesWritten = %d, want 500", res.BytesWritten)
	}
}

// slowReader releases its payload only after start is closed, then
// byte by byte, so a concurrent writer would interleave without the
// queue.
type slowReader struct {
	payload []byte
	pos     int
	start   chan struct{}
	started sync.Once
}

func (r *slowReader) Read(p []byte) (int, error) {
	r.started.Do(func() { <-r.start })
	if r.pos >= len(r.payload) {
		return 0, io.EOF
	}
	time.Sleep(time.Millisecond)
	p[0] = r.payload[r.pos]
	r.pos++
	return 1, nil
}

func TestWriteChunk_SamePathWritesAreSerialized(t *testing.T) {
	seq := New(testLogger())
	path := filepath.Join(t.TempDir(), "movie.mkv")

	start := make(chan struct{})
	first := &slowReader{payload: chunkPayload(0, 64), start: start}

	firstDone := make(chan Result, 1)
	go func() {
		firstDone <- seq.WriteChunk(context.Background(), WriteRequest{
			StagingPath: path,
			ChunkIndex:  0,
			TotalChunks: 2,
			ChunkSize:   64,
			TotalSize:   128,
			Body:        first,
		})
	}()

	// Give the first write time to enter the queue, then enqueue the
	// second; it must not finish before the first.
	time.Sleep(20 * time.Millisecond)
	secondDone := make(chan Result, 1)
	go func() {
		secondDone <- seq.WriteChunk(context.Background(), WriteRequest{
			StagingPath: path,
			ChunkIndex:  1,
			TotalChunks: 2,
			ChunkSize:   64,
			TotalSize:   128,
			Body:        bytes.NewReader(chunkPayload(1, 64)),
		})
	}()

	select {
	case <-secondDone:
		t.Fatal("second write finished while first was still blocked")
	case <-time.After(50 * time.Millisecond):
	}

	close(start)
	if res := <-firstDone; res.Err != nil {
		t.Fatalf("first write failed: %v", res.Err)
	}
	if res := <-secondDone; res.Err != nil {
		t.Fatalf("second write failed: %v", res.Err)
	}
}

func TestWriteChunk_FailureReleasesQueue(t *testing.T) {
	seq := New(testLogger())
	path := filepath.Join(t.TempDir(), "movie.mkv")

	// Failing write (5KB short, beyond tolerance).
	res := seq.WriteChunk(context.Background(), WriteRequest{
		StagingPath: path,
		ChunkIndex:  0,
		TotalChunks: 2,
		ChunkSize:   32 * 1024,
		TotalSize:   64 * 1024,
		Body:        bytes.NewReader(make([]byte, 27*1024)),
	})
	if res.Err == nil {
		t.Fatal("expected failure")
	}

	// A subsequent write for the same path must still be attempted.
	done := make(chan Result, 1)
	go func() {
		done <- seq.WriteChunk(context.Background(), WriteRequest{
			StagingPath: path,
			ChunkIndex:  1,
			TotalChunks: 2,
			ChunkSize:   32 * 1024,
			TotalSize:   64 * 1024,
			Body:        bytes.NewReader(make([]byte, 32*1024)),
		})
	}()
	select {
	case res := <-done:
		if res.Err != nil {
			t.Fatalf("queued write after failure: %v", res.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("queue was not released after a failed write")
	}
}

func TestWriteChunk_ContextCancelled(t *testing.T) {
	seq := New(testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := seq.WriteChunk(ctx, WriteRequest{
		StagingPath: filepath.Join(t.TempDir(), "movie.mkv"),
		ChunkIndex:  0,
		TotalChunks: 1,
		ChunkSize:   64,
		TotalSize:   64,
		Body:        bytes.NewReader(make([]byte, 64)),
	})
	if res.Err == nil {
		t.Fatal("cancelled context should fail the write")
	}
}
