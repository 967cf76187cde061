// Package chunkplan computes the chunk plan for a transfer: how large
// each chunk should be for a given file size, and the exact byte ranges
// the client slices the source file into.
package chunkplan

import "fmt"

const (
	// MB is one mebibyte, the granularity chunk sizes are rounded to.
	MB = int64(1) << 20

	smallFileLimit  = 500 * MB
	mediumFileLimit = 5 * 1024 * MB

	// MaxChunkSize is the global ceiling on a single chunk.
	MaxChunkSize = 100 * MB
)

// tier describes a file-size class. Small files get many small chunks
// (parallelism beats per-chunk overhead), huge files get few large ones.
type tier struct {
	targetCount  int64
	minChunkSize int64
}

var (
	smallTier  = tier{targetCount: 20, minChunkSize: 10 * MB}
	mediumTier = tier{targetCount: 40, minChunkSize: 25 * MB}
	largeTier  = tier{targetCount: 60, minChunkSize: 50 * MB}
)

func tierFor(totalSize int64) tier {
	switch {
	case totalSize < smallFileLimit:
		return smallTier
	case totalSize < mediumFileLimit:
		return mediumTier
	default:
		return largeTier
	}
}

// ChunkSize returns the chunk size for a file of totalSize bytes.
// The caller must ensure totalSize > 0. The result is always in
// [tier minimum, MaxChunkSize] and rounded down to a whole megabyte
// when between the bounds.
func ChunkSize(totalSize int64) int64 {
	t := tierFor(totalSize)
	ideal := totalSize / t.targetCount
	switch {
	case ideal < t.minChunkSize:
		return t.minChunkSize
	case ideal > MaxChunkSize:
		return MaxChunkSize
	default:
		return (ideal / MB) * MB
	}
}

// TotalChunks returns ceil(totalSize / chunkSize).
func TotalChunks(totalSize, chunkSize int64) int {
	if totalSize <= 0 || chunkSize <= 0 {
		return 0
	}
	return int((totalSize + chunkSize - 1) / chunkSize)
}

// Range is a half-open byte range [Start, End) of the source file.
type Range struct {
	Index int
	Start int64
	End   int64
}

// Size returns the number of bytes in the range.
func (r Range) Size() int64 {
	return r.End - r.Start
}

// Ranges partitions [0, totalSize) into contiguous, non-overlapping
// chunk ranges. Every range except the last is exactly chunkSize bytes;
// the last covers the remainder.
func Ranges(totalSize, chunkSize int64) ([]Range, error) {
	if totalSize <= 0 {
		return nil, fmt.Errorf("total size must be positive, got %d", totalSize)
	}
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	n := TotalChunks(totalSize, chunkSize)
	ranges := make([]Range, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		end := start + chunkSize
		if end > totalSize {
			end = totalSize
		}
		ranges = append(ranges, Range{Index: i, Start: start, End: end})
	}
	return ranges, nil
}
