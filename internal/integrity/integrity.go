// Package integrity holds the final size gate run before a staged file
// is promoted to its destination.
package integrity

import "os"

// SizeTolerance is the allowed deviation, in bytes, between expected
// and observed sizes. It absorbs transport framing overhead and is
// shared with the per-chunk write validation.
const SizeTolerance = 1024

// Result reports an integrity check.
type Result struct {
	Valid        bool
	ActualSize   int64
	ExpectedSize int64
}

// Validate stats the staging file and compares its length to the
// session's declared total size within SizeTolerance. A missing file
// is reported as invalid with the stat error.
func Validate(stagingPath string, totalSize int64) (Result, error) {
	res := Result{ExpectedSize: totalSize}
	fi, err := os.Stat(stagingPath)
	if err != nil {
		return res, err
	}
	res.ActualSize = fi.Size()
	res.Valid = WithinTolerance(res.ActualSize, totalSize)
	return res, nil
}

// WithinTolerance reports whether actual deviates from expected by at
// most SizeTolerance bytes.
func WithinTolerance(actual, expected int64) bool {
	diff := actual - expected
	if diff < 0 {
		diff = -diff
	}
	return diff <= SizeTolerance
}
