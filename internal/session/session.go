// Package session owns the server-side registry of active upload
// sessions. Sessions live in memory for the duration of one transfer;
// every field touch goes through Store methods so the activity
// timestamp is refreshed in exactly one place.
package session

import "time"

// ProcessingState tracks where a session is in its finalize lifecycle.
type ProcessingState int

const (
	StateNotStarted ProcessingState = iota
	StateFinalizing
	StateFinalized
	StateFailed
)

func (s ProcessingState) String() string {
	switch s {
	case StateNotStarted:
		return "not_started"
	case StateFinalizing:
		return "finalizing"
	case StateFinalized:
		return "finalized"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// uploadSession is the store-owned record of one transfer. Callers
// never hold a reference to it; they work with Snapshot copies.
type uploadSession struct {
	uploadID        string
	fileName        string
	folderName      string
	destinationPath string
	stagingPath     string
	totalSize       int64
	chunkSize       int64
	totalChunks     int
	received        *bitmap
	createdAt       time.Time
	lastActivity    time.Time
	state           ProcessingState
}

// Snapshot is an immutable copy of a session's metadata.
type Snapshot struct {
	UploadID        string
	FileName        string
	FolderName      string
	DestinationPath string
	StagingPath     string
	TotalSize       int64
	ChunkSize       int64
	TotalChunks     int
	ReceivedCount   int
	CreatedAt       time.Time
	LastActivity    time.Time
	State           ProcessingState
}

func (s *uploadSession) snapshot() Snapshot {
	return Snapshot{
		UploadID:        s.uploadID,
		FileName:        s.fileName,
		FolderName:      s.folderName,
		DestinationPath: s.destinationPath,
		StagingPath:     s.stagingPath,
		TotalSize:       s.totalSize,
		ChunkSize:       s.chunkSize,
		TotalChunks:     s.totalChunks,
		ReceivedCount:   s.received.CountSet(),
		CreatedAt:       s.createdAt,
		LastActivity:    s.lastActivity,
		State:           s.state,
	}
}

// Status is the read-only projection served for client polling.
type Status struct {
	UploadID          string
	FileName          string
	TotalChunks       int
	ReceivedCount     int
	MissingIndices    []int
	UploadedBytes     int64
	ProgressPercent   float64
	IsComplete        bool
	StagingFileExists bool
	StagingFileSize   int64
}
