package session

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/programadorcaro/nenoflix-uploader/internal/storage"
)

// ErrNotFound is returned for unknown, expired, or deleted upload ids.
var ErrNotFound = errors.New("upload session not found")

// Config bounds session lifetime and the eviction sweep.
type Config struct {
	// TTL is the lastActivity age past which a session is evictable.
	TTL time.Duration
	// RecentWindow protects sessions with any activity inside it.
	RecentWindow time.Duration
	// MinAge protects brand-new sessions from eviction mid-setup.
	MinAge time.Duration
	// SweepInterval is how often the eviction sweep runs.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.TTL == 0 {
		c.TTL = 24 * time.Hour
	}
	if c.RecentWindow == 0 {
		c.RecentWindow = 10 * time.Minute
	}
	if c.MinAge == 0 {
		c.MinAge = time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Minute
	}
	return c
}

// Store is a thread-safe in-memory registry of upload sessions keyed
// by upload id.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*uploadSession
	cfg      Config
	now      func() time.Time
}

// NewStore creates a session store with the given lifecycle config.
func NewStore(cfg Config) *Store {
	return NewStoreWithNow(cfg, time.Now)
}

// NewStoreWithNow creates a store with a custom time source (for tests).
func NewStoreWithNow(cfg Config, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{
		sessions: make(map[string]*uploadSession),
		cfg:      cfg.withDefaults(),
		now:      now,
	}
}

// CreateParams carries the validated inputs for a new session. The
// caller is responsible for validating sizes and paths beforehand.
type CreateParams struct {
	UploadID        string
	FileName        string
	FolderName      string
	DestinationPath string
	StagingPath     string
	TotalSize       int64
	ChunkSize       int64
}

// Create registers a new session and returns its snapshot.
func (s *Store) Create(p CreateParams) Snapshot {
	now := s.now()
	totalChunks := int((p.TotalSize + p.ChunkSize - 1) / p.ChunkSize)
	sess := &uploadSession{
		uploadID:        p.UploadID,
		fileName:        p.FileName,
		folderName:      p.FolderName,
		destinationPath: p.DestinationPath,
		stagingPath:     p.StagingPath,
		totalSize:       p.TotalSize,
		chunkSize:       p.ChunkSize,
		totalChunks:     totalChunks,
		received:        newBitmap(totalChunks),
		createdAt:       now,
		lastActivity:    now,
		state:           StateNotStarted,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[p.UploadID] = sess
	return sess.snapshot()
}

// Get returns a snapshot of the session and refreshes its activity
// timestamp. Any kind of access, status polling included, keeps a
// session alive.
func (s *Store) Get(uploadID string) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	sess.lastActivity = s.now()
	return sess.snapshot(), nil
}

// MarkChunkReceived idempotently records receipt of a chunk index.
// It reports false without mutating anything when the session is
// missing or the index falls outside [0, totalChunks).
func (s *Store) MarkChunkReceived(uploadID string, index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return false
	}
	if index < 0 || index >= sess.totalChunks {
		return false
	}
	sess.received.Set(index)
	sess.lastActivity = s.now()
	return true
}

// HasChunk reports whether a chunk index is already recorded.
func (s *Store) HasChunk(uploadID string, index int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return false
	}
	return sess.received.Get(index)
}

// IsComplete reports whether every chunk of the session was received.
func (s *Store) IsComplete(uploadID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return false
	}
	return sess.received.CountSet() == sess.totalChunks
}

// SetState moves the session's processing state.
func (s *Store) SetState(uploadID string, state ProcessingState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		return ErrNotFound
	}
	sess.state = state
	sess.lastActivity = s.now()
	return nil
}

// Status builds the read-only projection for client polling, including
// a stat of the staging file.
func (s *Store) Status(uploadID string) (Status, error) {
	s.mu.Lock()
	sess, ok := s.sessions[uploadID]
	if !ok {
		s.mu.Unlock()
		return Status{}, ErrNotFound
	}
	sess.lastActivity = s.now()
	received := sess.received.CountSet()
	st := Status{
		UploadID:       sess.uploadID,
		FileName:       sess.fileName,
		TotalChunks:    sess.totalChunks,
		ReceivedCount:  received,
		MissingIndices: sess.received.Missing(),
		UploadedBytes:  int64(received) * sess.chunkSize,
		IsComplete:     received == sess.totalChunks,
	}
	if st.UploadedBytes > sess.totalSize {
		st.UploadedBytes = sess.totalSize
	}
	if sess.totalChunks > 0 {
		st.ProgressPercent = float64(received) / float64(sess.totalChunks) * 100
	}
	stagingPath := sess.stagingPath
	s.mu.Unlock()

	// Stat outside the lock; the staging file belongs to the write
	// sequencer and may not exist yet.
	if fi, err := os.Stat(stagingPath); err == nil {
		st.StagingFileExists = true
		st.StagingFileSize = fi.Size()
	}
	return st, nil
}

// Delete removes the session. Subsequent lookups return ErrNotFound.
func (s *Store) Delete(uploadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, uploadID)
}

// Count returns the number of active sessions.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// SweepExpired removes sessions past all three eviction gates: stale
// beyond the TTL, no activity inside the recent window, and older than
// the minimum grace period. Returns the evicted snapshots so callers
// can clean up staging files.
func (s *Store) SweepExpired(now time.Time) []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	var evicted []Snapshot
	for id, sess := range s.sessions {
		idle := now.Sub(sess.lastActivity)
		age := now.Sub(sess.createdAt)
		if idle > s.cfg.TTL && idle > s.cfg.RecentWindow && age > s.cfg.MinAge {
			evicted = append(evicted, sess.snapshot())
			delete(s.sessions, id)
		}
	}
	return evicted
}

// RunEviction runs the periodic sweep until ctx is cancelled. Evicted
// sessions have their staging files removed along with the per-upload
// directory under stagingRoot.
func (s *Store) RunEviction(ctx context.Context, stagingRoot string, logger *slog.Logger) {
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sess := range s.SweepExpired(s.now()) {
				if err := os.Remove(sess.StagingPath); err != nil && !os.IsNotExist(err) {
					logger.Warn("failed to remove staging file for evicted session",
						"upload_id", sess.UploadID, "path", sess.StagingPath, "error", err)
				}
				if stagingRoot != "" {
					storage.CleanupEmptyDirs(filepath.Dir(sess.StagingPath), stagingRoot)
				}
				logger.Info("evicted stale upload session",
					"upload_id", sess.UploadID, "file", sess.FileName,
					"received", sess.ReceivedCount, "total", sess.TotalChunks)
			}
		}
	}
}
