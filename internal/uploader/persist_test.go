package uploader

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func newTestRecordStore(t *testing.T) *RecordStore {
	t.Helper()
	s, err := OpenRecordStore(filepath.Join(t.TempDir(), "records"))
	if err != nil {
		t.Fatalf("open record store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordRoundTrip(t *testing.T) {
	s := newTestRecordStore(t)
	ctx := context.Background()

	rec := Record{
		UploadID:  "abc-123",
		FilePath:  "/media/in/movie.mkv",
		FileName:  "movie.mkv",
		TotalSize: 1 << 30,
		ChunkSize: 25 << 20,
		ServerURL: "http://localhost:8080",
		CreatedAt: time.Now(),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, ok, err := s.Get(ctx, rec.FilePath)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.UploadID != rec.UploadID || got.ChunkSize != rec.ChunkSize || got.TotalSize != rec.TotalSize {
		t.Errorf("got %+v, want %+v", got, rec)
	}
}

func TestRecordUnknownPath(t *testing.T) {
	s := newTestRecordStore(t)
	if _, ok, err := s.Get(context.Background(), "/nowhere.mkv"); ok || err != nil {
		t.Fatalf("expected absent record, got ok=%v err=%v", ok, err)
	}
}

func TestRecordExpires(t *testing.T) {
	s := newTestRecordStore(t)
	ctx := context.Background()

	rec := Record{
		UploadID:  "old",
		FilePath:  "/media/in/old.mkv",
		CreatedAt: time.Now().Add(-recordTTL - time.Hour),
	}
	if err := s.Put(ctx, rec); err != nil {
		t.Fatalf("put: %v", err)
	}
	if _, ok, err := s.Get(ctx, rec.FilePath); ok || err != nil {
		t.Fatalf("expected expired record to be absent, got ok=%v err=%v", ok, err)
	}
}

func TestRecordDeleteIdempotent(t *testing.T) {
	s := newTestRecordStore(t)
	ctx := context.Background()
	if err := s.Delete(ctx, "/never/stored.mkv"); err != nil {
		t.Fatalf("delete of absent record: %v", err)
	}
}
