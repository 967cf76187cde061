package uploader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"

	ds "github.com/ipfs/go-datastore"
	dslvl "github.com/ipfs/go-ds-leveldb"
)

// recordTTL bounds how long a resume record stays usable; it mirrors
// the server-side session lifetime, so a record older than this points
// at a session the server has already evicted.
const recordTTL = 24 * time.Hour

// Record is the persisted handle to an interrupted upload, keyed by
// the source file path.
type Record struct {
	UploadID  string    `json:"uploadId"`
	FilePath  string    `json:"filePath"`
	FileName  string    `json:"fileName"`
	TotalSize int64     `json:"totalSize"`
	ChunkSize int64     `json:"chunkSize"`
	ServerURL string    `json:"serverUrl"`
	CreatedAt time.Time `json:"createdAt"`
}

// RecordStore persists resume records in a local leveldb so an
// interrupted upload can pick up in a later process.
type RecordStore struct {
	db *dslvl.Datastore
}

// OpenRecordStore opens (or creates) the store at dir.
func OpenRecordStore(dir string) (*RecordStore, error) {
	db, err := dslvl.NewDatastore(dir, nil)
	if err != nil {
		return nil, err
	}
	return &RecordStore{db: db}, nil
}

func recordKey(filePath string) ds.Key {
	return ds.NewKey("/upload/" + base64.RawURLEncoding.EncodeToString([]byte(filePath)))
}

// Put stores or replaces the record for its file path.
func (s *RecordStore) Put(ctx context.Context, rec Record) error {
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Put(ctx, recordKey(rec.FilePath), b)
}

// Get returns the record for filePath. Expired records are removed and
// reported as absent.
func (s *RecordStore) Get(ctx context.Context, filePath string) (Record, bool, error) {
	b, err := s.db.Get(ctx, recordKey(filePath))
	if err != nil {
		if errors.Is(err, ds.ErrNotFound) {
			return Record{}, false, nil
		}
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, false, err
	}
	if time.Since(rec.CreatedAt) > recordTTL {
		_ = s.db.Delete(ctx, recordKey(filePath))
		return Record{}, false, nil
	}
	return rec, true, nil
}

// Delete removes the record for filePath. Missing records are not an
// error.
func (s *RecordStore) Delete(ctx context.Context, filePath string) error {
	err := s.db.Delete(ctx, recordKey(filePath))
	if errors.Is(err, ds.ErrNotFound) {
		return nil
	}
	return err
}

// Close flushes and closes the underlying database.
func (s *RecordStore) Close() error {
	return s.db.Close()
}
