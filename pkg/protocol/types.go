// Package protocol defines the wire types exchanged between the upload
// client and the nenoflixd server. All endpoints speak JSON except the
// chunk endpoint, which accepts a multipart form with these field names.
package protocol

// Multipart form field names for POST /upload/chunk.
const (
	FieldUploadID   = "uploadId"
	FieldChunkIndex = "chunkIndex"
	FieldChunk      = "chunk"
)

// InitRequest opens a new upload session.
type InitRequest struct {
	FileName         string `json:"fileName"`
	FolderName       string `json:"folderName,omitempty"`
	DestinationPath  string `json:"destinationPath,omitempty"`
	TotalSize        int64  `json:"totalSize"`
	ChunkSize        int64  `json:"chunkSize,omitempty"`
	OriginalFileName string `json:"originalFileName,omitempty"`
}

// InitResponse carries the session id and the chunk plan the client
// must partition the file with.
type InitResponse struct {
	Success     bool   `json:"success"`
	UploadID    string `json:"uploadId,omitempty"`
	TotalChunks int    `json:"totalChunks,omitempty"`
	ChunkSize   int64  `json:"chunkSize,omitempty"`
	Error       string `json:"error,omitempty"`
}

// ChunkResponse reports the outcome of a single chunk write.
type ChunkResponse struct {
	Success      bool   `json:"success"`
	ChunkIndex   int    `json:"chunkIndex"`
	BytesWritten int64  `json:"bytesWritten"`
	Error        string `json:"error,omitempty"`
}

// CompleteRequest asks the server to finalize a session.
type CompleteRequest struct {
	UploadID string `json:"uploadId"`
}

// CompleteResponse reports finalization. On failure MissingChunks lists
// the chunk indices the server has not received, sorted ascending.
type CompleteResponse struct {
	Success       bool   `json:"success"`
	Path          string `json:"path,omitempty"`
	Error         string `json:"error,omitempty"`
	MissingChunks []int  `json:"missingChunks,omitempty"`
}

// StatusResponse is the read-only session projection served by
// GET /upload/status/:uploadId and streamed over /upload/events/:uploadId.
type StatusResponse struct {
	Success           bool    `json:"success"`
	UploadID          string  `json:"uploadId"`
	FileName          string  `json:"fileName,omitempty"`
	TotalChunks       int     `json:"totalChunks"`
	ReceivedChunks    int     `json:"receivedChunks"`
	MissingChunks     []int   `json:"missingChunks"`
	UploadedBytes     int64   `json:"uploadedBytes"`
	ProgressPercent   float64 `json:"progressPercent"`
	IsComplete        bool    `json:"isComplete"`
	StagingFileExists bool    `json:"stagingFileExists"`
	StagingFileSize   int64   `json:"stagingFileSize"`
	Error             string  `json:"error,omitempty"`
}

// FoldersResponse lists immediate subdirectories of a library path.
type FoldersResponse struct {
	Success bool     `json:"success"`
	Folders []string `json:"folders"`
	Error   string   `json:"error,omitempty"`
}

// UploadResponse is the reply of the legacy single-request upload path.
type UploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ErrorResponse is the generic failure shape for all endpoints.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}
