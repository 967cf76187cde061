package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/programadorcaro/nenoflix-uploader/internal/chunkplan"
	"github.com/programadorcaro/nenoflix-uploader/internal/integrity"
	"github.com/programadorcaro/nenoflix-uploader/internal/sequencer"
	"github.com/programadorcaro/nenoflix-uploader/internal/session"
	"github.com/programadorcaro/nenoflix-uploader/internal/storage"
	"github.com/programadorcaro/nenoflix-uploader/pkg/protocol"
)

func fail(c *gin.Context, code int, msg string) {
	c.JSON(code, protocol.ErrorResponse{Success: false, Error: msg})
}

func (s *Server) handleFolders(c *gin.Context) {
	path := c.Query("path")
	dir := s.mediaRoot
	if path != "" {
		dir = filepath.Join(s.mediaRoot, filepath.Clean("/"+path))
	}
	folders, err := storage.ListFolders(dir)
	if err != nil {
		s.logger.Error("failed to list folders", "path", dir, "error", err)
		fail(c, http.StatusInternalServerError, "failed to list folders")
		return
	}
	c.JSON(http.StatusOK, protocol.FoldersResponse{Success: true, Folders: folders})
}

func (s *Server) handleInit(c *gin.Context) {
	var req protocol.InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.TotalSize <= 0 {
		fail(c, http.StatusBadRequest, "totalSize must be positive")
		return
	}
	if req.FileName == "" {
		fail(c, http.StatusBadRequest, "fileName is required")
		return
	}
	extName := req.OriginalFileName
	if extName == "" {
		extName = req.FileName
	}
	if !storage.ExtensionAllowed(extName) {
		fail(c, http.StatusBadRequest, "file extension not allowed")
		return
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = chunkplan.ChunkSize(req.TotalSize)
	} else if chunkSize > chunkplan.MaxChunkSize {
		chunkSize = chunkplan.MaxChunkSize
	}

	dest, err := storage.ResolveDestination(s.mediaRoot, req.FolderName, req.DestinationPath, req.FileName)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	uploadID := uuid.NewString()
	snap := s.store.Create(session.CreateParams{
		UploadID:        uploadID,
		FileName:        storage.SanitizeName(req.FileName),
		FolderName:      req.FolderName,
		DestinationPath: dest,
		StagingPath:     storage.StagingPath(s.stagingRoot, uploadID, req.FileName),
		TotalSize:       req.TotalSize,
		ChunkSize:       chunkSize,
	})

	s.logger.Info("upload session created",
		"upload_id", uploadID, "file", snap.FileName,
		"size", snap.TotalSize, "chunk_size", snap.ChunkSize, "chunks", snap.TotalChunks)

	c.JSON(http.StatusOK, protocol.InitResponse{
		Success:     true,
		UploadID:    uploadID,
		TotalChunks: snap.TotalChunks,
		ChunkSize:   snap.ChunkSize,
	})
}

func (s *Server) handleChunk(c *gin.Context) {
	uploadID := c.PostForm(protocol.FieldUploadID)
	indexRaw := c.PostForm(protocol.FieldChunkIndex)
	if uploadID == "" || indexRaw == "" {
		fail(c, http.StatusBadRequest, "uploadId and chunkIndex are required")
		return
	}
	index, err := strconv.Atoi(indexRaw)
	if err != nil || index < 0 {
		fail(c, http.StatusBadRequest, "chunkIndex must be a non-negative integer")
		return
	}

	snap, err := s.store.Get(uploadID)
	if err != nil {
		fail(c, http.StatusNotFound, "upload session not found")
		return
	}
	if index >= snap.TotalChunks {
		fail(c, http.StatusBadRequest, "chunkIndex outside session chunk range")
		return
	}

	// Idempotent short-circuit: a lost response makes clients re-send
	// chunks the staging file already holds.
	if s.store.HasChunk(uploadID, index) {
		c.JSON(http.StatusOK, protocol.ChunkResponse{
			Success:      true,
			ChunkIndex:   index,
			BytesWritten: 0,
		})
		return
	}

	file, _, err := c.Request.FormFile(protocol.FieldChunk)
	if err != nil {
		fail(c, http.StatusBadRequest, "chunk payload missing")
		return
	}
	defer file.Close()

	res := s.seq.WriteChunk(c.Request.Context(), sequencer.WriteRequest{
		StagingPath: snap.StagingPath,
		ChunkIndex:  index,
		TotalChunks: snap.TotalChunks,
		ChunkSize:   snap.ChunkSize,
		TotalSize:   snap.TotalSize,
		Body:        file,
	})
	if res.Err != nil {
		c.JSON(http.StatusInternalServerError, protocol.ChunkResponse{
			Success:    false,
			ChunkIndex: index,
			Error:      res.Err.Error(),
		})
		return
	}

	// The sequencer never touches session state; receipt is recorded
	// here, after the write has been validated.
	if !s.store.MarkChunkReceived(uploadID, index) {
		fail(c, http.StatusNotFound, "upload session not found")
		return
	}

	c.JSON(http.StatusOK, protocol.ChunkResponse{
		Success:      true,
		ChunkIndex:   index,
		BytesWritten: res.BytesWritten,
	})
}

func (s *Server) handleComplete(c *gin.Context) {
	var req protocol.CompleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.UploadID == "" {
		fail(c, http.StatusBadRequest, "uploadId is required")
		return
	}

	snap, err := s.store.Get(req.UploadID)
	if err != nil {
		fail(c, http.StatusNotFound, "upload session not found")
		return
	}

	status, err := s.store.Status(req.UploadID)
	if err != nil {
		fail(c, http.StatusNotFound, "upload session not found")
		return
	}
	if !status.IsComplete {
		c.JSON(http.StatusBadRequest, protocol.CompleteResponse{
			Success:       false,
			Error:         "not all chunks received",
			MissingChunks: status.MissingIndices,
		})
		return
	}

	if err := s.store.SetState(req.UploadID, session.StateFinalizing); err != nil {
		fail(c, http.StatusNotFound, "upload session not found")
		return
	}

	check, err := integrity.Validate(snap.StagingPath, snap.TotalSize)
	if err != nil || !check.Valid {
		// The session survives an integrity failure so the client can
		// inspect status and resend chunks.
		_ = s.store.SetState(req.UploadID, session.StateFailed)
		s.logger.Error("integrity check failed",
			"upload_id", req.UploadID, "actual", check.ActualSize,
			"expected", check.ExpectedSize, "error", err)
		c.JSON(http.StatusBadRequest, protocol.CompleteResponse{
			Success: false,
			Error:   "staged file size does not match declared size",
		})
		return
	}

	if err := storage.Relocate(snap.StagingPath, snap.DestinationPath); err != nil {
		_ = s.store.SetState(req.UploadID, session.StateFailed)
		s.logger.Error("failed to relocate staged file",
			"upload_id", req.UploadID, "dest", snap.DestinationPath, "error", err)
		fail(c, http.StatusInternalServerError, "failed to move file to destination")
		return
	}

	_ = s.store.SetState(req.UploadID, session.StateFinalized)
	s.store.Delete(req.UploadID)
	storage.CleanupEmptyDirs(filepath.Dir(snap.StagingPath), s.stagingRoot)

	s.logger.Info("upload finalized",
		"upload_id", req.UploadID, "file", snap.FileName, "dest", snap.DestinationPath)

	c.JSON(http.StatusOK, protocol.CompleteResponse{
		Success: true,
		Path:    snap.DestinationPath,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	uploadID := c.Param("uploadId")
	status, err := s.store.Status(uploadID)
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			fail(c, http.StatusNotFound, "upload session not found")
			return
		}
		fail(c, http.StatusInternalServerError, "failed to read session status")
		return
	}
	c.JSON(http.StatusOK, statusToWire(status))
}

func statusToWire(st session.Status) protocol.StatusResponse {
	return protocol.StatusResponse{
		Success:           true,
		UploadID:          st.UploadID,
		FileName:          st.FileName,
		TotalChunks:       st.TotalChunks,
		ReceivedChunks:    st.ReceivedCount,
		MissingChunks:     st.MissingIndices,
		UploadedBytes:     st.UploadedBytes,
		ProgressPercent:   st.ProgressPercent,
		IsComplete:        st.IsComplete,
		StagingFileExists: st.StagingFileExists,
		StagingFileSize:   st.StagingFileSize,
	}
}

// handleLegacyUpload is the non-chunked path kept for small files and
// older clients. It shares destination and extension rules with the
// chunked protocol through the storage package.
func (s *Server) handleLegacyUpload(c *gin.Context) {
	fileName := c.PostForm("fileName")
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "file payload missing")
		return
	}
	defer file.Close()

	if fileName == "" {
		fileName = header.Filename
	}
	if !storage.ExtensionAllowed(fileName) {
		fail(c, http.StatusBadRequest, "file extension not allowed")
		return
	}

	dest, err := storage.ResolveDestination(s.mediaRoot,
		c.PostForm("folderName"), c.PostForm("destinationPath"), fileName)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	// Stage next to the destination then move, so a failed upload
	// never leaves a partial file at the final path.
	tmp := storage.StagingPath(s.stagingRoot, uuid.NewString(), fileName)
	res := s.seq.WriteChunk(c.Request.Context(), sequencer.WriteRequest{
		StagingPath: tmp,
		ChunkIndex:  0,
		TotalChunks: 1,
		ChunkSize:   header.Size,
		TotalSize:   header.Size,
		Body:        file,
	})
	if res.Err != nil {
		fail(c, http.StatusInternalServerError, "failed to store file")
		return
	}
	if err := storage.Relocate(tmp, dest); err != nil {
		s.logger.Error("failed to relocate uploaded file", "dest", dest, "error", err)
		fail(c, http.StatusInternalServerError, "failed to move file to destination")
		return
	}
	storage.CleanupEmptyDirs(filepath.Dir(tmp), s.stagingRoot)

	s.logger.Info("legacy upload stored", "file", fileName, "dest", dest, "bytes", res.BytesWritten)
	c.JSON(http.StatusOK, protocol.UploadResponse{Success: true, Path: dest})
}
