// Package server exposes the chunked-upload protocol over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/programadorcaro/nenoflix-uploader/internal/sequencer"
	"github.com/programadorcaro/nenoflix-uploader/internal/session"
)

// Options wires the server's collaborators and roots.
type Options struct {
	MediaRoot   string
	StagingRoot string
	CORSOrigins string // comma-separated list, or "*"
	Store       *session.Store
	Sequencer   *sequencer.Sequencer
	Logger      *slog.Logger
}

// Server handles the upload protocol routes.
type Server struct {
	mediaRoot   string
	stagingRoot string
	store       *session.Store
	seq         *sequencer.Sequencer
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

// New creates a Server.
func New(opts Options) *Server {
	return &Server{
		mediaRoot:   opts.MediaRoot,
		stagingRoot: opts.StagingRoot,
		store:       opts.Store,
		seq:         opts.Sequencer,
		logger:      opts.Logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// Router builds the gin engine with all protocol routes mounted.
func (s *Server) Router(corsOrigins string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	corsCfg := cors.DefaultConfig()
	if corsOrigins == "" || corsOrigins == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = strings.Split(corsOrigins, ",")
	}
	corsCfg.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	r.Use(cors.New(corsCfg))

	r.GET("/health", s.handleHealth)
	r.GET("/folders", s.handleFolders)
	r.POST("/upload", s.handleLegacyUpload)
	r.POST("/upload/init", s.handleInit)
	r.POST("/upload/chunk", s.handleChunk)
	r.POST("/upload/complete", s.handleComplete)
	r.GET("/upload/status/:uploadId", s.handleStatus)
	r.GET("/upload/events/:uploadId", s.handleEvents)

	return r
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}
