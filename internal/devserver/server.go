// Package devserver is an in-memory stand-in for the review backend. It
// serves the REST surface the client consumes plus the event stream, and
// fakes summary generation so uploads progress like the real thing.
package devserver

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/agentworkforce/reviewsync/internal/api"
)

type Logger interface {
	Printf(format string, args ...any)
}

type Config struct {
	// AutoProcess summarises uploaded threads in the background. When false
	// tasks only advance through ProcessNext or ProcessAll.
	AutoProcess bool
	// ProcessDelay is the pause between threads in auto mode.
	ProcessDelay time.Duration
	// AccessLog enables gin's request logger.
	AccessLog bool
	Now       func() time.Time
	Logger    Logger
}

type Server struct {
	cfg    Config
	router *gin.Engine
	hub    *hub

	mu        sync.Mutex
	fileOrder []string
	files     map[string]*fileState
	threads   map[string]*threadState
	summaries map[string]*api.Summary
	byThread  map[string]string
	tasks     map[string]*taskState
}

type fileState struct {
	record    api.FileRecord
	threadIDs []string
	taskID    string
}

type threadState struct {
	fileID string
	thread api.Thread
}

type taskState struct {
	id      string
	fileID  string
	pending []string
	status  api.TaskStatus
}

func New(cfg Config) *Server {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.ProcessDelay <= 0 {
		cfg.ProcessDelay = 500 * time.Millisecond
	}
	s := &Server{
		cfg:       cfg,
		hub:       newHub(),
		files:     map[string]*fileState{},
		threads:   map[string]*threadState{},
		summaries: map[string]*api.Summary{},
		byThread:  map[string]string{},
		tasks:     map[string]*taskState{},
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	if s.cfg.AccessLog {
		router.Use(gin.Logger())
	}
	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "route not found")
	})

	group := router.Group("/api")
	{
		group.GET("/health", s.handleHealth)

		group.GET("/files", s.handleListFiles)
		group.POST("/files/upload", s.handleUpload)
		group.GET("/files/:id", s.handleGetFile)
		group.DELETE("/files/:id", s.handleDeleteFile)

		group.GET("/threads", s.handleListThreads)
		group.GET("/threads/task/:id/status", s.handleTaskStatus)

		group.GET("/summaries", s.handleListSummaries)
		group.POST("/summaries/threads/:id/summarize", s.handleSummarize)
		group.PUT("/summaries/:id", s.handleUpdateSummary)
		group.POST("/summaries/:id/approve", s.handleApprove)
		group.POST("/summaries/:id/reject", s.handleReject)
		group.POST("/summaries/:id/undo", s.handleUndo)

		group.GET("/events/stream", s.handleStream)
	}
	return router
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close ends every open event stream.
func (s *Server) Close() {
	s.hub.closeAll()
}

func (s *Server) now() string {
	return s.cfg.Now().UTC().Format(time.RFC3339)
}

func (s *Server) logf(format string, args ...any) {
	if s.cfg.Logger == nil {
		return
	}
	s.cfg.Logger.Printf(format, args...)
}

func writeError(c *gin.Context, status int, detail string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": detail})
}

func newID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}
