package api

import (
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jobscout/internal/batch"
	"github.com/zulandar/jobscout/internal/engine"
	"github.com/zulandar/jobscout/internal/session"
	"github.com/zulandar/jobscout/internal/stream"
)

// userHeader carries the caller's identity.
const userHeader = "X-User-ID"

// registerRoutes sets up all API routes on the Gin router.
func registerRoutes(router *gin.Engine, s *server) {
	router.GET("/health", handleHealth())

	chat := router.Group("/api/chat")
	chat.POST("/stream", s.chat.middleware(), s.handleStream)
	chat.POST("/upload", s.upload.middleware(), s.handleUpload)
	chat.POST("/confirm", s.handleConfirm)
	chat.POST("/details", s.chat.middleware(), s.handleDetails)
	chat.GET("/sessions", s.handleSessions)
	chat.GET("/:session_id", s.handleHistory)
	chat.DELETE("/:session_id", s.handleDelete)
	chat.POST("/:session_id/reset", s.handleReset)

	router.GET("/api/searches", s.handleSearchList)
	router.GET("/api/searches/:id", s.handleSearch)
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

type streamRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id"`
}

type confirmRequest struct {
	SessionID string `json:"session_id"`
	Approved  bool   `json:"approved"`
}

type detailsRequest struct {
	SessionID    string   `json:"session_id"`
	SelectedURLs []string `json:"selected_urls"`
}

func (s *server) handleStream(c *gin.Context) {
	var req streamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	r, err := s.engine.HandleTurn(c.Request.Context(), engine.TurnRequest{
		SessionID: req.SessionID,
		UserID:    userID(c),
		Text:      req.Message,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	serveRun(c, r)
}

func (s *server) handleUpload(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		badRequest(c, "a file is required")
		return
	}
	if fh.Size > s.maxUpload {
		writeError(c, fmt.Errorf("%w: %d bytes", engine.ErrTooLarge, fh.Size))
		return
	}
	f, err := fh.Open()
	if err != nil {
		writeError(c, fmt.Errorf("api: open upload: %w", err))
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		writeError(c, fmt.Errorf("api: read upload: %w", err))
		return
	}

	r, err := s.engine.Upload(c.Request.Context(), engine.UploadRequest{
		SessionID: c.PostForm("session_id"),
		UserID:    userID(c),
		Filename:  fh.Filename,
		Data:      data,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	serveRun(c, r)
}

func (s *server) handleConfirm(c *gin.Context) {
	var req confirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.SessionID == "" {
		badRequest(c, "session_id is required")
		return
	}
	r, err := s.engine.Resume(c.Request.Context(), engine.ResumeRequest{
		SessionID: req.SessionID,
		UserID:    userID(c),
		Approved:  req.Approved,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	serveRun(c, r)
}

func (s *server) handleDetails(c *gin.Context) {
	var req detailsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	if req.SessionID == "" {
		badRequest(c, "session_id is required")
		return
	}
	if len(req.SelectedURLs) == 0 {
		badRequest(c, "selected_urls is required")
		return
	}
	r, err := s.engine.Details(c.Request.Context(), engine.DetailsRequest{
		SessionID: req.SessionID,
		UserID:    userID(c),
		Locators:  req.SelectedURLs,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	serveRun(c, r)
}

// handleSessions lists the caller's sessions. Anonymous callers get an
// empty list.
func (s *server) handleSessions(c *gin.Context) {
	uid := userID(c)
	if uid == "" {
		c.JSON(http.StatusOK, gin.H{"sessions": []session.Summary{}})
		return
	}
	list, err := s.engine.Sessions(c.Request.Context(), uid)
	if err != nil {
		writeError(c, err)
		return
	}
	if list == nil {
		list = []session.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": list})
}

// handleHistory returns a session's turns. An unknown session reads as
// empty so clients can open a fresh conversation by id.
func (s *server) handleHistory(c *gin.Context) {
	sid := c.Param("session_id")
	view, err := s.engine.History(c.Request.Context(), sid, userID(c))
	if errors.Is(err, engine.ErrSessionNotFound) {
		c.JSON(http.StatusOK, engine.SessionView{SessionID: sid, Turns: []engine.TurnView{}})
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (s *server) handleDelete(c *gin.Context) {
	if err := s.engine.DeleteSession(c.Request.Context(), c.Param("session_id"), userID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

func (s *server) handleReset(c *gin.Context) {
	if err := s.engine.ResetSession(c.Request.Context(), c.Param("session_id"), userID(c)); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// handleSearchList lists the caller's batch search runs.
func (s *server) handleSearchList(c *gin.Context) {
	if s.runner == nil {
		writeError(c, batch.ErrNotFound)
		return
	}
	uid := userID(c)
	if uid == "" {
		writeError(c, fmt.Errorf("%w: %s header is required", engine.ErrAccessDenied, userHeader))
		return
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := s.runner.List(c.Request.Context(), uid, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]searchRunView, len(runs))
	for i := range runs {
		out[i] = viewSearchRun(&runs[i])
	}
	c.JSON(http.StatusOK, gin.H{"searches": out})
}

// handleSearch returns one batch search run with its results. Only the
// run's owner may read it.
func (s *server) handleSearch(c *gin.Context) {
	if s.runner == nil {
		writeError(c, batch.ErrNotFound)
		return
	}
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		badRequest(c, "invalid search id")
		return
	}
	run, err := s.runner.Get(c.Request.Context(), uint(id))
	if err != nil {
		writeError(c, err)
		return
	}
	if run.OwnerID != userID(c) {
		writeError(c, engine.ErrAccessDenied)
		return
	}
	c.JSON(http.StatusOK, viewSearchRun(run))
}

// serveRun streams a run's events. The run continues if the client leaves.
func serveRun(c *gin.Context, r *engine.Run) {
	c.Header("X-Session-ID", r.SessionID)
	stream.Serve(c, r.Stream)
}

func userID(c *gin.Context) string {
	return c.GetHeader(userHeader)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// writeError maps engine and store errors to HTTP statuses.
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	msg := "internal error"
	switch {
	case errors.Is(err, engine.ErrConcurrentRun):
		status, msg = http.StatusConflict, "another request for this session is still running"
	case errors.Is(err, engine.ErrNoPendingApproval):
		status, msg = http.StatusConflict, "no pending approval for this session"
	case errors.Is(err, engine.ErrCheckpointCorrupt):
		status, msg = http.StatusConflict, "this session needs a reset"
	case errors.Is(err, engine.ErrAccessDenied):
		status, msg = http.StatusForbidden, "access denied"
	case errors.Is(err, engine.ErrSessionNotFound):
		status, msg = http.StatusNotFound, "session not found"
	case errors.Is(err, batch.ErrNotFound):
		status, msg = http.StatusNotFound, "search not found"
	case errors.Is(err, engine.ErrTooLarge):
		status, msg = http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, engine.ErrWorkerInputInvalid):
		status, msg = http.StatusBadRequest, err.Error()
	default:
		log.Printf("api: %s %s: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}
