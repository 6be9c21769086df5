// Package api exposes the chat engine and search runs over HTTP.
package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/jobscout/internal/batch"
	"github.com/zulandar/jobscout/internal/engine"
)

// Opts holds the collaborators and limits of the HTTP surface.
type Opts struct {
	Engine *engine.Engine
	Runner *batch.Runner // optional; /api/searches returns 404 without it

	ChatPerMinute   int   // default 5
	UploadPerMinute int   // default 3
	MaxUploadBytes  int64 // default 5 MiB
}

// StartOpts holds configuration for the HTTP server.
type StartOpts struct {
	Opts
	Port int
	Out  io.Writer
}

// server carries the handler dependencies.
type server struct {
	engine    *engine.Engine
	runner    *batch.Runner
	maxUpload int64
	chat      *ipLimiter
	upload    *ipLimiter
}

// NewHandler builds the gin router.
func NewHandler(opts Opts) (*gin.Engine, error) {
	if opts.Engine == nil {
		return nil, fmt.Errorf("api: engine is required")
	}
	if opts.ChatPerMinute <= 0 {
		opts.ChatPerMinute = 5
	}
	if opts.UploadPerMinute <= 0 {
		opts.UploadPerMinute = 3
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 5 << 20
	}
	s := &server{
		engine:    opts.Engine,
		runner:    opts.Runner,
		maxUpload: opts.MaxUploadBytes,
		chat:      newIPLimiter(opts.ChatPerMinute),
		upload:    newIPLimiter(opts.UploadPerMinute),
	}

	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())
	router.MaxMultipartMemory = opts.MaxUploadBytes + 1<<20
	registerRoutes(router, s)
	return router, nil
}

// Start launches the HTTP server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	handler, err := NewHandler(opts.Opts)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", opts.Port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if opts.Out != nil {
		fmt.Fprintf(opts.Out, "Jobscout API listening on http://localhost:%d\n", opts.Port)
	}

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}
