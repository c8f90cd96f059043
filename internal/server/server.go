// Package server exposes the fetch-and-deliver pipeline over HTTP. The
// gateway is a thin wrapper around the Echo router; all domain logic lives
// in the pipeline packages it wires together.
package server

import (
	"context"
	"net/http"
	"os"
	"sync"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/ytserve/ytserve/internal/config"
	"github.com/ytserve/ytserve/internal/credentials"
	"github.com/ytserve/ytserve/internal/logging"
	"github.com/ytserve/ytserve/internal/ratelimit"
	"github.com/ytserve/ytserve/internal/source"
	"github.com/ytserve/ytserve/internal/workspace"
)

// Fetcher is the executor contract the handler depends on; tests substitute
// a fake that writes directly into the job workspace.
type Fetcher interface {
	Run(ctx context.Context, job *workspace.Job, url, cookiesPath string) error
}

type Server struct {
	cfg        *config.Config
	ec         *echo.Echo
	validator  *source.Validator
	limiter    *ratelimit.Limiter
	creds      *credentials.Provider
	workspaces *workspace.Manager
	fetcher    Fetcher
}

func New(
	cfg *config.Config,
	validator *source.Validator,
	limiter *ratelimit.Limiter,
	creds *credentials.Provider,
	workspaces *workspace.Manager,
	fetcher Fetcher,
) *Server {
	ec := echo.New()
	ec.HideBanner = true
	ec.HidePort = true
	ec.Use(middleware.Recover())

	srv := &Server{
		cfg:        cfg,
		ec:         ec,
		validator:  validator,
		limiter:    limiter,
		creds:      creds,
		workspaces: workspaces,
		fetcher:    fetcher,
	}

	ec.POST("/download", srv.handleDownload)
	ec.GET("/healthz", func(ec echo.Context) error {
		return ec.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.StaticDir != "" {
		if _, err := os.Stat(cfg.StaticDir); err == nil {
			ec.Static("/", cfg.StaticDir)
		}
	}
	return srv
}

// Handler exposes the underlying router for httptest-driven tests.
func (s *Server) Handler() http.Handler { return s.ec }

// Run starts the router and shuts it down gracefully when the context is
// cancelled. It blocks until the server has stopped.
func (s *Server) Run(ctx context.Context) error {
	log := logging.Get("server")
	runCtx, cancelCause := context.WithCancelCause(ctx)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.ec.Start(":" + s.cfg.Port); err != nil && err != http.ErrServerClosed {
			cancelCause(err)
		}
	}()

	go func() {
		<-runCtx.Done()
		log.Info().Msg("Shutting down HTTP server")
		if err := s.ec.Shutdown(context.Background()); err != nil {
			s.ec.Close()
		}
	}()

	wg.Wait()
	if cause := context.Cause(runCtx); cause != runCtx.Err() {
		return cause
	}
	return nil
}
