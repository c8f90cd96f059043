package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/ytserve/ytserve/internal/artifact"
	"github.com/ytserve/ytserve/internal/classify"
	"github.com/ytserve/ytserve/internal/delivery"
	"github.com/ytserve/ytserve/internal/logging"
	"github.com/ytserve/ytserve/internal/source"
	"github.com/ytserve/ytserve/internal/workspace"
)

type downloadRequest struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Example string `json:"example,omitempty"`
	Details string `json:"details,omitempty"`
}

// handleDownload runs one request through the pipeline: validate, rate
// check, resolve credentials, create the job workspace, fetch, resolve the
// artifact, deliver. Validation and rate-limit failures short-circuit
// before any resource is allocated; once a workspace exists, every exit
// path destroys it.
func (s *Server) handleDownload(ec echo.Context) error {
	log := logging.Get("server")

	var req downloadRequest
	if err := ec.Bind(&req); err != nil {
		return s.writeError(ec, classify.Wrap(classify.InvalidRequest, "Invalid request body", err))
	}
	normalized, err := s.validator.Validate(req.URL)
	if err != nil {
		return s.writeError(ec, err)
	}

	clientID := ec.RealIP()
	if !s.limiter.TryAcquire(clientID) {
		log.Warn().Str("client", clientID).Msg("Rate limit exceeded")
		return s.writeError(ec, classify.New(classify.TooManyRequests,
			"Too many requests, please try again later"))
	}

	cookiesPath := ""
	if cred, ok := s.creds.Current(); ok {
		cookiesPath = cred.Path
	}

	job, err := s.workspaces.Create()
	if err != nil {
		return s.writeError(ec, classify.Wrap(classify.FetchFailed, "Download failed", err))
	}
	log.Info().Str("job", job.ID).Str("client", clientID).Bool("authenticated", cookiesPath != "").Msg("Job created")

	if err := s.fetcher.Run(ec.Request().Context(), job, normalized, cookiesPath); err != nil {
		s.destroyJob(job)
		return s.writeError(ec, err)
	}
	art, err := artifact.Resolve(job)
	if err != nil {
		s.destroyJob(job)
		return s.writeError(ec, err)
	}

	// Deliver destroys the workspace itself on every exit path. Failures
	// before any header was written still get a proper error response;
	// once the response is committed they are logged in delivery and the
	// connection is all that can carry the bad news.
	if err := delivery.Deliver(ec.Response(), art, job); err != nil {
		if ec.Response().Committed {
			return nil
		}
		return s.writeError(ec, err)
	}
	return nil
}

func (s *Server) destroyJob(job *workspace.Job) {
	if err := job.Destroy(); err != nil {
		log := logging.Get("server")
		log.Warn().Err(err).Msg("Workspace cleanup failed")
	}
}

func (s *Server) writeError(ec echo.Context, err error) error {
	cerr := classify.From(err)
	resp := errorResponse{Error: cerr.Message}
	if cerr.Kind == classify.UnsupportedSource || cerr.Kind == classify.InvalidRequest {
		resp.Example = source.ExampleURL
	}
	if s.cfg.Debug && cerr.Err != nil {
		resp.Details = cerr.Err.Error()
	}
	if cerr.Status() >= http.StatusInternalServerError {
		log := logging.Get("server")
		log.Error().Err(cerr).Msg("Request failed")
	}
	return ec.JSON(cerr.Status(), resp)
}
