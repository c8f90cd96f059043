package server_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ytserve/ytserve/internal/classify"
	"github.com/ytserve/ytserve/internal/config"
	"github.com/ytserve/ytserve/internal/credentials"
	"github.com/ytserve/ytserve/internal/logging"
	"github.com/ytserve/ytserve/internal/ratelimit"
	"github.com/ytserve/ytserve/internal/server"
	"github.com/ytserve/ytserve/internal/source"
	"github.com/ytserve/ytserve/internal/workspace"
)

func TestMain(m *testing.M) {
	logging.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// fetcherFunc adapts a function to the server.Fetcher contract so tests can
// script the fetch step without a real subprocess.
type fetcherFunc func(ctx context.Context, job *workspace.Job, url, cookiesPath string) error

func (f fetcherFunc) Run(ctx context.Context, job *workspace.Job, url, cookiesPath string) error {
	return f(ctx, job, url, cookiesPath)
}

type fixture struct {
	srv  *server.Server
	root string
}

func newFixture(t *testing.T, cfg *config.Config, limiter *ratelimit.Limiter, fetcher server.Fetcher) *fixture {
	t.Helper()
	root := t.TempDir()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if limiter == nil {
		limiter = ratelimit.New(1000, time.Minute)
	}
	creds, err := credentials.New(filepath.Join(t.TempDir(), "cookies.txt"), "")
	require.NoError(t, err)
	workspaces, err := workspace.NewManager(root)
	require.NoError(t, err)
	srv := server.New(cfg, source.NewValidator(nil), limiter, creds, workspaces, fetcher)
	return &fixture{srv: srv, root: root}
}

func (f *fixture) post(t *testing.T, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/download", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *fixture) workspaceCount(t *testing.T) int {
	t.Helper()
	entries, err := os.ReadDir(f.root)
	require.NoError(t, err)
	return len(entries)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var payload map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	return payload
}

func writeArtifact(job *workspace.Job, name, content string) error {
	return os.WriteFile(filepath.Join(job.Dir, name), []byte(content), 0o644)
}

func Test_Download_Success(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(ctx context.Context, job *workspace.Job, url, cookiesPath string) error {
		assert.Empty(t, cookiesPath, "no credential context is configured")
		return writeArtifact(job, "Never Gonna Give You Up.mp4", "rick bytes")
	}))

	rec := f.post(t, `{"url":"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "rick bytes", rec.Body.String())
	assert.Equal(t, `attachment; filename="Never Gonna Give You Up.mp4"`, rec.Header().Get("Content-Disposition"))
	assert.Equal(t, "10", rec.Header().Get("Content-Length"))
	assert.Zero(t, f.workspaceCount(t), "no residual workspace after delivery")
}

func Test_Download_InvalidURL(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(context.Context, *workspace.Job, string, string) error {
		t.Fatal("fetcher must not run for invalid requests")
		return nil
	}))

	for name, body := range map[string]string{
		"not a url":    `{"url":"not a url"}`,
		"empty url":    `{"url":""}`,
		"missing url":  `{}`,
		"whitespace":   `{"url":"   "}`,
		"invalid json": `{"url":`,
	} {
		t.Run(name, func(t *testing.T) {
			rec := f.post(t, body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			payload := decodeError(t, rec)
			assert.NotEmpty(t, payload["error"])
		})
	}
	assert.Zero(t, f.workspaceCount(t), "no workspace may be created for rejected requests")
}

func Test_Download_UnsupportedSource(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(context.Context, *workspace.Job, string, string) error {
		t.Fatal("fetcher must not run for unsupported sources")
		return nil
	}))

	rec := f.post(t, `{"url":"https://vimeo.com/12345"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	payload := decodeError(t, rec)
	assert.NotEmpty(t, payload["error"])
	assert.Equal(t, source.ExampleURL, payload["example"])
	assert.Zero(t, f.workspaceCount(t))
}

func Test_Download_RateLimited(t *testing.T) {
	t.Parallel()
	limiter := ratelimit.New(2, time.Hour)
	f := newFixture(t, nil, limiter, fetcherFunc(func(ctx context.Context, job *workspace.Job, url, cookiesPath string) error {
		return writeArtifact(job, "v.mp4", "x")
	}))

	for i := 0; i < 2; i++ {
		rec := f.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}
	rec := f.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	payload := decodeError(t, rec)
	assert.Contains(t, payload["error"], "Too many requests")
	assert.Zero(t, f.workspaceCount(t), "rejected requests must not allocate workspaces")
}

func Test_Download_FetchAuthFailure(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(context.Context, *workspace.Job, string, string) error {
		return classify.New(classify.AuthRequired, "This content requires sign-in; supply a valid cookies file")
	}))

	rec := f.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	payload := decodeError(t, rec)
	assert.Contains(t, payload["error"], "sign-in")
	assert.Zero(t, f.workspaceCount(t), "workspace must be removed after a failed fetch")
}

func Test_Download_FetchTimeout(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(context.Context, *workspace.Job, string, string) error {
		return classify.New(classify.FetchTimeout, "Download timed out")
	}))

	rec := f.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	assert.Equal(t, http.StatusGatewayTimeout, rec.Code)
	assert.Zero(t, f.workspaceCount(t))
}

func Test_Download_EmptyWorkspaceAfterFetch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(context.Context, *workspace.Job, string, string) error {
		return nil // reported success, produced nothing
	}))

	rec := f.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Zero(t, f.workspaceCount(t))
}

func Test_Download_UnreadableArtifact(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(ctx context.Context, job *workspace.Job, url, cookiesPath string) error {
		// A dangling symlink resolves as the artifact but cannot be opened;
		// the caller must still get an error response, not an empty 200.
		return os.Symlink(filepath.Join(job.Dir, "gone"), filepath.Join(job.Dir, "v.mp4"))
	}))

	rec := f.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	payload := decodeError(t, rec)
	assert.NotEmpty(t, payload["error"])
	assert.Zero(t, f.workspaceCount(t))
}

func Test_Download_DetailsOnlyInDebugMode(t *testing.T) {
	t.Parallel()
	cause := errors.New("internal diagnostic: /private/path/cookies.txt")
	fetcher := fetcherFunc(func(context.Context, *workspace.Job, string, string) error {
		return classify.Wrap(classify.FetchFailed, "Download failed", cause)
	})

	prod := newFixture(t, &config.Config{Debug: false}, nil, fetcher)
	rec := prod.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	payload := decodeError(t, rec)
	assert.Equal(t, "Download failed", payload["error"])
	assert.Empty(t, payload["details"], "internals must not leak outside diagnostics mode")

	dev := newFixture(t, &config.Config{Debug: true}, nil, fetcher)
	rec = dev.post(t, `{"url":"https://www.youtube.com/watch?v=abc"}`)
	payload = decodeError(t, rec)
	assert.Contains(t, payload["details"], "internal diagnostic")
}

func Test_Healthz(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(context.Context, *workspace.Job, string, string) error {
		return nil
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	f.srv.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// Regression test for the shared-directory race: concurrent requests must
// each receive the artifact produced by their own job, never a neighbor's.
func Test_Download_ConcurrentRequestsGetOwnArtifacts(t *testing.T) {
	t.Parallel()
	f := newFixture(t, nil, nil, fetcherFunc(func(ctx context.Context, job *workspace.Job, rawURL, cookiesPath string) error {
		parsed, err := url.Parse(rawURL)
		if err != nil {
			return err
		}
		videoID := parsed.Query().Get("v")
		// Stagger completions so a "newest file wins" strategy would
		// reliably hand one job another job's output.
		time.Sleep(time.Duration(videoID[len(videoID)-1]%5) * 10 * time.Millisecond)
		return writeArtifact(job, videoID+".mp4", "content-for-"+videoID)
	}))

	ts := httptest.NewServer(f.srv.Handler())
	defer ts.Close()

	const clients = 8
	var wg sync.WaitGroup
	failures := make(chan string, clients)
	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			videoID := fmt.Sprintf("vid%04d", i)
			body := fmt.Sprintf(`{"url":"https://www.youtube.com/watch?v=%s"}`, videoID)
			resp, err := http.Post(ts.URL+"/download", "application/json", strings.NewReader(body))
			if err != nil {
				failures <- err.Error()
				return
			}
			defer resp.Body.Close()
			data, err := io.ReadAll(resp.Body)
			if err != nil {
				failures <- err.Error()
				return
			}
			if resp.StatusCode != http.StatusOK {
				failures <- fmt.Sprintf("request %d: status %d", i, resp.StatusCode)
				return
			}
			if want := "content-for-" + videoID; string(data) != want {
				failures <- fmt.Sprintf("request %d: got %q, want %q", i, data, want)
			}
		}(i)
	}
	wg.Wait()
	close(failures)
	for failure := range failures {
		t.Error(failure)
	}
	assert.Zero(t, f.workspaceCount(t), "no residual workspaces after concurrent deliveries")
}
