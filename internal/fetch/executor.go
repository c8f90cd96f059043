// Package fetch invokes the external fetch tool (yt-dlp) against a job's
// workspace. The tool is an opaque contract: it takes a URL and an output
// template and leaves a single merged media file in the workspace.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/ytserve/ytserve/internal/classify"
	"github.com/ytserve/ytserve/internal/logging"
	"github.com/ytserve/ytserve/internal/workspace"
)

var formatPolicies = map[string]string{
	"best":    "bestvideo+bestaudio/best",
	"best60":  "bestvideo[fps<=60]+bestaudio/best",
	"bestmp4": "bestvideo[ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"decent":  "bestvideo[height<=1080]+bestaudio/best",
	"cheap":   "bestvideo[height<=720]+bestaudio/best",
	"1080p":   "bestvideo[height=1080][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"720p":    "bestvideo[height=720][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
	"480p":    "bestvideo[height=480][ext=mp4]+bestaudio[ext=m4a]/best[ext=mp4]",
}

// FormatPolicy resolves a named quality policy to a yt-dlp format selector.
func FormatPolicy(name string) (string, bool) {
	selector, ok := formatPolicies[name]
	return selector, ok
}

const (
	defaultTimeout    = 10 * time.Minute
	defaultRetryDelay = 2 * time.Second
	stderrTailLines   = 8
)

type Options struct {
	Binary     string
	Format     string
	Timeout    time.Duration
	Retries    int
	RetryDelay time.Duration
}

type Executor struct {
	binary     string
	format     string
	timeout    time.Duration
	retries    int
	retryDelay time.Duration
}

func NewExecutor(opts Options) (*Executor, error) {
	binary := opts.Binary
	if binary == "" {
		binary = findBinary()
	}
	if binary == "" {
		return nil, errors.New("yt-dlp not found in PATH or alongside the executable")
	}
	format, ok := formatPolicies[opts.Format]
	if !ok {
		return nil, fmt.Errorf("unknown format policy %q", opts.Format)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = defaultRetryDelay
	}
	return &Executor{
		binary:     binary,
		format:     format,
		timeout:    timeout,
		retries:    opts.Retries,
		retryDelay: retryDelay,
	}, nil
}

// findBinary checks PATH first, then the directory of the running executable.
func findBinary() string {
	if path, err := exec.LookPath("yt-dlp"); err == nil {
		return path
	}
	executable, err := os.Executable()
	if err != nil {
		return ""
	}
	for _, name := range []string{"yt-dlp", "yt-dlp.exe"} {
		candidate := filepath.Join(filepath.Dir(executable), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// Run fetches the URL into the job's workspace, retrying transient failures
// up to the configured bound. Permanent failures (auth, unavailable content)
// and timeouts are returned immediately.
func (e *Executor) Run(ctx context.Context, job *workspace.Job, url, cookiesPath string) error {
	log := logging.Get("fetch")
	attempts := e.retries + 1
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		diag, err := e.runOnce(ctx, job, url, cookiesPath)
		if err == nil {
			log.Info().Str("job", job.ID).Int("attempt", attempt).Msg("Fetch completed")
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || classify.Is(err, classify.FetchTimeout) {
			return err
		}
		if !classify.Transient(diag) || attempt == attempts {
			return err
		}
		log.Warn().Str("job", job.ID).Int("attempt", attempt).Msg("Transient fetch failure, retrying")
		if err := clearWorkspace(job); err != nil {
			return classify.Wrap(classify.FetchFailed, "Download failed", err)
		}
		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(time.Duration(attempt) * e.retryDelay):
		}
	}
	return lastErr
}

// runOnce performs a single subprocess invocation. It returns the captured
// stderr tail alongside any error so the caller can judge transience; the
// tail is never propagated to API callers.
func (e *Executor) runOnce(ctx context.Context, job *workspace.Job, url, cookiesPath string) (string, error) {
	runCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	args := []string{
		"-q",
		"--no-warnings",
		"--newline",
		"--no-playlist",
		"-f", e.format,
		"--merge-output-format", "mp4",
		"-o", filepath.Join(job.Dir, "%(title)s.%(ext)s"),
		"--user-agent", randomUserAgent(),
		"--socket-timeout", "30",
	}
	if cookiesPath != "" {
		args = append(args, "--cookies", cookiesPath)
	}
	args = append(args, url)

	tail := &stderrTail{}
	cmd := exec.CommandContext(runCtx, e.binary, args...)
	cmd.Stdout = io.Discard
	cmd.Stderr = tail
	// The tool spawns helper processes (ffmpeg for merging) that inherit its
	// pipes and its lifetime. Run it in its own process group and kill the
	// group at the deadline, or a helper keeps the pipes open and outlives
	// the job.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 10 * time.Second

	waitErr := cmd.Run()
	if waitErr == nil {
		return "", nil
	}

	diag := tail.String()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return diag, classify.Wrap(classify.FetchTimeout, "Download timed out", waitErr)
	}
	exitCode := -1
	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		exitCode = exitErr.ExitCode()
	}
	log := logging.Get("fetch")
	log.Debug().
		Str("job", job.ID).
		Int("exit", exitCode).
		Str("stderr", diag).
		Msg("Fetch tool failed")
	return diag, classify.Subprocess(exitCode, diag, fmt.Errorf("fetch tool exited with code %d", exitCode))
}

// stderrTail retains the last few stderr lines for classification; the
// tool's full output is unbounded and never needed.
type stderrTail struct {
	mu      sync.Mutex
	lines   []string
	partial strings.Builder
}

func (t *stderrTail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, b := range p {
		if b == '\n' {
			t.push(t.partial.String())
			t.partial.Reset()
			continue
		}
		t.partial.WriteByte(b)
	}
	return len(p), nil
}

func (t *stderrTail) push(line string) {
	t.lines = append(t.lines, line)
	if len(t.lines) > stderrTailLines {
		t.lines = t.lines[len(t.lines)-stderrTailLines:]
	}
}

func (t *stderrTail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	lines := t.lines
	if t.partial.Len() > 0 {
		lines = append(append([]string(nil), t.lines...), t.partial.String())
	}
	return strings.Join(lines, "\n")
}

// clearWorkspace empties the job directory between retry attempts so a
// partial artifact from a failed attempt cannot survive into resolution.
func clearWorkspace(job *workspace.Job) error {
	entries, err := os.ReadDir(job.Dir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if err := os.RemoveAll(filepath.Join(job.Dir, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}
