package classify

import "strings"

// The fetch tool reports most failure detail through free-form stderr text
// rather than distinct exit codes, so classification falls back to a small
// fixed set of message patterns. This mapping is best-effort: anything
// unmatched becomes FetchFailed.
var (
	authPatterns = []string{
		"sign in to",
		"login required",
		"use --cookies",
		"cookies are no longer valid",
		"account has been terminated",
		"confirm your age",
	}
	unavailablePatterns = []string{
		"private video",
		"video unavailable",
		"this video is unavailable",
		"has been removed",
		"is not available",
		"blocked it in your country",
		"video is no longer available",
		"404",
		"410",
	}
	transientPatterns = []string{
		"timed out",
		"timeout",
		"connection reset",
		"connection refused",
		"temporary failure",
		"temporarily",
		"network is unreachable",
		"http error 429",
		"http error 5",
		"unable to download webpage",
		"incomplete read",
	}
)

// Subprocess maps a fetch-tool failure (exit code plus captured stderr tail)
// onto the taxonomy. Auth checks run before availability checks because
// "private video" diagnostics usually mention signing in as the remedy.
func Subprocess(exitCode int, stderr string, cause error) *Error {
	lowered := strings.ToLower(stderr)
	for _, pattern := range authPatterns {
		if strings.Contains(lowered, pattern) {
			return Wrap(AuthRequired, "This content requires sign-in; supply a valid cookies file", cause)
		}
	}
	for _, pattern := range unavailablePatterns {
		if strings.Contains(lowered, pattern) {
			return Wrap(SourceUnavailable, "The requested content is private, removed, or unavailable", cause)
		}
	}
	return Wrap(FetchFailed, "Download failed", cause)
}

// Transient reports whether the captured diagnostics indicate a failure
// worth retrying (network hiccups, upstream 5xx/429). Permanent failures
// like private or removed content must never be retried.
func Transient(stderr string) bool {
	lowered := strings.ToLower(stderr)
	for _, pattern := range authPatterns {
		if strings.Contains(lowered, pattern) {
			return false
		}
	}
	for _, pattern := range unavailablePatterns {
		if strings.Contains(lowered, pattern) {
			return false
		}
	}
	for _, pattern := range transientPatterns {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}
