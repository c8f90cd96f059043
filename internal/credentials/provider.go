// Package credentials supplies the optional cookie-jar context used for
// authenticated fetches. Authentication is best-effort: an absent or
// invalid jar means fetches proceed unauthenticated, never a failed request.
package credentials

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ytserve/ytserve/internal/logging"
)

// A browser-exported Netscape cookie jar for the target platform is at
// minimum a header line plus one domain-scoped cookie line.
const minJarSize = 64

var domainMarkers = [][]byte{
	[]byte(".youtube.com"),
	[]byte("youtube.com\t"),
}

type Context struct {
	Path string
}

type Provider struct {
	path string

	mu         sync.Mutex
	checkedAt  time.Time
	cachedOK   bool
	cachedSize int64
	cachedMod  time.Time
}

// New builds a provider over the given jar path. Inline content, when
// provided, is written to the path once here so the filesystem side effect
// is explicit and constructor-scoped rather than ambient process startup.
func New(path, inlineContent string) (*Provider, error) {
	if inlineContent != "" {
		if err := os.WriteFile(path, []byte(inlineContent), 0o600); err != nil {
			return nil, fmt.Errorf("error writing credential file: %w", err)
		}
	}
	return &Provider{path: path}, nil
}

// Current returns the credential context if the jar on disk is valid.
// The validity check is cached against the file's size and mtime; the
// provider never mutates the jar.
func (p *Provider) Current() (Context, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	log := logging.Get("credentials")

	info, err := os.Stat(p.path)
	if err != nil {
		p.cachedOK = false
		return Context{}, false
	}
	if !p.checkedAt.IsZero() && info.Size() == p.cachedSize && info.ModTime().Equal(p.cachedMod) {
		if p.cachedOK {
			return Context{Path: p.path}, true
		}
		return Context{}, false
	}

	p.checkedAt = time.Now()
	p.cachedSize = info.Size()
	p.cachedMod = info.ModTime()
	p.cachedOK = p.validate(info.Size())
	if !p.cachedOK {
		log.Debug().Str("path", p.path).Msg("Credential file present but not usable, proceeding unauthenticated")
		return Context{}, false
	}
	return Context{Path: p.path}, true
}

func (p *Provider) validate(size int64) bool {
	if size < minJarSize {
		return false
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return false
	}
	if !hasDomainMarker(data) {
		return false
	}
	return hasLiveCookie(string(data), time.Now())
}

func hasDomainMarker(data []byte) bool {
	for _, marker := range domainMarkers {
		if bytes.Contains(data, marker) {
			return true
		}
	}
	return false
}

// hasLiveCookie reports whether the jar holds at least one cookie that is
// still usable: a session cookie (expiry 0) or one expiring after now. A jar
// whose cookies have all expired authenticates nothing.
func hasLiveCookie(data string, now time.Time) bool {
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimRight(line, "\r")
		// HttpOnly cookie lines carry a comment-style prefix in this format.
		line = strings.TrimPrefix(line, "#HttpOnly_")
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 7 {
			continue
		}
		expiry, err := strconv.ParseInt(fields[4], 10, 64)
		if err != nil {
			continue
		}
		if expiry == 0 || time.Unix(expiry, 0).After(now) {
			return true
		}
	}
	return false
}
