// Package source validates and normalizes inbound media-source URLs.
package source

import (
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/ytserve/ytserve/internal/classify"
	"gopkg.in/yaml.v3"
)

// ExampleURL is echoed in validation error responses as a hint.
const ExampleURL = "https://www.youtube.com/watch?v=dQw4w9WgXcQ"

var defaultHosts = []string{
	"youtube.com",
	"www.youtube.com",
	"m.youtube.com",
	"music.youtube.com",
	"youtube-nocookie.com",
	"www.youtube-nocookie.com",
	"youtu.be",
	"www.youtu.be",
}

var contentPathPrefixes = []string{"/shorts/", "/live/", "/embed/", "/v/"}

type Validator struct {
	hosts map[string]struct{}
}

func NewValidator(extraHosts []string) *Validator {
	hosts := make(map[string]struct{}, len(defaultHosts)+len(extraHosts))
	for _, host := range defaultHosts {
		hosts[host] = struct{}{}
	}
	for _, host := range extraHosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host != "" {
			hosts[host] = struct{}{}
		}
	}
	return &Validator{hosts: hosts}
}

// LoadExtraHosts reads additional allowed hosts from a YAML list file.
func LoadExtraHosts(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("error reading hosts file: %w", err)
	}
	var hosts []string
	if err := yaml.Unmarshal(data, &hosts); err != nil {
		return nil, fmt.Errorf("error parsing hosts file: %w", err)
	}
	for i, host := range hosts {
		if strings.TrimSpace(host) == "" {
			return nil, fmt.Errorf("empty host at entry %d", i+1)
		}
	}
	return hosts, nil
}

// Validate normalizes the raw URL and checks it against the allow-list and
// the recognized content path shapes. It returns the normalized URL string.
// Pure function: no side effects.
func (v *Validator) Validate(raw string) (string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return "", classify.New(classify.InvalidRequest, "Invalid URL")
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "https://" + trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Hostname() == "" {
		return "", classify.Wrap(classify.InvalidRequest, "Invalid URL", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", classify.New(classify.InvalidRequest, "Invalid URL")
	}
	host := strings.ToLower(parsed.Hostname())
	if _, ok := v.hosts[host]; !ok {
		return "", classify.New(classify.UnsupportedSource, "URL is not a recognized media source")
	}
	if !recognizedPath(host, parsed) {
		return "", classify.New(classify.UnsupportedSource, "URL is not a recognized content reference")
	}
	return parsed.String(), nil
}

// recognizedPath accepts watch pages, short-form paths, and bare hosts.
// Short-link hosts carry the video ID as the whole path.
func recognizedPath(host string, parsed *url.URL) bool {
	path := parsed.EscapedPath()
	if path == "" || path == "/" {
		return true
	}
	if strings.HasSuffix(host, "youtu.be") {
		return len(strings.Trim(path, "/")) > 0
	}
	if path == "/watch" {
		return parsed.Query().Get("v") != ""
	}
	for _, prefix := range contentPathPrefixes {
		if strings.HasPrefix(path, prefix) && len(path) > len(prefix) {
			return true
		}
	}
	return false
}
