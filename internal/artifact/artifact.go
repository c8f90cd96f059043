// Package artifact resolves the single output file a fetch job produced
// and derives a display name safe for a download disposition header.
package artifact

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ytserve/ytserve/internal/classify"
	"github.com/ytserve/ytserve/internal/logging"
	"github.com/ytserve/ytserve/internal/workspace"
)

type Artifact struct {
	Path string
	Name string
	Size int64
}

// Intermediate files the fetch tool may leave behind mid-merge.
var intermediateSuffixes = []string{".part", ".ytdl", ".temp", ".tmp"}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_\-\. ]+`)

// Resolve identifies the job's output. Per-job workspace isolation means
// exactly one file should exist; zero files after a reported-successful
// fetch is an internal inconsistency. More than one should not occur, but
// if it does we take the most recently modified and flag the anomaly
// rather than failing or silently guessing.
func Resolve(job *workspace.Job) (*Artifact, error) {
	log := logging.Get("artifact")
	entries, err := os.ReadDir(job.Dir)
	if err != nil {
		return nil, classify.Wrap(classify.ArtifactNotFound, "Download produced no output", err)
	}

	var candidates []os.DirEntry
	for _, entry := range entries {
		if entry.IsDir() || isIntermediate(entry.Name()) {
			continue
		}
		candidates = append(candidates, entry)
	}
	if len(candidates) == 0 {
		return nil, classify.New(classify.ArtifactNotFound, "Download produced no output")
	}

	chosen := candidates[0]
	if len(candidates) > 1 {
		log.Warn().
			Str("job", job.ID).
			Int("count", len(candidates)).
			Msg("Workspace holds multiple files, picking most recent")
		for _, entry := range candidates[1:] {
			if newerThan(entry, chosen) {
				chosen = entry
			}
		}
	}

	info, err := chosen.Info()
	if err != nil {
		return nil, classify.Wrap(classify.ArtifactNotFound, "Download produced no output", err)
	}
	return &Artifact{
		Path: filepath.Join(job.Dir, chosen.Name()),
		Name: SanitizeName(chosen.Name()),
		Size: info.Size(),
	}, nil
}

func isIntermediate(name string) bool {
	for _, suffix := range intermediateSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

func newerThan(a, b os.DirEntry) bool {
	infoA, errA := a.Info()
	infoB, errB := b.Info()
	if errA != nil || errB != nil {
		return false
	}
	return infoA.ModTime().After(infoB.ModTime())
}

// SanitizeName collapses a file name to a safe character subset so it can
// be echoed in a Content-Disposition header: path separators and control
// characters go first, everything outside the safe set becomes "_".
func SanitizeName(name string) string {
	name = filepath.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '/' || r == '\\' {
			return -1
		}
		return r
	}, name)
	name = unsafeNameChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, " .")
	if len(name) > 200 {
		name = name[:200]
	}
	if name == "" {
		return "download"
	}
	return name
}
