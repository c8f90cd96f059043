// Package workspace allocates an isolated output directory per fetch job.
// Exclusive, identifier-keyed directories are what make concurrent requests
// safe: each job's artifact can only ever land in that job's directory, so
// there is no "newest file in a shared folder" guessing anywhere.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/ytserve/ytserve/internal/logging"
)

type Manager struct {
	root string
}

// Job is one fetch job's record: a unique identifier and the exclusive
// directory derived from it. Owned by a single request, never shared.
type Job struct {
	ID  string
	Dir string

	destroyed atomic.Bool
}

func NewManager(root string) (*Manager, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("error creating artifact root: %w", err)
	}
	return &Manager{root: root}, nil
}

// Create allocates a fresh job with a collision-resistant identifier and an
// exclusive directory under the artifact root. Mkdir (not MkdirAll) so an
// identifier collision surfaces as an error instead of a shared directory.
func (m *Manager) Create() (*Job, error) {
	id := uuid.NewString()
	dir := filepath.Join(m.root, id)
	if err := os.Mkdir(dir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating job workspace: %w", err)
	}
	return &Job{ID: id, Dir: dir}, nil
}

// Destroy removes the job's entire workspace tree. Idempotent: the second
// and later calls are no-ops and never fail.
func (j *Job) Destroy() error {
	if !j.destroyed.CompareAndSwap(false, true) {
		return nil
	}
	if err := os.RemoveAll(j.Dir); err != nil {
		return fmt.Errorf("error removing job workspace: %w", err)
	}
	return nil
}

// SweepOrphans removes leftover job directories from previous runs. Called
// once at startup; live jobs never exist at that point.
func (m *Manager) SweepOrphans() (int, error) {
	log := logging.Get("workspace")
	entries, err := os.ReadDir(m.root)
	if err != nil {
		return 0, fmt.Errorf("error listing artifact root: %w", err)
	}
	removed := 0
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, entry.Name())); err != nil {
			log.Warn().Err(err).Str("dir", entry.Name()).Msg("Failed to remove orphaned workspace")
			continue
		}
		removed++
	}
	if removed > 0 {
		log.Info().Int("count", removed).Msg("Removed orphaned workspaces")
	}
	return removed, nil
}
