// Package delivery streams a job's artifact to the caller and guarantees
// the workspace is removed exactly once on every exit path: completed
// stream, client abort, or mid-transfer failure.
package delivery

import (
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ytserve/ytserve/internal/artifact"
	"github.com/ytserve/ytserve/internal/classify"
	"github.com/ytserve/ytserve/internal/logging"
	"github.com/ytserve/ytserve/internal/workspace"
)

// Container formats the fetch tool commonly emits. The platform MIME table
// is consulted for anything else, since /etc/mime.types may be absent in
// minimal containers.
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".opus": "audio/opus",
}

func typeForExtension(ext string) string {
	if contentType, ok := mediaTypes[ext]; ok {
		return contentType
	}
	if contentType := mime.TypeByExtension(ext); contentType != "" {
		return contentType
	}
	return "application/octet-stream"
}

// Deliver writes the artifact's bytes to the response with length and
// attachment-disposition headers. The workspace is destroyed in a defer so
// cleanup runs regardless of how the transfer ends; destruction failures
// are logged and never surfaced since the response is already in flight.
//
// An error returned before WriteHeader runs is a classified failure the
// caller can still turn into an error response; errors after that are for
// logging only, the response cannot be rewound.
func Deliver(w http.ResponseWriter, art *artifact.Artifact, job *workspace.Job) error {
	log := logging.Get("delivery")
	defer func() {
		if err := job.Destroy(); err != nil {
			log.Warn().Err(err).Str("job", job.ID).Msg("Workspace cleanup failed")
		}
	}()

	file, err := os.Open(art.Path)
	if err != nil {
		return classify.Wrap(classify.ArtifactNotFound,
			"Download completed but the file could not be read", err)
	}
	defer file.Close()

	contentType := typeForExtension(filepath.Ext(art.Path))
	header := w.Header()
	header.Set("Content-Type", contentType)
	header.Set("Content-Length", strconv.FormatInt(art.Size, 10))
	header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Name))
	w.WriteHeader(http.StatusOK)

	sent, err := io.Copy(w, file)
	if err != nil {
		// Most commonly the client went away mid-transfer.
		log.Warn().Err(err).Str("job", job.ID).Int64("sent", sent).Msg("Transfer aborted")
		return fmt.Errorf("transfer aborted after %d bytes: %w", sent, err)
	}
	log.Info().Str("job", job.ID).Str("name", art.Name).Int64("bytes", sent).Msg("Artifact delivered")
	return nil
}
