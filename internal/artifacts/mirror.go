package artifacts

import (
	"context"
	"mime"
	"os"
	"path/filepath"

	"github.com/kuitang/promptdeck-e2e/internal/obs"
	"github.com/kuitang/promptdeck-e2e/internal/s3client"
)

// Mirror uploads the artifacts of one run to S3 under <prefix>/<runID>/.
type Mirror struct {
	client *s3client.Client
	runID  string
	synced map[string]bool
}

// NewMirror returns a mirror for runID.
func NewMirror(client *s3client.Client, runID string) *Mirror {
	return &Mirror{client: client, runID: runID, synced: map[string]bool{}}
}

// FlushResult summarizes one Flush call.
type FlushResult struct {
	Uploaded []string
	Failed   []string
}

// Flush uploads every artifact the writer tracked that was not uploaded yet.
// Upload failures are logged and reported; they never abort the flush.
func (m *Mirror) Flush(ctx context.Context, w *Writer) FlushResult {
	logger := obs.From(ctx).With("pkg", "artifacts")
	var res FlushResult
	for _, path := range w.Written() {
		if m.synced[path] {
			continue
		}
		rel, err := filepath.Rel(w.RunDir, path)
		if err != nil {
			rel = filepath.Base(path)
		}
		key := m.client.Key(m.runID, filepath.ToSlash(rel))

		data, err := os.ReadFile(path)
		if err == nil {
			err = m.client.PutObject(ctx, key, data, mime.TypeByExtension(filepath.Ext(path)))
		}
		if err != nil {
			logger.Warn("artifact_upload_failed", "path", path, "key", key, "error", err.Error())
			res.Failed = append(res.Failed, path)
			continue
		}
		m.synced[path] = true
		res.Uploaded = append(res.Uploaded, m.client.URI(key))
	}
	logger.Info("artifacts_mirrored", "uploaded", len(res.Uploaded), "failed", len(res.Failed))
	return res
}
