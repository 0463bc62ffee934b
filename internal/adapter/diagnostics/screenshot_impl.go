// Package diagnostics stores best-effort page artifacts for debugging
// challenge and extraction failures.
package diagnostics

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"go.uber.org/zap"

	"github.com/user/listing-crawler/internal/repository"
)

var unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ScreenshotRepoImpl writes PNG screenshots to a directory.
type ScreenshotRepoImpl struct {
	dir    string
	now    func() time.Time
	logger *zap.Logger
}

// NewScreenshotRepo creates the directory if needed.
func NewScreenshotRepo(dir string, logger *zap.Logger) (*ScreenshotRepoImpl, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create diagnostics dir: %w", err)
	}
	return &ScreenshotRepoImpl{dir: dir, now: time.Now, logger: logger}, nil
}

// Capture writes <dir>/<label>-<unix nanos>.png.
func (r *ScreenshotRepoImpl) Capture(ctx context.Context, page repository.PageHandle, label string) error {
	png, err := page.Screenshot(ctx)
	if err != nil {
		return fmt.Errorf("screenshot: %w", err)
	}
	name := fmt.Sprintf("%s-%d.png", unsafeLabel.ReplaceAllString(label, "_"), r.now().UnixNano())
	path := filepath.Join(r.dir, name)
	if err := os.WriteFile(path, png, 0o644); err != nil {
		return fmt.Errorf("write screenshot: %w", err)
	}
	r.logger.Debug("diagnostic screenshot saved", zap.String("path", path))
	return nil
}

// Noop discards every capture.
type Noop struct{}

func (Noop) Capture(context.Context, repository.PageHandle, string) error { return nil }
