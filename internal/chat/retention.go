package chat

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sweeper deletes messages past the retention window once a day and
// unlinks the uploaded files that belonged to expired image messages.
// It runs outside the realtime event path entirely.
type Sweeper struct {
	repo      *Repository
	uploadDir string
	log       *zap.Logger
}

func NewSweeper(repo *Repository, uploadDir string, log *zap.Logger) *Sweeper {
	return &Sweeper{repo: repo, uploadDir: uploadDir, log: log}
}

// Run blocks until ctx is done, sweeping at the next midnight and every
// 24h after that.
func (s *Sweeper) Run(ctx context.Context) {
	timer := time.NewTimer(untilNextMidnight(time.Now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
			s.Sweep(ctx)
			timer.Reset(untilNextMidnight(time.Now()))
		}
	}
}

// Sweep performs one pass. Files are removed first; a row whose file
// unlink fails is still deleted, matching the original cleanup job.
func (s *Sweeper) Sweep(ctx context.Context) {
	paths, err := s.repo.ExpiredImagePaths(ctx)
	if err != nil {
		s.log.Error("retention sweep: listing expired images failed", zap.Error(err))
		return
	}

	for _, p := range paths {
		full := s.resolveUploadPath(p)
		if full == "" {
			continue
		}
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			s.log.Warn("retention sweep: file unlink failed",
				zap.String("path", full), zap.Error(err))
		}
	}

	n, err := s.repo.DeleteExpired(ctx)
	if err != nil {
		s.log.Error("retention sweep: delete failed", zap.Error(err))
		return
	}
	s.log.Info("retention sweep complete",
		zap.Int64("messages_deleted", n), zap.Int("files_considered", len(paths)))
}

// resolveUploadPath maps a stored "/uploads/name.png" content path onto the
// upload directory, refusing anything that escapes it.
func (s *Sweeper) resolveUploadPath(content string) string {
	name := filepath.Base(strings.TrimPrefix(content, "/uploads/"))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return ""
	}
	return filepath.Join(s.uploadDir, name)
}

func untilNextMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(24 * time.Hour)
	return next.Sub(now)
}
