// Package background runs the process-lifetime maintenance jobs: sweeping
// orphaned upload temp files and reporting stale live sessions.
package background

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/recapio/recap-server/internal/logger"
	"github.com/recapio/recap-server/internal/meetings"
	"github.com/recapio/recap-server/internal/storage/sqlite"
)

// tempFileMaxAge is how long an upload temp file may linger before the
// sweeper treats it as orphaned. Normal requests remove their own files; the
// sweeper only catches crash leftovers.
const tempFileMaxAge = 2 * time.Hour

// staleSessionAge marks an active session as abandoned for reporting.
// Abandoned sessions are logged, never reaped: the single-active-session
// guard already lets the client reattach.
const staleSessionAge = 24 * time.Hour

// Service owns the cron scheduler.
type Service struct {
	store  *sqlite.Store
	logger *logger.Logger
	cron   *cron.Cron
}

// NewService wires the maintenance jobs.
func NewService(store *sqlite.Store, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		logger: log.WithComponent("background"),
		cron:   cron.New(),
	}
}

// Start registers and launches the jobs. Schedules are fixed: the temp sweep
// runs hourly, the stale-session report daily.
func (s *Service) Start() error {
	if _, err := s.cron.AddFunc("@hourly", s.sweepTempFiles); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("@daily", s.reportStaleSessions); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("background jobs started")
	return nil
}

// Stop halts the scheduler and waits for running jobs to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("background jobs stopped")
}

// sweepTempFiles removes upload temp files older than the max age.
func (s *Service) sweepTempFiles() {
	dir := meetings.TempUploadDir()
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Error("temp sweep failed to read dir",
				slog.String("dir", dir), slog.Any("error", err))
		}
		return
	}

	cutoff := time.Now().Add(-tempFileMaxAge)
	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err == nil {
			removed++
		}
	}
	if removed > 0 {
		s.logger.Info("swept orphaned temp files", slog.Int("removed", removed))
	}
}

// reportStaleSessions logs how many active sessions look abandoned.
func (s *Service) reportStaleSessions() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	count, err := s.store.CountStaleActiveSessions(ctx, time.Now().Add(-staleSessionAge))
	if err != nil {
		s.logger.LogError(ctx, err, "stale session count failed")
		return
	}
	if count > 0 {
		s.logger.Warn("stale active sessions detected",
			slog.Int64("count", count),
			slog.Duration("older_than", staleSessionAge))
	}
}
