package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/aulacast/aulacast/internal/drive"
	"github.com/aulacast/aulacast/internal/store"
)

const (
	// DefaultWakeupHour is the local hour of the daily wakeup pass.
	DefaultWakeupHour = 2

	// wakeupRepokeSpacing is the minimum gap between two pokes of the
	// same artifact.
	wakeupRepokeSpacing = 90 * time.Minute
)

// RunWakeupScheduler fires a wakeup pass once a day at the configured local
// hour until ctx ends.
func (s *Service) RunWakeupScheduler(ctx context.Context) {
	hour := s.cfg.WakeupHour
	if hour <= 0 || hour > 23 {
		hour = DefaultWakeupHour
	}

	for {
		now := time.Now()
		next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
		if !next.After(now) {
			next = next.Add(24 * time.Hour)
		}

		slog.Info("wakeup: scheduled", "at", next)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Until(next)):
		}

		s.RunWakeupPass(ctx, time.Now())
	}
}

// RunWakeupPass pokes yesterday's stored artifacts whose preview processing
// stalled. Bounded to two pokes per recording, ever.
func (s *Service) RunWakeupPass(ctx context.Context, now time.Time) {
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location()).Add(-24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	cutoff := now.Add(-wakeupRepokeSpacing)

	candidates, err := s.store.Recordings.ListWakeupCandidates(dayStart, dayEnd, cutoff)
	if err != nil {
		slog.Error("wakeup: candidate query failed", "error", err)
		return
	}

	slog.Info("wakeup: pass start", "window", dayStart.Format("2006-01-02"), "candidates", len(candidates))

	for _, rec := range candidates {
		select {
		case <-ctx.Done():
			return
		default:
		}
		s.wakeOne(ctx, rec, now)
	}
}

func (s *Service) wakeOne(ctx context.Context, rec *store.Recording, now time.Time) {
	fileID, ok := drive.ExtractFileID(rec.DriveURL)
	if !ok {
		slog.Warn("wakeup: unparseable artifact url, giving up", "recording", rec.ID, "url", rec.DriveURL)
		s.recordWakeup(rec, store.MaxWakeupAttempts, now)
		return
	}

	meta, err := s.objects.GetFile(ctx, fileID)
	if err != nil {
		slog.Warn("wakeup: metadata fetch failed", "recording", rec.ID, "file", fileID, "error", err)
		s.recordWakeup(rec, rec.WakeupAttempts+1, now)
		return
	}

	if meta.PreviewReady() {
		slog.Info("wakeup: preview already ready", "recording", rec.ID, "file", fileID)
		s.recordWakeup(rec, store.MaxWakeupAttempts, now)
		return
	}

	// A thumbnail without playback metadata means the store looked at the
	// file and stalled anyway; poking it again will not help.
	if meta.HasThumbnail() {
		slog.Info("wakeup: thumbnail present but processing stalled, giving up", "recording", rec.ID, "file", fileID)
		s.recordWakeup(rec, store.MaxWakeupAttempts, now)
		return
	}

	if err := s.objects.WakeThumbnail(ctx, fileID); err != nil {
		slog.Warn("wakeup: preview probe failed", "recording", rec.ID, "file", fileID, "error", err)
	} else if after, err := s.objects.GetFile(ctx, fileID); err == nil && after.PreviewReady() {
		slog.Info("wakeup: preview came alive", "recording", rec.ID, "file", fileID)
	}

	s.recordWakeup(rec, rec.WakeupAttempts+1, now)
}

func (s *Service) recordWakeup(rec *store.Recording, attempts int, at time.Time) {
	if err := s.store.Recordings.RecordWakeup(rec.ID, attempts, at); err != nil {
		slog.Error("wakeup: counter update failed", "recording", rec.ID, "error", err)
	}
}
