package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stevedev/verifetch/internal/fileutil"
	"github.com/stevedev/verifetch/internal/logctx"
	"github.com/stevedev/verifetch/internal/storage"
)

// DeleteExpiredFiles deletes the files of successful transfers logged more
// than keepDuration before now and marks them removed. It returns how many
// entries were processed.
func DeleteExpiredFiles(ctx context.Context, repo storage.LogReader, keepDuration time.Duration, now time.Time) (int, error) {
	logger := logctx.LoggerFromContext(ctx)

	expired, err := repo.ListExpired(ctx, now.Add(-keepDuration))
	if err != nil {
		return 0, fmt.Errorf("failed to list expired downloads: %w", err)
	}

	var (
		removed int
		errs    []error
	)

	for _, entry := range expired {
		if err := fileutil.RemoveIfExists(entry.DestinationPath); err != nil {
			logger.Error("failed to delete expired file", "file", entry.DestinationPath, "err", err)

			errs = append(errs, err)

			continue
		}

		if err := repo.MarkRemoved(ctx, entry.ID); err != nil {
			errs = append(errs, fmt.Errorf("failed to mark %s removed: %w", entry.TransferID, err))

			continue
		}

		logger.Info("deleted expired file", "file", entry.DestinationPath, "transfer_id", entry.TransferID)

		removed++
	}

	return removed, errors.Join(errs...)
}

// Watch runs DeleteExpiredFiles every interval until ctx ends. A zero
// keepDuration keeps files forever and Watch returns immediately.
func Watch(ctx context.Context, repo storage.LogReader, keepDuration, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	if keepDuration <= 0 || interval <= 0 {
		logger.Debug("file retention disabled")

		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("cleanup shutting down")

			return
		case now := <-ticker.C:
			if _, err := DeleteExpiredFiles(ctx, repo, keepDuration, now); err != nil {
				logger.Error("failed to delete expired files", "err", err)
			}
		}
	}
}
