package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/stevedev/verifetch/internal/storage"
	"github.com/stevedev/verifetch/internal/telemetry"
)

// InstrumentedLogRepository wraps LogRepository with telemetry.
type InstrumentedLogRepository struct {
	repo      *LogRepository
	telemetry *telemetry.Telemetry
}

// NewInstrumentedLogRepository creates a new instrumented log repository.
func NewInstrumentedLogRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedLogRepository {
	return &InstrumentedLogRepository{
		repo:      NewLogRepository(dbConn),
		telemetry: tel,
	}
}

// Record appends a finished transfer with telemetry.
func (r *InstrumentedLogRepository) Record(ctx context.Context, log storage.DownloadLog) error {
	return r.telemetry.InstrumentDBOperation(ctx, "record_download", func(ctx context.Context) error {
		return r.repo.Record(ctx, log)
	})
}

// List retrieves recent entries with telemetry.
func (r *InstrumentedLogRepository) List(ctx context.Context, limit int) ([]storage.DownloadLog, error) {
	var result []storage.DownloadLog

	err := r.telemetry.InstrumentDBOperation(ctx, "list_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.List(ctx, limit)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// ListExpired retrieves expired entries with telemetry.
func (r *InstrumentedLogRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]storage.DownloadLog, error) {
	var result []storage.DownloadLog

	err := r.telemetry.InstrumentDBOperation(ctx, "list_expired", func(ctx context.Context) error {
		var err error
		result, err = r.repo.ListExpired(ctx, cutoff)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// MarkRemoved flags a removed file with telemetry.
func (r *InstrumentedLogRepository) MarkRemoved(ctx context.Context, id int64) error {
	return r.telemetry.InstrumentDBOperation(ctx, "mark_removed", func(ctx context.Context) error {
		return r.repo.MarkRemoved(ctx, id)
	})
}
