package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/stevedev/verifetch/internal/storage"
)

const logColumns = `id, transfer_id, url, file_name, destination_path, size,
	computed_hash, expected_hash, duration_ms, result, error_message, logged_at`

// LogRepository is an append-only store of finished transfers.
type LogRepository struct {
	db *sql.DB
}

func NewLogRepository(dbConn *sql.DB) *LogRepository {
	return &LogRepository{db: dbConn}
}

// Record appends a finished transfer. A transfer ID is only ever stored once.
func (r *LogRepository) Record(ctx context.Context, log storage.DownloadLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO download_log (transfer_id, url, file_name, destination_path, size,
			computed_hash, expected_hash, duration_ms, result, error_message, logged_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(transfer_id) DO NOTHING
	`,
		log.TransferID, log.URL, log.FileName, log.DestinationPath, log.Size,
		nullString(log.ComputedHash), nullString(log.ExpectedHash),
		log.Duration.Milliseconds(), log.Result, nullString(log.ErrorMessage),
		log.LoggedAt.UnixMilli(),
	)

	return err
}

// List returns up to limit entries, newest first. A non-positive limit returns everything.
func (r *LogRepository) List(ctx context.Context, limit int) ([]storage.DownloadLog, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+logColumns+` FROM download_log ORDER BY logged_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLogs(rows)
}

// ListExpired returns successful entries logged before cutoff whose files are still on disk.
func (r *LogRepository) ListExpired(ctx context.Context, cutoff time.Time) ([]storage.DownloadLog, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+logColumns+` FROM download_log
		WHERE result = ? AND removed_at IS NULL AND logged_at < ?
		ORDER BY logged_at`, storage.ResultSuccess, cutoff.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanLogs(rows)
}

// MarkRemoved records that the file of entry id was deleted.
func (r *LogRepository) MarkRemoved(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE download_log SET removed_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)

	return err
}

func scanLogs(rows *sql.Rows) ([]storage.DownloadLog, error) {
	var logs []storage.DownloadLog

	for rows.Next() {
		var (
			log                                      storage.DownloadLog
			computedHash, expectedHash, errorMessage sql.NullString
			durationMS, loggedAt                     int64
		)

		err := rows.Scan(&log.ID, &log.TransferID, &log.URL, &log.FileName, &log.DestinationPath, &log.Size,
			&computedHash, &expectedHash, &durationMS, &log.Result, &errorMessage, &loggedAt)
		if err != nil {
			return nil, err
		}

		log.ComputedHash = computedHash.String
		log.ExpectedHash = expectedHash.String
		log.ErrorMessage = errorMessage.String
		log.Duration = time.Duration(durationMS) * time.Millisecond
		log.LoggedAt = time.UnixMilli(loggedAt)

		logs = append(logs, log)
	}

	return logs, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
