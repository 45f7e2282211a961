package storage

import (
	"context"
	"errors"
	"time"

	"github.com/stevedev/verifetch/internal/transfer"
)

// Result categories written to the download log.
const (
	ResultSuccess      = "SUCCESS"
	ResultFailed       = "FAILED"
	ResultCancelled    = "CANCELLED"
	ResultHashMismatch = "HASH_MISMATCH"
	ResultUnknown      = "UNKNOWN"
)

// DownloadLog is the summary persisted for every finished transfer.
type DownloadLog struct {
	ID              int64         `json:"id,omitempty"`
	TransferID      string        `json:"transfer_id"`
	URL             string        `json:"url"`
	FileName        string        `json:"file_name"`
	DestinationPath string        `json:"destination_path"`
	Size            int64         `json:"size"`
	ComputedHash    string        `json:"computed_hash,omitempty"`
	ExpectedHash    string        `json:"expected_hash,omitempty"`
	Duration        time.Duration `json:"duration"`
	Result          string        `json:"result"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	LoggedAt        time.Time     `json:"logged_at"`
}

// ResultFor maps a transfer status to its log category. Paused transfers are
// logged as cancelled.
func ResultFor(s transfer.Status) string {
	switch s {
	case transfer.StatusCompleted:
		return ResultSuccess
	case transfer.StatusFailed:
		return ResultFailed
	case transfer.StatusCancelled, transfer.StatusPaused:
		return ResultCancelled
	case transfer.StatusHashMismatch:
		return ResultHashMismatch
	default:
		return ResultUnknown
	}
}

// NewDownloadLog summarizes a terminal snapshot.
func NewDownloadLog(s transfer.Snapshot, now time.Time) DownloadLog {
	return DownloadLog{
		TransferID:      s.ID,
		URL:             s.URL,
		FileName:        s.FileName,
		DestinationPath: s.DestinationPath,
		Size:            s.DownloadedSize,
		ComputedHash:    s.ComputedHash,
		ExpectedHash:    s.ExpectedHash,
		Duration:        s.Duration(),
		Result:          ResultFor(s.Status),
		ErrorMessage:    s.ErrorMessage,
		LoggedAt:        now,
	}
}

// Recorder persists finished transfers.
type Recorder interface {
	Record(ctx context.Context, log DownloadLog) error
}

// LogReader queries persisted transfers.
type LogReader interface {
	// List returns the most recent entries first.
	List(ctx context.Context, limit int) ([]DownloadLog, error)
	// ListExpired returns successful entries logged before cutoff whose files
	// have not been removed yet.
	ListExpired(ctx context.Context, cutoff time.Time) ([]DownloadLog, error)
	// MarkRemoved flags an entry's file as deleted.
	MarkRemoved(ctx context.Context, id int64) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, log DownloadLog) error

func (f RecorderFunc) Record(ctx context.Context, log DownloadLog) error {
	return f(ctx, log)
}

// Recorders fans one entry out to every recorder, running all of them even
// when some fail.
type Recorders []Recorder

func (rs Recorders) Record(ctx context.Context, log DownloadLog) error {
	var errs []error

	for _, r := range rs {
		if r == nil {
			continue
		}

		if err := r.Record(ctx, log); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
