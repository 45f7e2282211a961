package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedev/verifetch/internal/transfer"
)

func TestResultFor(t *testing.T) {
	tests := []struct {
		status transfer.Status
		want   string
	}{
		{transfer.StatusCompleted, ResultSuccess},
		{transfer.StatusFailed, ResultFailed},
		{transfer.StatusCancelled, ResultCancelled},
		{transfer.StatusPaused, ResultCancelled},
		{transfer.StatusHashMismatch, ResultHashMismatch},
		{transfer.StatusDownloading, ResultUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, ResultFor(tt.status))
		})
	}
}

func TestNewDownloadLog(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	now := start.Add(time.Minute)

	log := NewDownloadLog(transfer.Snapshot{
		ID:              "id-1",
		URL:             "https://example.com/a.iso",
		FileName:        "a.iso",
		DestinationPath: "/dl/a.iso",
		Status:          transfer.StatusHashMismatch,
		DownloadedSize:  1024,
		ComputedHash:    "bb",
		ExpectedHash:    "aa",
		StartTime:       start,
		EndTime:         start.Add(3 * time.Second),
		ErrorMessage:    "sha256 mismatch",
	}, now)

	assert.Equal(t, DownloadLog{
		TransferID:      "id-1",
		URL:             "https://example.com/a.iso",
		FileName:        "a.iso",
		DestinationPath: "/dl/a.iso",
		Size:            1024,
		ComputedHash:    "bb",
		ExpectedHash:    "aa",
		Duration:        3 * time.Second,
		Result:          ResultHashMismatch,
		ErrorMessage:    "sha256 mismatch",
		LoggedAt:        now,
	}, log)
}

func TestRecorders(t *testing.T) {
	var got []string

	ok := RecorderFunc(func(_ context.Context, l DownloadLog) error {
		got = append(got, l.TransferID)

		return nil
	})
	failing := RecorderFunc(func(context.Context, DownloadLog) error {
		return errors.New("disk full")
	})

	err := Recorders{failing, nil, ok}.Record(context.Background(), DownloadLog{TransferID: "x"})

	require.EqualError(t, err, "disk full")
	assert.Equal(t, []string{"x"}, got, "later recorders still run after a failure")
	assert.NoError(t, Recorders{}.Record(context.Background(), DownloadLog{}))
}
