package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedev/verifetch/internal/storage"
)

type fakeRepo struct {
	expired []storage.DownloadLog
	listErr error
	cutoff  time.Time
	removed []int64
}

func (f *fakeRepo) List(context.Context, int) ([]storage.DownloadLog, error) {
	return nil, nil
}

func (f *fakeRepo) ListExpired(_ context.Context, cutoff time.Time) ([]storage.DownloadLog, error) {
	f.cutoff = cutoff

	return f.expired, f.listErr
}

func (f *fakeRepo) MarkRemoved(_ context.Context, id int64) error {
	f.removed = append(f.removed, id)

	return nil
}

func TestDeleteExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "old.iso")
	require.NoError(t, os.WriteFile(present, []byte("x"), 0o644))

	repo := &fakeRepo{expired: []storage.DownloadLog{
		{ID: 1, TransferID: "a", DestinationPath: present},
		{ID: 2, TransferID: "b", DestinationPath: filepath.Join(dir, "gone.iso")},
	}}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	removed, err := DeleteExpiredFiles(context.Background(), repo, 24*time.Hour, now)
	require.NoError(t, err)

	assert.Equal(t, 2, removed, "already missing files count as removed")
	assert.Equal(t, []int64{1, 2}, repo.removed)
	assert.Equal(t, now.Add(-24*time.Hour), repo.cutoff)
	assert.NoFileExists(t, present)
}

func TestDeleteExpiredFiles_ListError(t *testing.T) {
	repo := &fakeRepo{listErr: errors.New("db locked")}

	_, err := DeleteExpiredFiles(context.Background(), repo, time.Hour, time.Now())
	require.ErrorContains(t, err, "db locked")
}

func TestWatch_Disabled(t *testing.T) {
	done := make(chan struct{})

	go func() {
		Watch(context.Background(), &fakeRepo{}, 0, time.Minute)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Watch should return immediately when retention is disabled")
	}
}
