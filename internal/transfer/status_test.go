package transfer

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status Status
		want   bool
	}{
		{StatusPending, false},
		{StatusDownloading, false},
		{StatusVerifying, false},
		{StatusCompleted, true},
		{StatusFailed, true},
		{StatusCancelled, true},
		{StatusHashMismatch, true},
		{StatusPaused, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.status.IsTerminal())
		})
	}
}

func TestStatus_JSON(t *testing.T) {
	b, err := json.Marshal(map[string]Status{"status": StatusHashMismatch})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"hash_mismatch"}`, string(b))

	var decoded map[string]Status
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, StatusHashMismatch, decoded["status"])

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
	assert.Equal(t, "status(42)", Status(42).String())
}

func TestRecord_FinishIsFinal(t *testing.T) {
	rec := NewRecord("https://example.com/files/a.tar.gz", "/data", "", "")

	assert.Equal(t, "a.tar.gz", rec.FileName())
	assert.Equal(t, "/data/a.tar.gz", rec.DestinationPath())
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, StatusPending, rec.Status())

	rec.setTotalSize(200)
	rec.addDownloaded(50)
	assert.InDelta(t, 25.0, rec.Snapshot().ProgressPercent, 0.001)

	require.True(t, rec.finish(StatusFailed, "boom", rec.Snapshot().StartTime))
	assert.False(t, rec.finish(StatusCompleted, "", rec.Snapshot().StartTime))

	rec.addDownloaded(50)
	rec.setHash("abc", "sha256")
	rec.rename("other.bin")

	snap := rec.Snapshot()
	assert.Equal(t, StatusFailed, snap.Status)
	assert.Equal(t, "boom", snap.ErrorMessage)
	assert.Equal(t, int64(50), snap.DownloadedSize)
	assert.Empty(t, snap.ComputedHash)
	assert.Equal(t, "a.tar.gz", snap.FileName)
}

func TestNewRecord_FileName(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		fileName string
		want     string
	}{
		{name: "explicit name", url: "https://example.com/x", fileName: "report.pdf", want: "report.pdf"},
		{name: "explicit name sanitized", url: "https://example.com/x", fileName: "a:b.txt", want: "a_b.txt"},
		{name: "from url", url: "https://example.com/d/image.png", want: "image.png"},
		{name: "placeholder", url: "https://example.com/d/raw", want: "raw.bin"},
		{name: "dot name falls back to url", url: "https://example.com/d/image.png", fileName: "..", want: "image.png"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := NewRecord(tt.url, "dl", tt.fileName, "")
			assert.Equal(t, tt.want, rec.FileName())
			assert.Equal(t, filepath.Join("dl", tt.want), rec.DestinationPath())
		})
	}
}

func TestSnapshot_Duration(t *testing.T) {
	rec := NewRecord("https://example.com/a.txt", "dl", "", " ABC ")

	assert.Equal(t, "ABC", rec.ExpectedHash)
	assert.Zero(t, rec.Snapshot().Duration())
}
