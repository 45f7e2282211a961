package fileutil

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileNameFromURL(t *testing.T) {
	now := time.UnixMilli(1700000000000)

	tests := []struct {
		name string
		url  string
		want string
	}{
		{name: "plain file", url: "https://example.com/files/report.pdf", want: "report.pdf"},
		{name: "query and fragment dropped", url: "https://example.com/a/image.png?size=large#top", want: "image.png"},
		{name: "escaped segment", url: "https://example.com/my%20file.txt", want: "my file.txt"},
		{name: "no extension", url: "https://example.com/bytes/1024", want: "1024.bin"},
		{name: "trailing slash", url: "https://example.com/", want: "download_1700000000000.bin"},
		{name: "no path", url: "https://example.com", want: "download_1700000000000.bin"},
		{name: "invalid chars", url: "https://example.com/a%3Ab.zip", want: "a_b.zip"},
		{name: "unparseable", url: "://bad", want: "download_1700000000000.bin"},
		{name: "parent segment", url: "https://example.com/files/..", want: "download_1700000000000.bin"},
		{name: "current segment", url: "https://example.com/files/.", want: "download_1700000000000.bin"},
		{
			name: "long extensionless segment",
			url:  "https://example.com/aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
			want: "download_1700000000000.bin",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FileNameFromURL(tt.url, now))
		})
	}
}

func TestSanitize(t *testing.T) {
	tests := map[string]string{
		"report.pdf":    "report.pdf",
		"  spaced.txt ": "spaced.txt",
		"a:b?.zip":      "a_b_.zip",
		".":             "",
		"..":            "",
		" ... ":         "",
		".hidden":       ".hidden",
	}

	for in, want := range tests {
		assert.Equal(t, want, Sanitize(in), in)
	}
}

func TestRenameForContentType(t *testing.T) {
	tests := []struct {
		name        string
		fileName    string
		contentType string
		want        string
		wantRenamed bool
	}{
		{name: "placeholder bin", fileName: "1024.bin", contentType: "image/png", want: "1024.png", wantRenamed: true},
		{name: "placeholder tmp", fileName: "file.tmp", contentType: "application/json; charset=utf-8", want: "file.json", wantRenamed: true},
		{name: "extensionless", fileName: "data", contentType: "text/plain", want: "data.txt", wantRenamed: true},
		{name: "real extension kept", fileName: "report.pdf", contentType: "text/html", want: "report.pdf"},
		{name: "unknown content type", fileName: "data.bin", contentType: "application/x-unknown", want: "data.bin"},
		{name: "octet stream keeps bin", fileName: "data.bin", contentType: "application/octet-stream", want: "data.bin"},
		{name: "empty content type", fileName: "data", contentType: "", want: "data"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, renamed := RenameForContentType(tt.fileName, tt.contentType)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.wantRenamed, renamed)
		})
	}
}

func TestRemoveIfExists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.bin")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o644))

	require.NoError(t, RemoveIfExists(path))
	assert.NoFileExists(t, path)

	require.NoError(t, RemoveIfExists(path), "removing a missing file is not an error")
	require.NoError(t, RemoveIfExists(""))
}

func TestCreateTruncates(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "dir")
	require.NoError(t, EnsureDir(dir))

	path := filepath.Join(dir, "out.txt")
	require.NoError(t, os.WriteFile(path, []byte("previous longer content"), 0o644))

	f, err := Create(path)
	require.NoError(t, err)

	_, err = f.WriteString("new")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "new", string(got))
}
