package fileutil

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const (
	dirPerm  = 0o755
	filePerm = 0o644

	// maxSegmentLen bounds how much of an un-extensioned URL segment is kept as a name.
	maxSegmentLen = 50
)

var invalidNameChars = regexp.MustCompile(`[\\/:*?"<>|]`)

// EnsureDir creates dir and any missing parents.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	return nil
}

// Create opens path for writing, creating it or truncating an existing file.
func Create(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm)
}

// RemoveIfExists deletes path, treating an already missing file as success.
func RemoveIfExists(path string) error {
	if path == "" {
		return nil
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return nil
}

// FileNameFromURL derives a file name from the last path segment of rawURL.
// Segments without an extension get the generic ".bin" placeholder, which the
// content-type hook may replace once the response arrives.
func FileNameFromURL(rawURL string, now time.Time) string {
	fallback := fmt.Sprintf("download_%d.bin", now.UnixMilli())

	u, err := url.Parse(rawURL)
	if err != nil {
		return fallback
	}

	segment := path.Base(u.Path)
	if segment == "." || segment == "/" {
		segment = ""
	}

	segment = Sanitize(segment)

	switch {
	case segment == "":
		return fallback
	case filepath.Ext(segment) != "":
		return segment
	case len(segment) < maxSegmentLen:
		return segment + ".bin"
	default:
		return fallback
	}
}

// Sanitize replaces characters that are not allowed in file names. Names made
// only of dots would resolve to a directory and come back empty.
func Sanitize(name string) string {
	name = strings.TrimSpace(invalidNameChars.ReplaceAllString(name, "_"))
	if strings.Trim(name, ".") == "" {
		return ""
	}

	return name
}

// HasPlaceholderExt reports whether name is extensionless or carries a generic
// extension that says nothing about its content.
func HasPlaceholderExt(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case "", ".bin", ".tmp":
		return true
	default:
		return false
	}
}
