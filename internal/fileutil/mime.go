package fileutil

import (
	"path/filepath"
	"strings"
)

// contentTypeExt maps content-type prefixes to file extensions. Order matters:
// the first prefix contained in the header wins.
var contentTypeExt = []struct {
	prefix string
	ext    string
}{
	{"image/jpeg", ".jpg"},
	{"image/jpg", ".jpg"},
	{"image/png", ".png"},
	{"image/gif", ".gif"},
	{"image/webp", ".webp"},
	{"image/svg", ".svg"},
	{"application/pdf", ".pdf"},
	{"text/plain", ".txt"},
	{"text/html", ".html"},
	{"text/css", ".css"},
	{"application/javascript", ".js"},
	{"text/javascript", ".js"},
	{"application/json", ".json"},
	{"application/xml", ".xml"},
	{"text/xml", ".xml"},
	{"video/mp4", ".mp4"},
	{"video/webm", ".webm"},
	{"video/quicktime", ".mov"},
	{"audio/mpeg", ".mp3"},
	{"audio/wav", ".wav"},
	{"application/zip", ".zip"},
	{"application/x-rar", ".rar"},
	{"application/octet-stream", ".bin"},
}

// ExtensionForContentType returns the extension for a Content-Type header value.
func ExtensionForContentType(contentType string) (string, bool) {
	ct := strings.ToLower(contentType)

	for _, m := range contentTypeExt {
		if strings.Contains(ct, m.prefix) {
			return m.ext, true
		}
	}

	return "", false
}

// RenameForContentType returns a new file name carrying the extension implied
// by contentType. It only rewrites names that are extensionless or carry a
// placeholder extension.
func RenameForContentType(name, contentType string) (string, bool) {
	if contentType == "" || !HasPlaceholderExt(name) {
		return name, false
	}

	ext, ok := ExtensionForContentType(contentType)
	if !ok {
		return name, false
	}

	base := strings.TrimSuffix(name, filepath.Ext(name))
	renamed := base + ext

	return renamed, renamed != name
}
