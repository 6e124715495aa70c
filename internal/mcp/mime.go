package mcp

import (
	"path/filepath"
	"strings"
)

// mimeTypes maps image extensions to MIME types.
var mimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
	".tif":  "image/tiff",
	".tiff": "image/tiff",
}

// MimeTypeForPath returns the MIME type for an image identifier.
// Unknown extensions return "application/octet-stream".
func MimeTypeForPath(path string) string {
	if mt, ok := mimeTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	return "application/octet-stream"
}

// imageURI returns a file:// URI for absolute identifiers and the identifier
// itself otherwise. clip_tool reports whatever paths it indexed.
func imageURI(id string) string {
	if filepath.IsAbs(id) {
		return "file://" + filepath.ToSlash(id)
	}
	return id
}
