package utils

import (
	"mime"
	"net/http"
	"strings"
)

const defaultMime = "application/octet-stream"

// DetectMimeAndExt sniffs data and returns its MIME type with a matching extension.
func DetectMimeAndExt(data []byte) (string, string) {
	mimeType := defaultMime
	if len(data) > 0 {
		mimeType = http.DetectContentType(data)
	}
	return mimeType, mimeToExt(mimeType)
}

// MimeFromExt resolves an extension given with or without the leading dot.
// Unknown extensions fall back to sniffing data.
func MimeFromExt(ext string, data []byte) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			if i := strings.IndexByte(t, ';'); i >= 0 {
				t = t[:i]
			}
			return t
		}
	}
	t, _ := DetectMimeAndExt(data)
	if i := strings.IndexByte(t, ';'); i >= 0 {
		t = t[:i]
	}
	return t
}

// IsImage reports whether mimeType names an image format.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func mimeToExt(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	exts, err := mime.ExtensionsByType(mimeType)
	if err != nil || len(exts) == 0 {
		return ".bin"
	}
	return exts[0]
}
