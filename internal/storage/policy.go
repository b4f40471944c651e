package storage

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

func setOf(items ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		set[item] = struct{}{}
	}
	return set
}

var allowedTypes = setOf(
	// images
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/svg+xml",
	// video
	"video/mp4", "video/quicktime", "video/x-msvideo", "video/x-ms-wmv", "video/webm",
	// audio
	"audio/mpeg", "audio/wav", "audio/ogg", "audio/aac", "audio/webm",
	// documents
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	// text
	"text/plain", "text/html", "text/css", "text/javascript",
	"application/json", "application/xml",
	// archives
	"application/zip", "application/x-tar", "application/x-rar-compressed",
	"application/gzip", "application/x-7z-compressed",
	// other
	"application/octet-stream",
	"application/x-executable",
	"application/vnd.android.package-archive",
)

var safeExtensions = setOf(
	".txt", ".pdf", ".png", ".jpg", ".jpeg", ".gif", ".doc", ".docx",
	".xls", ".xlsx", ".ppt", ".pptx", ".zip", ".rar", ".7z", ".mp3",
	".mp4", ".avi", ".mov", ".webm", ".svg", ".json", ".xml", ".html",
	".css", ".js", ".apk", ".exe", ".dll", ".tar", ".gz",
)

// activeTypes can run script when a browser renders them.
var activeTypes = setOf(
	"text/html", "application/xhtml+xml", "image/svg+xml",
	"text/javascript", "application/javascript",
	"text/xml", "application/xml",
)

// Allowed reports whether a file may be stored. Unknown media types are
// accepted when the file extension is on the safe list.
func Allowed(mediaType, filename string) bool {
	if _, ok := allowedTypes[BaseType(mediaType)]; ok {
		return true
	}

	_, ok := safeExtensions[strings.ToLower(filepath.Ext(filename))]
	return ok
}

// Active reports whether a browser rendering the media type may execute
// script from it.
func Active(mediaType string) bool {
	_, ok := activeTypes[BaseType(mediaType)]
	return ok
}

// BaseType strips parameters such as charset from a media type.
func BaseType(mediaType string) string {
	if mediaType == "" {
		return ""
	}

	base, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(mediaType))
	}

	return base
}

// DetectType returns the declared media type, falling back to sniffing the
// first bytes of the content when the client did not declare one.
func DetectType(declared string, head []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}

	return http.DetectContentType(head)
}
