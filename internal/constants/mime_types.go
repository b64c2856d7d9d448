package constants

import (
	"path/filepath"
	"strings"
)

// MediaExtensions maps the media MIME types the WhatsApp driver delivers to
// canonical file extensions for stored media records.
var MediaExtensions = map[string]string{
	// Images
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/gif":  "gif",
	"image/webp": "webp",

	// Video
	"video/mp4":       "mp4",
	"video/quicktime": "mov",
	"video/3gpp":      "3gp",

	// Audio; voice notes arrive as ogg/opus
	"audio/ogg":  "ogg",
	"audio/mpeg": "mp3",
	"audio/mp4":  "m4a",
	"audio/aac":  "aac",
	"audio/amr":  "amr",
	"audio/wav":  "wav",

	// Documents
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"text/plain": "txt",
	"text/vcard": "vcf",
}

// DownloadContentTypes maps generated report extensions to the content type
// served on download.
var DownloadContentTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".json": "application/json",
}

// DefaultMimeType is the fallback for payloads whose type cannot be
// determined.
const DefaultMimeType = "application/octet-stream"

// ExtensionForMimeType returns the file extension for a media MIME type,
// ignoring parameters ("audio/ogg; codecs=opus"). Empty when unknown.
func ExtensionForMimeType(mimeType string) string {
	base := mimeType
	if i := strings.IndexByte(base, ';'); i >= 0 {
		base = base[:i]
	}
	return MediaExtensions[strings.ToLower(strings.TrimSpace(base))]
}

// ContentTypeForDownload returns the content type a generated file is served
// with, keyed on its extension.
func ContentTypeForDownload(name string) string {
	if ct, ok := DownloadContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		return ct
	}
	return DefaultMimeType
}
