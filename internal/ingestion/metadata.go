package ingestion

import (
	"mime"
	"net/url"
	"path"
	"strings"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Metadata keys attached to records of file-derived documents.
const (
	MetaFilename = "filename"
	MetaMimeType = "mimetype"
	MetaSize     = "size"
	MetaPages    = "pages"
	MetaURL      = "url"
)

// extensionTypes covers document formats that the system MIME table may
// not know.
var extensionTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".text":     "text/plain",
	".log":      "text/plain",
	".rst":      "text/plain",
	".json":     "application/json",
	".csv":      "text/csv",
	".html":     "text/html",
	".htm":      "text/html",
	".pdf":      "application/pdf",
}

// MimeFromFilename infers a MIME type from the file extension, falling back
// to application/octet-stream. Parameters such as charset are stripped.
func MimeFromFilename(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if t, ok := extensionTypes[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return baseMimeType(t)
	}
	return "application/octet-stream"
}

// baseMimeType strips parameters from a Content-Type value.
func baseMimeType(contentType string) string {
	if t, _, err := mime.ParseMediaType(contentType); err == nil {
		return t
	}
	t, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(t))
}

// FileMetadata builds the record metadata of a file-derived document:
// filename, mimetype, size in bytes, and page count when known. Keys of
// extra are kept unless they collide with a file-derived key.
func FileMetadata(doc Document, mimeType string, extra rag.Metadata) rag.Metadata {
	md := extra.Clone()
	md[MetaFilename] = doc.Filename
	md[MetaMimeType] = mimeType
	md[MetaSize] = len(doc.Data)
	if doc.Pages > 0 {
		md[MetaPages] = doc.Pages
	}
	return md
}

// filenameFromURL returns the last non-empty path segment of rawURL, or the
// host when the path is empty.
func filenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := trimSegments(parsed.Path)
	if len(segments) == 0 {
		return parsed.Hostname()
	}
	return segments[len(segments)-1]
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(p string) []string {
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, s := range parts {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
