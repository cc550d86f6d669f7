package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/54b3r/docrag-go/internal/rag"
)

// Extractor turns raw document bytes of a declared format into plain text.
// Failures must wrap rag.ErrExtractionFailed.
type Extractor interface {
	Extract(ctx context.Context, data []byte, format string) (string, error)
}

// PlainTextExtractor handles text formats that need no decoding beyond
// UTF-8 validation. Binary formats are rejected.
type PlainTextExtractor struct{}

// plainFormats lists the MIME types PlainTextExtractor accepts.
var plainFormats = map[string]bool{
	"text/plain":       true,
	"text/markdown":    true,
	"text/x-markdown":  true,
	"text/csv":         true,
	"application/json": true,
}

// Extract implements Extractor.
func (PlainTextExtractor) Extract(_ context.Context, data []byte, format string) (string, error) {
	if !plainFormats[baseMimeType(format)] {
		return "", fmt.Errorf("%w: unsupported format %q", rag.ErrExtractionFailed, format)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%w: %s content is not valid UTF-8", rag.ErrExtractionFailed, format)
	}
	return string(data), nil
}

// Document is a file-derived input to IngestDocument.
type Document struct {
	// Filename is the original file name; it is the default source id.
	Filename string

	// MimeType is the declared format. Inferred from Filename when empty.
	MimeType string

	// Data is the raw file content.
	Data []byte

	// SourceID overrides the source id.
	SourceID string

	// Pages is the page count when the format has pages (0 = unknown).
	Pages int

	// Metadata holds extra caller-supplied key-value pairs.
	Metadata rag.Metadata
}

// IngestDocument extracts plain text from doc with ex and ingests it with
// file-derived metadata. The source id defaults to the filename.
func (p *Pipeline) IngestDocument(ctx context.Context, ex Extractor, doc Document) (*Result, error) {
	if ex == nil {
		ex = PlainTextExtractor{}
	}
	mimeType := doc.MimeType
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = MimeFromFilename(doc.Filename)
	}
	mimeType = baseMimeType(mimeType)

	sourceID := doc.SourceID
	if sourceID == "" {
		sourceID = doc.Filename
	}

	p.log.InfoContext(ctx, "ingestion: extracting document",
		slog.String("filename", doc.Filename),
		slog.String("mimetype", mimeType),
		slog.Int("size", len(doc.Data)),
	)

	text, err := ex.Extract(ctx, doc.Data, mimeType)
	if err != nil {
		if !errors.Is(err, rag.ErrExtractionFailed) {
			err = fmt.Errorf("%w: %w", rag.ErrExtractionFailed, err)
		}
		p.cfg.Metrics.IngestDone(rag.Kind(err), 0, 0)
		return nil, fmt.Errorf("ingestion: extract %s: %w", doc.Filename, err)
	}

	return p.Ingest(ctx, text, sourceID, FileMetadata(doc, mimeType, doc.Metadata))
}

// IngestURL fetches a document over HTTP(S) and ingests it through
// IngestDocument. The MIME type comes from the response Content-Type, the
// filename from the last URL path segment, and the source id defaults to
// the URL itself.
func (p *Pipeline) IngestURL(ctx context.Context, ex Extractor, rawURL, sourceID string, md rag.Metadata) (*Result, error) {
	data, contentType, err := p.fetch(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("ingestion: fetch failed for %s: %w", rawURL, err)
	}
	if sourceID == "" {
		sourceID = rawURL
	}
	extra := md.Clone()
	extra[MetaURL] = rawURL

	return p.IngestDocument(ctx, ex, Document{
		Filename: filenameFromURL(rawURL),
		MimeType: contentType,
		Data:     data,
		SourceID: sourceID,
		Metadata: extra,
	})
}

// fetch retrieves the raw content of a URL and its Content-Type.
func (p *Pipeline) fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: creating request: %w", rag.ErrInvalidArgument, err)
	}
	req.Header.Set("User-Agent", p.cfg.UserAgent)
	req.Header.Set("Accept", "text/plain, text/markdown, application/json;q=0.9, */*;q=0.5")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: http get: %w", rag.ErrTransientProvider, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: unexpected status %d for %s", rag.ErrExtractionFailed, resp.StatusCode, url)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, p.cfg.MaxFetchBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: reading body: %w", rag.ErrTransientProvider, err)
	}
	if int64(len(body)) > p.cfg.MaxFetchBytes {
		return nil, "", fmt.Errorf("%w: body exceeds %d bytes", rag.ErrExtractionFailed, p.cfg.MaxFetchBytes)
	}

	return body, strings.TrimSpace(resp.Header.Get("Content-Type")), nil
}
