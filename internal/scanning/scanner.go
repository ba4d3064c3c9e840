package scanning

import (
	"context"
	"path/filepath"
	"strings"
)

// Kind is the declared media kind of a document
type Kind int

const (
	KindUnknown Kind = iota
	KindImage
	KindPDF
)

func (k Kind) String() string {
	switch k {
	case KindImage:
		return "image"
	case KindPDF:
		return "pdf"
	default:
		return "unknown"
	}
}

// Document is one uploaded receipt or invoice file
type Document struct {
	Name        string
	Data        []byte
	ContentType string
}

// Kind reports the media kind from the document's content type
func (d *Document) Kind() Kind {
	mimeType := strings.ToLower(strings.TrimSpace(d.ContentType))
	switch {
	case mimeType == "application/pdf":
		return KindPDF
	case strings.HasPrefix(mimeType, "image/"):
		return KindImage
	default:
		return KindUnknown
	}
}

// ContentTypeFor resolves the MIME type of an upload. An empty or generic
// declared type falls back to the file extension.
func ContentTypeFor(filename string, declared string) string {
	declared = strings.ToLower(strings.TrimSpace(declared))
	if declared != "" && declared != "application/octet-stream" {
		return declared
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// Supported reports whether the filename has an accepted extension
func Supported(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".pdf", ".heic", ".heif":
		return true
	}
	return false
}

// Extractor sends one document to a multimodal model and returns its raw
// text answer. Failures are reported as *ModelError.
type Extractor interface {
	Extract(ctx context.Context, doc *Document) (string, error)
	// Close releases the underlying client
	Close() error
}
