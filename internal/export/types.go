// Package export renders a project report as Markdown or PDF.
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
)

// ParseFormat accepts the query parameter values of the export endpoint.
// An empty value selects Markdown.
func ParseFormat(value string) (Format, error) {
	switch value {
	case "", "md", string(FormatMarkdown):
		return FormatMarkdown, nil
	case string(FormatPDF):
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Request contains parameters for an export operation
type Request struct {
	UserID    string
	ProjectID string
	Format    Format
}

// Result contains the export output. When the artifact was uploaded URL is
// set and Data may be empty.
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	URL       string
	ExpiresAt time.Time
}

var (
	ErrUnsupportedFormat = errors.New("unsupported export format")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
)
