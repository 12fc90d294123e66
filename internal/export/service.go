package export

import (
	"context"
	"fmt"
	"path"
	"time"

	"go.uber.org/zap"

	"noteforge/api/internal/store"
)

// ReportSource loads the data of one project owned by userID.
type ReportSource interface {
	ProjectReport(ctx context.Context, userID, projectID string) (store.ProjectReport, error)
}

// Uploader stores artifacts and hands out time-limited download links.
type Uploader interface {
	Put(ctx context.Context, key, contentType string, data []byte) error
	PresignedGet(ctx context.Context, key, filename string, ttl time.Duration) (string, error)
}

// Service provides project export functionality
type Service struct {
	source     ReportSource
	uploader   Uploader
	urlTTL     time.Duration
	chromePath string
	logger     *zap.Logger
	now        func() time.Time
	pdf        func(ctx context.Context, chromePath, html string) ([]byte, error)
}

// NewService creates an export service. uploader may be nil, in which case
// artifacts are returned inline.
func NewService(source ReportSource, uploader Uploader, urlTTL time.Duration, chromePath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if urlTTL <= 0 {
		urlTTL = time.Hour
	}
	return &Service{
		source:     source,
		uploader:   uploader,
		urlTTL:     urlTTL,
		chromePath: chromePath,
		logger:     logger.Named("export"),
		now:        time.Now,
		pdf:        renderPDF,
	}
}

// Export generates an export in the requested format
func (s *Service) Export(ctx context.Context, req Request) (*Result, error) {
	switch req.Format {
	case FormatMarkdown, FormatPDF, "":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, req.Format)
	}
	report, err := s.source.ProjectReport(ctx, req.UserID, req.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("load project report: %w", err)
	}
	now := s.now()
	data := newTemplateData(report, now)
	base := sanitizeFilename(report.Project.Key + " " + report.Project.Name)

	var result *Result
	switch req.Format {
	case FormatMarkdown, "":
		markdown, err := RenderMarkdown(data)
		if err != nil {
			return nil, fmt.Errorf("render markdown: %w", err)
		}
		result = &Result{Data: []byte(markdown), Filename: base + ".md", MimeType: "text/markdown; charset=utf-8"}
	case FormatPDF:
		html, err := RenderHTML(data)
		if err != nil {
			return nil, fmt.Errorf("render html: %w", err)
		}
		pdf, err := s.pdf(ctx, s.chromePath, html)
		if err != nil {
			return nil, err
		}
		result = &Result{Data: pdf, Filename: base + ".pdf", MimeType: "application/pdf"}
	}

	if s.uploader == nil {
		return result, nil
	}
	key := path.Join("exports", req.UserID, report.Project.ID, now.UTC().Format("20060102T150405Z")+"-"+result.Filename)
	if err := s.uploader.Put(ctx, key, result.MimeType, result.Data); err != nil {
		s.logger.Warn("upload export failed, returning inline", zap.String("key", key), zap.Error(err))
		return result, nil
	}
	url, err := s.uploader.PresignedGet(ctx, key, result.Filename, s.urlTTL)
	if err != nil {
		s.logger.Warn("presign export failed, returning inline", zap.String("key", key), zap.Error(err))
		return result, nil
	}
	result.URL = url
	result.ExpiresAt = now.Add(s.urlTTL)
	return result, nil
}
