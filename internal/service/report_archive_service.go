package service

import (
	"context"
	"errors"
	"path"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
	"github.com/noah-isme/card-audit-agent/pkg/storage"
)

type reportRenderer interface {
	Render(ctx context.Context, batchName string, format models.ReportFormat) (*models.RenderedReport, error)
}

// ReportArchiveService stores rendered reports and hands out signed download links.
type ReportArchiveService struct {
	reports   reportRenderer
	archive   *storage.Archive
	signer    *storage.LinkSigner
	retention time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewReportArchiveService wires the renderer to the archive.
func NewReportArchiveService(reports reportRenderer, archive *storage.Archive, signer *storage.LinkSigner, retention time.Duration, logger *zap.Logger) *ReportArchiveService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReportArchiveService{reports: reports, archive: archive, signer: signer, retention: retention, logger: logger, now: time.Now}
}

// Publish renders the batch report, archives it and returns a signed link to it.
func (s *ReportArchiveService) Publish(ctx context.Context, batchName string, format models.ReportFormat) (*models.ReportLink, error) {
	report, err := s.reports.Render(ctx, batchName, format)
	if err != nil {
		return nil, err
	}
	if format == "" {
		format = models.ReportFormatCSV
	}

	name, err := s.archive.Save(report.Filename, report.Payload)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to archive report")
	}
	token, expiresAt, err := s.signer.Sign(batchName, name)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign report link")
	}
	s.logger.Info("batch report archived", zap.String("batch_name", batchName), zap.String("file", name), zap.Time("expires_at", expiresAt))
	return &models.ReportLink{BatchName: batchName, Format: format, Filename: name, Token: token, ExpiresAt: expiresAt}, nil
}

// Open resolves a download token to the archived report.
func (s *ReportArchiveService) Open(token string) (*models.RenderedReport, error) {
	_, name, err := s.signer.Verify(token)
	switch {
	case errors.Is(err, storage.ErrLinkExpired):
		return nil, appErrors.Clone(appErrors.ErrForbidden, "download link expired")
	case err != nil:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid download link")
	}
	payload, err := s.archive.Read(name)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "report is no longer archived")
	}
	return &models.RenderedReport{Filename: path.Base(name), ContentType: contentTypeFor(name), Payload: payload}, nil
}

// Prune removes archived reports older than the retention window.
func (s *ReportArchiveService) Prune() (int, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	deleted, err := s.archive.Prune(s.retention, s.now())
	if err != nil {
		return 0, err
	}
	if len(deleted) > 0 {
		s.logger.Info("pruned archived reports", zap.Int("count", len(deleted)))
	}
	return len(deleted), nil
}

func contentTypeFor(name string) string {
	if strings.HasSuffix(strings.ToLower(name), "."+string(models.ReportFormatPDF)) {
		return "application/pdf"
	}
	return "text/csv"
}
