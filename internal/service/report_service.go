package service

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
	"github.com/noah-isme/card-audit-agent/pkg/export"
)

type reportCardReader interface {
	ListByBatch(ctx context.Context, batchName string) ([]models.BatchCardRecord, error)
}

type reportLogReader interface {
	ListByBatch(ctx context.Context, batchName string) ([]models.VerifiedCardRecord, error)
}

type datasetRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

var reportHeaders = []string{"Card ID", "Owner", "Status", "Holder", "Verified At"}

var unsafeFilename = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// ReportService reconciles a batch's expected cards against the verification log.
type ReportService struct {
	cards         reportCardReader
	verifications reportLogReader
	csv           datasetRenderer
	pdf           datasetRenderer
	logger        *zap.Logger
	now           func() time.Time
}

// NewReportService constructs a ReportService. Nil renderers use the package defaults.
func NewReportService(cards reportCardReader, verifications reportLogReader, csv, pdf datasetRenderer, logger *zap.Logger) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ReportService{
		cards:         cards,
		verifications: verifications,
		csv:           csv,
		pdf:           pdf,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// Build lists every expected card with its verification state. Cards verified under the
// batch but missing from its card list are reported as UNEXPECTED.
func (s *ReportService) Build(ctx context.Context, batchName string) (*models.BatchReport, error) {
	batchName = strings.TrimSpace(batchName)
	if batchName == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "batch name is required")
	}

	cards, err := s.cards.ListByBatch(ctx, batchName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to list batch cards")
	}
	logs, err := s.verifications.ListByBatch(ctx, batchName)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrTransientIO.Code, appErrors.ErrTransientIO.Status, "failed to list verifications")
	}
	if len(cards) == 0 && len(logs) == 0 {
		return nil, appErrors.Clone(appErrors.ErrNotFound, fmt.Sprintf("batch %s has no stored cards", batchName))
	}

	first := make(map[string]models.VerifiedCardRecord, len(logs))
	for _, entry := range logs {
		id := models.NormalizeCardID(entry.CardID)
		if existing, ok := first[id]; !ok || entry.VerifiedAt.Before(existing.VerifiedAt) {
			first[id] = entry
		}
	}

	report := &models.BatchReport{
		BatchName:   batchName,
		GeneratedAt: s.now(),
		Rows:        make([]models.BatchReportRow, 0, len(cards)),
	}
	expected := make(map[string]struct{}, len(cards))
	verified := 0
	for _, card := range cards {
		id := models.NormalizeCardID(card.CardID)
		expected[id] = struct{}{}
		row := models.BatchReportRow{CardID: id, CardOwner: models.StringValue(card.CardOwner), Status: models.CardStatusPending}
		if entry, ok := first[id]; ok {
			verified++
			fillVerified(&row, entry)
		}
		report.Rows = append(report.Rows, row)
	}

	var unexpected []models.BatchReportRow
	for id, entry := range first {
		if _, ok := expected[id]; ok {
			continue
		}
		row := models.BatchReportRow{CardID: id}
		fillVerified(&row, entry)
		row.Status = models.CardStatusUnexpected
		unexpected = append(unexpected, row)
	}
	sort.Slice(unexpected, func(i, j int) bool { return unexpected[i].CardID < unexpected[j].CardID })
	report.Rows = append(report.Rows, unexpected...)

	report.Progress = models.BatchProgress{
		BatchName:     batchName,
		TotalCards:    len(cards),
		Verifications: len(logs),
		VerifiedCards: verified,
		Remaining:     len(cards) - verified,
	}
	return report, nil
}

func fillVerified(row *models.BatchReportRow, entry models.VerifiedCardRecord) {
	at := entry.VerifiedAt
	row.Status = models.CardStatusVerified
	row.HolderName = models.StringValue(entry.HolderName)
	row.VerifiedAt = &at
}

// Render builds the report and encodes it in format.
func (s *ReportService) Render(ctx context.Context, batchName string, format models.ReportFormat) (*models.RenderedReport, error) {
	if format == "" {
		format = models.ReportFormatCSV
	}
	if !format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}
	report, err := s.Build(ctx, batchName)
	if err != nil {
		return nil, err
	}

	dataset := toDataset(report)
	var (
		payload     []byte
		contentType string
	)
	switch format {
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset)
		contentType = "application/pdf"
	default:
		payload, err = s.csv.Render(dataset)
		contentType = "text/csv"
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	filename := fmt.Sprintf("batch-%s-%s.%s", unsafeFilename.ReplaceAllString(report.BatchName, "_"), report.GeneratedAt.Format("20060102-150405"), format)
	s.logger.Info("batch report rendered",
		zap.String("batch_name", report.BatchName),
		zap.String("format", string(format)),
		zap.Int("rows", len(report.Rows)),
		zap.Int("bytes", len(payload)),
	)
	return &models.RenderedReport{Filename: filename, ContentType: contentType, Payload: payload}, nil
}

func toDataset(report *models.BatchReport) export.Dataset {
	rows := make([]map[string]string, 0, len(report.Rows))
	for _, r := range report.Rows {
		verifiedAt := ""
		if r.VerifiedAt != nil {
			verifiedAt = r.VerifiedAt.UTC().Format(time.RFC3339)
		}
		rows = append(rows, map[string]string{
			"Card ID":     r.CardID,
			"Owner":       r.CardOwner,
			"Status":      r.Status,
			"Holder":      r.HolderName,
			"Verified At": verifiedAt,
		})
	}
	p := report.Progress
	return export.Dataset{
		Title: "Batch " + report.BatchName + " reconciliation",
		Summary: []string{
			"Generated " + report.GeneratedAt.Format(time.RFC3339),
			"Expected cards: " + strconv.Itoa(p.TotalCards),
			"Verified: " + strconv.Itoa(p.VerifiedCards) + ", remaining: " + strconv.Itoa(p.Remaining),
			"Verification log entries: " + strconv.Itoa(p.Verifications),
		},
		Headers: reportHeaders,
		Rows:    rows,
	}
}
