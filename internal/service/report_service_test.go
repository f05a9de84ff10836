package service

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/card-audit-agent/internal/models"
	appErrors "github.com/noah-isme/card-audit-agent/pkg/errors"
	"github.com/noah-isme/card-audit-agent/pkg/export"
)

type failingRenderer struct{}

func (failingRenderer) Render(export.Dataset) ([]byte, error) {
	return nil, errors.New("font missing")
}

func newReportFixture(t *testing.T) (*ReportService, *VerificationService) {
	t.Helper()
	cards := newMemoryCardStore(map[string][]string{"001": {"LAG001", "LAG002", "LAG003"}, "002": {"LAG101"}})
	log := &memoryVerificationStore{}
	cache := NewVerificationCache(&fakeRemote{batches: map[string]models.RemoteBatch{}}, nil, DefaultBatchTTL, nil, nil)
	engine := NewVerificationService(cards, log, cache, nil, nil)
	svc := NewReportService(cards, log, nil, nil, nil)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc, engine
}

func TestBuildReconcilesBatch(t *testing.T) {
	svc, engine := newReportFixture(t)
	ctx := context.Background()
	engine.Verify(ctx, models.VerifyRequest{CardID: "LAG002", TargetBatch: "001", HolderName: "Ada"})
	engine.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})
	require.NoError(t, engine.verifications.Insert(ctx, &models.VerifiedCardRecord{CardID: "LAG900", BatchName: "001", VerifiedAt: time.Now()}))

	report, err := svc.Build(ctx, "001")
	require.NoError(t, err)
	require.Len(t, report.Rows, 4)

	statuses := map[string]string{}
	for _, row := range report.Rows {
		statuses[row.CardID] = row.Status
	}
	assert.Equal(t, map[string]string{
		"LAG001": models.CardStatusVerified,
		"LAG002": models.CardStatusVerified,
		"LAG003": models.CardStatusPending,
		"LAG900": models.CardStatusUnexpected,
	}, statuses)
	assert.Equal(t, "Ada", report.Rows[1].HolderName)
	assert.Equal(t, "LAG900", report.Rows[3].CardID)

	assert.Equal(t, 3, report.Progress.TotalCards)
	assert.Equal(t, 2, report.Progress.VerifiedCards)
	assert.Equal(t, 1, report.Progress.Remaining)
	assert.Equal(t, 3, report.Progress.Verifications)
}

func TestBuildUnknownBatch(t *testing.T) {
	svc, _ := newReportFixture(t)

	_, err := svc.Build(context.Background(), "999")
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestRenderCSVAndPDF(t *testing.T) {
	svc, engine := newReportFixture(t)
	ctx := context.Background()
	engine.Verify(ctx, models.VerifyRequest{CardID: "LAG001", TargetBatch: "001"})

	csvReport, err := svc.Render(ctx, "001", models.ReportFormatCSV)
	require.NoError(t, err)
	assert.Equal(t, "text/csv", csvReport.ContentType)
	assert.Equal(t, "batch-001-20240501-120000.csv", csvReport.Filename)
	lines := strings.Split(strings.TrimSpace(string(csvReport.Payload)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "Card ID,Owner,Status,Holder,Verified At", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "LAG001,,VERIFIED,,"))
	assert.Equal(t, "LAG002,,PENDING,,", lines[2])

	pdfReport, err := svc.Render(ctx, "001", models.ReportFormatPDF)
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdfReport.ContentType)
	assert.True(t, bytes.HasPrefix(pdfReport.Payload, []byte("%PDF")))
}

func TestRenderRejectsUnknownFormatAndRendererErrors(t *testing.T) {
	svc, _ := newReportFixture(t)
	ctx := context.Background()

	_, err := svc.Render(ctx, "001", "xlsx")
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	svc.csv = failingRenderer{}
	_, err = svc.Render(ctx, "001", models.ReportFormatCSV)
	assert.ErrorIs(t, err, appErrors.ErrInternal)
}
