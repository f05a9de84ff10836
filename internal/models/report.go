package models

import "time"

// ReportFormat enumerates export formats.
type ReportFormat string

const (
	ReportFormatCSV ReportFormat = "csv"
	ReportFormatPDF ReportFormat = "pdf"
)

// Valid reports whether the format is supported.
func (f ReportFormat) Valid() bool {
	return f == ReportFormatCSV || f == ReportFormatPDF
}

// Card statuses used in reconciliation reports.
const (
	CardStatusVerified   = "VERIFIED"
	CardStatusPending    = "PENDING"
	CardStatusUnexpected = "UNEXPECTED"
)

// BatchReportRow is one card line in a reconciliation report.
type BatchReportRow struct {
	CardID     string     `json:"card_id"`
	CardOwner  string     `json:"card_owner,omitempty"`
	Status     string     `json:"status"`
	HolderName string     `json:"holder_name,omitempty"`
	VerifiedAt *time.Time `json:"verified_at,omitempty"`
}

// BatchReport reconciles expected cards against the verification log.
type BatchReport struct {
	BatchName   string           `json:"batch_name"`
	GeneratedAt time.Time        `json:"generated_at"`
	Progress    BatchProgress    `json:"progress"`
	Rows        []BatchReportRow `json:"rows"`
}

// RenderedReport is an exported report file.
type RenderedReport struct {
	Filename    string
	ContentType string
	Payload     []byte
}

// ReportLink points at an archived report through a signed download token.
type ReportLink struct {
	BatchName string       `json:"batch_name"`
	Format    ReportFormat `json:"format"`
	Filename  string       `json:"filename"`
	Token     string       `json:"token"`
	ExpiresAt time.Time    `json:"expires_at"`
}
