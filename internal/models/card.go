package models

import (
	"strings"
	"time"
)

// BatchCardRecord is a card expected to exist in a batch.
type BatchCardRecord struct {
	CardID      string    `db:"card_id" json:"card_id"`
	BatchName   string    `db:"batch_name" json:"batch_name"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	CardOwner   *string   `db:"card_owner" json:"card_owner,omitempty"`
	Description *string   `db:"description" json:"description,omitempty"`
}

// VerifiedCardRecord is a single verification event.
type VerifiedCardRecord struct {
	ID             int64     `db:"id" json:"id"`
	CardID         string    `db:"card_id" json:"card_id"`
	BatchName      string    `db:"batch_name" json:"batch_name"`
	HolderName     *string   `db:"holder_name" json:"holder_name,omitempty"`
	VerifiedAt     time.Time `db:"verified_at" json:"verified_at"`
	AdditionalData *string   `db:"additional_data" json:"additional_data,omitempty"`
}

// VerificationFilter narrows verification log listings.
type VerificationFilter struct {
	BatchName string
	CardID    string
	Page      int
	PageSize  int
}

// BatchProgress summarises how far a batch audit has come.
type BatchProgress struct {
	BatchName     string `json:"batch_name"`
	TotalCards    int    `json:"total_cards"`
	Verifications int    `json:"verifications"`
	VerifiedCards int    `json:"verified_cards"`
	Remaining     int    `json:"remaining"`
}

// NormalizeCardID trims a scanned identifier and folds it to upper case, the stored form.
func NormalizeCardID(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

// StringPtr returns nil for blank values.
func StringPtr(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

// StringValue dereferences p, returning "" for nil.
func StringValue(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

// BatchLoadResult reports a batch written into the store.
type BatchLoadResult struct {
	BatchName   string `json:"batch_name"`
	BatchNumber string `json:"batch_number,omitempty"`
	Cards       int    `json:"cards"`
	Source      string `json:"source"`
}

// BatchResetResult reports what a batch reset removed.
type BatchResetResult struct {
	BatchName            string `json:"batch_name"`
	CardsDeleted         int64  `json:"cards_deleted"`
	VerificationsDeleted int64  `json:"verifications_deleted"`
}
