package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

const verificationColumns = `id, card_id, batch_name, holder_name, verified_at, additional_data`

// VerificationRepository persists the verification log.
type VerificationRepository struct {
	db *sqlx.DB
}

// NewVerificationRepository creates a VerificationRepository.
func NewVerificationRepository(db *sqlx.DB) *VerificationRepository {
	return &VerificationRepository{db: db}
}

// Insert appends a verification event and assigns its id.
func (r *VerificationRepository) Insert(ctx context.Context, record *models.VerifiedCardRecord) error {
	record.CardID = models.NormalizeCardID(record.CardID)
	if record.VerifiedAt.IsZero() {
		record.VerifiedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO verified_cards (card_id, batch_name, holder_name, verified_at, additional_data) VALUES (?, ?, ?, ?, ?) RETURNING id`)
	if err := r.db.QueryRowxContext(ctx, query, record.CardID, record.BatchName, record.HolderName, record.VerifiedAt, record.AdditionalData).Scan(&record.ID); err != nil {
		return fmt.Errorf("insert verification: %w", err)
	}
	return nil
}

// FindByCardID returns the earliest verification of a card.
func (r *VerificationRepository) FindByCardID(ctx context.Context, cardID string) (*models.VerifiedCardRecord, error) {
	query := r.db.Rebind(`SELECT ` + verificationColumns + ` FROM verified_cards WHERE card_id = ? ORDER BY id ASC LIMIT 1`)
	var record models.VerifiedCardRecord
	if err := r.db.GetContext(ctx, &record, query, models.NormalizeCardID(cardID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find verification by card: %w", err)
	}
	return &record, nil
}

// ListByBatch returns every verification of a batch in insertion order.
func (r *VerificationRepository) ListByBatch(ctx context.Context, batchName string) ([]models.VerifiedCardRecord, error) {
	query := r.db.Rebind(`SELECT ` + verificationColumns + ` FROM verified_cards WHERE LOWER(batch_name) = LOWER(?) ORDER BY id ASC`)
	var records []models.VerifiedCardRecord
	if err := r.db.SelectContext(ctx, &records, query, batchName); err != nil {
		return nil, fmt.Errorf("list batch verifications: %w", err)
	}
	return records, nil
}

// List returns a filtered page of verifications, newest first, with the total count.
func (r *VerificationRepository) List(ctx context.Context, filter models.VerificationFilter) ([]models.VerifiedCardRecord, int, error) {
	baseQuery := ` FROM verified_cards WHERE 1=1`
	var args []interface{}
	if filter.BatchName != "" {
		baseQuery += ` AND LOWER(batch_name) = LOWER(?)`
		args = append(args, filter.BatchName)
	}
	if filter.CardID != "" {
		baseQuery += ` AND card_id = ?`
		args = append(args, models.NormalizeCardID(filter.CardID))
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 200 {
		pageSize = 50
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf(`SELECT %s%s ORDER BY id DESC LIMIT %d OFFSET %d`, verificationColumns, baseQuery, pageSize, offset)
	var records []models.VerifiedCardRecord
	if err := r.db.SelectContext(ctx, &records, r.db.Rebind(listQuery), args...); err != nil {
		return nil, 0, fmt.Errorf("list verifications: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, r.db.Rebind(`SELECT COUNT(*)`+baseQuery), args...); err != nil {
		return nil, 0, fmt.Errorf("count verifications: %w", err)
	}
	return records, total, nil
}

// DeleteByBatch removes the verification log of a batch.
func (r *VerificationRepository) DeleteByBatch(ctx context.Context, batchName string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM verified_cards WHERE LOWER(batch_name) = LOWER(?)`), batchName)
	if err != nil {
		return 0, fmt.Errorf("delete batch verifications: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// DeleteByCardID removes every verification of a card.
func (r *VerificationRepository) DeleteByCardID(ctx context.Context, cardID string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM verified_cards WHERE card_id = ?`), models.NormalizeCardID(cardID))
	if err != nil {
		return 0, fmt.Errorf("delete card verifications: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// CountByBatch returns total log entries and distinct verified cards for a batch.
func (r *VerificationRepository) CountByBatch(ctx context.Context, batchName string) (int, int, error) {
	var counts struct {
		Total    int `db:"total"`
		Distinct int `db:"distinct_cards"`
	}
	query := r.db.Rebind(`SELECT COUNT(*) AS total, COUNT(DISTINCT card_id) AS distinct_cards FROM verified_cards WHERE LOWER(batch_name) = LOWER(?)`)
	if err := r.db.GetContext(ctx, &counts, query, strings.TrimSpace(batchName)); err != nil {
		return 0, 0, fmt.Errorf("count batch verifications: %w", err)
	}
	return counts.Total, counts.Distinct, nil
}
