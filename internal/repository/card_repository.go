package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

const cardColumns = `card_id, batch_name, created_at, card_owner, description`

// CardRepository persists batch membership rows.
type CardRepository struct {
	db *sqlx.DB
}

// NewCardRepository creates a CardRepository.
func NewCardRepository(db *sqlx.DB) *CardRepository {
	return &CardRepository{db: db}
}

// InsertIfAbsent stores a card unless its id already has a row. It reports whether a row
// was written; an existing row is left untouched.
func (r *CardRepository) InsertIfAbsent(ctx context.Context, record *models.BatchCardRecord) (bool, error) {
	record.CardID = models.NormalizeCardID(record.CardID)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO batch_cards (` + cardColumns + `) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (card_id) DO NOTHING`)
	res, err := r.db.ExecContext(ctx, query, record.CardID, record.BatchName, record.CreatedAt, record.CardOwner, record.Description)
	if err != nil {
		return false, fmt.Errorf("insert batch card: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert batch card: %w", err)
	}
	return n > 0, nil
}

// ReplaceBatch swaps the contents of a batch in a single transaction.
func (r *CardRepository) ReplaceBatch(ctx context.Context, batchName string, records []models.BatchCardRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace batch: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM batch_cards WHERE batch_name = ?`), batchName); err != nil {
		return fmt.Errorf("clear batch %s: %w", batchName, err)
	}
	for i := range records {
		records[i].BatchName = batchName
		if err := upsertCard(ctx, tx, &records[i]); err != nil {
			return fmt.Errorf("insert batch card %s: %w", records[i].CardID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace batch: %w", err)
	}
	return nil
}

// FindByIDAndBatch returns the card when it belongs to batchName.
func (r *CardRepository) FindByIDAndBatch(ctx context.Context, cardID, batchName string) (*models.BatchCardRecord, error) {
	query := r.db.Rebind(`SELECT ` + cardColumns + ` FROM batch_cards WHERE card_id = ? AND LOWER(batch_name) = LOWER(?) LIMIT 1`)
	var record models.BatchCardRecord
	if err := r.db.GetContext(ctx, &record, query, models.NormalizeCardID(cardID), batchName); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find card in batch: %w", err)
	}
	return &record, nil
}

// FindByID returns the card regardless of batch.
func (r *CardRepository) FindByID(ctx context.Context, cardID string) (*models.BatchCardRecord, error) {
	query := r.db.Rebind(`SELECT ` + cardColumns + ` FROM batch_cards WHERE card_id = ? LIMIT 1`)
	var record models.BatchCardRecord
	if err := r.db.GetContext(ctx, &record, query, models.NormalizeCardID(cardID)); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find card: %w", err)
	}
	return &record, nil
}

// ListByBatch returns the batch's cards ordered by id.
func (r *CardRepository) ListByBatch(ctx context.Context, batchName string) ([]models.BatchCardRecord, error) {
	query := r.db.Rebind(`SELECT ` + cardColumns + ` FROM batch_cards WHERE LOWER(batch_name) = LOWER(?) ORDER BY card_id ASC`)
	var records []models.BatchCardRecord
	if err := r.db.SelectContext(ctx, &records, query, batchName); err != nil {
		return nil, fmt.Errorf("list batch cards: %w", err)
	}
	return records, nil
}

// ListBatchNames returns every batch with at least one stored card.
func (r *CardRepository) ListBatchNames(ctx context.Context) ([]string, error) {
	var names []string
	if err := r.db.SelectContext(ctx, &names, `SELECT DISTINCT batch_name FROM batch_cards ORDER BY batch_name ASC`); err != nil {
		return nil, fmt.Errorf("list batch names: %w", err)
	}
	return names, nil
}

// DeleteByBatch removes all cards of a batch.
func (r *CardRepository) DeleteByBatch(ctx context.Context, batchName string) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM batch_cards WHERE LOWER(batch_name) = LOWER(?)`), batchName)
	if err != nil {
		return 0, fmt.Errorf("delete batch cards: %w", err)
	}
	affected, _ := res.RowsAffected()
	return affected, nil
}

// CountByBatch counts the cards expected in a batch.
func (r *CardRepository) CountByBatch(ctx context.Context, batchName string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(`SELECT COUNT(*) FROM batch_cards WHERE LOWER(batch_name) = LOWER(?)`), batchName); err != nil {
		return 0, fmt.Errorf("count batch cards: %w", err)
	}
	return count, nil
}

func upsertCard(ctx context.Context, exec sqlx.ExtContext, record *models.BatchCardRecord) error {
	record.CardID = models.NormalizeCardID(record.CardID)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	query := exec.Rebind(`INSERT INTO batch_cards (` + cardColumns + `) VALUES (?, ?, ?, ?, ?)
ON CONFLICT (card_id) DO UPDATE SET batch_name = excluded.batch_name, created_at = excluded.created_at,
card_owner = excluded.card_owner, description = excluded.description`)
	_, err := exec.ExecContext(ctx, query, record.CardID, record.BatchName, record.CreatedAt, record.CardOwner, record.Description)
	return err
}
