package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/card-audit-agent/internal/models"
)

const operatorColumns = `id, code, full_name, pin_hash, active, created_at, last_login_at`

// OperatorRepository stores field operator accounts.
type OperatorRepository struct {
	db *sqlx.DB
}

// NewOperatorRepository creates an OperatorRepository.
func NewOperatorRepository(db *sqlx.DB) *OperatorRepository {
	return &OperatorRepository{db: db}
}

// FindByCode returns an operator by login code.
func (r *OperatorRepository) FindByCode(ctx context.Context, code string) (*models.Operator, error) {
	query := r.db.Rebind(`SELECT ` + operatorColumns + ` FROM operators WHERE code = ? LIMIT 1`)
	var op models.Operator
	if err := r.db.GetContext(ctx, &op, query, strings.ToLower(strings.TrimSpace(code))); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find operator by code: %w", err)
	}
	return &op, nil
}

// FindByID returns an operator by identifier.
func (r *OperatorRepository) FindByID(ctx context.Context, id string) (*models.Operator, error) {
	query := r.db.Rebind(`SELECT ` + operatorColumns + ` FROM operators WHERE id = ? LIMIT 1`)
	var op models.Operator
	if err := r.db.GetContext(ctx, &op, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find operator by id: %w", err)
	}
	return &op, nil
}

// Create inserts a new operator.
func (r *OperatorRepository) Create(ctx context.Context, op *models.Operator) error {
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	op.Code = strings.ToLower(strings.TrimSpace(op.Code))
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	query := r.db.Rebind(`INSERT INTO operators (id, code, full_name, pin_hash, active, created_at) VALUES (?, ?, ?, ?, ?, ?)`)
	if _, err := r.db.ExecContext(ctx, query, op.ID, op.Code, op.FullName, op.PinHash, op.Active, op.CreatedAt); err != nil {
		return fmt.Errorf("create operator: %w", err)
	}
	return nil
}

// UpdateLastLogin stamps the last successful login.
func (r *OperatorRepository) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(`UPDATE operators SET last_login_at = ? WHERE id = ?`), ts, id); err != nil {
		return fmt.Errorf("update operator last login: %w", err)
	}
	return nil
}

// List returns all operators ordered by code.
func (r *OperatorRepository) List(ctx context.Context) ([]models.Operator, error) {
	var ops []models.Operator
	if err := r.db.SelectContext(ctx, &ops, `SELECT `+operatorColumns+` FROM operators ORDER BY code ASC`); err != nil {
		return nil, fmt.Errorf("list operators: %w", err)
	}
	return ops, nil
}
