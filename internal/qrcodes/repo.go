package qrcodes

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// Repository persists QR grants in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new grant.
func (r *Repository) Insert(ctx context.Context, g Grant) (Grant, error) {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance_qr_codes (id, owner_id, class_name, class_date, expires_at, is_active, payload)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING created_at
	`, g.ID, g.OwnerID, g.ClassName, g.ClassDate, g.ExpiresAt, g.IsActive, g.Payload)
	if err := row.Scan(&g.CreatedAt); err != nil {
		return Grant{}, err
	}
	return g, nil
}

// Get returns a grant by id.
func (r *Repository) Get(ctx context.Context, id string) (*Grant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, class_name, class_date, expires_at, is_active, payload, created_at
		FROM attendance_qr_codes WHERE id = $1
	`, id)
	return scanGrant(row)
}

// Find returns the newest grant matching a payload's owner, class and date.
func (r *Repository) Find(ctx context.Context, ownerID, className, classDate string) (*Grant, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, owner_id, class_name, class_date, expires_at, is_active, payload, created_at
		FROM attendance_qr_codes
		WHERE owner_id = $1 AND class_name = $2 AND class_date = $3
		ORDER BY created_at DESC
		LIMIT 1
	`, ownerID, className, classDate)
	return scanGrant(row)
}

// SetActive flips a grant's activation; ownerID guards against cross-owner toggles.
func (r *Repository) SetActive(ctx context.Context, id, ownerID string, active bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE attendance_qr_codes SET is_active = $3 WHERE id = $1 AND owner_id = $2
	`, id, ownerID, active)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return errors.New("grant not found")
	}
	return nil
}

// ListByOwner returns an owner's grants, newest first.
func (r *Repository) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Grant, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, owner_id, class_name, class_date, expires_at, is_active, payload, created_at
		FROM attendance_qr_codes
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Grant
	for rows.Next() {
		var g Grant
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.ClassName, &g.ClassDate, &g.ExpiresAt, &g.IsActive, &g.Payload, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanGrant(row rowScanner) (*Grant, error) {
	var g Grant
	err := row.Scan(&g.ID, &g.OwnerID, &g.ClassName, &g.ClassDate, &g.ExpiresAt, &g.IsActive, &g.Payload, &g.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &g, nil
}
