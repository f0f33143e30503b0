package geosession

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
)

// Repository persists geo sessions in Postgres.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Insert writes a new session.
func (r *Repository) Insert(ctx context.Context, s Session) (Session, error) {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO sessions (id, teacher_id, class_id, latitude, longitude, radius_meters, qr_token, expires_at, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, s.ID, s.TeacherID, s.ClassID, s.Latitude, s.Longitude, s.RadiusMeters, s.QRToken, s.ExpiresAt, s.Active)
	if err := row.Scan(&s.CreatedAt); err != nil {
		return Session{}, err
	}
	return s, nil
}

// FindByToken returns the session matching a token, or nil when absent.
// Lookup-by-token is the only enforcement of one-active-session-per-token.
func (r *Repository) FindByToken(ctx context.Context, token string) (*Session, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, teacher_id, class_id, latitude, longitude, radius_meters, qr_token, expires_at, active, created_at
		FROM sessions
		WHERE qr_token = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, token)
	var s Session
	err := row.Scan(&s.ID, &s.TeacherID, &s.ClassID, &s.Latitude, &s.Longitude, &s.RadiusMeters, &s.QRToken, &s.ExpiresAt, &s.Active, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &s, nil
}

// Deactivate marks a session inactive.
func (r *Repository) Deactivate(ctx context.Context, id, teacherID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET active = FALSE WHERE id = $1 AND teacher_id = $2
	`, id, teacherID)
	return err
}
