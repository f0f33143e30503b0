package attendance

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository persists attendance data in Postgres. It backs the verifier's
// RecordStore, ProfileStore and EventStore contracts.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a repo.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// InsertRecord writes a new attendance row.
func (r *Repository) InsertRecord(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.TimeMarked.IsZero() {
		rec.TimeMarked = time.Now()
	}
	if rec.Status == "" {
		rec.Status = "pending"
	}
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO attendance (id, student_id, full_name, email, phone_number, class, class_date, status, time_marked)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		RETURNING created_at
	`, rec.ID, rec.StudentID, rec.FullName, rec.Email, rec.PhoneNumber, rec.Class, rec.ClassDate, rec.Status, rec.TimeMarked)
	if err := row.Scan(&rec.CreatedAt); err != nil {
		return Record{}, err
	}
	return rec, nil
}

// HasSameDay reports whether the student already has a row for the class
// on the given date. Informational only; no uniqueness is enforced.
func (r *Repository) HasSameDay(ctx context.Context, studentID, class, classDate string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM attendance
			WHERE student_id = $1 AND class = $2 AND class_date = $3
		)
	`, studentID, class, classDate).Scan(&exists)
	return exists, err
}

// GetRecord returns a single attendance row by id.
func (r *Repository) GetRecord(ctx context.Context, id string) (Record, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, student_id, full_name, email, phone_number, class, class_date, status, time_marked, created_at
		FROM attendance WHERE id = $1
	`, id)
	var rec Record
	err := row.Scan(&rec.ID, &rec.StudentID, &rec.FullName, &rec.Email, &rec.PhoneNumber, &rec.Class, &rec.ClassDate, &rec.Status, &rec.TimeMarked, &rec.CreatedAt)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}

// UpdateRecordStatus applies an owner's status transition.
func (r *Repository) UpdateRecordStatus(ctx context.Context, id, status string) error {
	switch status {
	case "approved", "pending", "rejected":
	default:
		return errors.New("invalid status")
	}
	_, err := r.db.ExecContext(ctx, `UPDATE attendance SET status = $2 WHERE id = $1`, id, status)
	return err
}

// ListRecords returns attendance rows with basic filters.
func (r *Repository) ListRecords(ctx context.Context, studentID, class, classDate string, limit, offset int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	query := `SELECT id, student_id, full_name, email, phone_number, class, class_date, status, time_marked, created_at FROM attendance`
	args := []any{}
	clauses := []string{}
	if studentID != "" {
		clauses = append(clauses, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, studentID)
	}
	if class != "" {
		clauses = append(clauses, fmt.Sprintf("class = $%d", len(args)+1))
		args = append(args, class)
	}
	if classDate != "" {
		clauses = append(clauses, fmt.Sprintf("class_date = $%d", len(args)+1))
		args = append(args, classDate)
	}
	for i, clause := range clauses {
		if i == 0 {
			query += " WHERE " + clause
		} else {
			query += " AND " + clause
		}
	}
	query += fmt.Sprintf(" ORDER BY time_marked DESC LIMIT $%d OFFSET $%d", len(args)+1, len(args)+2)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.StudentID, &rec.FullName, &rec.Email, &rec.PhoneNumber, &rec.Class, &rec.ClassDate, &rec.Status, &rec.TimeMarked, &rec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

// GetProfile returns a student profile, or nil when absent.
func (r *Repository) GetProfile(ctx context.Context, id string) (*Profile, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, full_name, email FROM profiles WHERE id = $1
	`, id)
	var p Profile
	if err := row.Scan(&p.ID, &p.FullName, &p.Email); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// GetEvent returns a calendar event, or nil when absent.
func (r *Repository) GetEvent(ctx context.Context, id string) (*Event, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, title, event_date FROM events WHERE id = $1
	`, id)
	var ev Event
	if err := row.Scan(&ev.ID, &ev.Title, &ev.EventDate); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &ev, nil
}

// SaveRefreshToken stores a refresh token for rotation checks.
func (r *Repository) SaveRefreshToken(ctx context.Context, userID, tok string, expiresAt time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_tokens (user_id, token, expires_at)
		VALUES ($1, $2, $3)
	`, userID, tok, expiresAt)
	return err
}

// InsertNotification records a notification produced by the worker.
func (r *Repository) InsertNotification(ctx context.Context, studentID, attendanceID, message string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO notifications (id, student_id, attendance_id, message)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), studentID, attendanceID, message)
	return err
}
