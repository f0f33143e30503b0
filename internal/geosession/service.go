package geosession

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Session is a short-lived, location-bound attendance window for a live class.
type Session struct {
	ID           string    `json:"id"`
	TeacherID    string    `json:"teacher_id"`
	ClassID      string    `json:"class_id"`
	Latitude     float64   `json:"latitude"`
	Longitude    float64   `json:"longitude"`
	RadiusMeters float64   `json:"radius_meters"`
	QRToken      string    `json:"qr_token"`
	ExpiresAt    time.Time `json:"expires_at"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}

// Expired reports whether the session window has closed.
func (s Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// Service creates geo sessions. Distance checks happen at verification
// time, not here.
type Service struct {
	repo *Repository
	ttl  time.Duration
}

// NewService creates a service; ttl is the fixed session window.
func NewService(repo *Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{repo: repo, ttl: ttl}
}

// Create opens a session bound to the teacher's location with an opaque
// random token.
func (s *Service) Create(ctx context.Context, teacherID, classID string, lat, lng, radiusMeters float64) (Session, error) {
	if teacherID == "" || classID == "" {
		return Session{}, errors.New("teacher and class required")
	}
	if radiusMeters <= 0 {
		radiusMeters = 100
	}
	sess := Session{
		TeacherID:    teacherID,
		ClassID:      classID,
		Latitude:     lat,
		Longitude:    lng,
		RadiusMeters: radiusMeters,
		QRToken:      strings.ReplaceAll(uuid.NewString(), "-", ""),
		ExpiresAt:    time.Now().Add(s.ttl),
		Active:       true,
	}
	return s.repo.Insert(ctx, sess)
}

// Close deactivates a session before its window ends.
func (s *Service) Close(ctx context.Context, id, teacherID string) error {
	if id == "" {
		return errors.New("session id required")
	}
	return s.repo.Deactivate(ctx, id, teacherID)
}
