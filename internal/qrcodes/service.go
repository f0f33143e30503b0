package qrcodes

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	qrcode "github.com/skip2/go-qrcode"
)

var grantsIssued = promauto.NewCounter(prometheus.CounterOpts{
	Name: "qr_grants_issued_total",
	Help: "QR attendance grants created.",
})

// Grant is a revocable, time-bounded permission to mark attendance for a class.
type Grant struct {
	ID        string     `json:"id"`
	OwnerID   string     `json:"owner_id"`
	ClassName string     `json:"class_name"`
	ClassDate string     `json:"class_date"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	IsActive  bool       `json:"is_active"`
	Payload   []byte     `json:"payload"`
	CreatedAt time.Time  `json:"created_at"`
}

// payload is the JSON embedded in the scannable code.
type payload struct {
	ClassName string `json:"class_name"`
	Date      string `json:"date"`
	OwnerID   string `json:"owner_id"`
	Type      string `json:"type"`
}

// Service creates and manages QR grants.
type Service struct {
	repo *Repository
}

// NewService creates a service backed by a repository.
func NewService(repo *Repository) *Service {
	return &Service{repo: repo}
}

// Create persists a new active grant expiring durationMinutes from now.
// A non-positive duration leaves the grant without an expiry.
func (s *Service) Create(ctx context.Context, ownerID, className, classDate string, durationMinutes int) (Grant, error) {
	if ownerID == "" || className == "" || classDate == "" {
		return Grant{}, errors.New("owner, class and date required")
	}
	if _, err := time.Parse("2006-01-02", classDate); err != nil {
		return Grant{}, errors.New("date must be YYYY-MM-DD")
	}

	body, err := json.Marshal(payload{
		ClassName: className,
		Date:      classDate,
		OwnerID:   ownerID,
		Type:      "attendance",
	})
	if err != nil {
		return Grant{}, err
	}

	g := Grant{
		OwnerID:   ownerID,
		ClassName: className,
		ClassDate: classDate,
		IsActive:  true,
		Payload:   body,
	}
	if durationMinutes > 0 {
		exp := time.Now().Add(time.Duration(durationMinutes) * time.Minute)
		g.ExpiresAt = &exp
	}

	created, err := s.repo.Insert(ctx, g)
	if err != nil {
		return Grant{}, err
	}
	grantsIssued.Inc()
	return created, nil
}

// Toggle flips a grant's activation. Deactivation invalidates outstanding
// codes immediately because the verifier re-checks is_active per scan.
func (s *Service) Toggle(ctx context.Context, id, ownerID string, active bool) error {
	if id == "" {
		return errors.New("grant id required")
	}
	return s.repo.SetActive(ctx, id, ownerID, active)
}

// Get returns a grant by id.
func (s *Service) Get(ctx context.Context, id string) (*Grant, error) {
	return s.repo.Get(ctx, id)
}

// List returns an owner's grants.
func (s *Service) List(ctx context.Context, ownerID string, limit int) ([]Grant, error) {
	return s.repo.ListByOwner(ctx, ownerID, limit)
}

// Render encodes a grant's payload as a PNG image. Pure; no state involved.
func Render(g Grant, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(string(g.Payload), qrcode.Medium, size)
}
