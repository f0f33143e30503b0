package attendance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/Heyykrishnna/elysiardev-sub001/internal/geosession"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/qrcodes"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/queue"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/token"
)

// Labels used when a token resolves to no stored class.
const (
	defaultClassLabel = "QR Attendance"
	sessionClassLabel = "Session Attendance"
)

// Validation failures returned by Mark. Each aborts the request with no
// record created.
var (
	ErrMissingToken   = errors.New("qrToken is required")
	ErrMissingStudent = errors.New("studentId is required")
	ErrGrantNotFound  = errors.New("QR code not found")
	ErrGrantInactive  = errors.New("QR code is no longer active")
	ErrGrantExpired   = errors.New("QR code has expired")
	ErrOutsideRadius  = errors.New("you are outside the allowed area for this session")
)

// errUnresolved is internal: the token matched no stored class, event or
// session. The caller decides whether to reject or accept with the default
// label; Mark accepts, preserving the platform's observed leniency.
var errUnresolved = errors.New("token unresolved")

// IsValidation reports whether err is a request-level failure (HTTP 400)
// rather than a storage failure (HTTP 500).
func IsValidation(err error) bool {
	for _, v := range []error{
		ErrMissingToken, ErrMissingStudent,
		ErrGrantNotFound, ErrGrantInactive, ErrGrantExpired,
		ErrOutsideRadius,
	} {
		if errors.Is(err, v) {
			return true
		}
	}
	return false
}

// Record is one attendance row. Immutable after creation except for status
// transitions by an owner.
type Record struct {
	ID          string    `json:"id"`
	StudentID   string    `json:"student_id"`
	FullName    string    `json:"full_name"`
	Email       string    `json:"email"`
	PhoneNumber string    `json:"phone_number"`
	Class       string    `json:"class"`
	ClassDate   string    `json:"class_date"`
	Status      string    `json:"status"`
	TimeMarked  time.Time `json:"time_marked"`
	CreatedAt   time.Time `json:"created_at"`
}

// Profile is the read-only student profile contract.
type Profile struct {
	ID       string
	FullName string
	Email    string
}

// Event is the read-only calendar event contract.
type Event struct {
	ID        string
	Title     string
	EventDate string
}

// MarkRequest is the verifier input. Location is optional; (0,0) means
// "no location provided", not "at coordinate zero".
type MarkRequest struct {
	QRToken     string
	StudentID   string
	StudentName string
	StudentLat  float64
	StudentLng  float64
}

// Storage contracts the verifier depends on; injected so nothing hides
// behind module-level singletons.
type RecordStore interface {
	InsertRecord(ctx context.Context, rec Record) (Record, error)
	HasSameDay(ctx context.Context, studentID, class, classDate string) (bool, error)
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id string) (*Profile, error)
}

type EventStore interface {
	GetEvent(ctx context.Context, id string) (*Event, error)
}

type GrantStore interface {
	Find(ctx context.Context, ownerID, className, classDate string) (*qrcodes.Grant, error)
}

type SessionStore interface {
	FindByToken(ctx context.Context, tok string) (*geosession.Session, error)
}

// Service decides whether a scanned token records attendance, and for
// which class and date.
type Service struct {
	records  RecordStore
	profiles ProfileStore
	events   EventStore
	grants   GrantStore
	sessions SessionStore
	q        queue.Queue
}

// NewService wires the verifier's dependencies. q may be nil when no
// post-insert fan-out is wanted.
func NewService(records RecordStore, profiles ProfileStore, events EventStore, grants GrantStore, sessions SessionStore, q queue.Queue) *Service {
	return &Service{
		records:  records,
		profiles: profiles,
		events:   events,
		grants:   grants,
		sessions: sessions,
		q:        q,
	}
}

// resolved is the outcome of token resolution; an empty date means "today".
type resolved struct {
	class string
	date  string
}

// Mark validates the token and inserts exactly one attendance row.
// Double submits are not deduplicated; a same-day existing row only logs
// a warning. Every failure is terminal for the request.
func (s *Service) Mark(ctx context.Context, req MarkRequest) (Record, error) {
	req.QRToken = strings.TrimSpace(req.QRToken)
	if req.QRToken == "" {
		scansTotal.WithLabelValues("bad_request").Inc()
		return Record{}, ErrMissingToken
	}
	if strings.TrimSpace(req.StudentID) == "" {
		scansTotal.WithLabelValues("bad_request").Inc()
		return Record{}, ErrMissingStudent
	}

	res, err := s.resolve(ctx, token.Parse(req.QRToken), req.StudentLat, req.StudentLng)
	switch {
	case errors.Is(err, errUnresolved):
		// Unknown tokens are accepted with the generic label. Possibly a
		// latent bug upstream, but clients depend on it; see DESIGN.md.
		res = resolved{class: defaultClassLabel}
		scansTotal.WithLabelValues("defaulted").Inc()
	case err != nil:
		if IsValidation(err) {
			scansTotal.WithLabelValues("rejected").Inc()
		} else {
			scansTotal.WithLabelValues("error").Inc()
		}
		return Record{}, err
	}

	classDate := res.date
	if classDate == "" {
		classDate = localDate(time.Now())
	}

	fullName, email := s.identity(ctx, req.StudentID, req.StudentName)

	if dup, err := s.records.HasSameDay(ctx, req.StudentID, res.class, classDate); err == nil && dup {
		log.Printf("duplicate scan: student %s already marked for %s on %s", req.StudentID, res.class, classDate)
	}

	rec, err := s.records.InsertRecord(ctx, Record{
		StudentID:   req.StudentID,
		FullName:    fullName,
		Email:       email,
		PhoneNumber: "0",
		Class:       res.class,
		ClassDate:   classDate,
		Status:      "approved",
		TimeMarked:  time.Now(),
	})
	if err != nil {
		scansTotal.WithLabelValues("error").Inc()
		return Record{}, err
	}
	scansTotal.WithLabelValues("approved").Inc()

	if s.q != nil {
		if err := s.q.Publish(ctx, queue.Message{Type: "attendance.recorded", Body: []byte(rec.ID)}); err != nil {
			log.Printf("queue publish failed for %s: %v", rec.ID, err)
		}
	}
	return rec, nil
}

// resolve maps a parsed token to a class name and optional date.
func (s *Service) resolve(ctx context.Context, p token.Payload, lat, lng float64) (resolved, error) {
	switch p.Kind {
	case token.KindGrant:
		// Payloads lacking owner or date cannot be checked against a stored
		// grant; the embedded class name is trusted as-is.
		if p.OwnerID == "" || p.Date == "" {
			return resolved{class: p.ClassName, date: p.Date}, nil
		}
		g, err := s.grants.Find(ctx, p.OwnerID, p.ClassName, p.Date)
		if err != nil {
			return resolved{}, err
		}
		if g == nil {
			return resolved{}, ErrGrantNotFound
		}
		if !g.IsActive {
			return resolved{}, ErrGrantInactive
		}
		if g.ExpiresAt != nil && g.ExpiresAt.Before(time.Now()) {
			return resolved{}, ErrGrantExpired
		}
		return resolved{class: p.ClassName, date: p.Date}, nil

	case token.KindEvent:
		ev, err := s.events.GetEvent(ctx, p.EventID)
		if err != nil {
			return resolved{}, err
		}
		if ev == nil {
			return resolved{}, errUnresolved
		}
		// The event's own date wins over any other date source.
		return resolved{class: ev.Title, date: ev.EventDate}, nil

	case token.KindSession, token.KindOpaque:
		return s.resolveSession(ctx, p.SessionToken, lat, lng)

	default:
		return resolved{}, errUnresolved
	}
}

func (s *Service) resolveSession(ctx context.Context, tok string, lat, lng float64) (resolved, error) {
	if tok == "" {
		return resolved{}, errUnresolved
	}
	sess, err := s.sessions.FindByToken(ctx, tok)
	if err != nil {
		return resolved{}, err
	}
	if sess == nil || !sess.Active || sess.Expired(time.Now()) {
		return resolved{}, errUnresolved
	}

	// (0,0) means the scanner could not provide a position; the check is
	// skipped rather than treating it as a real coordinate.
	if sess.RadiusMeters > 0 && (lat != 0 || lng != 0) {
		if geosession.Distance(sess.Latitude, sess.Longitude, lat, lng) > sess.RadiusMeters {
			return resolved{}, ErrOutsideRadius
		}
	}

	if sess.ClassID == "" {
		return resolved{class: sessionClassLabel}, nil
	}
	if ev, err := s.events.GetEvent(ctx, sess.ClassID); err == nil && ev != nil {
		return resolved{class: ev.Title}, nil
	}
	return resolved{class: sess.ClassID}, nil
}

// identity resolves the student's display name and email, falling back to
// request data and a placeholder address when the profile lookup misses.
func (s *Service) identity(ctx context.Context, studentID, requestName string) (string, string) {
	prof, err := s.profiles.GetProfile(ctx, studentID)
	if err != nil {
		log.Printf("profile lookup failed for %s: %v", studentID, err)
	}
	if prof != nil {
		name := prof.FullName
		if name == "" {
			name = requestName
		}
		email := prof.Email
		if email == "" {
			email = placeholderEmail(studentID)
		}
		return name, email
	}
	name := requestName
	if name == "" {
		name = "Student"
	}
	return name, placeholderEmail(studentID)
}

func placeholderEmail(studentID string) string {
	return studentID + "@student.elysiar.app"
}

// localDate formats t's calendar date in the server's local zone. Built
// from the date components rather than an RFC 3339 round-trip so the day
// never shifts across timezones.
func localDate(t time.Time) string {
	y, m, d := t.Date()
	return fmt.Sprintf("%04d-%02d-%02d", y, int(m), d)
}
