package attendance

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Heyykrishnna/elysiardev-sub001/internal/geosession"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/qrcodes"
	"github.com/Heyykrishnna/elysiardev-sub001/internal/queue"
)

// fakeStore backs every storage contract the verifier needs.
type fakeStore struct {
	grants   map[string]*qrcodes.Grant // owner|class|date
	sessions map[string]*geosession.Session
	events   map[string]*Event
	profiles map[string]*Profile
	inserted []Record
	failNext error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		grants:   map[string]*qrcodes.Grant{},
		sessions: map[string]*geosession.Session{},
		events:   map[string]*Event{},
		profiles: map[string]*Profile{},
	}
}

func (f *fakeStore) InsertRecord(_ context.Context, rec Record) (Record, error) {
	if f.failNext != nil {
		return Record{}, f.failNext
	}
	rec.ID = "rec-" + time.Now().Format("150405.000000000")
	rec.CreatedAt = time.Now()
	f.inserted = append(f.inserted, rec)
	return rec, nil
}

func (f *fakeStore) HasSameDay(_ context.Context, studentID, class, classDate string) (bool, error) {
	for _, r := range f.inserted {
		if r.StudentID == studentID && r.Class == class && r.ClassDate == classDate {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeStore) GetProfile(_ context.Context, id string) (*Profile, error) {
	return f.profiles[id], nil
}

func (f *fakeStore) GetEvent(_ context.Context, id string) (*Event, error) {
	return f.events[id], nil
}

func (f *fakeStore) Find(_ context.Context, ownerID, className, classDate string) (*qrcodes.Grant, error) {
	return f.grants[ownerID+"|"+className+"|"+classDate], nil
}

func (f *fakeStore) FindByToken(_ context.Context, tok string) (*geosession.Session, error) {
	return f.sessions[tok], nil
}

func newTestService(f *fakeStore) *Service {
	return NewService(f, f, f, f, f, nil)
}

const grantToken = `{"class_name":"Math 101","date":"2025-03-10","owner_id":"u1","type":"attendance"}`

func activeGrant() *qrcodes.Grant {
	exp := time.Now().Add(time.Hour)
	return &qrcodes.Grant{
		ID:        "g1",
		OwnerID:   "u1",
		ClassName: "Math 101",
		ClassDate: "2025-03-10",
		ExpiresAt: &exp,
		IsActive:  true,
	}
}

func TestMarkValidGrant(t *testing.T) {
	f := newFakeStore()
	f.grants["u1|Math 101|2025-03-10"] = activeGrant()
	f.profiles["s1"] = &Profile{ID: "s1", FullName: "Asha Rao", Email: "asha@example.com"}

	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: grantToken, StudentID: "s1"})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if len(f.inserted) != 1 {
		t.Fatalf("inserted %d rows, want 1", len(f.inserted))
	}
	if rec.Class != "Math 101" || rec.ClassDate != "2025-03-10" {
		t.Errorf("class/date = %q/%q", rec.Class, rec.ClassDate)
	}
	if rec.Status != "approved" {
		t.Errorf("status = %q, want approved", rec.Status)
	}
	if rec.FullName != "Asha Rao" || rec.Email != "asha@example.com" {
		t.Errorf("identity = %q/%q, want profile values", rec.FullName, rec.Email)
	}
	if rec.PhoneNumber != "0" {
		t.Errorf("phone = %q, want 0", rec.PhoneNumber)
	}
}

func TestMarkInactiveGrant(t *testing.T) {
	f := newFakeStore()
	g := activeGrant()
	g.IsActive = false
	f.grants["u1|Math 101|2025-03-10"] = g

	_, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: grantToken, StudentID: "s1"})
	if !errors.Is(err, ErrGrantInactive) {
		t.Fatalf("err = %v, want ErrGrantInactive", err)
	}
	if !strings.Contains(err.Error(), "no longer active") {
		t.Errorf("message %q should mention it is no longer active", err)
	}
	if len(f.inserted) != 0 {
		t.Errorf("inserted %d rows, want 0", len(f.inserted))
	}
}

func TestMarkExpiredGrant(t *testing.T) {
	f := newFakeStore()
	g := activeGrant()
	past := time.Now().Add(-time.Minute)
	g.ExpiresAt = &past
	f.grants["u1|Math 101|2025-03-10"] = g

	_, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: grantToken, StudentID: "s1"})
	if !errors.Is(err, ErrGrantExpired) {
		t.Fatalf("err = %v, want ErrGrantExpired", err)
	}
	if !strings.Contains(err.Error(), "has expired") {
		t.Errorf("message %q should mention expiry", err)
	}
	if len(f.inserted) != 0 {
		t.Errorf("inserted %d rows, want 0", len(f.inserted))
	}
}

func TestMarkUnknownGrant(t *testing.T) {
	f := newFakeStore()
	_, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: grantToken, StudentID: "s1"})
	if !errors.Is(err, ErrGrantNotFound) {
		t.Fatalf("err = %v, want ErrGrantNotFound", err)
	}
	if len(f.inserted) != 0 {
		t.Errorf("inserted %d rows, want 0", len(f.inserted))
	}
}

func TestMarkGrantWithoutOwnerIsTrusted(t *testing.T) {
	// No owner_id/date in the payload: the embedded class name is used
	// without a stored-grant check.
	f := newFakeStore()
	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{
		QRToken:   `{"className":"Physics Lab"}`,
		StudentID: "s1",
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if rec.Class != "Physics Lab" {
		t.Errorf("class = %q, want Physics Lab", rec.Class)
	}
	if rec.ClassDate != localDate(time.Now()) {
		t.Errorf("date = %q, want today", rec.ClassDate)
	}
}

func TestMarkEventPayload(t *testing.T) {
	f := newFakeStore()
	f.events["e1"] = &Event{ID: "e1", Title: "Science Fair", EventDate: "2025-04-01"}

	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{
		QRToken:   `{"event_id":"e1","type":"attendance"}`,
		StudentID: "s1",
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if rec.Class != "Science Fair" {
		t.Errorf("class = %q, want event title", rec.Class)
	}
	if rec.ClassDate != "2025-04-01" {
		t.Errorf("date = %q, want event date to win", rec.ClassDate)
	}
}

func TestMarkSessionResolution(t *testing.T) {
	cases := []struct {
		name    string
		classID string
		event   *Event
		want    string
	}{
		{"linked event title", "e9", &Event{ID: "e9", Title: "Biology"}, "Biology"},
		{"raw class id", "CS-204", nil, "CS-204"},
		{"no class id", "", nil, "Session Attendance"},
	}
	for _, tc := range cases {
		f := newFakeStore()
		f.sessions["tok123"] = &geosession.Session{
			ID:        "sess1",
			ClassID:   tc.classID,
			QRToken:   "tok123",
			ExpiresAt: time.Now().Add(time.Minute),
			Active:    true,
		}
		if tc.event != nil {
			f.events[tc.event.ID] = tc.event
		}
		rec, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: "tok123", StudentID: "s1"})
		if err != nil {
			t.Fatalf("%s: Mark: %v", tc.name, err)
		}
		if rec.Class != tc.want {
			t.Errorf("%s: class = %q, want %q", tc.name, rec.Class, tc.want)
		}
	}
}

func TestMarkNestedSessionToken(t *testing.T) {
	f := newFakeStore()
	f.sessions["inner"] = &geosession.Session{
		ID:        "sess1",
		ClassID:   "Chem 1",
		QRToken:   "inner",
		ExpiresAt: time.Now().Add(time.Minute),
		Active:    true,
	}
	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{
		QRToken:   `{"qr_token":"inner","type":"session"}`,
		StudentID: "s1",
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if rec.Class != "Chem 1" {
		t.Errorf("class = %q, want Chem 1", rec.Class)
	}
}

func TestMarkGarbageTokenStillAccepted(t *testing.T) {
	// Documents existing leniency: unknown tokens are not rejected.
	f := newFakeStore()
	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: "garbage-token", StudentID: "s1"})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if rec.Class != "QR Attendance" {
		t.Errorf("class = %q, want QR Attendance", rec.Class)
	}
	if rec.ClassDate != localDate(time.Now()) {
		t.Errorf("date = %q, want local today", rec.ClassDate)
	}
}

func TestMarkDoubleSubmitCreatesTwoRows(t *testing.T) {
	// Documents actual behavior: no idempotency key, no dedup.
	f := newFakeStore()
	f.grants["u1|Math 101|2025-03-10"] = activeGrant()

	svc := newTestService(f)
	for i := 0; i < 2; i++ {
		if _, err := svc.Mark(context.Background(), MarkRequest{QRToken: grantToken, StudentID: "s1"}); err != nil {
			t.Fatalf("submit %d: %v", i+1, err)
		}
	}
	if len(f.inserted) != 2 {
		t.Errorf("inserted %d rows, want 2 separate rows", len(f.inserted))
	}
}

func TestMarkGeoOutsideRadius(t *testing.T) {
	f := newFakeStore()
	f.sessions["geo"] = &geosession.Session{
		ID:           "sess1",
		ClassID:      "PE",
		Latitude:     12.9716,
		Longitude:    77.5946,
		RadiusMeters: 50,
		QRToken:      "geo",
		ExpiresAt:    time.Now().Add(time.Minute),
		Active:       true,
	}
	// ~1.1 km north of the teacher.
	_, err := newTestService(f).Mark(context.Background(), MarkRequest{
		QRToken:    "geo",
		StudentID:  "s1",
		StudentLat: 12.9816,
		StudentLng: 77.5946,
	})
	if !errors.Is(err, ErrOutsideRadius) {
		t.Fatalf("err = %v, want ErrOutsideRadius", err)
	}
	if len(f.inserted) != 0 {
		t.Errorf("inserted %d rows, want 0", len(f.inserted))
	}
}

func TestMarkGeoMissingLocationSkipsCheck(t *testing.T) {
	f := newFakeStore()
	f.sessions["geo"] = &geosession.Session{
		ID:           "sess1",
		ClassID:      "PE",
		Latitude:     12.9716,
		Longitude:    77.5946,
		RadiusMeters: 50,
		QRToken:      "geo",
		ExpiresAt:    time.Now().Add(time.Minute),
		Active:       true,
	}
	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: "geo", StudentID: "s1"})
	if err != nil {
		t.Fatalf("(0,0) should skip the distance check: %v", err)
	}
	if rec.Class != "PE" {
		t.Errorf("class = %q, want PE", rec.Class)
	}
}

func TestMarkExpiredSessionFallsThrough(t *testing.T) {
	f := newFakeStore()
	f.sessions["old"] = &geosession.Session{
		ID:        "sess1",
		ClassID:   "PE",
		QRToken:   "old",
		ExpiresAt: time.Now().Add(-time.Minute),
		Active:    true,
	}
	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: "old", StudentID: "s1"})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if rec.Class != "QR Attendance" {
		t.Errorf("class = %q, want generic label for expired session", rec.Class)
	}
}

func TestMarkInputValidation(t *testing.T) {
	f := newFakeStore()
	svc := newTestService(f)

	if _, err := svc.Mark(context.Background(), MarkRequest{QRToken: "   ", StudentID: "s1"}); !errors.Is(err, ErrMissingToken) {
		t.Errorf("blank token: err = %v, want ErrMissingToken", err)
	}
	if _, err := svc.Mark(context.Background(), MarkRequest{QRToken: "tok", StudentID: ""}); !errors.Is(err, ErrMissingStudent) {
		t.Errorf("blank student: err = %v, want ErrMissingStudent", err)
	}
	if len(f.inserted) != 0 {
		t.Errorf("inserted %d rows, want 0", len(f.inserted))
	}
}

func TestMarkProfileMissFallsBack(t *testing.T) {
	f := newFakeStore()
	rec, err := newTestService(f).Mark(context.Background(), MarkRequest{
		QRToken:     "unknown",
		StudentID:   "s42",
		StudentName: "Ravi K",
	})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if rec.FullName != "Ravi K" {
		t.Errorf("name = %q, want request-supplied name", rec.FullName)
	}
	if rec.Email != "s42@student.elysiar.app" {
		t.Errorf("email = %q, want placeholder", rec.Email)
	}
}

func TestMarkInsertFailurePropagates(t *testing.T) {
	f := newFakeStore()
	f.failNext = errors.New("insert failed")
	_, err := newTestService(f).Mark(context.Background(), MarkRequest{QRToken: "tok", StudentID: "s1"})
	if err == nil || IsValidation(err) {
		t.Fatalf("err = %v, want non-validation storage error", err)
	}
}

func TestMarkPublishesRecordedMessage(t *testing.T) {
	f := newFakeStore()
	q := queue.NewInMemory(1)
	svc := NewService(f, f, f, f, f, q)

	rec, err := svc.Mark(context.Background(), MarkRequest{QRToken: "whatever", StudentID: "s1"})
	if err != nil {
		t.Fatalf("Mark: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msgs, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	select {
	case msg := <-msgs:
		if msg.Type != "attendance.recorded" || string(msg.Body) != rec.ID {
			t.Errorf("got message %q/%q, want attendance.recorded/%s", msg.Type, msg.Body, rec.ID)
		}
	case <-ctx.Done():
		t.Fatal("no message published")
	}
}

func TestLocalDateFormat(t *testing.T) {
	loc := time.FixedZone("UTC+11", 11*3600)
	// 23:30 local on Jan 2 is already Jan 2 12:30 UTC; the local day must win.
	ts := time.Date(2025, 1, 2, 23, 30, 0, 0, loc)
	if got := localDate(ts); got != "2025-01-02" {
		t.Errorf("localDate = %q, want 2025-01-02", got)
	}
}
