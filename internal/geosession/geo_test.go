package geosession

import (
	"math"
	"testing"
	"time"
)

func TestDistanceZero(t *testing.T) {
	if d := Distance(12.9716, 77.5946, 12.9716, 77.5946); d != 0 {
		t.Errorf("Distance(same point) = %f, want 0", d)
	}
}

func TestDistanceKnownPair(t *testing.T) {
	// Bangalore city center to airport, roughly 31.8 km.
	d := Distance(12.9716, 77.5946, 13.1986, 77.7066)
	if math.Abs(d-31800) > 1500 {
		t.Errorf("Distance = %f m, want ~31800 m", d)
	}
}

func TestDistanceShortRange(t *testing.T) {
	// ~111 m per 0.001 degree of latitude.
	d := Distance(12.9716, 77.5946, 12.9726, 77.5946)
	if math.Abs(d-111) > 5 {
		t.Errorf("Distance = %f m, want ~111 m", d)
	}
}

func TestDistanceSymmetric(t *testing.T) {
	a := Distance(12.9716, 77.5946, 13.1986, 77.7066)
	b := Distance(13.1986, 77.7066, 12.9716, 77.5946)
	if math.Abs(a-b) > 1e-9 {
		t.Errorf("Distance not symmetric: %f vs %f", a, b)
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	s := Session{ExpiresAt: now.Add(time.Minute)}
	if s.Expired(now) {
		t.Error("session expired before its window closed")
	}
	if !s.Expired(now.Add(2 * time.Minute)) {
		t.Error("session not expired after its window closed")
	}
}
