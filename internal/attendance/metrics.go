package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// scansTotal counts verifier outcomes: approved, defaulted, rejected,
// bad_request, error.
var scansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_scans_total",
	Help: "Attendance scan submissions by outcome.",
}, []string{"result"})
