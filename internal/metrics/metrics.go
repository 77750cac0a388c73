package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SignIns counts sign-in attempts by outcome (present, late, or a failure kind).
var SignIns = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "attendance_signins_total",
	Help: "Sign-in attempts by outcome.",
}, []string{"outcome"})

// Rotations counts minted rotating tokens.
var Rotations = promauto.NewCounter(prometheus.CounterOpts{
	Name: "attendance_token_rotations_total",
	Help: "Rotating tokens minted.",
})

// AutoAbsents counts records inserted by reconciliation.
var AutoAbsents = promauto.NewCounter(prometheus.CounterOpts{
	Name: "attendance_auto_absents_total",
	Help: "Absent records inserted by reconciliation sweeps.",
})
