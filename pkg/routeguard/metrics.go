package routeguard

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var guardDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chatgate",
	Subsystem: "guard",
	Name:      "decisions_total",
	Help:      "Edge guard decisions by outcome.",
}, []string{"decision"})
