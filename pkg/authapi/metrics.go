package authapi

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var signIns = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "chatgate",
	Subsystem: "auth",
	Name:      "signins_total",
	Help:      "Password sign-in attempts by outcome.",
}, []string{"outcome"})
