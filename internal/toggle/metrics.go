package toggle

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	flagState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "hypnos_flag_state",
		Help: "Current value of a developer toggle (1 = on)",
	}, []string{"flag"})

	flagToggles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hypnos_flag_toggles_total",
		Help: "Developer toggle operations by flag and action",
	}, []string{"flag", "action"})
)

func recordFlag(flag, action string, on bool) {
	setFlagGauge(flag, on)
	flagToggles.WithLabelValues(flag, action).Inc()
}

func setFlagGauge(flag string, on bool) {
	v := 0.0
	if on {
		v = 1.0
	}
	flagState.WithLabelValues(flag).Set(v)
}
