// Package metrics implements the status and metrics surface (C10):
// Prometheus gauges describing the current state of the relay, weather
// and thermostat components, plus a small HTML status page in the same
// style as this codebase's sibling CCU status handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/freeabode/thermocore/internal/busproto"
)

var (
	wireState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "thermocore",
		Subsystem: "relay",
		Name:      "wire_state",
		Help:      "Current tristate of one HVAC wire: 0=unknown, 1=off, 2=on.",
	}, []string{"wire"})

	controllerMode = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "thermocore",
		Subsystem: "thermostat",
		Name:      "mode",
		Help:      "Current thermostat mode: 0=off, 1=heat, 2=cool.",
	})

	goalLow = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "thermocore",
		Subsystem: "thermostat",
		Name:      "goal_low_centi_c",
		Help:      "Configured heat setpoint, in hundredths of a degree Celsius.",
	})

	goalHigh = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "thermocore",
		Subsystem: "thermostat",
		Name:      "goal_high_centi_c",
		Help:      "Configured cool setpoint, in hundredths of a degree Celsius.",
	})

	hysteresis = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "thermocore",
		Subsystem: "thermostat",
		Name:      "hysteresis_centi_c",
		Help:      "Configured hysteresis band, in hundredths of a degree Celsius.",
	})
)

func init() {
	prometheus.MustRegister(wireState, controllerMode, goalLow, goalHigh, hysteresis)
}

// ObserveRelayChange records a wire's current tristate.
func ObserveRelayChange(rc busproto.RelayChange) {
	wireState.With(prometheus.Labels{"wire": rc.Wire.String()}).Set(float64(rc.Value))
}

// ObserveGoals records the thermostat's current configuration.
func ObserveGoals(g busproto.ControllerGoals) {
	controllerMode.Set(float64(g.Mode))
	goalLow.Set(float64(g.HeatSetpointCentiC))
	goalHigh.Set(float64(g.CoolSetpointCentiC))
	hysteresis.Set(float64(g.HysteresisCentiC))
}

// Handler returns the /metrics HTTP handler: promhttp serving the
// default prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
