package metrics

import (
	"strconv"
)

// The methods below let *Metrics satisfy the small metrics interfaces
// declared by the ml, storage, service and api packages, so those packages
// never import Prometheus directly.

func (m *Metrics) MLPredictionsInc()          { m.MLPredictions.Inc() }
func (m *Metrics) MLFailuresInc()             { m.MLFailures.Inc() }
func (m *Metrics) MLLatencyObserve(v float64) { m.MLLatency.Observe(v) }
func (m *Metrics) MLTimeoutsInc()             { m.MLTimeouts.Inc() }

func (m *Metrics) StoreLatencyObserve(op string, seconds float64) {
	m.StoreLatency.WithLabelValues(op).Observe(seconds)
}

func (m *Metrics) StoreErrorsInc(op string) {
	m.StoreErrors.WithLabelValues(op).Inc()
}

// PredictionInc counts a persisted prediction.
func (m *Metrics) PredictionInc(fraud bool) {
	label := "legit"
	if fraud {
		label = "fraud"
	}
	m.PredictionsTotal.WithLabelValues(label).Inc()
}

// PredictionErrorInc counts a failed pipeline call by error kind.
func (m *Metrics) PredictionErrorInc(kind string) {
	m.PredictionErrors.WithLabelValues(kind).Inc()
}

// HTTPObserve records one served request.
func (m *Metrics) HTTPObserve(route string, code int, seconds float64) {
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(seconds)
}
