// Package ml wraps the trained fraud model behind a single capability:
// classify one feature row into a fraud / not-fraud label.
//
// The model itself is opaque. It is either served by a long-lived Python
// worker that loads the joblib artifact once at startup (ScriptClassifier)
// or by an external model server reached over HTTP (RemoteClassifier).
package ml

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"fraud-serving/internal/features"
)

// ErrInferenceFailure is returned when the model call fails or its output
// cannot be read as a single label.
var ErrInferenceFailure = errors.New("inference failure")

// Classifier is the inference capability consumed by the prediction service.
type Classifier interface {
	// Classify scores exactly one feature row.
	Classify(ctx context.Context, v features.Vector) (bool, error)
}

// MetricsInterface defines metrics methods needed by the classifiers
type MetricsInterface interface {
	MLPredictionsInc()
	MLFailuresInc()
	MLLatencyObserve(float64)
	MLTimeoutsInc()
}

// predictRequest is the payload understood by both the worker script and
// the remote model server: a single-row frame.
type predictRequest struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

func newPredictRequest(v features.Vector) predictRequest {
	return predictRequest{Columns: v.Columns, Rows: [][]any{v.Values}}
}

type predictResponse struct {
	Predictions []json.RawMessage `json:"predictions"`
	Error       string            `json:"error,omitempty"`
}

// label extracts the single label of a one-row response.
func (r predictResponse) label() (bool, error) {
	if r.Error != "" {
		return false, fmt.Errorf("%w: model error: %s", ErrInferenceFailure, r.Error)
	}
	if len(r.Predictions) == 0 {
		return false, fmt.Errorf("%w: empty prediction result", ErrInferenceFailure)
	}
	if len(r.Predictions) > 1 {
		return false, fmt.Errorf("%w: expected 1 prediction, got %d", ErrInferenceFailure, len(r.Predictions))
	}
	return CoerceLabel(r.Predictions[0])
}

// CoerceLabel converts a raw model output into a fraud flag. Booleans are
// taken as-is, numbers are fraud when non-zero, and the strings
// "true"/"false"/"1"/"0" are accepted. Anything else is an inference failure.
func CoerceLabel(raw json.RawMessage) (bool, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return false, fmt.Errorf("%w: missing label", ErrInferenceFailure)
	}

	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b, nil
	}

	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0, nil
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		s = strings.TrimSpace(strings.ToLower(s))
		if parsed, err := strconv.ParseBool(s); err == nil {
			return parsed, nil
		}
		return false, fmt.Errorf("%w: unrecognised label %q", ErrInferenceFailure, s)
	}

	// A nested single-element array is what some sklearn wrappers emit.
	var nested []json.RawMessage
	if err := json.Unmarshal(raw, &nested); err == nil && len(nested) == 1 {
		return CoerceLabel(nested[0])
	}

	return false, fmt.Errorf("%w: unexpected label shape %s", ErrInferenceFailure, string(raw))
}

func observe(m MetricsInterface, start time.Time, err error) {
	if m == nil {
		return
	}
	m.MLLatencyObserve(time.Since(start).Seconds())
	if err != nil {
		m.MLFailuresInc()
		return
	}
	m.MLPredictionsInc()
}
