package ml

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"fraud-serving/internal/features"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// RemoteClassifier calls an external model server that exposes
// POST /predict taking {"columns": [...], "rows": [[...]]} and answering
// {"predictions": [...]}.
type RemoteClassifier struct {
	base    string
	rest    *resty.Client
	metrics MetricsInterface
}

// NewRemoteClassifier creates a client for the model server at baseURL.
func NewRemoteClassifier(baseURL string, timeout time.Duration, metrics MetricsInterface) (*RemoteClassifier, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("model server URL is required")
	}

	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(5 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")

	return &RemoteClassifier{
		base:    strings.TrimRight(baseURL, "/"),
		rest:    r,
		metrics: metrics,
	}, nil
}

// Classify implements Classifier.
func (c *RemoteClassifier) Classify(ctx context.Context, v features.Vector) (bool, error) {
	start := time.Now()
	label, err := c.classify(ctx, v)
	observe(c.metrics, start, err)
	return label, err
}

func (c *RemoteClassifier) classify(ctx context.Context, v features.Vector) (bool, error) {
	result := &predictResponse{}
	resp, err := c.rest.R().
		SetContext(ctx).
		SetBody(newPredictRequest(v)).
		SetResult(result).
		SetError(result).
		Post(c.base + "/predict")
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && c.metrics != nil {
			c.metrics.MLTimeoutsInc()
		}
		log.Error().Err(err).Str("url", c.base).Msg("Model server request failed")
		return false, fmt.Errorf("%w: model server: %v", ErrInferenceFailure, err)
	}
	if resp.IsError() {
		msg := result.Error
		if msg == "" {
			msg = strings.TrimSpace(resp.String())
		}
		return false, fmt.Errorf("%w: model server returned %d: %s", ErrInferenceFailure, resp.StatusCode(), msg)
	}

	return result.label()
}
