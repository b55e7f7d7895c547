// Package service implements the predict-and-persist pipeline: a transaction
// is projected into the model's feature row, classified, and stored together
// with its label. It also shapes stored records for the list endpoint.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"fraud-serving/internal/features"
	"fraud-serving/internal/ml"
	"fraud-serving/internal/storage"
	"fraud-serving/internal/txn"

	"github.com/rs/zerolog/log"
)

// MetricsInterface defines metrics methods needed by the service
type MetricsInterface interface {
	PredictionInc(fraud bool)
	PredictionErrorInc(kind string)
}

// Service wires a projector, a classifier and a store. It holds no per-call
// state and is safe for concurrent use when its collaborators are.
type Service struct {
	projector  *features.Projector
	classifier ml.Classifier
	store      storage.Store
	metrics    MetricsInterface
}

// New builds a Service. metrics may be nil.
func New(projector *features.Projector, classifier ml.Classifier, store storage.Store, metrics MetricsInterface) *Service {
	return &Service{
		projector:  projector,
		classifier: classifier,
		store:      store,
		metrics:    metrics,
	}
}

// Predict classifies tx and persists it with the label. Either both the
// inference and the insert succeed, or an error is returned and nothing is
// stored. Errors wrap features.ErrSchemaMismatch, ml.ErrInferenceFailure or
// storage.ErrStorageUnavailable.
func (s *Service) Predict(ctx context.Context, tx txn.Transaction) (txn.Prediction, error) {
	start := time.Now()

	vec, err := s.projector.Project(tx)
	if err != nil {
		return txn.Prediction{}, s.failed("project features", err)
	}
	log.Debug().Strs("columns", vec.Columns).Msg("Projected transaction features")

	isFraud, err := s.classifier.Classify(ctx, vec)
	if err != nil {
		return txn.Prediction{}, s.failed("classify", err)
	}
	log.Debug().Bool("is_fraud", isFraud).Msg("Model returned label")

	rec, err := s.store.Add(ctx, tx, isFraud)
	if err != nil {
		return txn.Prediction{}, s.failed("store prediction", err)
	}

	if s.metrics != nil {
		s.metrics.PredictionInc(isFraud)
	}
	log.Info().
		Int64("id", rec.ID).
		Bool("predicted_fraud", isFraud).
		Dur("elapsed", time.Since(start)).
		Msg("Prediction stored")

	return txn.Prediction{Transaction: tx, PredictedFraud: isFraud}, nil
}

// ListPredictions returns every stored prediction, newest first.
func (s *Service) ListPredictions(ctx context.Context) (Listing, error) {
	records, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, s.failed("list", err)
	}

	listing := make(Listing, 0, len(records))
	for _, rec := range records {
		listing = append(listing, Entry{ID: rec.ID, Prediction: rec.Prediction()})
	}
	return listing, nil
}

func (s *Service) failed(step string, err error) error {
	kind := ErrorKind(err)
	if s.metrics != nil {
		s.metrics.PredictionErrorInc(kind)
	}
	log.Error().Err(err).Str("step", step).Str("kind", kind).Msg("Pipeline call failed")
	return fmt.Errorf("%s: %w", step, err)
}

// ErrorKind names the failure class of a pipeline error.
func ErrorKind(err error) string {
	switch {
	case errors.Is(err, features.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, ml.ErrInferenceFailure):
		return "inference_failure"
	case errors.Is(err, storage.ErrStorageUnavailable):
		return "storage_unavailable"
	default:
		return "internal"
	}
}

// Entry is one stored prediction keyed by its record id.
type Entry struct {
	ID         int64
	Prediction txn.Prediction
}

// Listing is the ordered result of ListPredictions. It encodes as a JSON
// object keyed by id whose members keep the listing order.
type Listing []Entry

// Get returns the prediction stored under id.
func (l Listing) Get(id int64) (txn.Prediction, bool) {
	for _, e := range l {
		if e.ID == id {
			return e.Prediction, true
		}
	}
	return txn.Prediction{}, false
}

// MarshalJSON implements json.Marshaler.
func (l Listing) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range l {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.Quote(strconv.FormatInt(e.ID, 10)))
		buf.WriteByte(':')
		data, err := json.Marshal(e.Prediction)
		if err != nil {
			return nil, fmt.Errorf("marshal prediction %d: %w", e.ID, err)
		}
		buf.Write(data)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
