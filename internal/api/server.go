// Package api exposes the prediction service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"fraud-serving/internal/common"
	"fraud-serving/internal/features"
	"fraud-serving/internal/service"
	"fraud-serving/internal/txn"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
)

const maxBodyBytes = 1 << 20

// Predictor is the pipeline behind the HTTP routes.
type Predictor interface {
	Predict(ctx context.Context, tx txn.Transaction) (txn.Prediction, error)
	ListPredictions(ctx context.Context) (service.Listing, error)
}

// MetricsInterface defines metrics methods needed by the HTTP layer
type MetricsInterface interface {
	HTTPObserve(route string, code int, seconds float64)
}

// Config controls the HTTP surface.
type Config struct {
	Port        int
	CORSEnabled bool
	// MetricsHandler is mounted at /metrics when non-nil.
	MetricsHandler http.Handler
}

// Server serves the prediction API.
type Server struct {
	svc     Predictor
	metrics MetricsInterface
	server  *http.Server
}

// PredictRequest is the body of POST /api/predict.
type PredictRequest struct {
	Transaction json.RawMessage `json:"transaction"`
}

// ListResponse is the body of GET /api/frauds.
type ListResponse struct {
	Transactions service.Listing `json:"transactions"`
}

// ErrorResponse carries a failure description.
type ErrorResponse struct {
	Detail string `json:"detail"`
}

// NewServer creates the HTTP server. metrics may be nil.
func NewServer(svc Predictor, cfg Config, metrics MetricsInterface) *Server {
	s := &Server{svc: svc, metrics: metrics}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(logRequests)
	r.Use(middleware.Recoverer)
	if metrics != nil {
		r.Use(s.observe)
	}
	if cfg.CORSEnabled {
		r.Use(allowAllOrigins())
	}

	r.Get("/health", s.handleHealth)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}
	r.Route("/api", func(r chi.Router) {
		r.Post("/predict", s.handlePredict)
		r.Get("/frauds", s.handleListFrauds)
	})

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: common.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// Addr returns the listen address.
func (s *Server) Addr() string { return s.server.Addr }

// Start begins serving HTTP requests. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("starting API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, "OK")
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	tx, err := decodeTransaction(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{Detail: err.Error()})
		return
	}

	log.Info().
		Str("request_id", RequestIDFrom(r.Context())).
		Str("src_acc", tx.SourceAccount).
		Str("dst_acc", tx.DestinationAccount).
		Str("transac_type", tx.Type).
		Msg("Incoming predict request")

	pred, err := s.svc.Predict(r.Context(), tx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleListFrauds(w http.ResponseWriter, r *http.Request) {
	listing, err := s.svc.ListPredictions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().
		Str("request_id", RequestIDFrom(r.Context())).
		Int("count", len(listing)).
		Msg("Returning predicted transactions")
	writeJSON(w, http.StatusOK, ListResponse{Transactions: listing})
}

// decodeTransaction reads exactly one PredictRequest and requires every
// transaction field to be present.
func decodeTransaction(body io.Reader) (txn.Transaction, error) {
	var req PredictRequest
	dec := json.NewDecoder(body)
	if err := dec.Decode(&req); err != nil {
		return txn.Transaction{}, fmt.Errorf("malformed JSON body: %v", err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return txn.Transaction{}, errors.New("malformed JSON body: unexpected data after the request object")
	}
	raw := strings.TrimSpace(string(req.Transaction))
	if raw == "" || raw == "null" {
		return txn.Transaction{}, errors.New("field 'transaction' is required")
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(req.Transaction, &fields); err != nil {
		return txn.Transaction{}, fmt.Errorf("field 'transaction' must be an object: %v", err)
	}
	for _, name := range features.Columns() {
		if v, ok := fields[name]; !ok || string(v) == "null" {
			return txn.Transaction{}, fmt.Errorf("field 'transaction.%s' is required", name)
		}
	}

	var tx txn.Transaction
	if err := json.Unmarshal(req.Transaction, &tx); err != nil {
		return txn.Transaction{}, fmt.Errorf("invalid transaction: %v", err)
	}
	return tx, nil
}

// writeError maps pipeline failures onto a 500 with a detail message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	log.Error().
		Err(err).
		Str("request_id", RequestIDFrom(r.Context())).
		Str("kind", service.ErrorKind(err)).
		Msg("request failed")
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Detail: fmt.Sprintf("Unexpected error: %v", err)})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}
