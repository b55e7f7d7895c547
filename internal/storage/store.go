// Package storage provides persistent storage for fraud predictions.
// Two engines are supported: an embedded BoltDB file for single-node
// deployments and PostgreSQL for shared deployments.
//
// Both engines assign the record id and prediction timestamp themselves on
// insert and return the stored record, and both list records newest first.
package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"fraud-serving/internal/txn"
)

// ErrStorageUnavailable wraps every failure to reach, read or write the
// backing store.
var ErrStorageUnavailable = errors.New("storage unavailable")

const (
	BackendBolt     = "bolt"
	BackendPostgres = "postgres"
)

// Store is the append-only prediction repository.
type Store interface {
	// Add inserts a record for tx and returns it with the generated id and
	// timestamp populated. The record is committed when Add returns.
	Add(ctx context.Context, tx txn.Transaction, isFraud bool) (txn.Record, error)

	// ListAll returns every record, newest first. Records with the same
	// timestamp are ordered by id, highest first.
	ListAll(ctx context.Context) ([]txn.Record, error)

	Close() error
}

// Config selects and configures the storage engine.
type Config struct {
	Backend  string
	DataPath string // bolt
	DSN      string // postgres
	Migrate  bool   // postgres: apply embedded migrations on open
}

// Open creates the store described by c.
func Open(ctx context.Context, c Config) (Store, error) {
	switch c.Backend {
	case BackendBolt, "":
		return NewBolt(c.DataPath)
	case BackendPostgres:
		if c.Migrate {
			if err := Migrate(c.DSN); err != nil {
				return nil, err
			}
		}
		return NewPostgres(ctx, c.DSN)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.Backend)
	}
}

// sortNewestFirst orders records by PredictedAt descending, then ID descending.
func sortNewestFirst(records []txn.Record) {
	sort.SliceStable(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.PredictedAt.Equal(b.PredictedAt) {
			return a.PredictedAt.After(b.PredictedAt)
		}
		return a.ID > b.ID
	})
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
}

// MetricsInterface defines metrics methods needed by the instrumented store
type MetricsInterface interface {
	StoreLatencyObserve(op string, seconds float64)
	StoreErrorsInc(op string)
}

type instrumented struct {
	Store
	metrics MetricsInterface
}

// Instrument records latency and failures of s on m.
func Instrument(s Store, m MetricsInterface) Store {
	if m == nil {
		return s
	}
	return &instrumented{Store: s, metrics: m}
}

func (s *instrumented) Add(ctx context.Context, tx txn.Transaction, isFraud bool) (txn.Record, error) {
	start := time.Now()
	rec, err := s.Store.Add(ctx, tx, isFraud)
	s.observe("add", start, err)
	return rec, err
}

func (s *instrumented) ListAll(ctx context.Context) ([]txn.Record, error) {
	start := time.Now()
	records, err := s.Store.ListAll(ctx)
	s.observe("list_all", start, err)
	return records, err
}

func (s *instrumented) observe(op string, start time.Time, err error) {
	s.metrics.StoreLatencyObserve(op, time.Since(start).Seconds())
	if err != nil {
		s.metrics.StoreErrorsInc(op)
	}
}
