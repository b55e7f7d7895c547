package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"fraud-serving/internal/features"
	"fraud-serving/internal/ml"
	"fraud-serving/internal/storage"
	"fraud-serving/internal/txn"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubClassifier returns a fixed label or error and records what it saw.
type stubClassifier struct {
	mu      sync.Mutex
	label   bool
	err     error
	vectors []features.Vector
}

func (c *stubClassifier) Classify(_ context.Context, v features.Vector) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vectors = append(c.vectors, v)
	return c.label, c.err
}

type downStore struct{}

func (downStore) Add(context.Context, txn.Transaction, bool) (txn.Record, error) {
	return txn.Record{}, fmt.Errorf("%w: insert prediction: connection refused", storage.ErrStorageUnavailable)
}

func (downStore) ListAll(context.Context) ([]txn.Record, error) {
	return nil, fmt.Errorf("%w: list predictions: connection refused", storage.ErrStorageUnavailable)
}

func (downStore) Close() error { return nil }

type mockMetrics struct {
	mu     sync.Mutex
	labels map[bool]int
	errors map[string]int
}

func newMockMetrics() *mockMetrics {
	return &mockMetrics{labels: map[bool]int{}, errors: map[string]int{}}
}

func (m *mockMetrics) PredictionInc(fraud bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labels[fraud]++
}

func (m *mockMetrics) PredictionErrorInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[kind]++
}

func scenarioTransaction() txn.Transaction {
	return txn.Transaction{
		TimeIndex:                42,
		Type:                     "TRANSFER",
		Amount:                   decimal.RequireFromString("1234.56"),
		SourceAccount:            "acc123",
		SourceBalanceBefore:      decimal.RequireFromString("5000.0"),
		SourceBalanceAfter:       decimal.RequireFromString("3765.44"),
		DestinationAccount:       "acc456",
		DestinationBalanceBefore: decimal.RequireFromString("1000.0"),
		DestinationBalanceAfter:  decimal.RequireFromString("2234.56"),
	}
}

func newProjector(t *testing.T) *features.Projector {
	t.Helper()
	p, err := features.NewProjector(features.Columns())
	require.NoError(t, err)
	return p
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	s, err := storage.NewBolt(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPredict_Scenario(t *testing.T) {
	store := newStore(t)
	clf := &stubClassifier{label: false}
	m := newMockMetrics()
	svc := New(newProjector(t), clf, store, m)

	tx := scenarioTransaction()
	pred, err := svc.Predict(context.Background(), tx)
	require.NoError(t, err)

	assert.False(t, pred.PredictedFraud)
	assert.True(t, pred.Transaction.Equal(tx))

	records, err := store.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].IsFraud)
	assert.True(t, records[0].Transaction.Equal(tx))

	// The classifier received exactly one row in the configured order.
	require.Len(t, clf.vectors, 1)
	assert.Equal(t, features.Columns(), clf.vectors[0].Columns)
	assert.Equal(t, 1, m.labels[false])
}

func TestPredict_ConcurrentCallsGetDistinctIDs(t *testing.T) {
	store := newStore(t)
	svc := New(newProjector(t), &stubClassifier{label: true}, store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			pred, err := svc.Predict(context.Background(), scenarioTransaction())
			if assert.NoError(t, err) {
				assert.True(t, pred.PredictedFraud)
			}
		}()
	}
	wg.Wait()

	listing, err := svc.ListPredictions(context.Background())
	require.NoError(t, err)
	require.Len(t, listing, 2)
	assert.NotEqual(t, listing[0].ID, listing[1].ID)
	for _, e := range listing {
		assert.True(t, e.Prediction.PredictedFraud)
	}
}

func TestListPredictions_CountAndUniqueIDs(t *testing.T) {
	svc := New(newProjector(t), &stubClassifier{}, newStore(t), nil)
	ctx := context.Background()

	const n = 7
	for i := 0; i < n; i++ {
		tx := scenarioTransaction()
		tx.TimeIndex = int64(i)
		_, err := svc.Predict(ctx, tx)
		require.NoError(t, err)
	}

	listing, err := svc.ListPredictions(ctx)
	require.NoError(t, err)
	require.Len(t, listing, n)

	seen := make(map[int64]bool)
	for _, e := range listing {
		assert.False(t, seen[e.ID])
		seen[e.ID] = true
	}

	// Newest first: the last prediction made is listed first.
	assert.Equal(t, int64(n-1), listing[0].Prediction.Transaction.TimeIndex)
	assert.Equal(t, int64(0), listing[n-1].Prediction.Transaction.TimeIndex)

	again, err := svc.ListPredictions(ctx)
	require.NoError(t, err)
	assert.Equal(t, listing, again)
}

func TestListPredictions_Empty(t *testing.T) {
	svc := New(newProjector(t), &stubClassifier{}, newStore(t), nil)

	listing, err := svc.ListPredictions(context.Background())
	require.NoError(t, err)
	assert.Empty(t, listing)

	data, err := json.Marshal(listing)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(data))
}

func TestPredict_Failures(t *testing.T) {
	tests := []struct {
		name      string
		projector *features.Projector
		clf       *stubClassifier
		store     storage.Store
		wantErr   error
		wantKind  string
	}{
		{
			name:      "schema mismatch",
			projector: &features.Projector{},
			clf:       &stubClassifier{},
			wantErr:   features.ErrSchemaMismatch,
			wantKind:  "schema_mismatch",
		},
		{
			name:     "inference failure",
			clf:      &stubClassifier{err: fmt.Errorf("%w: empty prediction result", ml.ErrInferenceFailure)},
			wantErr:  ml.ErrInferenceFailure,
			wantKind: "inference_failure",
		},
		{
			name:     "storage unavailable",
			clf:      &stubClassifier{label: true},
			store:    downStore{},
			wantErr:  storage.ErrStorageUnavailable,
			wantKind: "storage_unavailable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			projector := tt.projector
			if projector == nil {
				projector = newProjector(t)
			}
			store := tt.store
			var bolt storage.Store
			if store == nil {
				bolt = newStore(t)
				store = bolt
			}
			m := newMockMetrics()
			svc := New(projector, tt.clf, store, m)

			_, err := svc.Predict(context.Background(), scenarioTransaction())
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, tt.wantKind, ErrorKind(err))
			assert.Equal(t, 1, m.errors[tt.wantKind])
			assert.Empty(t, m.labels)

			// All-or-nothing: nothing was persisted.
			if bolt != nil {
				records, err := bolt.ListAll(context.Background())
				require.NoError(t, err)
				assert.Empty(t, records)
			}
		})
	}
}

func TestPredict_SchemaMismatchSkipsModel(t *testing.T) {
	clf := &stubClassifier{}
	svc := New(&features.Projector{}, clf, newStore(t), nil)

	_, err := svc.Predict(context.Background(), scenarioTransaction())
	assert.ErrorIs(t, err, features.ErrSchemaMismatch)
	assert.Empty(t, clf.vectors)
}

func TestListPredictions_StorageUnavailable(t *testing.T) {
	m := newMockMetrics()
	svc := New(newProjector(t), &stubClassifier{}, downStore{}, m)

	_, err := svc.ListPredictions(context.Background())
	assert.ErrorIs(t, err, storage.ErrStorageUnavailable)
	assert.ErrorContains(t, err, "list: ")
	assert.Equal(t, 1, m.errors["storage_unavailable"])
	assert.Empty(t, m.labels)
}

func TestErrorKind_Unknown(t *testing.T) {
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
}

func TestListing_MarshalJSONKeepsOrder(t *testing.T) {
	listing := Listing{
		{ID: 9, Prediction: txn.Prediction{Transaction: scenarioTransaction(), PredictedFraud: true}},
		{ID: 3, Prediction: txn.Prediction{Transaction: scenarioTransaction()}},
		{ID: 12, Prediction: txn.Prediction{Transaction: scenarioTransaction()}},
	}

	data, err := json.Marshal(listing)
	require.NoError(t, err)

	dec := json.NewDecoder(strings.NewReader(string(data)))
	tok, err := dec.Token()
	require.NoError(t, err)
	assert.Equal(t, json.Delim('{'), tok)

	var keys []string
	for dec.More() {
		key, err := dec.Token()
		require.NoError(t, err)
		keys = append(keys, key.(string))

		var p txn.Prediction
		require.NoError(t, dec.Decode(&p))
		assert.True(t, p.Transaction.Equal(scenarioTransaction()))
	}
	assert.Equal(t, []string{"9", "3", "12"}, keys)

	var decoded map[string]txn.Prediction
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.True(t, decoded["9"].PredictedFraud)
	assert.False(t, decoded["3"].PredictedFraud)
}

func TestListing_Get(t *testing.T) {
	listing := Listing{{ID: 5, Prediction: txn.Prediction{PredictedFraud: true}}}

	p, ok := listing.Get(5)
	assert.True(t, ok)
	assert.True(t, p.PredictedFraud)

	_, ok = listing.Get(6)
	assert.False(t, ok)
}
