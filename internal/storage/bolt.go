package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"fraud-serving/internal/txn"

	"go.etcd.io/bbolt"
)

const predictionsBucket = "predicted_transactions"

// BoltStore keeps predictions in a single BoltDB file. Keys are the
// big-endian record id taken from the bucket sequence; values are JSON.
type BoltStore struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewBolt opens (or creates) predictions.db under dataPath.
func NewBolt(dataPath string) (*BoltStore, error) {
	dbPath := filepath.Join(dataPath, "predictions.db")

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, unavailable("open database", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(predictionsBucket)); err != nil {
			return fmt.Errorf("create predictions bucket: %w", err)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, unavailable("init database", err)
	}

	return &BoltStore{db: db, now: time.Now}, nil
}

// Close closes the database file.
func (s *BoltStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Add implements Store. Id and timestamp are assigned inside the write
// transaction, so concurrent inserts are serialised by BoltDB.
func (s *BoltStore) Add(ctx context.Context, tx txn.Transaction, isFraud bool) (txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return txn.Record{}, unavailable("insert prediction", err)
	}

	var rec txn.Record
	err := s.db.Update(func(btx *bbolt.Tx) error {
		b := btx.Bucket([]byte(predictionsBucket))

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next id: %w", err)
		}

		rec = txn.Record{
			Transaction: tx,
			ID:          int64(seq),
			IsFraud:     isFraud,
			PredictedAt: s.now().UTC(),
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		return b.Put(idKey(seq), data)
	})
	if err != nil {
		return txn.Record{}, unavailable("insert prediction", err)
	}
	return rec, nil
}

// ListAll implements Store.
func (s *BoltStore) ListAll(ctx context.Context) ([]txn.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, unavailable("list predictions", err)
	}

	records := make([]txn.Record, 0)
	err := s.db.View(func(btx *bbolt.Tx) error {
		b := btx.Bucket([]byte(predictionsBucket))
		return b.ForEach(func(k, v []byte) error {
			var rec txn.Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			records = append(records, rec)
			return nil
		})
	})
	if err != nil {
		return nil, unavailable("list predictions", err)
	}

	sortNewestFirst(records)
	return records, nil
}

func idKey(id uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, id)
	return k
}
