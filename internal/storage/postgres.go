package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"fraud-serving/internal/txn"

	"github.com/golang-migrate/migrate/v4"
	migratepgx "github.com/golang-migrate/migrate/v4/database/pgx"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/jackc/pgx/v4/stdlib" // registers the "pgx" database/sql driver
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const insertPrediction = `
	INSERT INTO predicted_transactions (
		time_ind, transac_type, amount,
		src_acc, src_bal, src_new_bal,
		dst_acc, dst_bal, dst_new_bal,
		is_fraud
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	RETURNING id, predicted_at
`

const selectPredictions = `
	SELECT id, time_ind, transac_type, amount,
	       src_acc, src_bal, src_new_bal,
	       dst_acc, dst_bal, dst_new_bal,
	       is_fraud, predicted_at
	FROM predicted_transactions
	ORDER BY predicted_at DESC, id DESC
`

// PostgresStore keeps predictions in the predicted_transactions table.
// Id and timestamp come from the column defaults (BIGSERIAL, NOW()).
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgres connects to the database at dsn.
func NewPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, unavailable("connect", err)
	}

	log.Info().Msg("Connected to PostgreSQL")
	return &PostgresStore{db: db}, nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Add implements Store.
func (s *PostgresStore) Add(ctx context.Context, tx txn.Transaction, isFraud bool) (txn.Record, error) {
	rec := txn.Record{Transaction: tx, IsFraud: isFraud}

	err := s.db.QueryRowxContext(ctx, insertPrediction,
		tx.TimeIndex, tx.Type, tx.Amount,
		tx.SourceAccount, tx.SourceBalanceBefore, tx.SourceBalanceAfter,
		tx.DestinationAccount, tx.DestinationBalanceBefore, tx.DestinationBalanceAfter,
		isFraud,
	).Scan(&rec.ID, &rec.PredictedAt)
	if err != nil {
		return txn.Record{}, unavailable("insert prediction", err)
	}

	rec.PredictedAt = rec.PredictedAt.UTC()
	return rec, nil
}

// ListAll implements Store.
func (s *PostgresStore) ListAll(ctx context.Context) ([]txn.Record, error) {
	records := make([]txn.Record, 0)
	if err := s.db.SelectContext(ctx, &records, selectPredictions); err != nil {
		return nil, unavailable("list predictions", err)
	}

	for i := range records {
		records[i].PredictedAt = records[i].PredictedAt.UTC()
	}
	return records, nil
}

// Migrate applies the embedded schema migrations to the database at dsn.
func Migrate(dsn string) error {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return unavailable("open migration connection", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		db.Close()
		return fmt.Errorf("load migrations: %w", err)
	}

	driver, err := migratepgx.WithInstance(db, &migratepgx.Config{})
	if err != nil {
		db.Close()
		return unavailable("migration driver", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "pgx", driver)
	if err != nil {
		db.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return unavailable("apply migrations", err)
	}

	version, dirty, _ := m.Version()
	log.Info().Uint("version", version).Bool("dirty", dirty).Msg("Database migrations applied")
	return nil
}
