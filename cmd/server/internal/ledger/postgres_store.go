package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const (
	createJobsTable = `
		CREATE TABLE IF NOT EXISTS wpmnorm_jobs (
			id         TEXT PRIMARY KEY,
			fields     JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`
	insertJob = `
		INSERT INTO wpmnorm_jobs (id, fields, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (id) DO NOTHING
	`
	selectJob          = `SELECT fields FROM wpmnorm_jobs WHERE id = $1`
	selectJobForUpdate = `SELECT fields FROM wpmnorm_jobs WHERE id = $1 FOR UPDATE`
	updateJob          = `UPDATE wpmnorm_jobs SET fields = $2, updated_at = $3 WHERE id = $1`
	selectJobIDs       = `SELECT id FROM wpmnorm_jobs ORDER BY id`
)

// PostgresStore keeps each job as one JSONB row. Updates lock the row inside a
// transaction, so concurrent writers to the same job are serialized by Postgres.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgresStore connects with lib/pq and creates the table if missing.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	connector, err := pq.NewConnector(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse ledger dsn: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect ledger database: %w", err)
	}
	store := NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the jobs table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createJobsTable); err != nil {
		return fmt.Errorf("create jobs table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, id string, fields Fields) error {
	if err := ValidateJobID(id); err != nil {
		return err
	}
	rec := Fields{}
	rec.apply(fields)
	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	res, err := s.db.ExecContext(ctx, insertJob, id, doc, time.Now())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if n == 0 {
		return ErrJobExists
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Fields, error) {
	return scanFields(s.db.QueryRowContext(ctx, selectJob, id))
}

func (s *PostgresStore) Set(ctx context.Context, id string, patch Fields) error {
	return s.Update(ctx, id, func(Fields) (Fields, error) { return patch, nil })
}

func (s *PostgresStore) Update(ctx context.Context, id string, fn UpdateFunc) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ledger tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rec, err := scanFields(tx.QueryRowContext(ctx, selectJobForUpdate, id))
	if err != nil {
		return err
	}
	patch, err := fn(rec.Clone())
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return tx.Commit()
	}
	rec.apply(patch)

	doc, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal job record: %w", err)
	}
	if _, err = tx.ExecContext(ctx, updateJob, id, doc, time.Now()); err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit ledger tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, selectJobIDs)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan job id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func scanFields(row *sql.Row) (Fields, error) {
	var doc []byte
	if err := row.Scan(&doc); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("select job: %w", err)
	}
	rec := Fields{}
	if err := json.Unmarshal(doc, &rec); err != nil {
		return nil, fmt.Errorf("decode job record: %w", err)
	}
	return rec, nil
}
