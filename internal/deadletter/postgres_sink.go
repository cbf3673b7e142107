package deadletter

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrations embed.FS

const pgUniqueViolation = "23505"

// DBTX is satisfied by *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// OpenPostgres opens a pgx-backed pool and checks connectivity.
func OpenPostgres(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded archive schema.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// PostgresSink archives records in the dead_letters table.
type PostgresSink struct {
	db DBTX
}

func NewPostgresSink(db DBTX) *PostgresSink {
	return &PostgresSink{db: db}
}

const insertDeadLetter = `
INSERT INTO dead_letters (queue, job_id, attempts, latency_ms, error, code, failed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (s *PostgresSink) Publish(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx, insertDeadLetter,
		rec.Queue, rec.JobID, rec.Attempts, rec.LatencyMS, rec.Error, rec.Code, rec.Timestamp)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil
		}
		return fmt.Errorf("insert dead letter: %w", err)
	}
	return nil
}

const selectRecent = `
SELECT queue, job_id, attempts, latency_ms, error, code, failed_at
FROM dead_letters
ORDER BY failed_at DESC
LIMIT $1`

// Recent returns the newest archived records.
func (s *PostgresSink) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query dead letters: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Queue, &rec.JobID, &rec.Attempts, &rec.LatencyMS, &rec.Error, &rec.Code, &rec.Timestamp); err != nil {
			return nil, fmt.Errorf("scan dead letter: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
