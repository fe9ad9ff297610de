package store

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/victormasson21/voice-agent/internal/record"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Postgres stores session records in PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn.
func Open(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store open: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Migrate applies pending schema migrations.
func (p *Postgres) Migrate(ctx context.Context) error {
	migrations, err := fs.Sub(migrationFS, "migrations")
	if err != nil {
		return fmt.Errorf("migrations fs: %w", err)
	}
	db := stdlib.OpenDBFromPool(p.pool)
	defer db.Close()

	provider, err := goose.NewProvider(goose.DialectPostgres, db, migrations)
	if err != nil {
		return fmt.Errorf("migration provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("store migrate: %w", err)
	}
	for _, r := range results {
		slog.Info("migration applied", "source", r.Source.Path, "duration", r.Duration)
	}
	return nil
}

func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Append(ctx context.Context, userID string, durationSeconds int, rec record.Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO session_records (id, user_id, kind, duration_seconds, record) VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), userID, rec.Kind(), durationSeconds, body,
	)
	if err != nil {
		return fmt.Errorf("insert session record: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records for userID, newest first.
func (p *Postgres) ListRecent(ctx context.Context, userID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := p.pool.Query(ctx,
		`SELECT id::text, user_id, kind, duration_seconds, record, created_at
		 FROM session_records WHERE user_id = $1
		 ORDER BY created_at DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query session records: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var body []byte
		if err := rows.Scan(&e.ID, &e.UserID, &e.Kind, &e.DurationSeconds, &body, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan session record: %w", err)
		}
		rec, err := record.Decode(e.Kind, body)
		if err != nil {
			return nil, err
		}
		e.Record = rec
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
