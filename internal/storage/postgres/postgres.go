package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/FranksOps/keyhound/internal/storage"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ensure postgresBackend implements storage.Backend
var _ storage.Backend = (*postgresBackend)(nil)

type postgresBackend struct {
	pool *pgxpool.Pool
}

const schema = `
CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	source TEXT NOT NULL,
	container TEXT NOT NULL,
	path TEXT NOT NULL DEFAULT '',
	html_url TEXT NOT NULL DEFAULT '',
	language TEXT NOT NULL,
	top_languages JSONB NOT NULL,
	new_container BOOLEAN NOT NULL,
	page INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_container ON findings (container);
CREATE INDEX IF NOT EXISTS idx_findings_created_at ON findings (created_at);
`

// New creates a new Postgres-backed storage.Backend.
func New(ctx context.Context, dsn string) (storage.Backend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: schema: %w", err)
	}

	return &postgresBackend{pool: pool}, nil
}

func (b *postgresBackend) Save(ctx context.Context, f *storage.Finding) error {
	topJSON, err := json.Marshal(f.TopLanguages)
	if err != nil {
		return fmt.Errorf("postgres: marshal top languages: %w", err)
	}

	query := `
	INSERT INTO findings (
		id, value, source, container, path, html_url, language, top_languages, new_container, page, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = b.pool.Exec(ctx, query,
		f.ID,
		f.Value,
		f.Source,
		f.Container,
		f.Path,
		f.HTMLURL,
		f.Language,
		topJSON,
		f.NewContainer,
		f.Page,
		f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert %s: %w", f.ID, err)
	}

	return nil
}

func (b *postgresBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Finding, error) {
	query := `SELECT id, value, source, container, path, html_url, language, top_languages, new_container, page, created_at FROM findings WHERE 1=1`
	args := []any{}
	paramCount := 1

	if filter.Container != "" {
		query += fmt.Sprintf(` AND container = $%d`, paramCount)
		args = append(args, filter.Container)
		paramCount++
	}
	if filter.Language != "" {
		query += fmt.Sprintf(` AND language = $%d`, paramCount)
		args = append(args, filter.Language)
		paramCount++
	}
	if filter.NewContainer != nil {
		query += fmt.Sprintf(` AND new_container = $%d`, paramCount)
		args = append(args, *filter.NewContainer)
		paramCount++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(` AND created_at >= $%d`, paramCount)
		args = append(args, *filter.Since)
		paramCount++
	}

	query += ` ORDER BY created_at DESC`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, paramCount)
		args = append(args, filter.Limit)
		paramCount++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, paramCount)
		args = append(args, filter.Offset)
	}

	rows, err := b.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query: %w", err)
	}
	defer rows.Close()

	var results []*storage.Finding
	for rows.Next() {
		var f storage.Finding
		var topJSON []byte

		err := rows.Scan(
			&f.ID, &f.Value, &f.Source, &f.Container, &f.Path, &f.HTMLURL,
			&f.Language, &topJSON, &f.NewContainer, &f.Page, &f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan: %w", err)
		}

		if err := json.Unmarshal(topJSON, &f.TopLanguages); err != nil {
			return nil, fmt.Errorf("postgres: decode top languages of %s: %w", f.ID, err)
		}

		results = append(results, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: rows: %w", err)
	}

	return results, nil
}

func (b *postgresBackend) Close() error {
	b.pool.Close()
	return nil
}
