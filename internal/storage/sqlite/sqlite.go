package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/FranksOps/keyhound/internal/storage"
	_ "modernc.org/sqlite"
)

// ensure sqliteBackend implements storage.Backend
var _ storage.Backend = (*sqliteBackend)(nil)

type sqliteBackend struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS findings (
	id TEXT PRIMARY KEY,
	value TEXT NOT NULL,
	source TEXT NOT NULL,
	container TEXT NOT NULL,
	path TEXT,
	html_url TEXT,
	language TEXT NOT NULL,
	top_languages TEXT NOT NULL,
	new_container BOOLEAN NOT NULL,
	page INTEGER NOT NULL,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_findings_container ON findings (container);
CREATE INDEX IF NOT EXISTS idx_findings_created_at ON findings (created_at);
`

// New creates a new SQLite-backed storage.Backend.
func New(dsn string) (storage.Backend, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// database/sql would otherwise hand concurrent savers separate
	// connections, which for an in-memory DSN means separate databases.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: schema: %w", err)
	}

	return &sqliteBackend{db: db}, nil
}

func (b *sqliteBackend) Save(ctx context.Context, f *storage.Finding) error {
	topJSON, err := json.Marshal(f.TopLanguages)
	if err != nil {
		return fmt.Errorf("sqlite: marshal top languages: %w", err)
	}

	query := `
	INSERT INTO findings (
		id, value, source, container, path, html_url, language, top_languages, new_container, page, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = b.db.ExecContext(ctx, query,
		f.ID,
		f.Value,
		f.Source,
		f.Container,
		f.Path,
		f.HTMLURL,
		f.Language,
		string(topJSON),
		f.NewContainer,
		f.Page,
		f.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: insert %s: %w", f.ID, err)
	}

	return nil
}

func (b *sqliteBackend) Query(ctx context.Context, filter storage.Filter) ([]*storage.Finding, error) {
	query := `SELECT id, value, source, container, path, html_url, language, top_languages, new_container, page, created_at FROM findings WHERE 1=1`
	args := []any{}

	if filter.Container != "" {
		query += ` AND container = ?`
		args = append(args, filter.Container)
	}
	if filter.Language != "" {
		query += ` AND language = ?`
		args = append(args, filter.Language)
	}
	if filter.NewContainer != nil {
		query += ` AND new_container = ?`
		args = append(args, *filter.NewContainer)
	}
	if filter.Since != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filter.Since)
	}

	query += ` ORDER BY created_at DESC, rowid DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET
		query += ` LIMIT -1`
	}
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query: %w", err)
	}
	defer rows.Close()

	var results []*storage.Finding
	for rows.Next() {
		var f storage.Finding
		var topJSON string
		var path, htmlURL sql.NullString

		err := rows.Scan(
			&f.ID, &f.Value, &f.Source, &f.Container, &path, &htmlURL,
			&f.Language, &topJSON, &f.NewContainer, &f.Page, &f.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scan: %w", err)
		}

		f.Path = path.String
		f.HTMLURL = htmlURL.String
		if err := json.Unmarshal([]byte(topJSON), &f.TopLanguages); err != nil {
			return nil, fmt.Errorf("sqlite: decode top languages of %s: %w", f.ID, err)
		}

		results = append(results, &f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: rows: %w", err)
	}

	return results, nil
}

func (b *sqliteBackend) Close() error {
	return b.db.Close()
}
