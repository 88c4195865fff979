// Package archive persists submitted concordance queries to PostgreSQL so
// users can revisit and re-run them. Records are keyed by the canonical
// operation-chain key, which makes repeated submissions of the same query
// idempotent.
package archive

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"

	apperrors "github.com/corpustools/concord/pkg/errors"
	"github.com/corpustools/concord/pkg/postgres"
	"github.com/corpustools/concord/pkg/resilience"
)

// Record is an archived query with the operation chain that produced it.
type Record struct {
	ID        string    `json:"id"`
	Corpus    string    `json:"corpus"`
	SubcHash  string    `json:"subchash,omitempty"`
	OpKeys    []string  `json:"op_keys"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"created_at"`
	LastUsed  time.Time `json:"last_used"`
	UseCount  int       `json:"use_count"`
}

// Store reads and writes archived queries in the query_archive table.
type Store struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewStore creates a Store backed by PostgreSQL.
func NewStore(db *postgres.Client) *Store {
	return &Store{
		db:     db,
		logger: slog.Default().With("component", "query-archive"),
	}
}

// Save archives a query, or bumps the use counter when the same chain was
// archived before. Writes are retried because archiving must not lose
// records to a transient database hiccup.
func (s *Store) Save(ctx context.Context, rec Record) (string, error) {
	chainKey := strings.Join(rec.OpKeys, ";")
	var id string
	err := resilience.Retry(ctx, "archive-save", resilience.RetryConfig{MaxAttempts: 3}, func() error {
		return s.db.DB.QueryRowContext(ctx,
			`INSERT INTO query_archive (corpus, subchash, chain_key, op_keys, query)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (corpus, subchash, chain_key)
			 DO UPDATE SET last_used = now(), use_count = query_archive.use_count + 1
			 RETURNING id`,
			rec.Corpus, rec.SubcHash, chainKey, pq.Array(rec.OpKeys), rec.Query,
		).Scan(&id)
	})
	if err != nil {
		return "", fmt.Errorf("archiving query: %w", err)
	}
	s.logger.Debug("query archived", "id", id, "corpus", rec.Corpus)
	return id, nil
}

// Get returns an archived query by id.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.DB.QueryRowContext(ctx,
		`SELECT id, corpus, subchash, op_keys, query, created_at, last_used, use_count
		 FROM query_archive WHERE id = $1`,
		id,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: archived query %s", apperrors.ErrConcNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading archived query: %w", err)
	}
	return rec, nil
}

// Recent lists the most recently used archived queries for a corpus. An
// empty corpus lists across all corpora.
func (s *Store) Recent(ctx context.Context, corpus string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 20
	}
	var (
		rows *sql.Rows
		err  error
	)
	if corpus == "" {
		rows, err = s.db.DB.QueryContext(ctx,
			`SELECT id, corpus, subchash, op_keys, query, created_at, last_used, use_count
			 FROM query_archive ORDER BY last_used DESC LIMIT $1`,
			limit,
		)
	} else {
		rows, err = s.db.DB.QueryContext(ctx,
			`SELECT id, corpus, subchash, op_keys, query, created_at, last_used, use_count
			 FROM query_archive WHERE corpus = $1 ORDER BY last_used DESC LIMIT $2`,
			corpus, limit,
		)
	}
	if err != nil {
		return nil, fmt.Errorf("listing archived queries: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning archive row: %w", err)
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// Delete removes an archived query.
func (s *Store) Delete(ctx context.Context, id string) error {
	result, err := s.db.DB.ExecContext(ctx, `DELETE FROM query_archive WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting archived query: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: archived query %s", apperrors.ErrConcNotFound, id)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var subchash sql.NullString
	if err := row.Scan(&rec.ID, &rec.Corpus, &subchash, pq.Array(&rec.OpKeys),
		&rec.Query, &rec.CreatedAt, &rec.LastUsed, &rec.UseCount); err != nil {
		return nil, err
	}
	rec.SubcHash = subchash.String
	return &rec, nil
}
