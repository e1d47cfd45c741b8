package corpus

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/hyperjump/mitsuke/internal/models"
)

const undefinedTable = "42P01"

// PostgresLoader reads a corpus from a Postgres table, typically a pgvector
// column. Vectors are read through their text form ("[0.1,0.2,...]"), so
// plain float arrays work too. Rows are ordered by id.
type PostgresLoader struct {
	pool         *pgxpool.Pool
	table        pgx.Identifier
	idColumn     string
	vectorColumn string
	logger       *zap.Logger
}

// PostgresOptions names the table and columns holding the corpus.
type PostgresOptions struct {
	Table        string
	IDColumn     string
	VectorColumn string
}

// NewPostgresLoader connects to dbURL. SQLAlchemy-style "postgresql+psycopg:"
// URLs are accepted.
func NewPostgresLoader(ctx context.Context, dbURL string, opts PostgresOptions, logger *zap.Logger) (*PostgresLoader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if rest, ok := strings.CutPrefix(dbURL, "postgresql+psycopg:"); ok {
		dbURL = "postgres:" + rest
	}
	if opts.Table == "" || opts.IDColumn == "" || opts.VectorColumn == "" {
		return nil, fmt.Errorf("postgres corpus: table, id column and vector column are required")
	}
	config, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("postgres corpus: invalid url: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("postgres corpus: failed to connect: %w", err)
	}
	return &PostgresLoader{
		pool:         pool,
		table:        pgx.Identifier(strings.Split(opts.Table, ".")),
		idColumn:     opts.IDColumn,
		vectorColumn: opts.VectorColumn,
		logger:       logger,
	}, nil
}

// Source implements Loader.
func (l *PostgresLoader) Source() string { return "postgres:" + l.table.Sanitize() }

func (l *PostgresLoader) query() string {
	id := pgx.Identifier{l.idColumn}.Sanitize()
	vec := pgx.Identifier{l.vectorColumn}.Sanitize()
	// Qualified with the alias so ORDER BY sees the source column, not the
	// ::text output column of the same name.
	return fmt.Sprintf(
		"SELECT t.%s::text, t.%s::text FROM %s AS t WHERE t.%s IS NOT NULL ORDER BY t.%s",
		id, vec, l.table.Sanitize(), vec, id,
	)
}

// Load implements Loader. A missing table is reported as ErrCorpusAbsent.
func (l *PostgresLoader) Load(ctx context.Context) ([]models.CorpusEntry, error) {
	rows, err := l.pool.Query(ctx, l.query())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == undefinedTable {
			return nil, fmt.Errorf("%w: %s", ErrCorpusAbsent, l.table.Sanitize())
		}
		return nil, fmt.Errorf("postgres corpus: query failed: %w", err)
	}
	defer rows.Close()

	var (
		entries []models.CorpusEntry
		skipped int
	)
	for rows.Next() {
		var id, text string
		if err := rows.Scan(&id, &text); err != nil {
			return nil, fmt.Errorf("postgres corpus: scan failed: %w", err)
		}
		entry, err := parseVectorText(id, text)
		if err != nil {
			skipped++
			l.logger.Debug("skipping corpus row", zap.String("id", id), zap.Error(err))
			continue
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres corpus: %w", err)
	}
	if skipped > 0 {
		l.logger.Warn("corpus rows skipped at load", zap.Int("skipped", skipped), zap.Int("loaded", len(entries)))
	}
	return entries, nil
}

// parseVectorText parses pgvector's "[1,2,3]" or a Postgres array "{1,2,3}".
func parseVectorText(id, text string) (models.CorpusEntry, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "{") {
		text = strings.NewReplacer("{", "[", "}", "]").Replace(text)
	}
	if !gjson.Valid(text) {
		return models.CorpusEntry{}, fmt.Errorf("unparseable vector text")
	}
	values, shape, err := flatten(gjson.Parse(text))
	if err != nil {
		return models.CorpusEntry{}, err
	}
	entry := models.CorpusEntry{ID: id, Vector: values}
	if len(shape) > 1 {
		entry.Shape = shape
	}
	return entry, nil
}

// Close releases the connection pool.
func (l *PostgresLoader) Close() {
	l.pool.Close()
}
