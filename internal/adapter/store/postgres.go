package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/pressly/goose/v3"

	"github.com/arturoeanton/sakenny/internal/domain"
	"github.com/arturoeanton/sakenny/internal/port"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS
var gooseMu sync.Mutex

// PostgresStore persists properties and their pgvector embeddings.
type PostgresStore struct {
	db        *sql.DB
	dimension int
}

// NewPostgresStore opens a connection and returns a store instance.
func NewPostgresStore(databaseURL string, dimension int) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(context.Background()); err != nil {
		db.Close()
		return nil, port.Unavailable("postgres", fmt.Errorf("ping database: %w", err))
	}

	return &PostgresStore{db: db, dimension: dimension}, nil
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Dimension returns the configured vector dimension.
func (s *PostgresStore) Dimension() int {
	return s.dimension
}

// Migrate applies the embedded goose migrations.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()
	goose.SetBaseFS(migrationsFS)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// EnsureEmbeddingSpace records the active model and dimension. A dimension
// that differs from the recorded one, or from vectors already stored, is a
// configuration error. A model switch is recorded; vectors of the previous
// model stay unsearchable until reindexed.
func (s *PostgresStore) EnsureEmbeddingSpace(ctx context.Context, model string, dimension int) (err error) {
	if dimension != s.dimension {
		return port.Configuration("store dimension %d does not match embedder dimension %d", s.dimension, dimension)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify("begin tx", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = classify("commit embedding space", cerr)
		}
	}()

	var (
		storedModel string
		storedDim   int
	)
	err = tx.QueryRowContext(ctx,
		`SELECT model, dimension FROM embedding_space WHERE singleton FOR UPDATE`,
	).Scan(&storedModel, &storedDim)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		var conflicting int
		if err = tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM properties WHERE embedding IS NOT NULL AND vector_dims(embedding) <> $1`,
			dimension,
		).Scan(&conflicting); err != nil {
			return classify("count conflicting vectors", err)
		}
		if conflicting > 0 {
			return port.Configuration("%d stored vectors do not have dimension %d", conflicting, dimension)
		}
		if _, err = tx.ExecContext(ctx,
			`INSERT INTO embedding_space (model, dimension) VALUES ($1, $2)`, model, dimension,
		); err != nil {
			return classify("record embedding space", err)
		}
		slog.Info("embedding space recorded", "model", model, "dimension", dimension)
		return nil
	case err != nil:
		return classify("read embedding space", err)
	}

	if storedDim != dimension {
		return port.Configuration("store holds %d-dimension vectors (model %s), embedder produces %d", storedDim, storedModel, dimension)
	}
	if storedModel != model {
		if _, err = tx.ExecContext(ctx,
			`UPDATE embedding_space SET model = $1, updated_at = NOW() WHERE singleton`, model,
		); err != nil {
			return classify("update embedding space", err)
		}
		slog.Warn("embedding model changed, existing vectors need a reindex",
			"previous_model", storedModel,
			"model", model,
		)
	}
	return nil
}

// Create inserts a property with its embedding in a single statement.
func (s *PostgresStore) Create(ctx context.Context, p *domain.Property) (*domain.Property, error) {
	if err := checkVector(p.Embedding, s.dimension); err != nil {
		return nil, err
	}
	query, args, err := buildInsert(p)
	if err != nil {
		return nil, fmt.Errorf("build insert: %w", err)
	}
	out, err := scanProperty(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return nil, classify("create property", err)
	}
	return out, nil
}

// Update replaces attributes and embedding in a single statement.
func (s *PostgresStore) Update(ctx context.Context, p *domain.Property) (*domain.Property, error) {
	if err := checkVector(p.Embedding, s.dimension); err != nil {
		return nil, err
	}
	query, args, err := buildUpdate(p)
	if err != nil {
		return nil, fmt.Errorf("build update: %w", err)
	}
	out, err := scanProperty(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.NotFound("property %d not found", p.ID)
	}
	if err != nil {
		return nil, classify("update property", err)
	}
	return out, nil
}

// Delete removes a property row, which holds its vector.
func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	query, args, err := buildDelete(id)
	if err != nil {
		return fmt.Errorf("build delete: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return classify("delete property", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return classify("delete property", err)
	}
	if n == 0 {
		return port.NotFound("property %d not found", id)
	}
	return nil
}

// Get returns a property by ID.
func (s *PostgresStore) Get(ctx context.Context, id int64) (*domain.Property, error) {
	query, args, err := buildGet(id)
	if err != nil {
		return nil, fmt.Errorf("build get: %w", err)
	}
	out, err := scanProperty(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, port.NotFound("property %d not found", id)
	}
	if err != nil {
		return nil, classify("get property", err)
	}
	return out, nil
}

// List returns properties matching filter ordered by ID.
func (s *PostgresStore) List(ctx context.Context, filter domain.PropertyFilter, page domain.Page) ([]domain.Property, error) {
	query, args, err := buildList(filter, page)
	if err != nil {
		return nil, fmt.Errorf("build list: %w", err)
	}
	return s.queryProperties(ctx, "list properties", query, args)
}

// ListUnembedded returns properties after afterID without a vector for model.
func (s *PostgresStore) ListUnembedded(ctx context.Context, model string, afterID int64, limit int) ([]domain.Property, error) {
	query, args, err := buildListUnembedded(model, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("build list unembedded: %w", err)
	}
	return s.queryProperties(ctx, "list unembedded", query, args)
}

// Nearest performs a cosine k-NN search over searchable rows.
func (s *PostgresStore) Nearest(ctx context.Context, q domain.NearestQuery) ([]domain.Neighbor, error) {
	if q.K <= 0 {
		return []domain.Neighbor{}, nil
	}
	if err := checkQueryVector(q.Vector, s.dimension); err != nil {
		return nil, err
	}
	query, args, err := buildNearest(q)
	if err != nil {
		return nil, fmt.Errorf("build nearest: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify("search nearest", err)
	}
	defer rows.Close()

	results := make([]domain.Neighbor, 0, q.K)
	for rows.Next() {
		var n domain.Neighbor
		p, err := scanProperty(rows, &n.Distance)
		if err != nil {
			return nil, classify("scan neighbor", err)
		}
		n.Property = *p
		results = append(results, n)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("search nearest", err)
	}
	return results, nil
}

// SetEmbedding writes the vector only while the row still lacks an embedding
// for model, so a concurrent Update is never overwritten with a stale vector.
func (s *PostgresStore) SetEmbedding(ctx context.Context, id int64, vector []float32, model string) (bool, error) {
	if err := checkVector(vector, s.dimension); err != nil {
		return false, err
	}
	query, args, err := buildSetEmbedding(id, vector, model)
	if err != nil {
		return false, fmt.Errorf("build set embedding: %w", err)
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, classify("set embedding", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, classify("set embedding", err)
	}
	if n > 0 {
		return true, nil
	}
	// Nothing matched: either the row is gone or it is already embedded.
	if _, err := s.Get(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (s *PostgresStore) queryProperties(ctx context.Context, op, query string, args []any) ([]domain.Property, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(op, err)
	}
	defer rows.Close()

	out := []domain.Property{}
	for rows.Next() {
		p, err := scanProperty(rows)
		if err != nil {
			return nil, classify(op, err)
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(op, err)
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanProperty scans propertyColumns followed by any extra destinations.
func scanProperty(row rowScanner, extra ...any) (*domain.Property, error) {
	var (
		p      domain.Property
		vector *pgvector.Vector
		model  sql.NullString
	)
	dest := []any{
		&p.ID, &p.Title, &p.Description, &p.Price, &p.Location,
		&p.Bedrooms, &p.Bathrooms, &p.Area, &p.PropertyType,
		&p.CreatedAt, &vector, &model,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		return nil, err
	}
	if vector != nil {
		p.Embedding = vector.Slice()
		p.EmbeddingModel = model.String
	}
	return &p, nil
}

// classify maps driver failures onto the port error kinds.
func classify(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "08", "57": // connection exception, operator intervention
			return port.Unavailable("postgres", fmt.Errorf("%s: %w", op, err))
		case "22", "23": // data exception, integrity constraint violation
			return &port.Error{Kind: port.KindValidation, Reason: pqErr.Message, Err: fmt.Errorf("%s: %w", op, err)}
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.As(err, &netErr) {
		return port.Unavailable("postgres", fmt.Errorf("%s: %w", op, err))
	}
	return fmt.Errorf("%s: %w", op, err)
}
