package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/ncruces/go-sqlite3"

	"github.com/slhuckstead/accountmap/internal/models"
)

const mappingColumns = `id, source, source_identifier, source_description, financial_edge_account, created_at, updated_at`

// SQLMappingRepository stores mappings in PostgreSQL or SQLite. Uniqueness and
// existence are decided by the database inside the statement that mutates.
type SQLMappingRepository struct {
	db *sql.DB
}

func NewSQLMappingRepository(db *sql.DB) *SQLMappingRepository {
	return &SQLMappingRepository{db: db}
}

func (r *SQLMappingRepository) Insert(ctx context.Context, m *models.AccountMapping) error {
	query := `
		INSERT INTO account_mappings (` + mappingColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := r.db.ExecContext(ctx, query,
		m.ID,
		string(m.Source),
		m.SourceIdentifier,
		m.SourceDescription,
		m.FinancialEdgeAccount,
		m.CreatedAt.UTC(),
		m.UpdatedAt.UTC(),
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	return err
}

func (r *SQLMappingRepository) FindByID(ctx context.Context, id string) (*models.AccountMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM account_mappings WHERE id = $1`

	m, err := scanMapping(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *SQLMappingRepository) FindByKey(ctx context.Context, source models.Source, identifier string) (*models.AccountMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM account_mappings
		WHERE source = $1 AND source_identifier = $2
	`

	m, err := scanMapping(r.db.QueryRowContext(ctx, query, string(source), identifier))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *SQLMappingRepository) List(ctx context.Context, filter models.MappingFilter) ([]*models.AccountMapping, error) {
	var mappings []*models.AccountMapping
	err := r.Iterate(ctx, filter, func(m *models.AccountMapping) error {
		mappings = append(mappings, m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return mappings, nil
}

func (r *SQLMappingRepository) Count(ctx context.Context, filter models.MappingFilter) (int, error) {
	where, args := filterClause(filter)
	query := `SELECT COUNT(*) FROM account_mappings ` + where

	var n int
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *SQLMappingRepository) Update(ctx context.Context, m *models.AccountMapping) (*models.AccountMapping, error) {
	query := `
		UPDATE account_mappings SET
			source = $1,
			source_identifier = $2,
			source_description = $3,
			financial_edge_account = $4,
			updated_at = $5
		WHERE id = $6
		RETURNING ` + mappingColumns

	row, err := scanMapping(r.db.QueryRowContext(ctx, query,
		string(m.Source),
		m.SourceIdentifier,
		m.SourceDescription,
		m.FinancialEdgeAccount,
		m.UpdatedAt.UTC(),
		m.ID,
	))
	switch {
	case err == sql.ErrNoRows:
		return nil, ErrNotFound
	case isUniqueViolation(err):
		return nil, ErrDuplicate
	case err != nil:
		return nil, err
	}
	return row, nil
}

// DeleteByID is a single conditional remove: of N concurrent callers for the
// same id exactly one gets a row back.
func (r *SQLMappingRepository) DeleteByID(ctx context.Context, id string) (*models.AccountMapping, error) {
	query := `DELETE FROM account_mappings WHERE id = $1 RETURNING ` + mappingColumns

	m, err := scanMapping(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return m, err
}

func (r *SQLMappingRepository) Iterate(ctx context.Context, filter models.MappingFilter, fn func(*models.AccountMapping) error) error {
	where, args := filterClause(filter)
	query := `SELECT ` + mappingColumns + ` FROM account_mappings ` + where +
		` ORDER BY source, source_identifier, id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		if filter.Limit <= 0 {
			// SQLite rejects OFFSET without LIMIT.
			args = append(args, int64(1<<62))
			query += fmt.Sprintf(" LIMIT $%d", len(args))
		}
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := scanMapping(rows)
		if err != nil {
			return err
		}
		if err := fn(m); err != nil {
			return err
		}
	}
	// An interrupted cursor reports the driver's error, not the context's.
	if err := ctx.Err(); err != nil {
		return err
	}
	return rows.Err()
}

func (r *SQLMappingRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// filterClause builds a WHERE clause whose placeholders appear in numeric
// order, which both drivers bind positionally.
func filterClause(filter models.MappingFilter) (string, []any) {
	pattern := ""
	if filter.Search != "" {
		pattern = escapeLike(filter.Search) + "%"
	}
	where := `WHERE ($1 = '' OR source = $1) AND ($2 = '' OR source_identifier LIKE $3 ESCAPE '\')`
	return where, []any{string(filter.Source), filter.Search, pattern}
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMapping(row rowScanner) (*models.AccountMapping, error) {
	m := &models.AccountMapping{}
	var source string
	var createdAt, updatedAt timestamp

	err := row.Scan(
		&m.ID,
		&source,
		&m.SourceIdentifier,
		&m.SourceDescription,
		&m.FinancialEdgeAccount,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}

	m.Source = models.Source(source)
	m.CreatedAt = createdAt.Time
	m.UpdatedAt = updatedAt.Time
	return m, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY)
}

// timestamp scans the time representations of both drivers.
type timestamp struct {
	time.Time
}

var sqliteTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *timestamp) Scan(src any) error {
	switch v := src.(type) {
	case time.Time:
		t.Time = v.UTC()
		return nil
	case []byte:
		return t.parse(string(v))
	case string:
		return t.parse(v)
	case int64:
		t.Time = time.Unix(v, 0).UTC()
		return nil
	case nil:
		t.Time = time.Time{}
		return nil
	}
	return fmt.Errorf("unsupported timestamp type %T", src)
}

func (t *timestamp) parse(s string) error {
	for _, layout := range sqliteTimeLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}
	return fmt.Errorf("unparseable timestamp %q", s)
}
