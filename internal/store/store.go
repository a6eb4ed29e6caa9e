package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// ErrNoTable marks queries against a table the schema builder never created.
var ErrNoTable = errors.New("store: relation does not exist")

// Relationship is one logical table-to-table relation. Left is the
// dependent (foreign key) side, Right the referenced (primary key) side;
// cardinality is one-to-many from right to left.
type Relationship struct {
	LeftTable   string
	RightTable  string
	LeftColumn  string
	RightColumn string
}

// Name is the relationship constraint name, z_<ltab>_<rtab>.
func (r Relationship) Name() string {
	return fmt.Sprintf("z_%s_%s", strings.ToLower(r.LeftTable), strings.ToLower(r.RightTable))
}

// Index is one secondary attribute index.
type Index struct {
	Table  string
	Name   string
	Column string
	Unique bool
}

func Open(url string) (*sql.DB, error) {
	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, err
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Store wraps the target schema handle. The schema itself is supplied by the
// external schema builder; the store only writes rows, relationships and
// indices into it.
type Store struct {
	db  *sql.DB
	log zerolog.Logger
}

func New(db *sql.DB, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "store").Logger()}
}

func quoteIdent(s string) string { return `"` + strings.ToLower(s) + `"` }

// ExpectTables verifies the schema builder handshake: the pre-created target
// schema must already hold at least min tables before any import proceeds.
func (s *Store) ExpectTables(ctx context.Context, min int) error {
	var n int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from information_schema.tables
		 where table_schema = current_schema() and table_type = 'BASE TABLE'`,
	).Scan(&n)
	if err != nil {
		return errors.Wrap(err, "store: counting tables")
	}
	if n < min {
		return errors.Errorf("store: target schema has only %d tables, expected at least %d", n, min)
	}
	return nil
}

// Insert appends rows to table in the given column order. Row order is
// preserved and appends accumulate across repeated calls.
func (s *Store) Insert(ctx context.Context, table string, cols []string, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf("insert into %s (%s) values (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	stmt, err := s.db.PrepareContext(ctx, q)
	if err != nil {
		return wrapTableErr(err, table, "prepare insert")
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(cols) {
			return errors.Errorf("store: %s row %d has %d values for %d columns", table, i+1, len(row), len(cols))
		}
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return wrapTableErr(err, table, fmt.Sprintf("insert row %d", i+1))
		}
	}
	return nil
}

// CreateRelationship adds the foreign key for r. An already-existing
// constraint is tolerated, same as repeated idempotent DDL.
func (s *Store) CreateRelationship(ctx context.Context, r Relationship) error {
	q := fmt.Sprintf(
		"alter table %s add constraint %s foreign key (%s) references %s(%s)",
		quoteIdent(r.LeftTable), r.Name(), quoteIdent(r.LeftColumn),
		quoteIdent(r.RightTable), quoteIdent(r.RightColumn),
	)
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42710" {
			s.log.Info().Str("constraint", pgErr.ConstraintName).Msg("relationship already exists, skipped")
			return nil
		}
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			s.log.Info().Err(err).Msg("relationship already exists, skipped")
			return nil
		}
		return wrapTableErr(err, r.LeftTable, "create relationship "+r.Name())
	}
	return nil
}

// CreateIndex builds one secondary index. Fields already part of a
// relationship are indexed implicitly by the relationship itself, so ix is
// always a plain attribute index.
func (s *Store) CreateIndex(ctx context.Context, ix Index) error {
	unique := ""
	if ix.Unique {
		unique = "unique "
	}
	q := fmt.Sprintf("create %sindex if not exists %s on %s (%s)",
		unique, quoteIdent(ix.Name), quoteIdent(ix.Table), quoteIdent(ix.Column))
	if _, err := s.db.ExecContext(ctx, q); err != nil {
		return wrapTableErr(err, ix.Table, "create index "+ix.Name)
	}
	return nil
}

// QueryRows runs query and returns every row as nullable strings. Queries
// against tables the schema builder did not create return ErrNoTable.
func (s *Store) QueryRows(ctx context.Context, query string, args ...any) ([][]sql.NullString, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil, errors.Wrap(ErrNoTable, pgErr.Message)
		}
		return nil, errors.Wrap(err, "store: query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "store: query columns")
	}
	var out [][]sql.NullString
	for rows.Next() {
		row := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "store: scan")
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Exec runs one statement and returns the affected row count.
func (s *Store) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, errors.Wrap(err, "store: exec")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// ServerVersion reports the target database version for the provenance table.
func (s *Store) ServerVersion(ctx context.Context) (string, error) {
	var v string
	if err := s.db.QueryRowContext(ctx, "show server_version").Scan(&v); err != nil {
		return "", errors.Wrap(err, "store: server version")
	}
	return v, nil
}

func wrapTableErr(err error, table, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errors.Wrapf(err, "store: %s: %s (%s %s)", table, op, pgErr.Code, strings.TrimSpace(pgErr.Message))
	}
	return errors.Wrapf(err, "store: %s: %s", table, op)
}
