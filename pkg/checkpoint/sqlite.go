package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/doug-martin/goqu/v9"
	// NOTE: registers the sqlite3 dialect used by goqu.New below.
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "github.com/glebarez/go-sqlite"
)

const checkpointsTableVersion = "1"
const checkpointsTableName = "checkpoints"
const checkpointsTableSchema = `
CREATE TABLE IF NOT EXISTS %s (
	id integer primary key,
	target_table TEXT NOT NULL,
	field TEXT NOT NULL,
	value TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
create unique index if not exists %s on %s (target_table, field);`

var checkpoints = (*checkpointsTable)(nil)

type checkpointsTable struct{}

func (r *checkpointsTable) Name() string {
	return fmt.Sprintf("v%s_%s", r.Version(), checkpointsTableName)
}

func (r *checkpointsTable) Version() string {
	return checkpointsTableVersion
}

func (r *checkpointsTable) Schema() (string, []interface{}) {
	return checkpointsTableSchema, []interface{}{
		r.Name(),
		fmt.Sprintf("idx_checkpoints_table_field_v%s", r.Version()),
		r.Name(),
	}
}

type pragma struct {
	name  string
	value string
}

// SQLiteStore keeps every checkpoint in one embedded database file.
type SQLiteStore struct {
	rawDB   *sql.DB
	db      *goqu.Database
	pragmas []pragma
	now     func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

type SQLiteOption func(*SQLiteStore)

func WithPragma(name string, value string) SQLiteOption {
	return func(s *SQLiteStore) {
		s.pragmas = append(s.pragmas, pragma{name, value})
	}
}

func NewSQLiteStore(ctx context.Context, dbFilePath string, opts ...SQLiteOption) (*SQLiteStore, error) {
	rawDB, err := sql.Open("sqlite", dbFilePath)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: opening %s: %w", dbFilePath, err)
	}

	s := &SQLiteStore{
		rawDB: rawDB,
		db:    goqu.New("sqlite3", rawDB),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := s.init(ctx); err != nil {
		_ = rawDB.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) init(ctx context.Context) error {
	query, args := checkpoints.Schema()
	if _, err := s.db.ExecContext(ctx, fmt.Sprintf(query, args...)); err != nil {
		return fmt.Errorf("checkpoint: creating table: %w", err)
	}

	for _, p := range s.pragmas {
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			return fmt.Errorf("checkpoint: setting pragma %s: %w", p.name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, scope Scope) (string, bool, error) {
	if err := scope.validate(); err != nil {
		return "", false, err
	}

	q := s.db.From(checkpoints.Name()).Prepared(true)
	q = q.Select("value")
	q = q.Where(goqu.C("target_table").Eq(scope.Table))
	q = q.Where(goqu.C("field").Eq(scope.Field))

	query, params, err := q.ToSQL()
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: building query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return "", false, fmt.Errorf("checkpoint: reading %s: %w", scope, err)
	}
	defer rows.Close()

	var ret string
	found := false
	for rows.Next() {
		if err := rows.Scan(&ret); err != nil {
			return "", false, fmt.Errorf("checkpoint: scanning %s: %w", scope, err)
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return "", false, fmt.Errorf("checkpoint: reading %s: %w", scope, err)
	}

	return ret, found, nil
}

func (s *SQLiteStore) Set(ctx context.Context, scope Scope, value string) error {
	if err := scope.validate(); err != nil {
		return err
	}

	updatedAt := s.now().UTC().Format(time.RFC3339Nano)
	q := s.db.Insert(checkpoints.Name()).Prepared(true)
	q = q.Rows(goqu.Record{
		"target_table": scope.Table,
		"field":        scope.Field,
		"value":        value,
		"updated_at":   updatedAt,
	})
	q = q.OnConflict(goqu.DoUpdate("target_table, field", goqu.Record{
		"value":      value,
		"updated_at": updatedAt,
	}))

	query, params, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("checkpoint: building upsert: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("checkpoint: writing %s: %w", scope, err)
	}
	return nil
}

func (s *SQLiteStore) Delete(ctx context.Context, scope Scope) error {
	if err := scope.validate(); err != nil {
		return err
	}

	q := s.db.Delete(checkpoints.Name()).Prepared(true)
	q = q.Where(goqu.C("target_table").Eq(scope.Table))
	q = q.Where(goqu.C("field").Eq(scope.Field))

	query, params, err := q.ToSQL()
	if err != nil {
		return fmt.Errorf("checkpoint: building delete: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, query, params...); err != nil {
		return fmt.Errorf("checkpoint: deleting %s: %w", scope, err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.rawDB.Close()
}
