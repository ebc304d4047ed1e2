package source

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/mysql"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/rowsync/pkg/row"
)

const (
	DialectMySQL  = "mysql"
	DialectSQLite = "sqlite3"
)

// SQLSource runs queries through database/sql, building them with goqu for the given dialect.
type SQLSource struct {
	rawDB   *sql.DB
	db      *goqu.Database
	dialect string
}

var _ Source = (*SQLSource)(nil)

func NewSQLSource(db *sql.DB, dialect string) *SQLSource {
	return &SQLSource{
		rawDB:   db,
		db:      goqu.New(dialect, db),
		dialect: dialect,
	}
}

func (s *SQLSource) Fetch(ctx context.Context, q Query) ([]row.Row, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	cols := make([]interface{}, 0, len(q.Fields))
	for _, f := range q.Fields {
		cols = append(cols, goqu.C(f))
	}

	ds := s.db.From(q.Table).Prepared(true).Select(cols...)
	if q.After != nil {
		ds = ds.Where(s.afterBoundary(q.OrderBy, *q.After))
	}
	ds = ds.Order(goqu.C(q.OrderBy).Asc())

	query, params, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("source: building query: %w", err)
	}

	ctxzap.Extract(ctx).Debug("fetching rows", zap.String("query", query), zap.Int("params", len(params)))

	rows, err := s.db.QueryContext(ctx, query, params...)
	if err != nil {
		return nil, fmt.Errorf("source: querying %s: %w", q.Table, err)
	}
	defer rows.Close()

	colTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("source: reading column types: %w", err)
	}
	if len(colTypes) != len(q.Fields) {
		return nil, fmt.Errorf("source: expected %d columns, got %d", len(q.Fields), len(colTypes))
	}

	var ret []row.Row
	dest := make([]any, len(q.Fields))
	ptrs := make([]any, len(q.Fields))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("source: scanning %s: %w", q.Table, err)
		}

		fields := make([]row.Field, len(q.Fields))
		for i, name := range q.Fields {
			v, err := convert(dest[i], colTypes[i].DatabaseTypeName())
			if err != nil {
				return nil, fmt.Errorf("source: column %s: %w", name, err)
			}
			fields[i] = row.Field{Name: name, Value: v}
		}
		ret = append(ret, row.New(fields...))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("source: reading %s: %w", q.Table, err)
	}

	return ret, nil
}

func (s *SQLSource) Close() error {
	return s.rawDB.Close()
}

// afterBoundary filters rows whose tracking column is past the checkpoint.
// SQLite keeps DATETIME as text and often with a space separator, which sorts below the
// T-separated checkpoint, so the column is rewritten to the checkpoint's form before comparing.
func (s *SQLSource) afterBoundary(col string, after row.Value) exp.BooleanExpression {
	bind := bindValue(after)
	if s.dialect == DialectSQLite && isDateTimeText(after) {
		return goqu.Func("replace", goqu.C(col), " ", "T").Gt(bind)
	}
	return goqu.C(col).Gt(bind)
}

func isDateTimeText(v row.Value) bool {
	if v.Kind() != row.KindString {
		return false
	}
	str := v.String()
	if len(str) < 19 || str[10] != 'T' {
		return false
	}
	_, err := time.Parse("2006-01-02T15:04:05", str[:19])
	return err == nil
}

func bindValue(v row.Value) interface{} {
	switch v.Kind() {
	case row.KindNull:
		return nil
	case row.KindInt:
		return v.Int64()
	case row.KindFloat:
		return v.Float64()
	case row.KindBool:
		return v.Boolean()
	case row.KindBytes:
		return v.Raw()
	default:
		return v.String()
	}
}

var textTimeLayouts = []string{
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
}

// convert maps a scanned driver value to a row.Value. Drivers hand back []byte for many
// column types, so the declared column type decides how those bytes are read.
func convert(in any, dbType string) (row.Value, error) {
	dbType = strings.TrimPrefix(strings.ToUpper(dbType), "UNSIGNED ")
	if i := strings.IndexByte(dbType, '('); i >= 0 {
		dbType = dbType[:i]
	}

	switch v := in.(type) {
	case nil:
		return row.Null(), nil
	case time.Time:
		if dbType == "DATE" {
			return row.Date(v), nil
		}
		return row.DateTime(v), nil
	case []byte:
		return convertText(string(v), v, dbType)
	case string:
		return convertText(v, nil, dbType)
	default:
		return row.FromAny(in)
	}
}

func convertText(s string, raw []byte, dbType string) (row.Value, error) {
	switch dbType {
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT", "INTEGER", "BIGINT", "YEAR":
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return row.Int(n), nil
		}
		if n, err := strconv.ParseUint(s, 10, 64); err == nil {
			return row.FromAny(n)
		}
		return row.Value{}, fmt.Errorf("cannot parse %q as %s", s, dbType)
	case "FLOAT", "DOUBLE", "REAL":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return row.Value{}, fmt.Errorf("cannot parse %q as %s", s, dbType)
		}
		return row.Float(f), nil
	case "BOOL", "BOOLEAN":
		b, err := strconv.ParseBool(s)
		if err != nil {
			return row.Value{}, fmt.Errorf("cannot parse %q as %s", s, dbType)
		}
		return row.Bool(b), nil
	case "DATE":
		if t, err := time.Parse("2006-01-02", s); err == nil {
			return row.Date(t), nil
		}
		return row.String(s), nil
	case "DATETIME", "TIMESTAMP":
		for _, layout := range textTimeLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return row.DateTime(t), nil
			}
		}
		return row.String(s), nil
	case "BLOB", "TINYBLOB", "MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY", "BIT", "GEOMETRY":
		if raw == nil {
			raw = []byte(s)
		}
		return row.FromAny(raw)
	default:
		// DECIMAL stays textual to keep its exact digits.
		return row.String(s), nil
	}
}
