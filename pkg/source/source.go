package source

import (
	"context"
	"errors"

	"github.com/conductorone/rowsync/pkg/row"
)

var ErrInvalidQuery = errors.New("source: invalid query")

// Query is one bounded, ordered read of a table.
type Query struct {
	Table  string
	Fields []string
	// OrderBy is the tracking field. Rows come back in ascending order of it.
	OrderBy string
	// After, when set, keeps only rows whose OrderBy value is strictly greater.
	After *row.Value
}

func (q Query) validate() error {
	if q.Table == "" || len(q.Fields) == 0 || q.OrderBy == "" {
		return ErrInvalidQuery
	}
	return nil
}

// Source reads rows from the relational database being synced.
type Source interface {
	// Fetch returns the whole result set in read order. Each row holds exactly q.Fields, in that order.
	Fetch(ctx context.Context, q Query) ([]row.Row, error)
	Close() error
}
