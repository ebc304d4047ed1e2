package cursor

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/conductorone/rowsync/pkg/checkpoint"
	"github.com/conductorone/rowsync/pkg/config"
	"github.com/conductorone/rowsync/pkg/row"
)

type Mode string

const (
	Full        Mode = "full"
	Incremental Mode = "incr"
)

func ParseMode(s string) (Mode, error) {
	switch s {
	case "full":
		return Full, nil
	case "incr", "incremental":
		return Incremental, nil
	default:
		return "", fmt.Errorf("cursor: unknown sync mode %q", s)
	}
}

// Policy decides how far the checkpoint moves when some rows in a batch failed to deliver.
type Policy string

const (
	// PolicyAdvance moves the checkpoint to the last fetched row no matter how delivery went.
	PolicyAdvance Policy = config.FailureAdvance
	// PolicyHold stops at the last row of the leading run of delivered rows.
	PolicyHold Policy = config.FailureHold
)

var ErrMissingTrackingField = errors.New("cursor: row is missing the tracking field")

// Boundary is the lower bound and ordering of one read.
type Boundary struct {
	Field string
	// After is nil when every row should be read.
	After    *row.Value
	OrderAsc bool
}

// Advance is the checkpoint write produced by a finished batch. Set is false when the checkpoint stays as is.
type Advance struct {
	Set   bool
	Value string
}

type Engine struct {
	table    string
	key      string
	tracking string
	policy   Policy
}

type Option func(*Engine)

func WithPolicy(p Policy) Option {
	return func(e *Engine) {
		if p != "" {
			e.policy = p
		}
	}
}

func NewEngine(cfg config.Table, opts ...Option) *Engine {
	e := &Engine{
		table:    cfg.Target,
		key:      cfg.Key,
		tracking: cfg.TrackingField(),
		policy:   PolicyAdvance,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) TrackingField() string {
	return e.tracking
}

func (e *Engine) Policy() Policy {
	return e.policy
}

// Scope is where this table's checkpoint lives. It is keyed by the target table, not the source.
func (e *Engine) Scope() checkpoint.Scope {
	return checkpoint.Scope{Table: e.table, Field: e.tracking}
}

// Boundary computes the read bound for mode from the stored checkpoint.
// An absent checkpoint and the empty sentinel both mean "read everything".
func (e *Engine) Boundary(mode Mode, last string, found bool) Boundary {
	b := Boundary{Field: e.tracking, OrderAsc: true}
	if mode != Incremental || !found || last == "" {
		return b
	}

	after := row.String(last)
	if e.tracking == e.key {
		if n, err := strconv.ParseInt(last, 10, 64); err == nil {
			after = row.Int(n)
		}
	}
	b.After = &after
	return b
}

// Next computes the checkpoint write for a finished batch. rows must be in read order and
// delivered[i] reports whether rows[i] was accepted by the remote. delivered may be nil under PolicyAdvance.
func (e *Engine) Next(mode Mode, rows []row.Row, delivered []bool) (Advance, error) {
	if len(rows) == 0 {
		if mode == Full {
			return Advance{Set: true, Value: ""}, nil
		}
		return Advance{}, nil
	}

	end := len(rows)
	if e.policy == PolicyHold {
		if len(delivered) != len(rows) {
			return Advance{}, fmt.Errorf("cursor: %d delivery results for %d rows", len(delivered), len(rows))
		}
		end = 0
		for end < len(rows) && delivered[end] {
			end++
		}
	}

	// Walk back past rows whose tracking value is NULL. MySQL sorts NULL first,
	// so this only matters when the whole candidate range is NULL.
	for i := end - 1; i >= 0; i-- {
		v, ok := rows[i].Get(e.tracking)
		if !ok {
			return Advance{}, fmt.Errorf("%w: %q", ErrMissingTrackingField, e.tracking)
		}
		if v.IsNull() {
			continue
		}
		return Advance{Set: true, Value: v.String()}, nil
	}

	if mode == Full && e.policy != PolicyHold {
		return Advance{Set: true, Value: ""}, nil
	}
	return Advance{}, nil
}
