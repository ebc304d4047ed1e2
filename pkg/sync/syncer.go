package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/conductorone/rowsync/pkg/checkpoint"
	"github.com/conductorone/rowsync/pkg/config"
	"github.com/conductorone/rowsync/pkg/cursor"
	"github.com/conductorone/rowsync/pkg/delivery"
	"github.com/conductorone/rowsync/pkg/metrics"
	"github.com/conductorone/rowsync/pkg/progress"
	"github.com/conductorone/rowsync/pkg/row"
	"github.com/conductorone/rowsync/pkg/source"
)

var (
	ErrMissingDependency = errors.New("sync: source, checkpoint store and deliverer are required")
	ErrUnknownMode       = errors.New("sync: unknown mode")
)

type Syncer interface {
	Sync(ctx context.Context, mode cursor.Mode) (*Stats, error)
	Close(ctx context.Context) error
}

// Deliverer sends one serialized row to the remote. Failures are reported in the outcome.
type Deliverer interface {
	Upsert(ctx context.Context, table string, key string, r row.Row) delivery.Outcome
}

// Stats summarizes one invocation.
type Stats struct {
	SyncID    string
	Mode      cursor.Mode
	Fetched   int
	Delivered int
	Failed    int
	// Checkpoint is the value written at the end of the run. It is only meaningful when CheckpointSet is true.
	Checkpoint    string
	CheckpointSet bool
}

// syncer copies the rows of one table from the source to the remote and records how far it got.
type syncer struct {
	table     config.Table
	cursor    *cursor.Engine
	source    source.Source
	store     checkpoint.Store
	deliverer Deliverer
	metrics   *metrics.M
	policy    cursor.Policy
}

// Sync runs one full or incremental pass. Rows are delivered one at a time in read order and
// the checkpoint is written once every fetched row has been attempted.
// Source and checkpoint store errors abort the run without touching the checkpoint.
func (s *syncer) Sync(ctx context.Context, mode cursor.Mode) (*Stats, error) {
	start := time.Now()
	syncID := ksuid.New().String()

	l := ctxzap.Extract(ctx).With(
		zap.String("sync_id", syncID),
		zap.String("mode", string(mode)),
		zap.String("source_table", s.table.Source),
		zap.String("target_table", s.table.Target),
	)
	ctx = ctxzap.ToContext(ctx, l)

	stats, err := s.sync(ctx, mode)
	if stats != nil {
		stats.SyncID = syncID
	}
	s.metrics.RecordSync(ctx, string(mode), time.Since(start), err)
	if err != nil {
		l.Error("sync failed", zap.Error(err))
		return stats, err
	}

	l.Info("sync finished",
		zap.Int("fetched", stats.Fetched),
		zap.Int("delivered", stats.Delivered),
		zap.Int("failed", stats.Failed),
		zap.Bool("checkpoint_set", stats.CheckpointSet),
		zap.String("checkpoint", stats.Checkpoint),
		zap.Duration("elapsed", time.Since(start)),
	)
	return stats, nil
}

func (s *syncer) sync(ctx context.Context, mode cursor.Mode) (*Stats, error) {
	l := ctxzap.Extract(ctx)

	if mode != cursor.Full && mode != cursor.Incremental {
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	scope := s.cursor.Scope()
	last, found, err := s.store.Get(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("error reading checkpoint: %w", err)
	}
	if found {
		l.Debug("loaded checkpoint", zap.Stringer("scope", scope), zap.String("value", last))
	} else {
		l.Debug("no checkpoint stored", zap.Stringer("scope", scope))
	}

	b := s.cursor.Boundary(mode, last, found)
	rows, err := s.source.Fetch(ctx, source.Query{
		Table:   s.table.Source,
		Fields:  s.table.Fields,
		OrderBy: b.Field,
		After:   b.After,
	})
	if err != nil {
		return nil, fmt.Errorf("error fetching rows: %w", err)
	}

	stats := &Stats{Mode: mode, Fetched: len(rows)}
	s.metrics.RecordFetch(ctx, string(mode), len(rows))
	l.Info("fetched rows", zap.Int("count", len(rows)))

	counts := progress.NewCounts(s.table.Target, len(rows))
	delivered := make([]bool, len(rows))
	for i, r := range rows {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		out := s.deliverer.Upsert(ctx, s.table.Target, s.table.Key, row.Serialize(r))
		delivered[i] = out.Delivered()
		if delivered[i] {
			stats.Delivered++
		} else {
			stats.Failed++
		}
		counts.Record(ctx, delivered[i])
		s.metrics.RecordPending(ctx, len(rows)-i-1)
	}

	adv, err := s.cursor.Next(mode, rows, delivered)
	if err != nil {
		return stats, err
	}
	if !adv.Set {
		l.Debug("checkpoint unchanged", zap.Stringer("scope", scope))
		return stats, nil
	}

	if stats.Failed > 0 && s.cursor.Policy() == cursor.PolicyAdvance {
		l.Warn("checkpoint advancing past rows that failed to deliver",
			zap.Int("failed", stats.Failed),
			zap.String("checkpoint", adv.Value),
		)
	}

	if err := s.store.Set(ctx, scope, adv.Value); err != nil {
		return stats, fmt.Errorf("error writing checkpoint: %w", err)
	}
	stats.Checkpoint = adv.Value
	stats.CheckpointSet = true

	return stats, nil
}

// Close releases the source and the checkpoint store. Both are closed even if one fails.
func (s *syncer) Close(ctx context.Context) error {
	var errs []error
	if err := s.source.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing source: %w", err))
	}
	if err := s.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("error closing checkpoint store: %w", err))
	}
	return errors.Join(errs...)
}

type SyncOpt func(s *syncer)

func WithSource(src source.Source) SyncOpt {
	return func(s *syncer) {
		s.source = src
	}
}

func WithCheckpointStore(store checkpoint.Store) SyncOpt {
	return func(s *syncer) {
		s.store = store
	}
}

func WithDeliverer(d Deliverer) SyncOpt {
	return func(s *syncer) {
		s.deliverer = d
	}
}

// WithFailurePolicy sets how far the checkpoint may move past rows that failed to deliver.
func WithFailurePolicy(p cursor.Policy) SyncOpt {
	return func(s *syncer) {
		if p != "" {
			s.policy = p
		}
	}
}

func WithMetrics(m *metrics.M) SyncOpt {
	return func(s *syncer) {
		if m != nil {
			s.metrics = m
		}
	}
}

// NewSyncer returns a syncer for one table. The syncer owns the source and the store and closes them in Close.
func NewSyncer(ctx context.Context, table config.Table, opts ...SyncOpt) (Syncer, error) {
	s := &syncer{
		table:   table,
		metrics: metrics.New(metrics.NewNoOpHandler(ctx)),
		policy:  cursor.PolicyAdvance,
	}

	for _, o := range opts {
		o(s)
	}

	if s.source == nil || s.store == nil || s.deliverer == nil {
		return nil, ErrMissingDependency
	}

	s.cursor = cursor.NewEngine(table, cursor.WithPolicy(s.policy))
	return s, nil
}
