package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/conductorone/rowsync/pkg/checkpoint"
	"github.com/conductorone/rowsync/pkg/config"
	"github.com/conductorone/rowsync/pkg/cursor"
	"github.com/conductorone/rowsync/pkg/delivery"
	"github.com/conductorone/rowsync/pkg/metrics"
	"github.com/conductorone/rowsync/pkg/source"
	"github.com/conductorone/rowsync/pkg/sync"
)

type SourceOpener func(ctx context.Context, cfg config.MySQL) (source.Source, error)

type runner struct {
	openSource  SourceOpener
	deliveryOps []delivery.Option
	metricsOut  io.Writer
}

type RunnerOption func(*runner)

// WithSourceOpener replaces how the source database is opened.
func WithSourceOpener(fn SourceOpener) RunnerOption {
	return func(r *runner) {
		if fn != nil {
			r.openSource = fn
		}
	}
}

func WithDeliveryOptions(opts ...delivery.Option) RunnerOption {
	return func(r *runner) {
		r.deliveryOps = append(r.deliveryOps, opts...)
	}
}

// WithMetricsOutput sets where exported metrics are written when metrics are enabled. Defaults to the command's stderr.
func WithMetricsOutput(w io.Writer) RunnerOption {
	return func(r *runner) {
		r.metricsOut = w
	}
}

func newRunner(opts ...RunnerOption) *runner {
	r := &runner{
		openSource: func(ctx context.Context, cfg config.MySQL) (source.Source, error) {
			return source.OpenMySQL(ctx, cfg)
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *runner) load(ctx context.Context, v *viper.Viper) (context.Context, *config.Config, error) {
	runCtx, err := initLogger(ctx, v)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(runCtx, v.GetString("config"), config.WithEnvFile(v.GetString("env-file")))
	if err != nil {
		return nil, nil, err
	}
	return runCtx, cfg, nil
}

// makeSyncCommand returns the handler for the full and incr subcommands. The mode follows the subcommand name.
func makeSyncCommand(ctx context.Context, name string, v *viper.Viper, r *runner) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		mode, err := cursor.ParseMode(cmd.Name())
		if err != nil {
			return err
		}

		runCtx, cfg, err := r.load(ctx, v)
		if err != nil {
			return err
		}
		l := ctxzap.Extract(runCtx).With(zap.String("command", name))
		runCtx = ctxzap.ToContext(runCtx, l)

		handler := metrics.NewNoOpHandler(runCtx)
		if cfg.Sync.Metrics {
			out := r.metricsOut
			if out == nil {
				out = cmd.ErrOrStderr()
			}
			provider, err := metrics.NewStdoutProvider(runCtx, out)
			if err != nil {
				return err
			}
			defer func() {
				if err := provider.Shutdown(context.WithoutCancel(runCtx)); err != nil {
					l.Error("error flushing metrics", zap.Error(err))
				}
			}()
			handler = metrics.NewOtelHandler(runCtx, provider, name)
		}
		m := metrics.New(handler.WithTags(map[string]string{"table": cfg.Table.Target}))

		store, err := checkpoint.Open(runCtx, cfg.Checkpoint)
		if err != nil {
			return err
		}

		src, err := r.openSource(runCtx, cfg.MySQL)
		if err != nil {
			_ = store.Close()
			return err
		}

		deliveryOps := append([]delivery.Option{
			delivery.WithRequestsPerSecond(cfg.Sync.RequestsPerSecond),
			delivery.WithMetrics(m),
			delivery.WithDebugBody(v.GetString("log-level") == "debug"),
		}, r.deliveryOps...)
		client, err := delivery.NewClient(runCtx, delivery.Config{BaseURL: cfg.Supabase.URL, APIKey: cfg.Supabase.APIKey}, deliveryOps...)
		if err != nil {
			_ = src.Close()
			_ = store.Close()
			return err
		}

		s, err := sync.NewSyncer(runCtx, cfg.Table,
			sync.WithSource(src),
			sync.WithCheckpointStore(store),
			sync.WithDeliverer(client),
			sync.WithFailurePolicy(cursor.Policy(cfg.Sync.OnDeliveryFailure)),
			sync.WithMetrics(m),
		)
		if err != nil {
			_ = src.Close()
			_ = store.Close()
			return err
		}

		stats, syncErr := s.Sync(runCtx, mode)
		if err := s.Close(runCtx); err != nil {
			l.Error("error closing syncer", zap.Error(err))
			syncErr = errors.Join(syncErr, err)
		}
		if syncErr != nil {
			return syncErr
		}

		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s sync of %s: fetched=%d delivered=%d failed=%d\n",
			stats.Mode, cfg.Table.Target, stats.Fetched, stats.Delivered, stats.Failed)
		return err
	}
}

// makeCheckpointCommand returns the handler for the checkpoint subcommand. It only touches the checkpoint store.
func makeCheckpointCommand(ctx context.Context, name string, v *viper.Viper, r *runner) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		runCtx, cfg, err := r.load(ctx, v)
		if err != nil {
			return err
		}
		l := ctxzap.Extract(runCtx).With(zap.String("command", name))

		store, err := checkpoint.Open(runCtx, cfg.Checkpoint)
		if err != nil {
			return err
		}
		defer func() {
			if err := store.Close(); err != nil {
				l.Error("error closing checkpoint store", zap.Error(err))
			}
		}()

		scope := cursor.NewEngine(cfg.Table).Scope()
		out := cmd.OutOrStdout()

		reset, err := cmd.Flags().GetBool("reset")
		if err != nil {
			return err
		}
		if reset {
			if err := store.Delete(runCtx, scope); err != nil {
				return err
			}
			l.Info("checkpoint removed", zap.Stringer("scope", scope))
			_, err = fmt.Fprintf(out, "%s: reset\n", scope)
			return err
		}

		value, found, err := store.Get(runCtx, scope)
		if err != nil {
			return err
		}
		switch {
		case !found:
			value = "<absent>"
		case value == "":
			value = `""`
		}
		_, err = fmt.Fprintf(out, "%s: %s\n", scope, value)
		return err
	}
}
