package progress

import (
	"context"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const maxLogFrequency = 10 * time.Second

// Counts tracks delivery progress for one sync and throttles progress logs.
// It is not safe for concurrent use; deliveries are sequential.
type Counts struct {
	Table     string
	Total     int
	Delivered int
	Failed    int
	LastLog   time.Time

	now func() time.Time
}

func NewCounts(table string, total int) *Counts {
	return &Counts{
		Table: table,
		Total: total,
		now:   time.Now,
	}
}

func (p *Counts) Attempted() int {
	return p.Delivered + p.Failed
}

func (p *Counts) Record(ctx context.Context, delivered bool) {
	if delivered {
		p.Delivered++
	} else {
		p.Failed++
	}
	p.LogProgress(ctx)
}

// LogProgress logs at most once every ten seconds until the last row has been attempted.
func (p *Counts) LogProgress(ctx context.Context) {
	l := ctxzap.Extract(ctx)
	attempted := p.Attempted()

	if p.Total == 0 {
		return
	}

	switch {
	case attempted > p.Total:
		l.Error("more rows attempted than fetched",
			zap.String("table", p.Table),
			zap.Int("attempted", attempted),
			zap.Int("total", p.Total),
		)
	case attempted == p.Total:
		l.Info("Delivered rows",
			zap.String("table", p.Table),
			zap.Int("delivered", p.Delivered),
			zap.Int("failed", p.Failed),
			zap.Int("total", p.Total),
		)
		p.LastLog = time.Time{}
	case p.now().Sub(p.LastLog) > maxLogFrequency:
		l.Info("Delivering rows",
			zap.String("table", p.Table),
			zap.Int("delivered", p.Delivered),
			zap.Int("failed", p.Failed),
			zap.Int("total", p.Total),
			zap.Int("percent_complete", (attempted*100)/p.Total),
		)
		p.LastLog = p.now()
	}
}
