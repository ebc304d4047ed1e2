package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"

	"github.com/conductorone/rowsync/pkg/metrics"
	"github.com/conductorone/rowsync/pkg/row"
	"github.com/conductorone/rowsync/pkg/uhttp"
)

const maxDetailLength = 1024

var ErrInvalidConfig = errors.New("delivery: invalid config")

type Status uint8

const (
	Delivered Status = iota
	Rejected
	Unreachable
)

func (s Status) String() string {
	switch s {
	case Delivered:
		return "delivered"
	case Rejected:
		return "rejected"
	case Unreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

// Outcome is the result of one upsert. Failures are reported here and never abort a batch.
type Outcome struct {
	Key        row.Value
	Status     Status
	StatusCode int
	Detail     string
	Err        error
}

func (o Outcome) Delivered() bool {
	return o.Status == Delivered
}

type Config struct {
	BaseURL string
	APIKey  string
}

type Client struct {
	base    *url.URL
	apiKey  string
	http    *uhttp.BaseHttpClient
	metrics *metrics.M

	httpClient        *http.Client
	requestsPerSecond int
	printBody         bool
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithRequestsPerSecond paces upserts. Zero leaves them unpaced.
func WithRequestsPerSecond(n int) Option {
	return func(cl *Client) {
		cl.requestsPerSecond = n
	}
}

func WithMetrics(m *metrics.M) Option {
	return func(cl *Client) {
		if m != nil {
			cl.metrics = m
		}
	}
}

// WithDebugBody logs response bodies at debug level.
func WithDebugBody(enabled bool) Option {
	return func(cl *Client) {
		cl.printBody = enabled
	}
}

func NewClient(ctx context.Context, cfg Config, opts ...Option) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: api key is required", ErrInvalidConfig)
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: base url %q must be absolute", ErrInvalidConfig, cfg.BaseURL)
	}

	c := &Client{
		base:    base,
		apiKey:  cfg.APIKey,
		metrics: metrics.New(metrics.NewNoOpHandler(ctx)),
	}
	for _, opt := range opts {
		opt(c)
	}

	c.http = uhttp.NewBaseHttpClient(c.httpClient,
		uhttp.WithRateLimit(c.requestsPerSecond),
		uhttp.WithPrintBody(c.printBody),
	)
	return c, nil
}

func (c *Client) endpoint(table string, key string) *url.URL {
	u := c.base.JoinPath("rest", "v1", table)
	u.RawQuery = url.Values{"on_conflict": []string{key}}.Encode()
	return u
}

// Upsert sends r as a single-element batch that merges on key. It makes exactly one attempt.
func (c *Client) Upsert(ctx context.Context, table string, key string, r row.Row) Outcome {
	l := ctxzap.Extract(ctx)
	start := time.Now()

	out := Outcome{Key: row.Null()}
	if v, ok := r.Get(key); ok {
		out.Key = v
	}
	defer func() {
		c.metrics.RecordDelivery(ctx, out.Status.String(), time.Since(start))
	}()

	req, err := c.http.NewRequest(ctx, http.MethodPost, c.endpoint(table, key),
		uhttp.WithJSONBody([]row.Row{r}),
		uhttp.WithHeader("apikey", c.apiKey),
		uhttp.WithBearerToken(c.apiKey),
		uhttp.WithAcceptJSONHeader(),
		uhttp.WithHeader("Prefer", "resolution=merge-duplicates"),
	)
	if err != nil {
		// The row could not be encoded, so the server never saw it.
		out.Status = Rejected
		out.Err = err
		out.Detail = err.Error()
		l.Error("failed to build upsert request", zap.String("table", table), zap.Stringer("key", out.Key), zap.Error(err))
		return out
	}

	var body []byte
	resp, err := c.http.Do(req, uhttp.WithResponseBody(&body))
	var statusErr *uhttp.StatusError
	switch {
	case err == nil:
		out.Status = Delivered
		out.StatusCode = resp.StatusCode
		l.Info("upsert row", zap.String("table", table), zap.Stringer("key", out.Key))
	case errors.As(err, &statusErr):
		out.Status = Rejected
		out.StatusCode = statusErr.StatusCode
		out.Detail = errorDetail(resp.Header.Get("Content-Type"), body)
		out.Err = err
		l.Error("failed to upsert row",
			zap.String("table", table),
			zap.Stringer("key", out.Key),
			zap.Int("status_code", out.StatusCode),
			zap.String("detail", out.Detail),
		)
	default:
		out.Status = Unreachable
		out.Detail = err.Error()
		out.Err = err
		l.Error("failed to reach remote", zap.String("table", table), zap.Stringer("key", out.Key), zap.Error(err))
	}

	return out
}

// postgrestError is the error document PostgREST returns for rejected writes.
type postgrestError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

// errorDetail decodes the PostgREST error document when the response says it is JSON,
// otherwise it returns the trimmed body.
func errorDetail(contentType string, body []byte) string {
	var pe postgrestError
	if uhttp.IsJSONContentType(contentType) && json.Unmarshal(body, &pe) == nil && pe.Message != "" {
		detail := pe.Message
		if pe.Details != "" {
			detail += ": " + pe.Details
		}
		if pe.Code != "" {
			detail = pe.Code + " " + detail
		}
		return detail
	}

	detail := strings.TrimSpace(string(body))
	if len(detail) > maxDetailLength {
		detail = detail[:maxDetailLength]
	}
	return detail
}
