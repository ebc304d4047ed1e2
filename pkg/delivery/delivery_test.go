package delivery

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/conductorone/rowsync/pkg/row"
)

// fakePostgREST merges posted rows into an in-memory table keyed by the on_conflict column.
type fakePostgREST struct {
	mu       sync.Mutex
	rows     map[string]map[string]any
	requests []*http.Request
	bodies   [][]byte
	reject   func(r map[string]any) (int, string)
}

func newFakePostgREST() *fakePostgREST {
	return &fakePostgREST{rows: make(map[string]map[string]any)}
}

func (f *fakePostgREST) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	f.requests = append(f.requests, r)
	f.bodies = append(f.bodies, body)

	var batch []map[string]any
	if err := json.Unmarshal(body, &batch); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	key := r.URL.Query().Get("on_conflict")
	for _, item := range batch {
		if f.reject != nil {
			if code, msg := f.reject(item); code != 0 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(code)
				_, _ = w.Write([]byte(msg))
				return
			}
		}
		pk, _ := json.Marshal(item[key])
		f.rows[string(pk)] = item
	}
	w.WriteHeader(http.StatusCreated)
}

func userRow(id int64, name string) row.Row {
	return row.New(
		row.Field{Name: "id", Value: row.Int(id)},
		row.Field{Name: "name", Value: row.String(name)},
	)
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithHTTPClient(srv.Client())}, opts...)
	c, err := NewClient(context.Background(), Config{BaseURL: srv.URL + "/", APIKey: "anon"}, opts...)
	require.NoError(t, err)
	return c
}

func TestClient_UpsertRequestShape(t *testing.T) {
	fake := newFakePostgREST()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv)
	out := c.Upsert(context.Background(), "users", "id", userRow(1, "alice"))

	require.Equal(t, Delivered, out.Status)
	require.True(t, out.Delivered())
	require.Equal(t, http.StatusCreated, out.StatusCode)
	require.True(t, row.Int(1).Equal(out.Key))
	require.NoError(t, out.Err)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	require.Equal(t, http.MethodPost, req.Method)
	require.Equal(t, "/rest/v1/users", req.URL.Path)
	require.Equal(t, "on_conflict=id", req.URL.RawQuery)
	require.Equal(t, "anon", req.Header.Get("apikey"))
	require.Equal(t, "Bearer anon", req.Header.Get("Authorization"))
	require.Equal(t, "application/json", req.Header.Get("Content-Type"))
	require.Equal(t, "application/json", req.Header.Get("Accept"))
	require.Equal(t, "resolution=merge-duplicates", req.Header.Get("Prefer"))
	require.JSONEq(t, `[{"id":1,"name":"alice"}]`, string(fake.bodies[0]))
}

func TestClient_UpsertIsIdempotent(t *testing.T) {
	fake := newFakePostgREST()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.True(t, c.Upsert(ctx, "users", "id", userRow(1, "alice")).Delivered())
	}
	require.Len(t, fake.rows, 1)

	require.True(t, c.Upsert(ctx, "users", "id", userRow(1, "alice v2")).Delivered())
	require.Len(t, fake.rows, 1)
	require.Equal(t, "alice v2", fake.rows["1"]["name"])
}

func TestClient_UpsertRejected(t *testing.T) {
	fake := newFakePostgREST()
	fake.reject = func(r map[string]any) (int, string) {
		if r["name"] == "bad" {
			return http.StatusConflict, `{"code":"23505","message":"duplicate key value violates unique constraint","details":"Key (email) already exists.","hint":null}`
		}
		return 0, ""
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	c := newTestClient(t, srv)
	out := c.Upsert(context.Background(), "users", "id", userRow(2, "bad"))

	require.Equal(t, Rejected, out.Status)
	require.Equal(t, http.StatusConflict, out.StatusCode)
	require.Equal(t, "23505 duplicate key value violates unique constraint: Key (email) already exists.", out.Detail)
	require.Error(t, out.Err)
	require.True(t, row.Int(2).Equal(out.Key))
	require.Empty(t, fake.rows)
}

func TestClient_UpsertRejectedPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("  upstream unavailable \n"))
	}))
	defer srv.Close()

	out := newTestClient(t, srv).Upsert(context.Background(), "users", "id", userRow(3, "carol"))
	require.Equal(t, Rejected, out.Status)
	require.Equal(t, http.StatusBadGateway, out.StatusCode)
	require.Equal(t, "upstream unavailable", out.Detail)
}

func TestClient_UpsertRejectedNonJSONContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"looks like json"}`))
	}))
	defer srv.Close()

	out := newTestClient(t, srv).Upsert(context.Background(), "users", "id", userRow(4, "dave"))
	require.Equal(t, Rejected, out.Status)
	require.Equal(t, `{"message":"looks like json"}`, out.Detail)
}

func TestErrorDetail(t *testing.T) {
	doc := []byte(`{"code":"PGRST204","message":"Could not find the 'nickname' column","details":null,"hint":null}`)

	require.Equal(t, "PGRST204 Could not find the 'nickname' column", errorDetail("application/json; charset=utf-8", doc))
	require.Equal(t, "PGRST204 Could not find the 'nickname' column", errorDetail("application/vnd.pgrst.object+json", doc))
	require.Equal(t, string(doc), errorDetail("text/html", doc))
	require.Equal(t, "not json", errorDetail("application/json", []byte(" not json ")))
}

func TestClient_UpsertUnreachable(t *testing.T) {
	srv := httptest.NewServer(newFakePostgREST())
	c := newTestClient(t, srv)
	srv.Close()

	out := c.Upsert(context.Background(), "users", "id", userRow(4, "dave"))
	require.Equal(t, Unreachable, out.Status)
	require.Zero(t, out.StatusCode)
	require.Error(t, out.Err)
	require.NotEmpty(t, out.Detail)
}

func TestClient_UpsertUnencodableRow(t *testing.T) {
	fake := newFakePostgREST()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := row.New(
		row.Field{Name: "id", Value: row.Int(5)},
		row.Field{Name: "score", Value: row.Float(math.NaN())},
	)
	out := newTestClient(t, srv).Upsert(context.Background(), "users", "id", r)
	require.Equal(t, Rejected, out.Status)
	require.Error(t, out.Err)
	require.Empty(t, fake.requests)
}

func TestClient_MissingKeyField(t *testing.T) {
	fake := newFakePostgREST()
	srv := httptest.NewServer(fake)
	defer srv.Close()

	r := row.New(row.Field{Name: "name", Value: row.String("x")})
	out := newTestClient(t, srv).Upsert(context.Background(), "users", "id", r)
	require.True(t, out.Key.IsNull())
}

func TestClient_RequestsPerSecond(t *testing.T) {
	srv := httptest.NewServer(newFakePostgREST())
	defer srv.Close()

	c := newTestClient(t, srv, WithRequestsPerSecond(20))
	ctx := context.Background()

	start := time.Now()
	for i := int64(0); i < 5; i++ {
		require.True(t, c.Upsert(ctx, "users", "id", userRow(i, "n")).Delivered())
	}
	// Five requests at 20/s need at least four 50ms gaps.
	require.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestNewClient_Invalid(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, Config{BaseURL: "https://x.supabase.co"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewClient(ctx, Config{BaseURL: "x.supabase.co", APIKey: "k"})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestStatus_String(t *testing.T) {
	require.Equal(t, "delivered", Delivered.String())
	require.Equal(t, "rejected", Rejected.String())
	require.Equal(t, "unreachable", Unreachable.String())
}
