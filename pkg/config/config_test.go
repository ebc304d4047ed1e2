package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const sampleConfig = `
mysql:
  host: db.internal
  port: ${MYSQL_PORT}
  user: sync
  password: ${MYSQL_PASSWORD}
  database: shop
supabase:
  url: https://example.supabase.co/
  api_key: ${SUPABASE_KEY}
table:
  source: orders
  target: orders_copy
  fields:
    - id
    - ts
    - total
  key: id
  timestamp_field: ts
`

func mapLookup(env map[string]string) LookupFunc {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))
	return path
}

func validRaw() map[string]any {
	return map[string]any{
		"mysql": map[string]any{
			"host":     "localhost",
			"user":     "root",
			"password": "pw",
			"database": "app",
		},
		"supabase": map[string]any{
			"url":     "https://x.supabase.co",
			"api_key": "key",
		},
		"table": map[string]any{
			"source": "users",
			"target": "users",
			"fields": []any{"id", "name"},
			"key":    "id",
		},
	}
}

func TestResolve(t *testing.T) {
	env := mapLookup(map[string]string{
		"FOO":   "foo-value",
		"BAR_2": "bar",
		"EMPTY": "",
	})

	in := map[string]any{
		"plain":   "${FOO}",
		"partial": "prefix-${FOO}",
		"lower":   "${foo}",
		"number":  5,
		"empty":   "${EMPTY}",
		"nested": map[string]any{
			"deeper": map[string]any{
				"value": "${BAR_2}",
			},
			"list": []any{"${FOO}", "literal", []any{"${BAR_2}"}},
		},
		"yaml_map": map[any]any{"k": "${FOO}"},
	}

	out, err := Resolve(in, env)
	require.NoError(t, err)

	got := out.(map[string]any)
	require.Equal(t, "foo-value", got["plain"])
	require.Equal(t, "prefix-${FOO}", got["partial"])
	require.Equal(t, "${foo}", got["lower"])
	require.Equal(t, 5, got["number"])
	require.Equal(t, "", got["empty"])

	nested := got["nested"].(map[string]any)
	require.Equal(t, "bar", nested["deeper"].(map[string]any)["value"])
	require.Equal(t, []any{"foo-value", "literal", []any{"bar"}}, nested["list"])
	require.Equal(t, "foo-value", got["yaml_map"].(map[string]any)["k"])

	// The input is left untouched.
	require.Equal(t, "${FOO}", in["plain"])
}

func TestResolve_MissingVariable(t *testing.T) {
	in := map[string]any{
		"outer": map[string]any{
			"list": []any{"ok", "${NOT_SET}"},
		},
	}

	_, err := Resolve(in, mapLookup(nil))
	require.ErrorIs(t, err, ErrMissingEnv)
	require.Contains(t, err.Error(), "NOT_SET")
	require.Contains(t, err.Error(), "outer.list[1]")
}

func TestParse_Defaults(t *testing.T) {
	cfg, err := Parse(validRaw(), mapLookup(nil))
	require.NoError(t, err)

	require.Equal(t, 3306, cfg.MySQL.Port)
	require.Equal(t, BackendFile, cfg.Checkpoint.Backend)
	require.Equal(t, ".", cfg.Checkpoint.Dir)
	require.Equal(t, "rowsync", cfg.Checkpoint.MongoDatabase)
	require.Equal(t, FailureAdvance, cfg.Sync.OnDeliveryFailure)
	require.Equal(t, "id", cfg.Table.TrackingField())
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(raw map[string]any)
		want   string
	}{
		{
			name: "key not in fields",
			mutate: func(raw map[string]any) {
				raw["table"].(map[string]any)["key"] = "uuid"
			},
			want: `table.key "uuid" must be one of table.fields`,
		},
		{
			name: "timestamp not in fields",
			mutate: func(raw map[string]any) {
				raw["table"].(map[string]any)["timestamp_field"] = "updated_at"
			},
			want: `table.timestamp_field "updated_at" must be one of table.fields`,
		},
		{
			name: "duplicate field",
			mutate: func(raw map[string]any) {
				raw["table"].(map[string]any)["fields"] = []any{"id", "name", "id"}
			},
			want: `table.fields lists "id" more than once`,
		},
		{
			name: "missing supabase key",
			mutate: func(raw map[string]any) {
				delete(raw["supabase"].(map[string]any), "api_key")
			},
			want: "supabase.api_key is required",
		},
		{
			name: "unknown backend",
			mutate: func(raw map[string]any) {
				raw["checkpoint"] = map[string]any{"backend": "etcd"}
			},
			want: `checkpoint.backend "etcd"`,
		},
		{
			name: "mongo without uri",
			mutate: func(raw map[string]any) {
				raw["checkpoint"] = map[string]any{"backend": "mongo"}
			},
			want: "checkpoint.mongo_uri is required",
		},
		{
			name: "unknown failure policy",
			mutate: func(raw map[string]any) {
				raw["sync"] = map[string]any{"on_delivery_failure": "retry"}
			},
			want: `sync.on_delivery_failure "retry"`,
		},
		{
			name: "port is not a number",
			mutate: func(raw map[string]any) {
				raw["mysql"].(map[string]any)["port"] = "abc"
			},
			want: "port",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := validRaw()
			tt.mutate(raw)

			_, err := Parse(raw, mapLookup(nil))
			require.ErrorIs(t, err, ErrInvalid)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	cfg, err := Load(context.Background(), path,
		WithEnvFile(""),
		WithLookup(mapLookup(map[string]string{
			"MYSQL_PORT":     "3307",
			"MYSQL_PASSWORD": "s3cret",
			"SUPABASE_KEY":   "anon-key",
		})),
	)
	require.NoError(t, err)

	require.Equal(t, "db.internal", cfg.MySQL.Host)
	require.Equal(t, 3307, cfg.MySQL.Port)
	require.Equal(t, "s3cret", cfg.MySQL.Password)
	require.Equal(t, "https://example.supabase.co", cfg.Supabase.URL)
	require.Equal(t, "anon-key", cfg.Supabase.APIKey)
	require.Equal(t, []string{"id", "ts", "total"}, cfg.Table.Fields)
	require.Equal(t, "ts", cfg.Table.TrackingField())
}

func TestLoad_MissingEnvIsFatal(t *testing.T) {
	path := writeConfig(t, sampleConfig)

	_, err := Load(context.Background(), path,
		WithEnvFile(""),
		WithLookup(mapLookup(map[string]string{
			"MYSQL_PORT":   "3307",
			"SUPABASE_KEY": "anon-key",
		})),
	)
	require.ErrorIs(t, err, ErrMissingEnv)
	require.Contains(t, err.Error(), "MYSQL_PASSWORD")
}

func TestLoad_EnvFile(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, sampleConfig)
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("ROWSYNC_TEST_SUPABASE_KEY=from-dotenv\n"), 0600))
	t.Cleanup(func() { _ = os.Unsetenv("ROWSYNC_TEST_SUPABASE_KEY") })

	body := strings.ReplaceAll(sampleConfig, "${SUPABASE_KEY}", "${ROWSYNC_TEST_SUPABASE_KEY}")
	require.NoError(t, os.WriteFile(path, []byte(body), 0600))

	t.Setenv("MYSQL_PORT", "3306")
	t.Setenv("MYSQL_PASSWORD", "pw")

	cfg, err := Load(context.Background(), path, WithEnvFile(envFile))
	require.NoError(t, err)
	require.Equal(t, "from-dotenv", cfg.Supabase.APIKey)
}

func TestLoad_ExplicitPathIgnoresSiblings(t *testing.T) {
	dir := t.TempDir()
	lookup := WithLookup(mapLookup(map[string]string{
		"MYSQL_PORT":     "3306",
		"MYSQL_PASSWORD": "pw",
		"SUPABASE_KEY":   "anon",
	}))

	yamlPath := filepath.Join(dir, "config.yaml")
	body := strings.ReplaceAll(sampleConfig, "target: orders_copy", "target: from_yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(body), 0600))

	sibling := `{"mysql":{"host":"other","user":"u","password":"p","database":"d"},` +
		`"supabase":{"url":"https://other.supabase.co","api_key":"k"},` +
		`"table":{"source":"orders","target":"from_json","fields":["id"],"key":"id"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(sibling), 0600))

	cfg, err := Load(context.Background(), yamlPath, WithEnvFile(""), lookup)
	require.NoError(t, err)
	require.Equal(t, "from_yaml", cfg.Table.Target)
	require.Equal(t, "db.internal", cfg.MySQL.Host)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"), WithEnvFile(""))
	require.ErrorIs(t, err, ErrInvalid)
}

func Test_CleanOrGetConfigPath(t *testing.T) {
	tests := []struct {
		name       string
		customPath string
		wantDir    string
		wantName   string
		wantErr    bool
	}{
		{name: "no custom path", customPath: "", wantDir: ".", wantName: "config"},
		{name: "absolute yaml", customPath: filepath.FromSlash("/tmp/sync.yaml"), wantDir: filepath.FromSlash("/tmp"), wantName: "sync"},
		{name: "relative yml", customPath: filepath.FromSlash("./sync.yml"), wantDir: ".", wantName: "sync"},
		{name: "parent dir", customPath: filepath.FromSlash("../cfg.yaml"), wantDir: "..", wantName: "cfg"},
		{name: "no extension", customPath: filepath.FromSlash("/tmp/sync"), wantErr: true},
		{name: "wrong extension", customPath: filepath.FromSlash("/tmp/sync.json"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir, name, err := CleanOrGetConfigPath(tt.customPath)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tt.wantDir, dir)
			require.Equal(t, tt.wantName, name)
		})
	}
}
