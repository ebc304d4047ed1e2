package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const envPrefix = "rowsync"

type loadOptions struct {
	envFile string
	lookup  LookupFunc
}

type Option func(*loadOptions)

// WithEnvFile sets the dotenv file loaded before placeholders are resolved. An empty path disables it.
func WithEnvFile(path string) Option {
	return func(o *loadOptions) {
		o.envFile = path
	}
}

// WithLookup replaces the environment lookup used for ${NAME} placeholders.
func WithLookup(fn LookupFunc) Option {
	return func(o *loadOptions) {
		if fn != nil {
			o.lookup = fn
		}
	}
}

// Load reads the YAML file at path, resolves environment placeholders and returns the validated config.
// It does no network or database I/O, so configuration errors always surface before a sync starts.
func Load(ctx context.Context, path string, opts ...Option) (*Config, error) {
	l := ctxzap.Extract(ctx)

	o := &loadOptions{
		envFile: ".env",
		lookup:  os.LookupEnv,
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.envFile != "" {
		err := godotenv.Load(o.envFile)
		switch {
		case err == nil:
			l.Debug("loaded environment file", zap.String("path", o.envFile))
		case errors.Is(err, fs.ErrNotExist):
		default:
			return nil, fmt.Errorf("%w: loading %s: %w", ErrInvalid, o.envFile, err)
		}
	}

	dir, name, err := CleanOrGetConfigPath(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if path != "" {
		// An explicit path is read as given, never searched for under other extensions.
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(name)
		v.AddConfigPath(dir)
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("%w: reading config: %w", ErrInvalid, err)
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	cfg, err := Parse(v.AllSettings(), o.lookup)
	if err != nil {
		return nil, err
	}

	l.Debug("loaded configuration",
		zap.String("path", v.ConfigFileUsed()),
		zap.String("source_table", cfg.Table.Source),
		zap.String("target_table", cfg.Table.Target),
		zap.String("tracking_field", cfg.Table.TrackingField()),
		zap.String("checkpoint_backend", cfg.Checkpoint.Backend),
	)

	return cfg, nil
}

// Parse resolves placeholders in raw, decodes it into a Config, applies defaults and validates the result.
func Parse(raw map[string]any, lookup LookupFunc) (*Config, error) {
	resolved, err := Resolve(raw, lookup)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(resolved); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}
