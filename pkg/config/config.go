package config

import (
	"errors"
	"fmt"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendMongo  = "mongo"

	FailureAdvance = "advance"
	FailureHold    = "hold"

	defaultMySQLPort     = 3306
	defaultCheckpointDir = "."
	defaultMongoDatabase = "rowsync"
)

var (
	ErrInvalid    = errors.New("invalid configuration")
	ErrMissingEnv = errors.New("environment variable is not set")
)

// Config is the typed form of the sync configuration file.
type Config struct {
	MySQL      MySQL      `mapstructure:"mysql"`
	Supabase   Supabase   `mapstructure:"supabase"`
	Table      Table      `mapstructure:"table"`
	Checkpoint Checkpoint `mapstructure:"checkpoint"`
	Sync       Sync       `mapstructure:"sync"`
}

type MySQL struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
}

type Supabase struct {
	URL    string `mapstructure:"url"`
	APIKey string `mapstructure:"api_key"`
}

// Table describes what is copied: the source table, the target table and the ordered select list.
type Table struct {
	Source         string   `mapstructure:"source"`
	Target         string   `mapstructure:"target"`
	Fields         []string `mapstructure:"fields"`
	Key            string   `mapstructure:"key"`
	TimestampField string   `mapstructure:"timestamp_field"`
}

// TrackingField is the field used to order incremental reads and to compute the next checkpoint.
// The timestamp field wins when one is configured.
func (t Table) TrackingField() string {
	if t.TimestampField != "" {
		return t.TimestampField
	}
	return t.Key
}

type Checkpoint struct {
	Backend       string `mapstructure:"backend"`
	Dir           string `mapstructure:"dir"`
	MongoURI      string `mapstructure:"mongo_uri"`
	MongoDatabase string `mapstructure:"mongo_database"`
}

type Sync struct {
	// OnDeliveryFailure decides whether the checkpoint may move past rows that failed to deliver.
	OnDeliveryFailure string `mapstructure:"on_delivery_failure"`
	RequestsPerSecond int    `mapstructure:"requests_per_second"`
	Metrics           bool   `mapstructure:"metrics"`
}

func (c *Config) applyDefaults() {
	if c.MySQL.Port == 0 {
		c.MySQL.Port = defaultMySQLPort
	}
	if c.Checkpoint.Backend == "" {
		c.Checkpoint.Backend = BackendFile
	}
	if c.Checkpoint.Dir == "" {
		c.Checkpoint.Dir = defaultCheckpointDir
	}
	if c.Checkpoint.MongoDatabase == "" {
		c.Checkpoint.MongoDatabase = defaultMongoDatabase
	}
	if c.Sync.OnDeliveryFailure == "" {
		c.Sync.OnDeliveryFailure = FailureAdvance
	}
	c.Supabase.URL = strings.TrimRight(c.Supabase.URL, "/")
}

// Validate checks the invariants every invocation relies on. All problems are reported at once.
func (c *Config) Validate() error {
	var errs []error
	required := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			errs = append(errs, fmt.Errorf("%s is required", name))
		}
	}

	required("mysql.host", c.MySQL.Host)
	required("mysql.database", c.MySQL.Database)
	required("supabase.url", c.Supabase.URL)
	required("supabase.api_key", c.Supabase.APIKey)
	required("table.source", c.Table.Source)
	required("table.target", c.Table.Target)
	required("table.key", c.Table.Key)

	if c.MySQL.Port < 0 || c.MySQL.Port > 65535 {
		errs = append(errs, fmt.Errorf("mysql.port %d is out of range", c.MySQL.Port))
	}

	if len(c.Table.Fields) == 0 {
		errs = append(errs, errors.New("table.fields must list at least one field"))
	}
	fields := mapset.NewThreadUnsafeSet[string]()
	for _, f := range c.Table.Fields {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, errors.New("table.fields contains an empty name"))
			continue
		}
		if !fields.Add(f) {
			errs = append(errs, fmt.Errorf("table.fields lists %q more than once", f))
		}
	}
	if c.Table.Key != "" && !fields.Contains(c.Table.Key) {
		errs = append(errs, fmt.Errorf("table.key %q must be one of table.fields", c.Table.Key))
	}
	if c.Table.TimestampField != "" && !fields.Contains(c.Table.TimestampField) {
		errs = append(errs, fmt.Errorf("table.timestamp_field %q must be one of table.fields", c.Table.TimestampField))
	}

	switch c.Checkpoint.Backend {
	case BackendFile, BackendSQLite:
	case BackendMongo:
		required("checkpoint.mongo_uri", c.Checkpoint.MongoURI)
	default:
		errs = append(errs, fmt.Errorf("checkpoint.backend %q is not one of file, sqlite, mongo", c.Checkpoint.Backend))
	}

	switch c.Sync.OnDeliveryFailure {
	case FailureAdvance, FailureHold:
	default:
		errs = append(errs, fmt.Errorf("sync.on_delivery_failure %q is not one of advance, hold", c.Sync.OnDeliveryFailure))
	}

	if c.Sync.RequestsPerSecond < 0 {
		errs = append(errs, errors.New("sync.requests_per_second cannot be negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
}
