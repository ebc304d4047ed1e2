package checkpoint

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/conductorone/rowsync/pkg/config"
)

const sqliteFileName = "checkpoints.db"

// Open returns the store selected by the checkpoint section of the configuration.
func Open(ctx context.Context, cfg config.Checkpoint) (Store, error) {
	switch cfg.Backend {
	case config.BackendFile, "":
		return NewFileStore(cfg.Dir)
	case config.BackendSQLite:
		return NewSQLiteStore(ctx, filepath.Join(cfg.Dir, sqliteFileName), WithPragma("journal_mode", "WAL"))
	case config.BackendMongo:
		return OpenMongoStore(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("checkpoint: unknown backend %q", cfg.Backend)
	}
}
