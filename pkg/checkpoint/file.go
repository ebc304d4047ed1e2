package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const fileCheckpointMode = 0600

// FileStore writes one file per scope named .last_sync_{table}_{field}. The file body is the raw value;
// surrounding whitespace is ignored on read so hand-edited files keep working.
type FileStore struct {
	dir string
}

var _ Store = (*FileStore)(nil)

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		dir = "."
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: checking directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("checkpoint: %s is not a directory", dir)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the file that holds the checkpoint for scope.
func (f *FileStore) Path(scope Scope) string {
	return filepath.Join(f.dir, fmt.Sprintf(".last_sync_%s_%s", scope.Table, scope.Field))
}

func (f *FileStore) Get(ctx context.Context, scope Scope) (string, bool, error) {
	if err := scope.validate(); err != nil {
		return "", false, err
	}

	b, err := os.ReadFile(f.Path(scope))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("checkpoint: reading %s: %w", scope, err)
	}
	return strings.TrimSpace(string(b)), true, nil
}

// Set replaces the checkpoint file atomically so a crash never leaves a truncated value behind.
func (f *FileStore) Set(ctx context.Context, scope Scope, value string) error {
	if err := scope.validate(); err != nil {
		return err
	}

	path := f.Path(scope)
	tmp, err := os.CreateTemp(f.dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("checkpoint: creating temp file for %s: %w", scope, err)
	}
	tmpName := tmp.Name()
	cleanup := func() {
		_ = os.Remove(tmpName)
	}

	if _, err := tmp.WriteString(value); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("checkpoint: writing %s: %w", scope, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("checkpoint: syncing %s: %w", scope, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("checkpoint: closing %s: %w", scope, err)
	}
	if err := os.Chmod(tmpName, fileCheckpointMode); err != nil {
		cleanup()
		return fmt.Errorf("checkpoint: chmod %s: %w", scope, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		cleanup()
		return fmt.Errorf("checkpoint: replacing %s: %w", scope, err)
	}

	ctxzap.Extract(ctx).Debug("checkpoint written", zap.String("path", path), zap.String("value", value))
	return nil
}

func (f *FileStore) Delete(ctx context.Context, scope Scope) error {
	if err := scope.validate(); err != nil {
		return err
	}
	err := os.Remove(f.Path(scope))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("checkpoint: deleting %s: %w", scope, err)
	}
	return nil
}

func (f *FileStore) Close() error {
	return nil
}
