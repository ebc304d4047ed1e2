package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidScope = errors.New("checkpoint: invalid scope")

// Scope identifies one checkpoint. Every (target table, tracking field) pair owns its own value.
type Scope struct {
	Table string
	Field string
}

func (s Scope) String() string {
	return s.Table + "." + s.Field
}

func (s Scope) validate() error {
	if s.Table == "" || s.Field == "" {
		return fmt.Errorf("%w: table and field are required, got %q", ErrInvalidScope, s.String())
	}
	if strings.ContainsAny(s.Table+s.Field, `/\`) {
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidScope, s.String())
	}
	return nil
}

// Store persists the last synced tracking value for a scope.
//
// Get reports found=false when no checkpoint was ever written, which callers treat as "sync from the beginning".
// A stored empty string is a distinct value: it is written after a full sync that fetched nothing.
type Store interface {
	Get(ctx context.Context, scope Scope) (string, bool, error)
	Set(ctx context.Context, scope Scope, value string) error
	Delete(ctx context.Context, scope Scope) error
	Close() error
}
