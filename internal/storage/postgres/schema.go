package postgres

import (
	"context"
	_ "embed"
	"fmt"
)

//go:embed schema.sql
var schemaSQL string

// EnsureSchema applies the embedded bootstrap schema. Every statement is
// idempotent, so calling it on an initialized database is a no-op.
func EnsureSchema(ctx context.Context, pool DBPool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
