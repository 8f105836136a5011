package db

import (
	"context"
	_ "embed"
	"fmt"

	"go.uber.org/zap"
)

//go:embed schema.sql
var schema string

// Migrate applies the embedded schema. Every statement is IF NOT EXISTS,
// so running it against an up-to-date database is a no-op.
func (db *DB) Migrate(ctx context.Context) error {
	// Exec without arguments uses the simple protocol, which accepts a
	// multi-statement script.
	if _, err := db.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	db.logger.Info("schema applied", zap.Int("bytes", len(schema)))
	return nil
}
