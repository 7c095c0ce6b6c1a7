package engine

import (
	"context"
	"fmt"

	"github.com/celerix-dev/celerix-enrich/pkg/schema"
)

// Migrate copies every user, connection, record and action log entry from
// src into dst. This works for:
// - Snapshot -> SQL (seeding a database from a pipeline export)
// - Embedded -> Remote (the upgrade)
// - SQL -> Embedded (backup / offline)
func Migrate(ctx context.Context, src Store, dst Importer) error {
	users, err := src.FetchUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to list users: %w", err)
	}
	if err := dst.PutUsers(ctx, users); err != nil {
		return fmt.Errorf("failed to write users: %w", err)
	}

	conns, err := src.FetchConnections(ctx, schema.ConnectionFilter{})
	if err != nil {
		return fmt.Errorf("failed to list connections: %w", err)
	}
	if err := dst.PutConnections(ctx, conns); err != nil {
		return fmt.Errorf("failed to write connections: %w", err)
	}

	records, err := src.FetchRecords(ctx, schema.Filter{})
	if err != nil {
		return fmt.Errorf("failed to list records: %w", err)
	}
	if err := dst.PutRecords(ctx, records); err != nil {
		return fmt.Errorf("failed to write records: %w", err)
	}

	logs, err := src.ListActionLogs(ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list action logs: %w", err)
	}
	// Oldest first so the destination keeps the original append order.
	for i := len(logs) - 1; i >= 0; i-- {
		if err := dst.AppendActionLog(ctx, logs[i]); err != nil {
			return fmt.Errorf("failed to append action log %s: %w", logs[i].ID, err)
		}
	}

	return nil
}
