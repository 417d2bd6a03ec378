package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// migration defines a single idempotent schema migration.
type migration struct {
	name  string
	sql   string
	check string // query that returns true if the migration is already applied
}

var sqliteMigrations = []migration{
	{
		name: "create usage_records",
		sql: `CREATE TABLE IF NOT EXISTS usage_records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL UNIQUE,
			message_count INTEGER NOT NULL DEFAULT 0,
			total_duration_seconds INTEGER NOT NULL DEFAULT 0
		)`,
		check: `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = 'usage_records')`,
	},
}

var postgresMigrations = []migration{
	{
		name: "create usage_records",
		sql: `CREATE TABLE IF NOT EXISTS usage_records (
			id bigserial PRIMARY KEY,
			user_id text NOT NULL UNIQUE,
			message_count bigint NOT NULL DEFAULT 0,
			total_duration_seconds bigint NOT NULL DEFAULT 0
		)`,
		check: `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = 'usage_records')`,
	},
}

// schema is the subset of a connection the migrator needs.
type schema interface {
	applied(ctx context.Context, check string) bool
	exec(ctx context.Context, sql string) error
}

// migrate runs all pending migrations in order. A failed apply is fatal
// since the ledger queries depend on the schema.
func migrate(ctx context.Context, s schema, migrations []migration, log zerolog.Logger) error {
	var pending []migration
	for _, m := range migrations {
		if m.check != "" && s.applied(ctx, m.check) {
			continue
		}
		pending = append(pending, m)
	}

	if len(pending) == 0 {
		return nil
	}

	applied := 0
	for _, m := range pending {
		if err := s.exec(ctx, m.sql); err != nil {
			return &MigrationError{
				failed:  m,
				pending: pending[applied:],
				err:     err,
			}
		}
		log.Info().Str("migration", m.name).Msg("schema migration applied")
		applied++
	}
	log.Info().Int("applied", applied).Msg("schema migrations complete")
	return nil
}

// MigrationError is returned when a migration fails.
// It includes the SQL needed to apply all remaining migrations manually.
type MigrationError struct {
	failed  migration
	pending []migration
	err     error
}

func (e *MigrationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "migration %q failed: %v\n\n", e.failed.name, e.err)
	b.WriteString("Run the following SQL as the database owner to fix this:\n\n")
	for _, m := range e.pending {
		fmt.Fprintf(&b, "  %s;\n", m.sql)
	}
	b.WriteString("\nThen restart voicenote.")
	return b.String()
}

func (e *MigrationError) Unwrap() error {
	return e.err
}
