package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SQLiteLedger is the default single-file backend.
type SQLiteLedger struct {
	db  *sql.DB
	log zerolog.Logger
}

// OpenSQLite opens (creating if needed) the database at dsn. The pool is
// limited to one connection so writers serialize and :memory: databases
// are shared by all callers.
func OpenSQLite(ctx context.Context, dsn string, log zerolog.Logger) (*SQLiteLedger, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	log.Info().Str("driver", DriverSQLite).Str("dsn", dsn).Msg("ledger connected")
	return &SQLiteLedger{db: db, log: log}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "voicenote.sqlite"
	}
	if strings.Contains(dsn, ":memory:") || strings.Contains(dsn, "?") {
		return dsn
	}
	return dsn + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (l *SQLiteLedger) Migrate(ctx context.Context) error {
	return migrate(ctx, l, sqliteMigrations, l.log)
}

func (l *SQLiteLedger) applied(ctx context.Context, check string) bool {
	var exists bool
	return l.db.QueryRowContext(ctx, check).Scan(&exists) == nil && exists
}

func (l *SQLiteLedger) exec(ctx context.Context, q string) error {
	_, err := l.db.ExecContext(ctx, q)
	return err
}

func (l *SQLiteLedger) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (l *SQLiteLedger) EnsureUser(ctx context.Context, userID string) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO usage_records (user_id) VALUES (?) ON CONFLICT(user_id) DO NOTHING`, userID)
		if err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		return nil
	})
}

func (l *SQLiteLedger) RecordUsage(ctx context.Context, userID string, durationSeconds int) error {
	return l.withTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE usage_records
			SET message_count = message_count + 1,
				total_duration_seconds = total_duration_seconds + ?
			WHERE user_id = ?`, durationSeconds, userID)
		if err != nil {
			return fmt.Errorf("record usage: %w", err)
		}
		return nil
	})
}

func (l *SQLiteLedger) GetUsage(ctx context.Context, userID string) (Usage, error) {
	u := Usage{UserID: userID}
	err := l.db.QueryRowContext(ctx,
		`SELECT message_count, total_duration_seconds FROM usage_records WHERE user_id = ?`, userID,
	).Scan(&u.MessageCount, &u.TotalDurationSeconds)
	if err == sql.ErrNoRows {
		return u, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

func (l *SQLiteLedger) GetAllUsage(ctx context.Context) ([]Usage, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT user_id, message_count, total_duration_seconds FROM usage_records ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query usage: %w", err)
	}
	defer rows.Close()

	var out []Usage
	for rows.Next() {
		var u Usage
		if err := rows.Scan(&u.UserID, &u.MessageCount, &u.TotalDurationSeconds); err != nil {
			return nil, fmt.Errorf("scan usage: %w", err)
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) Ping(ctx context.Context) error {
	return l.db.PingContext(ctx)
}

func (l *SQLiteLedger) Close() error {
	l.log.Info().Msg("closing ledger")
	return l.db.Close()
}
