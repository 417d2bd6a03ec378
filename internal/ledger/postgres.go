package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PostgresLedger stores usage in a shared PostgreSQL database.
type PostgresLedger struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

// ErrInvalidDSN is returned when the connection string cannot be parsed.
// Retrying cannot fix it.
var ErrInvalidDSN = errors.New("invalid postgres connection string")

func ConnectPostgres(ctx context.Context, databaseURL string, log zerolog.Logger) (*PostgresLedger, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDSN, err)
	}

	cfg.MaxConns = 10
	cfg.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("driver", DriverPostgres).
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Msg("ledger connected")

	return &PostgresLedger{Pool: pool, log: log}, nil
}

func (l *PostgresLedger) Migrate(ctx context.Context) error {
	return migrate(ctx, l, postgresMigrations, l.log)
}

func (l *PostgresLedger) applied(ctx context.Context, check string) bool {
	var exists bool
	return l.Pool.QueryRow(ctx, check).Scan(&exists) == nil && exists
}

func (l *PostgresLedger) exec(ctx context.Context, q string) error {
	_, err := l.Pool.Exec(ctx, q)
	return err
}

func (l *PostgresLedger) EnsureUser(ctx context.Context, userID string) error {
	return pgx.BeginFunc(ctx, l.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO usage_records (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`, userID)
		if err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}
		return nil
	})
}

func (l *PostgresLedger) RecordUsage(ctx context.Context, userID string, durationSeconds int) error {
	return pgx.BeginFunc(ctx, l.Pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			UPDATE usage_records
			SET message_count = message_count + 1,
				total_duration_seconds = total_duration_seconds + $1
			WHERE user_id = $2`, durationSeconds, userID)
		if err != nil {
			return fmt.Errorf("record usage: %w", err)
		}
		return nil
	})
}

func (l *PostgresLedger) GetUsage(ctx context.Context, userID string) (Usage, error) {
	u := Usage{UserID: userID}
	err := l.Pool.QueryRow(ctx,
		`SELECT message_count, total_duration_seconds FROM usage_records WHERE user_id = $1`, userID,
	).Scan(&u.MessageCount, &u.TotalDurationSeconds)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, nil
	}
	if err != nil {
		return Usage{}, fmt.Errorf("get usage: %w", err)
	}
	return u, nil
}

func (l *PostgresLedger) GetAllUsage(ctx context.Context) ([]Usage, error) {
	rows, err := l.Pool.Query(ctx,
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

func (l *PostgresLedger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.Pool.Ping(ctx)
}

func (l *PostgresLedger) Close() error {
	l.log.Info().Msg("closing ledger pool")
	l.Pool.Close()
	return nil
}
