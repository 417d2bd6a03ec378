// Package ledger stores durable per-user usage counters.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Usage is one user's accumulated counters.
type Usage struct {
	UserID               string `json:"user_id"`
	MessageCount         int64  `json:"message_count"`
	TotalDurationSeconds int64  `json:"total_duration_seconds"`
}

// Ledger is implemented by the SQLite and PostgreSQL backends. Every
// mutating call runs in its own transaction.
type Ledger interface {
	// EnsureUser creates a zeroed record for userID if none exists.
	EnsureUser(ctx context.Context, userID string) error
	// RecordUsage adds one message and durationSeconds to userID's record.
	// It is a no-op for unknown users.
	RecordUsage(ctx context.Context, userID string, durationSeconds int) error
	// GetUsage returns (0, 0) counters for unknown users.
	GetUsage(ctx context.Context, userID string) (Usage, error)
	// GetAllUsage returns every record in insertion order.
	GetAllUsage(ctx context.Context) ([]Usage, error)
	Ping(ctx context.Context) error
	Close() error
}

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Open connects to the configured backend and applies pending migrations.
// PostgreSQL connection attempts are retried with exponential backoff for
// up to connectTimeout.
func Open(ctx context.Context, driver, dsn string, connectTimeout time.Duration, log zerolog.Logger) (Ledger, error) {
	var (
		l   Ledger
		err error
	)
	switch driver {
	case DriverSQLite, "":
		l, err = OpenSQLite(ctx, dsn, log)
	case DriverPostgres:
		if connectTimeout <= 0 {
			connectTimeout = 30 * time.Second
		}
		b := backoff.NewExponentialBackOff()
		b.MaxElapsedTime = connectTimeout
		err = backoff.RetryNotify(func() error {
			pg, err := ConnectPostgres(ctx, dsn, log)
			if errors.Is(err, ErrInvalidDSN) {
				return backoff.Permanent(err)
			}
			if err != nil {
				return err
			}
			l = pg
			return nil
		}, backoff.WithContext(b, ctx), func(err error, wait time.Duration) {
			log.Warn().Err(err).Dur("retry_in", wait).Msg("ledger connect failed")
		})
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", driver)
	}
	if err != nil {
		return nil, err
	}

	if m, ok := l.(interface{ Migrate(context.Context) error }); ok {
		if err := m.Migrate(ctx); err != nil {
			l.Close()
			return nil, err
		}
	}
	return l, nil
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}
