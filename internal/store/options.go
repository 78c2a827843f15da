package store

import (
	"strings"
)

// Opts holds configuration for the SQL-backed stores.
type Opts struct {
	DSN             string // database connection string or SQLite file path
	BootstrapSchema bool   // create the reference tables when they are missing
}

// Option defines a configuration option for the store.
type Option func(*Opts)

// WithPostgresDSN sets the PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithBootstrapSchema makes the Postgres store create the subscriber, plan,
// reading and progress tables if they do not exist. SQLite always does.
func WithBootstrapSchema(enabled bool) Option {
	return func(o *Opts) {
		o.BootstrapSchema = enabled
	}
}

// DetectDSNType returns "postgres" for PostgreSQL URLs or keyword DSNs and
// "sqlite3" for anything else, which is treated as a file path.
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") {
		return "postgres"
	}
	return "sqlite3"
}
