package store

import (
	"context"
	"fmt"
	"net/url"

	"github.com/jackc/pgx/v5"
)

// PgConfig holds PostgreSQL connection parameters for administrative work.
type PgConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// DSN builds a connection string for the given database. Credentials are
// URL-escaped so passwords containing @, /, or : survive parsing.
func (c PgConfig) DSN(database string) string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + database,
		RawQuery: "sslmode=" + sslMode,
	}
	if c.Username != "" || c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u.String()
}

// PgxConnector opens single administrative connections with pgx.
// Lifecycle statements are sequential and short-lived, so a per-operation
// connection is used instead of a pool.
type PgxConnector struct {
	Config PgConfig
}

// Connect opens a connection to the named database.
func (c *PgxConnector) Connect(ctx context.Context, database string) (Conn, error) {
	conn, err := pgx.Connect(ctx, c.Config.DSN(database))
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", database, err)
	}
	return conn, nil
}
