package config

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConnectionString returns the PostgreSQL connection string handed to the
// pgx stdlib driver. An explicit DSN is used as is; otherwise a URL is built
// from the discrete fields.
func (d *DatabaseConfig) ConnectionString() string {
	if dsn := strings.TrimSpace(d.DSN); dsn != "" {
		return dsn
	}

	u := url.URL{
		Scheme: "postgres",
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	if d.Password != "" {
		u.User = url.UserPassword(d.User, d.Password)
	} else if d.User != "" {
		u.User = url.User(d.User)
	}
	if d.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": {d.SSLMode}}.Encode()
	}
	return u.String()
}

// EffectiveDatabaseName returns the database the connection string targets.
func (d *DatabaseConfig) EffectiveDatabaseName() (string, error) {
	parsed, err := pgx.ParseConfig(d.ConnectionString())
	if err != nil {
		return "", fmt.Errorf("parse database connection string: %w", err)
	}
	if parsed.Database == "" {
		return "", fmt.Errorf("no database configured: set database.database or include /<database> in database.dsn")
	}
	return parsed.Database, nil
}

// Redacted returns the connection string with the password masked, for logs.
func (d *DatabaseConfig) Redacted() string {
	conn := d.ConnectionString()
	u, err := url.Parse(conn)
	if err != nil || u.Scheme == "" {
		if d.Password != "" {
			return strings.ReplaceAll(conn, d.Password, "xxxxx")
		}
		return conn
	}
	return u.Redacted()
}
